package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLaunchSpecWorkingDir(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		workDir  string
		argv     []string
		wantDir  string
		wantArgs []string
		wantLine string
	}{
		{
			name:     "marker derives dir from program",
			argv:     []string{".", `C:\app\run.exe`, "arg1"},
			wantDir:  `C:\app`,
			wantArgs: []string{`C:\app\run.exe`, "arg1"},
			wantLine: `C:\app\run.exe arg1`,
		},
		{
			name:     "program only",
			argv:     []string{`C:\app\run.exe`},
			wantDir:  `C:\app`,
			wantArgs: []string{`C:\app\run.exe`},
			wantLine: `C:\app\run.exe`,
		},
		{
			name:     "explicit workdir wins",
			workDir:  `D:\data`,
			argv:     []string{`C:\app\run.exe`, "x"},
			wantDir:  `D:\data`,
			wantArgs: []string{`C:\app\run.exe`, "x"},
			wantLine: `C:\app\run.exe x`,
		},
		{
			name:     "marker ignores explicit workdir",
			workDir:  `D:\data`,
			argv:     []string{".", `C:\app\run.exe`},
			wantDir:  `C:\app`,
			wantArgs: []string{`C:\app\run.exe`},
			wantLine: `C:\app\run.exe`,
		},
		{
			name:     "dot workdir is the marker",
			workDir:  ".",
			argv:     []string{"/opt/app/bin/server", "--port", "80"},
			wantDir:  "/opt/app/bin",
			wantArgs: []string{"/opt/app/bin/server", "--port", "80"},
			wantLine: "/opt/app/bin/server --port 80",
		},
		{
			name:     "bare program inherits dir",
			argv:     []string{"server.exe"},
			wantDir:  "",
			wantArgs: []string{"server.exe"},
			wantLine: "server.exe",
		},
		{
			name:     "quoted command line",
			argv:     []string{".", `C:\Program Files\app\run.exe`, "two words", ""},
			wantDir:  `C:\Program Files\app`,
			wantArgs: []string{`C:\Program Files\app\run.exe`, "two words", ""},
			wantLine: `"C:\Program Files\app\run.exe" "two words" ""`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ls, err := NewLaunchSpec(tt.workDir, tt.argv)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDir, ls.Dir)
			assert.Equal(t, tt.wantArgs, ls.Args)
			assert.Equal(t, tt.wantArgs[0], ls.Path)
			assert.Equal(t, tt.wantLine, ls.CommandLine)
		})
	}
}

func TestNewLaunchSpecNoProgram(t *testing.T) {
	t.Parallel()

	for _, argv := range [][]string{nil, {}, {"."}, {""}, {".", ""}} {
		_, err := NewLaunchSpec("", argv)
		assert.ErrorIs(t, err, ErrNoProgram, "argv %q", argv)
	}
}

func TestNewLaunchSpecCopiesArgs(t *testing.T) {
	t.Parallel()

	argv := []string{"/bin/app", "a"}
	ls, err := NewLaunchSpec("", argv)
	require.NoError(t, err)
	argv[1] = "changed"
	assert.Equal(t, "a", ls.Args[1])
}

func TestDirOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `C:\app`, DirOf(`C:\app\run.exe`))
	assert.Equal(t, `C:`, DirOf(`C:\run.exe`))
	assert.Equal(t, "/usr/bin", DirOf("/usr/bin/env"))
	assert.Equal(t, "", DirOf("/env"))
	assert.Equal(t, "", DirOf("run.exe"))
	assert.Equal(t, `C:\app/sub`, DirOf(`C:\app/sub\run.exe`))
}
