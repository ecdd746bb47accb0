//go:build unix

package driver

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhujunling-nj/anyservice/internal/supervisor"
)

func shellLaunch(t *testing.T, workDir, script string) supervisor.LaunchSpec {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	launch, err := supervisor.NewLaunchSpec(workDir, []string{sh, "-c", script})
	require.NoError(t, err)
	return launch
}

func spawn(t *testing.T, n *Native, launch supervisor.LaunchSpec) *nativeProcess {
	t.Helper()
	proc, err := n.Spawn(context.Background(), launch)
	require.NoError(t, err)
	p := proc.(*nativeProcess)
	t.Cleanup(func() {
		_ = p.cmd.Process.Kill()
		<-p.done
	})
	return p
}

func waitDone(t *testing.T, p supervisor.Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("process %d did not exit", p.Pid())
	}
}

// waitOutput waits until p's output has been fully collected.
func waitOutput(t *testing.T, p *nativeProcess) {
	t.Helper()
	select {
	case <-p.drained:
	case <-time.After(10 * time.Second):
		t.Fatalf("output of process %d was not collected", p.Pid())
	}
}

func TestNativeSpawnAndExit(t *testing.T) {
	p := spawn(t, NewNative(NativeConfig{}), shellLaunch(t, "", "echo hello; echo oops >&2; exit 3"))

	assert.Positive(t, p.Pid())
	waitDone(t, p)
	waitOutput(t, p)

	assert.Equal(t, 3, p.ExitCode())
	assert.Equal(t, []string{"hello"}, p.stdout.Lines())
	assert.Equal(t, []string{"oops"}, p.stderr.Lines())
	assert.NoError(t, p.Release())
	assert.NoError(t, p.Release())
}

func TestNativeExitCodeBeforeExit(t *testing.T) {
	p := spawn(t, NewNative(NativeConfig{}), shellLaunch(t, "", "sleep 60"))
	assert.Equal(t, -1, p.ExitCode())
}

func TestNativeSpawnMissingProgram(t *testing.T) {
	launch, err := supervisor.NewLaunchSpec("", []string{filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)

	_, err = NewNative(NativeConfig{}).Spawn(context.Background(), launch)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestNativeSpawnNoProgram(t *testing.T) {
	_, err := NewNative(NativeConfig{}).Spawn(context.Background(), supervisor.LaunchSpec{})
	assert.ErrorIs(t, err, supervisor.ErrNoProgram)
}

func TestNativeWorkingDir(t *testing.T) {
	dir := t.TempDir()
	p := spawn(t, NewNative(NativeConfig{}), shellLaunch(t, dir, "pwd -P"))
	waitOutput(t, p)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{want}, p.stdout.Lines())
}

func TestNativeEnv(t *testing.T) {
	n := NewNative(NativeConfig{Env: []string{"ANYSERVICE_TEST=42"}})
	p := spawn(t, n, shellLaunch(t, "", "echo $ANYSERVICE_TEST"))
	waitOutput(t, p)

	assert.Equal(t, []string{"42"}, p.stdout.Lines())
}

func TestNativeForwardsOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	p := spawn(t, NewNative(NativeConfig{Logger: logger}), shellLaunch(t, "", "echo ready; echo broken >&2; exit 1"))
	waitOutput(t, p)

	out := buf.String()
	assert.Contains(t, out, "msg=ready stream=stdout")
	assert.Contains(t, out, "msg=broken stream=stderr")
	assert.Contains(t, out, `msg="process exited with error"`)
}

func TestNativeTerminate(t *testing.T) {
	p := spawn(t, NewNative(NativeConfig{}), shellLaunch(t, "", "sleep 60"))

	require.NoError(t, p.Terminate())
	waitDone(t, p)
	assert.Equal(t, -1, p.ExitCode(), "killed by a signal")
}

func TestNativeDoneWhileDescendantHoldsOutput(t *testing.T) {
	p := spawn(t, NewNative(NativeConfig{}), shellLaunch(t, "", "sleep 5 & echo started; exit 0"))
	t.Cleanup(func() { _ = directKill(p.Pid(), true) })

	start := time.Now()
	waitDone(t, p)
	assert.Less(t, time.Since(start), time.Second, "Done must close when the child is reaped")
	assert.Equal(t, 0, p.ExitCode())
	assert.NoError(t, p.Terminate(), "a reaped child counts as terminated")

	select {
	case <-p.drained:
		t.Fatal("output is still held open by the background sleep")
	default:
	}
	waitOutput(t, p)
	assert.Equal(t, []string{"started"}, p.stdout.Lines())
}

func TestNativeTerminateAfterExit(t *testing.T) {
	p := spawn(t, NewNative(NativeConfig{}), shellLaunch(t, "", "exit 0"))
	waitDone(t, p)
	assert.NoError(t, p.Terminate())
}

func TestNativeReleaseBeforeExit(t *testing.T) {
	p := spawn(t, NewNative(NativeConfig{}), shellLaunch(t, "", "sleep 60"))

	assert.NoError(t, p.Release())
	require.NoError(t, p.Terminate())
	waitDone(t, p)
}

func TestTreeKillerKillsGroup(t *testing.T) {
	p := spawn(t, NewNative(NativeConfig{}), shellLaunch(t, "", "sleep 60 & echo $!; wait"))

	require.Eventually(t, func() bool { return len(p.stdout.Lines()) == 1 }, 5*time.Second, 10*time.Millisecond)
	_, err := strconv.Atoi(p.stdout.Lines()[0])
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, TreeKiller{}.Kill(ctx, p.Pid(), true))
	waitDone(t, p)
}

func TestTreeKillerSingle(t *testing.T) {
	p := spawn(t, NewNative(NativeConfig{}), shellLaunch(t, "", "sleep 60"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, TreeKiller{}.Kill(ctx, p.Pid(), false))
	waitDone(t, p)
}

func TestTreeKillerReportsFailure(t *testing.T) {
	p := spawn(t, NewNative(NativeConfig{}), shellLaunch(t, "", "exit 0"))
	waitDone(t, p)

	err := TreeKiller{}.Kill(context.Background(), p.Pid(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), strconv.Itoa(p.Pid()))
}

func TestDirectKill(t *testing.T) {
	p := spawn(t, NewNative(NativeConfig{}), shellLaunch(t, "", "sleep 60"))

	require.NoError(t, directKill(p.Pid(), true))
	waitDone(t, p)
}

func TestKillCommand(t *testing.T) {
	name, args := killCommand(42, false)
	assert.Equal(t, "kill", name)
	assert.Equal(t, []string{"-KILL", "42"}, args)

	name, args = killCommand(42, true)
	assert.Equal(t, "kill", name)
	assert.Equal(t, []string{"-KILL", "--", "-42"}, args)
}
