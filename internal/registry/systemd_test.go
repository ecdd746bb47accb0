//go:build unix

package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhujunling-nj/anyservice/internal/descriptor"
)

type systemctlCall []string

type fakeSystemctl struct {
	calls []systemctlCall
	fail  map[string]error
}

func (f *fakeSystemctl) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append(systemctlCall{name}, args...))
	if err := f.fail[args[0]]; err != nil {
		return []byte("Job failed"), err
	}
	return nil, nil
}

func newTestSystemd(t *testing.T) (*Systemd, *fakeSystemctl) {
	t.Helper()
	fake := &fakeSystemctl{fail: map[string]error{}}
	s := NewSystemd(nil)
	s.UnitDir = t.TempDir()
	s.run = fake.run
	return s, fake
}

func TestRenderUnit(t *testing.T) {
	d := &descriptor.Descriptor{
		Name:         "web",
		Description:  "Intranet portal\nfrontend",
		Dependencies: []string{"postgresql", "network-online.target", "redis.service"},
		Username:     "www-data",
		StopChild:    true,
		Command:      []string{"/opt/web/server", "--greeting", "hello world", "100%"},
	}

	unit, err := RenderUnit(d, "/usr/local/bin/anyservice")
	require.NoError(t, err)
	text := string(unit)

	assert.Contains(t, text, "Description=Intranet portal frontend\n")
	assert.Contains(t, text, "Requires=postgresql.service\nAfter=postgresql.service\n")
	assert.Contains(t, text, "Requires=network-online.target\nAfter=network-online.target\n")
	assert.Contains(t, text, "Requires=redis.service\nAfter=redis.service\n")
	assert.NotContains(t, text, ".service.service")
	assert.Contains(t, text, "KillMode=process\n")
	assert.NotContains(t, text, "KillMode=mixed")
	assert.Contains(t, text, "Type=notify\n")
	assert.Contains(t, text, "User=www-data\n")
	assert.Contains(t, text,
		`ExecStart=/usr/local/bin/anyservice run --name web --stopchild -- . /opt/web/server --greeting "hello world" 100%%`+"\n")
}

func TestRenderUnitDefaults(t *testing.T) {
	d := &descriptor.Descriptor{Name: "worker", Command: []string{"/bin/worker"}}

	unit, err := RenderUnit(d, "/usr/bin/anyservice")
	require.NoError(t, err)
	text := string(unit)

	assert.Contains(t, text, "Description=worker\n")
	assert.NotContains(t, text, "User=")
	assert.NotContains(t, text, "Requires=")
}

func TestUnitNames(t *testing.T) {
	assert.Equal(t,
		[]string{"db.service", "db.service", "sshd.socket", "multi-user.target", "my.app.service"},
		unitNames([]string{"db", "db.service", "sshd.socket", "multi-user.target", "my.app"}))
	assert.Empty(t, unitNames(nil))
}

func TestQuoteExecArg(t *testing.T) {
	tests := map[string]string{
		"plain":      "plain",
		"":           `""`,
		"two words":  `"two words"`,
		`a"b`:        `"a\"b"`,
		`back\slash`: `"back\\slash"`,
		"$HOME":      "$$HOME",
		"50% off":    `"50%% off"`,
		"semi;colon": `"semi;colon"`,
		"tab\there":  `"tab\there"`,
	}
	for in, want := range tests {
		assert.Equal(t, want, quoteExecArg(in), "quoteExecArg(%q)", in)
	}
}

func TestSystemdInstallAutoStart(t *testing.T) {
	s, fake := newTestSystemd(t)
	d := &descriptor.Descriptor{Name: "web", AutoStart: true, Command: []string{"/opt/web/server"}}

	require.NoError(t, s.Install(context.Background(), d, "/usr/bin/anyservice"))

	data, err := os.ReadFile(filepath.Join(s.UnitDir, "web.service"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "[Unit]\n"))

	assert.Equal(t, []systemctlCall{
		{"systemctl", "daemon-reload"},
		{"systemctl", "enable", "web.service"},
		{"systemctl", "start", "web.service"},
	}, fake.calls)
}

func TestSystemdInstallManual(t *testing.T) {
	s, fake := newTestSystemd(t)
	d := &descriptor.Descriptor{Name: "web", Command: []string{"/opt/web/server"}}

	require.NoError(t, s.Install(context.Background(), d, "/usr/bin/anyservice"))
	assert.Equal(t, []systemctlCall{{"systemctl", "daemon-reload"}}, fake.calls)
}

func TestSystemdInstallStartFailure(t *testing.T) {
	s, fake := newTestSystemd(t)
	fake.fail["start"] = errors.New("exit status 1")
	d := &descriptor.Descriptor{Name: "web", AutoStart: true, Command: []string{"/opt/web/server"}}

	err := s.Install(context.Background(), d, "/usr/bin/anyservice")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Contains(t, err.Error(), "Job failed")
}

func TestSystemdRemove(t *testing.T) {
	s, fake := newTestSystemd(t)
	d := &descriptor.Descriptor{Name: "web", Command: []string{"/opt/web/server"}}
	require.NoError(t, s.Install(context.Background(), d, "/usr/bin/anyservice"))
	fake.calls = nil
	fake.fail["stop"] = errors.New("exit status 5")

	require.NoError(t, s.Remove(context.Background(), "web"))

	_, err := os.Stat(filepath.Join(s.UnitDir, "web.service"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, []systemctlCall{
		{"systemctl", "stop", "web.service"},
		{"systemctl", "disable", "web.service"},
		{"systemctl", "daemon-reload"},
	}, fake.calls)
}

func TestSystemdRemoveUnknown(t *testing.T) {
	s, fake := newTestSystemd(t)
	err := s.Remove(context.Background(), "ghost")
	require.Error(t, err)
	assert.Empty(t, fake.calls)
}
