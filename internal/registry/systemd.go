//go:build unix

package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/google/renameio/v2"

	"github.com/zhujunling-nj/anyservice/internal/descriptor"
)

const unitTemplate = `[Unit]
Description={{.Description}}
{{- range .Dependencies}}
Requires={{.}}
After={{.}}
{{- end}}
After=network.target

[Service]
Type=notify
NotifyAccess=main
ExecStart={{.ExecStart}}
Restart=no
KillMode=process
TimeoutStopSec=30
{{- if .User}}
User={{.User}}
{{- end}}

[Install]
WantedBy=multi-user.target
`

var unitTmpl = template.Must(template.New("unit").Parse(unitTemplate))

// Systemd registers services as systemd units. The unit runs anyservice
// with Type=notify, so "systemctl start" returns once the child is up.
type Systemd struct {
	// UnitDir is where unit files are written.
	UnitDir string
	// Systemctl is the systemctl binary.
	Systemctl string
	Logger    *slog.Logger

	// run executes systemctl; replaced in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// New returns the registry for this platform.
func New(logger *slog.Logger) Registry {
	return NewSystemd(logger)
}

// NewSystemd creates a systemd registry writing to /etc/systemd/system.
func NewSystemd(logger *slog.Logger) *Systemd {
	if logger == nil {
		logger = slog.With("component", "registry")
	}
	return &Systemd{
		UnitDir:   "/etc/systemd/system",
		Systemctl: "systemctl",
		Logger:    logger,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

func (s *Systemd) unitPath(name string) string {
	return filepath.Join(s.UnitDir, name+".service")
}

var unitSuffixes = []string{
	".service", ".socket", ".target", ".mount", ".automount", ".path",
	".timer", ".device", ".swap", ".slice", ".scope",
}

// unitNames turns dependency names into unit names, adding ".service" to
// names that carry no unit type.
func unitNames(deps []string) []string {
	units := make([]string, 0, len(deps))
	for _, dep := range deps {
		unit := dep + ".service"
		for _, suffix := range unitSuffixes {
			if strings.HasSuffix(dep, suffix) {
				unit = dep
				break
			}
		}
		units = append(units, unit)
	}
	return units
}

// RenderUnit returns the unit file for d running exe. The unit stops only
// the main process: anyservice decides whether the child's tree goes too.
func RenderUnit(d *descriptor.Descriptor, exe string) ([]byte, error) {
	argv := append([]string{exe}, d.RunArgs()...)
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = quoteExecArg(a)
	}

	description := d.Description
	if description == "" {
		description = d.Title()
	}

	var buf bytes.Buffer
	err := unitTmpl.Execute(&buf, struct {
		Description  string
		Dependencies []string
		ExecStart    string
		User         string
	}{
		Description:  escapeSpecifiers(oneLine(description)),
		Dependencies: unitNames(d.Dependencies),
		ExecStart:    strings.Join(quoted, " "),
		User:         d.Username,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering unit for %s: %w", d.Name, err)
	}
	return buf.Bytes(), nil
}

func (s *Systemd) Install(ctx context.Context, d *descriptor.Descriptor, exe string) error {
	if d.Password != "" {
		s.Logger.Warn("password is not used by systemd units", "service", d.Name)
	}
	if d.Interactive {
		s.Logger.Warn("interactive services are not supported by systemd", "service", d.Name)
	}

	unit, err := RenderUnit(d, exe)
	if err != nil {
		return err
	}
	path := s.unitPath(d.Name)
	if err := renameio.WriteFile(path, unit, 0644); err != nil {
		return fmt.Errorf("writing unit %s: %w", path, err)
	}
	s.Logger.Info("service installed", "service", d.Name, "unit", path)

	if err := s.systemctl(ctx, "daemon-reload"); err != nil {
		return err
	}
	if !d.AutoStart {
		return nil
	}
	if err := s.systemctl(ctx, "enable", d.Name+".service"); err != nil {
		return err
	}
	s.Logger.Info("starting service", "service", d.Name)
	if err := s.systemctl(ctx, "start", d.Name+".service"); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotRunning, d.Name, err)
	}
	s.Logger.Info("service started", "service", d.Name)
	return nil
}

func (s *Systemd) Remove(ctx context.Context, name string) error {
	path := s.unitPath(name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("opening service %s: %w", name, err)
	}

	if err := s.systemctl(ctx, "stop", name+".service"); err != nil {
		s.Logger.Warn("stopping service before removal", "service", name, "error", err)
	}
	if err := s.systemctl(ctx, "disable", name+".service"); err != nil {
		s.Logger.Warn("disabling service", "service", name, "error", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting unit %s: %w", path, err)
	}
	if err := s.systemctl(ctx, "daemon-reload"); err != nil {
		return err
	}
	s.Logger.Info("service removed", "service", name)
	return nil
}

func (s *Systemd) systemctl(ctx context.Context, args ...string) error {
	out, err := s.run(ctx, s.Systemctl, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", s.Systemctl, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// quoteExecArg quotes one ExecStart argument. Specifiers and variable
// references are escaped so arguments reach the program literally.
func quoteExecArg(arg string) string {
	arg = escapeSpecifiers(arg)
	if arg != "" && !strings.ContainsAny(arg, " \t\n\"';\\") {
		return arg
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range arg {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func escapeSpecifiers(s string) string {
	s = strings.ReplaceAll(s, "%", "%%")
	return strings.ReplaceAll(s, "$", "$$")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
