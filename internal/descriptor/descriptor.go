// Package descriptor defines the install-time description of a service:
// what to run, how to supervise it and how the OS service manager should
// present it. Descriptors are written in YAML and can be passed to
// "anyservice install --from".
package descriptor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/zhujunling-nj/anyservice/internal/health"
	"github.com/zhujunling-nj/anyservice/internal/supervisor"
)

var serviceNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// Descriptor is everything needed to register a service.
type Descriptor struct {
	Name         string   `yaml:"name"`
	DisplayName  string   `yaml:"display_name,omitempty"`
	Description  string   `yaml:"description,omitempty"`
	Dependencies []string `yaml:"dependencies,omitempty"`
	Username     string   `yaml:"username,omitempty"`
	Password     string   `yaml:"password,omitempty"`
	WorkDir      string   `yaml:"workdir,omitempty"` // "" or "." derives it from the program
	Interactive  bool     `yaml:"interactive,omitempty"`
	AutoStart    bool     `yaml:"auto_start,omitempty"`
	StopChild    bool     `yaml:"stop_child,omitempty"`
	NoRestart    bool     `yaml:"no_restart,omitempty"`
	Health       string   `yaml:"health,omitempty"` // see health.ParseTarget
	Command      []string `yaml:"command"`
}

// Load reads and parses a descriptor from a YAML file.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor %s: %w", path, err)
	}

	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing descriptor %s: %w", path, err)
	}

	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("validating descriptor %s: %w", path, err)
	}

	return &d, nil
}

// LoadDir reads all YAML descriptors from a directory.
func LoadDir(dir string) ([]*Descriptor, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("listing descriptors in %s: %w", dir, err)
	}
	ymlEntries, err := filepath.Glob(filepath.Join(dir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("listing descriptors in %s: %w", dir, err)
	}
	entries = append(entries, ymlEntries...)

	var descs []*Descriptor
	for _, path := range entries {
		d, err := Load(path)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, nil
}

// Validate checks that a descriptor is well-formed.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !serviceNameRe.MatchString(d.Name) {
		return fmt.Errorf("name %q is invalid: must match %s", d.Name, serviceNameRe)
	}
	if len(d.Command) == 0 || d.Command[0] == "" {
		return fmt.Errorf("command is required")
	}
	if d.Command[0] == supervisor.CurrentDirMarker {
		return fmt.Errorf("command must start with the program, not %q", supervisor.CurrentDirMarker)
	}
	for _, dep := range d.Dependencies {
		if dep == "" {
			return fmt.Errorf("dependencies must not contain empty names")
		}
		if dep == d.Name {
			return fmt.Errorf("service %q cannot depend on itself", d.Name)
		}
	}
	if d.Password != "" && d.Username == "" {
		return fmt.Errorf("password is set but username is not")
	}
	if d.Interactive && d.Username != "" {
		return fmt.Errorf("interactive services must run as the local system account")
	}
	if d.Health != "" {
		if _, err := health.ParseTarget(d.Health); err != nil {
			return err
		}
	}
	return nil
}

// Title returns the display name, falling back to the service name.
func (d *Descriptor) Title() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Name
}

// Policy returns the restart policy the service runs with.
func (d *Descriptor) Policy() supervisor.RestartPolicy {
	return supervisor.RestartPolicy{
		StopChildTree: d.StopChild,
		RestartOnExit: !d.NoRestart,
	}
}

// RunArgs returns the arguments the service manager passes to
// "anyservice run": the service name and supervision flags, then the
// working directory (or the "." marker), then the command.
func (d *Descriptor) RunArgs() []string {
	args := []string{"run", "--name", d.Name}
	if d.StopChild {
		args = append(args, "--stopchild")
	}
	if d.NoRestart {
		args = append(args, "--norestart")
	}
	if d.Health != "" {
		args = append(args, "--health", d.Health)
	}
	workDir := d.WorkDir
	if workDir == "" {
		workDir = supervisor.CurrentDirMarker
	}
	args = append(args, "--", workDir)
	return append(args, d.Command...)
}

// Launch computes the launch parameters the service will use.
func (d *Descriptor) Launch() (supervisor.LaunchSpec, error) {
	return supervisor.NewLaunchSpec(d.WorkDir, d.Command)
}
