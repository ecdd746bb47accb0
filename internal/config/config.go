// Package config loads the runtime configuration of the service host.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up next to the executable.
const FileName = "anyservice.yaml"

// Config holds settings read from anyservice.yaml. Every field is optional.
type Config struct {
	LogLevel           string   `yaml:"log_level,omitempty"`  // debug | info | warn | error
	LogFormat          string   `yaml:"log_format,omitempty"` // text | json
	RestartDelay       Duration `yaml:"restart_delay,omitempty"`
	StopTimeout        Duration `yaml:"stop_timeout,omitempty"`
	CheckpointInterval Duration `yaml:"checkpoint_interval,omitempty"`
	LogLines           int      `yaml:"log_lines,omitempty"` // ring size per output stream
	LogRate            float64  `yaml:"log_rate,omitempty"`  // forwarded child lines per second
	Journal            string   `yaml:"journal,omitempty"`   // NDJSON lifecycle journal path
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// DefaultPath returns anyservice.yaml in the directory of the running
// executable, or "" if the executable cannot be located.
func DefaultPath() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(exe), FileName)
}

// Load reads a YAML config file from path. A missing file, or an empty
// path, yields an empty Config and no error.
func Load(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values that have a restricted range.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	if c.RestartDelay.Duration < 0 {
		return fmt.Errorf("restart_delay must not be negative")
	}
	if c.StopTimeout.Duration < 0 {
		return fmt.Errorf("stop_timeout must not be negative")
	}
	if c.CheckpointInterval.Duration < 0 {
		return fmt.Errorf("checkpoint_interval must not be negative")
	}
	if c.LogLines < 0 {
		return fmt.Errorf("log_lines must not be negative")
	}
	if c.LogRate < 0 {
		return fmt.Errorf("log_rate must not be negative")
	}
	return nil
}

// Level returns the configured log level, info when unset.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToLower(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return level, nil
}
