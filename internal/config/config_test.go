package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `log_level: debug
log_format: json
restart_delay: 10s
stop_timeout: 30s
checkpoint_interval: 500ms
log_lines: 200
log_rate: 50
journal: /var/log/anyservice/journal.ndjson
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.RestartDelay.Duration != 10*time.Second {
		t.Errorf("RestartDelay = %v, want 10s", cfg.RestartDelay.Duration)
	}
	if cfg.StopTimeout.Duration != 30*time.Second {
		t.Errorf("StopTimeout = %v, want 30s", cfg.StopTimeout.Duration)
	}
	if cfg.CheckpointInterval.Duration != 500*time.Millisecond {
		t.Errorf("CheckpointInterval = %v, want 500ms", cfg.CheckpointInterval.Duration)
	}
	if cfg.LogLines != 200 || cfg.LogRate != 50 {
		t.Errorf("LogLines/LogRate = %d/%v, want 200/50", cfg.LogLines, cfg.LogRate)
	}
	if cfg.Journal != "/var/log/anyservice/journal.ndjson" {
		t.Errorf("Journal = %q", cfg.Journal)
	}
	level, err := cfg.Level()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("Level() = %v, %v; want debug", level, err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	cfg, err := Load("/nonexistent/path/anyservice.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if *cfg != (Config{}) {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	t.Parallel()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *cfg != (Config{}) {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, "# nothing here\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	level, _ := cfg.Level()
	if level != slog.LevelInfo {
		t.Errorf("default level = %v, want info", level)
	}
}

func TestLoadInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad duration", "restart_delay: soon\n", "invalid duration"},
		{"bad level", "log_level: loud\n", "log_level"},
		{"bad format", "log_format: xml\n", "log_format"},
		{"negative delay", "restart_delay: -1s\n", "restart_delay"},
		{"negative lines", "log_lines: -5\n", "log_lines"},
		{"negative rate", "log_rate: -1\n", "log_rate"},
		{"not yaml", "log_level: [\n", "parsing config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Parallel()
	if got := DefaultPath(); filepath.Base(got) != FileName {
		t.Errorf("DefaultPath() = %q, want a path ending in %s", got, FileName)
	}
}
