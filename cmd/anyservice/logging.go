package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/zhujunling-nj/anyservice/internal/config"
	"github.com/zhujunling-nj/anyservice/internal/host"
)

// newHandler builds the log handler described by cfg.
func newHandler(cfg *config.Config, w io.Writer) (slog.Handler, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts), nil
	}
	return slog.NewTextHandler(w, opts), nil
}

// setupLogging installs the default logger for a service named name. Under
// a service manager without a console the host may substitute its own
// sink. The returned func releases it.
func setupLogging(cfg *config.Config, name string, w io.Writer) (*slog.Logger, func() error, error) {
	h, err := newHandler(cfg, w)
	if err != nil {
		return nil, nil, err
	}
	h, closeLog, err := host.NewLogHandler(name, h)
	if err != nil {
		return nil, nil, fmt.Errorf("opening service log: %w", err)
	}
	logger := slog.New(h).With("service", name)
	slog.SetDefault(logger)
	return logger, closeLog, nil
}

// commandLogger sets up logging for interactive commands from the config.
func commandLogger(name string) (*slog.Logger, func() error, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, err
	}
	return setupLogging(cfg, name, os.Stderr)
}
