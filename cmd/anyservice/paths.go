package main

import (
	"os"
	"path/filepath"

	"github.com/zhujunling-nj/anyservice/internal/config"
)

// executable returns the resolved path of the running binary.
func executable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(exe)
}

// resolveConfigPath returns the --config flag or the default location.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

// defaultDescriptorDir is the services directory next to the executable.
func defaultDescriptorDir() string {
	exe, err := executable()
	if err != nil {
		return "."
	}
	return filepath.Join(filepath.Dir(exe), "services")
}
