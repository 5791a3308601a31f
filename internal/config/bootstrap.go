// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

//go:embed tally.yaml.default
var DefaultConfigYAML []byte

// SearchPaths are the directories probed for tally.yaml when no explicit
// config file is given, in order.
func SearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tally"))
	}
	return append(paths, "/etc/tally")
}

// DefaultConfigPath returns ~/.config/tally/tally.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", tallyerr.Errorf(tallyerr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "tally", "tally.yaml"), nil
}

// BootstrapConfig writes the default commented config to the default path if
// it does not exist yet. It returns the path written, or "" when the file
// already existed or could not be written; failures are logged and skipped.
func BootstrapConfig() string {
	cfgPath, err := DefaultConfigPath()
	if err != nil {
		slog.Debug("skipping config bootstrap", "error", err)
		return ""
	}
	return bootstrapAt(cfgPath)
}

func bootstrapAt(cfgPath string) string {
	if _, err := os.Stat(cfgPath); err == nil {
		return ""
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Debug("skipping config bootstrap: cannot create directory", "path", dir, "error", err)
		return ""
	}

	if err := os.WriteFile(cfgPath, DefaultConfigYAML, 0o600); err != nil {
		slog.Debug("skipping config bootstrap: cannot write config", "path", cfgPath, "error", err)
		return ""
	}

	slog.Info("created default config", "path", cfgPath)
	return cfgPath
}
