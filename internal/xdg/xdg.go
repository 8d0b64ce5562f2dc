// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

// Package xdg resolves where bridgemc keeps its configuration when no path
// is given on the command line.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "bridgemc"

// ConfigFileName is the file looked up inside ConfigDir.
const ConfigFileName = "config.yaml"

// ConfigDir returns $XDG_CONFIG_HOME/bridgemc, or ~/.config/bridgemc when
// XDG_CONFIG_HOME is unset.
func ConfigDir() (string, error) {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, appName), nil
	}
	home := os.Getenv("HOME")
	if home == "" {
		return "", oops.Code("NO_HOME").Errorf("neither XDG_CONFIG_HOME nor HOME is set")
	}
	return filepath.Join(home, ".config", appName), nil
}

// DefaultConfigPath returns the config file path inside ConfigDir.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// EnsureDir creates path and its parents with mode 0700.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.With("path", path).Wrapf(err, "create directory")
	}
	return nil
}
