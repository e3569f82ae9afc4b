// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

// Package xdg resolves XDG Base Directory paths for the gateway.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "gateway"

// configName is the file DefaultConfigFile probes for.
const configName = "config.yaml"

// ConfigDir returns the XDG config directory for the gateway.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultConfigFile returns the path of the operator config file under
// ConfigDir, or "" when none exists there. Callers treat "" as running
// on defaults and environment only.
func DefaultConfigFile() string {
	path := filepath.Join(ConfigDir(), configName)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
