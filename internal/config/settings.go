// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

// Package config loads and validates the gateway configuration.
//
// Values are merged from four layers, later layers winning: built-in
// defaults, the YAML configuration file, GATEWAY_* environment variables,
// and command-line flags. Nested keys use "." in files and flags and "__"
// in environment variables (GATEWAY_IDENTITY__SERVICE_URL).
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Settings is the root configuration for the gateway process.
type Settings struct {
	// AllowIPConnections opens unclaimed farmhand slots to direct IP and LAN
	// connections. When false, only invited friends can claim a free slot.
	AllowIPConnections bool `koanf:"allow_ip_connections" json:"allow_ip_connections,omitempty"`

	// ServerPassword is the shared secret checked in chat after join.
	// Leave empty (together with ServerPasswordHash) to disable the gate.
	ServerPassword string `koanf:"server_password" json:"server_password,omitempty"`

	// ServerPasswordHash is an argon2id PHC string checked instead of
	// ServerPassword. At most one of the two may be set.
	ServerPasswordHash string `koanf:"server_password_hash" json:"server_password_hash,omitempty"`

	// MaxLoginAttempts is the number of wrong passwords tolerated before the
	// connection is kicked. The kick fires on the submission after the last
	// tolerated one.
	MaxLoginAttempts int `koanf:"max_login_attempts" json:"max_login_attempts,omitempty" jsonschema:"minimum=1"`

	// LobbyRedirectEnabled holds unauthenticated joiners in the lobby area
	// until they pass the password gate.
	LobbyRedirectEnabled bool `koanf:"lobby_redirect_enabled" json:"lobby_redirect_enabled,omitempty"`

	// Identity configures the sidecar that performs the vendor login.
	Identity IdentitySettings `koanf:"identity" json:"identity,omitempty"`

	// MetricsAddr is the listen address for /metrics and health probes.
	// Empty disables the observability server.
	MetricsAddr string `koanf:"metrics_addr" json:"metrics_addr,omitempty"`

	// DatabaseURL is the postgres URL for the role store. Empty keeps role
	// grants in memory only.
	DatabaseURL string `koanf:"database_url" json:"database_url,omitempty"`

	// LogFormat selects the log encoding, "json" or "text".
	LogFormat string `koanf:"log_format" json:"log_format,omitempty" jsonschema:"enum=json,enum=text"`

	// LogLevel is the minimum level the gateway logs at.
	LogLevel string `koanf:"log_level" json:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// IdentitySettings configures the identity sidecar client.
type IdentitySettings struct {
	// ServiceURL is the base URL of the identity sidecar.
	ServiceURL string `koanf:"service_url" json:"service_url,omitempty"`

	// LoginTimeout bounds a whole login flow, polling included.
	LoginTimeout time.Duration `koanf:"login_timeout" json:"login_timeout,omitempty"`

	// PollInterval is the delay between login status polls.
	PollInterval time.Duration `koanf:"poll_interval" json:"poll_interval,omitempty"`
}

// Defaults returns the built-in configuration values as a flat key map.
func Defaults() map[string]any {
	return map[string]any{
		"allow_ip_connections":   false,
		"server_password":        "",
		"server_password_hash":   "",
		"max_login_attempts":     3,
		"lobby_redirect_enabled": true,
		"metrics_addr":           ":9090",
		"database_url":           "",
		"log_format":             "json",
		"log_level":              "info",
		"identity.service_url":   "http://127.0.0.1:8081",
		"identity.login_timeout": "5m",
		"identity.poll_interval": "1s",
	}
}

// Validate checks constraints the schema cannot express.
func (s *Settings) Validate() error {
	if s.MaxLoginAttempts < 1 {
		return fmt.Errorf("max_login_attempts must be at least 1, got %d", s.MaxLoginAttempts)
	}

	if s.ServerPassword != "" && s.ServerPasswordHash != "" {
		return fmt.Errorf("server_password and server_password_hash are mutually exclusive")
	}

	switch s.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("log_format must be \"json\" or \"text\", got %q", s.LogFormat)
	}

	if s.Identity.ServiceURL == "" {
		return fmt.Errorf("identity.service_url is required")
	}
	u, err := url.Parse(s.Identity.ServiceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("identity.service_url %q is not a valid URL", s.Identity.ServiceURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("identity.service_url scheme must be http or https, got %q", u.Scheme)
	}

	if s.Identity.LoginTimeout <= 0 {
		return fmt.Errorf("identity.login_timeout must be positive, got %s", s.Identity.LoginTimeout)
	}
	if s.Identity.PollInterval <= 0 {
		return fmt.Errorf("identity.poll_interval must be positive, got %s", s.Identity.PollInterval)
	}
	if s.Identity.PollInterval > s.Identity.LoginTimeout {
		return fmt.Errorf("identity.poll_interval %s exceeds identity.login_timeout %s",
			s.Identity.PollInterval, s.Identity.LoginTimeout)
	}

	return nil
}

// GateEnabled reports whether a shared secret is configured.
func (s *Settings) GateEnabled() bool {
	return s.ServerPassword != "" || s.ServerPasswordHash != ""
}
