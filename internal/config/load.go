// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package config

import (
	"fmt"
	"os"
	"strings"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "GATEWAY_"

// Load merges defaults, the optional YAML file at path, GATEWAY_* environment
// variables, and the given flag set into a validated Settings.
//
// The file, when present, is schema-validated before merging so typos in key
// names fail loudly instead of silently falling back to defaults. flags may
// be nil.
func Load(path string, flags *pflag.FlagSet) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := ValidateSchema(data); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		p := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			return flagToKey(f.Name), posflag.FlagVal(flags, f)
		})
		if err := k.Load(p, nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &s, nil
}

// envToKey maps GATEWAY_IDENTITY__SERVICE_URL to identity.service_url.
// Double underscore separates nesting levels so single underscores survive
// inside key names.
func envToKey(name string) string {
	name = strings.TrimPrefix(name, EnvPrefix)
	name = strings.ToLower(name)
	return strings.ReplaceAll(name, "__", ".")
}

// flagToKey maps --max-login-attempts to max_login_attempts. Flags only
// cover top-level keys; nested keys are set via file or environment.
func flagToKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}
