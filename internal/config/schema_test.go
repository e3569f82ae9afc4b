// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package config_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardew-valley-dedicated-server/gateway/internal/config"
)

func TestGenerateSchema(t *testing.T) {
	data, err := config.GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, config.GetSchemaID(), schema["$id"])
	assert.Equal(t, "Gateway Configuration", schema["title"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "schema has no properties")
	for _, key := range []string{
		"allow_ip_connections",
		"server_password",
		"server_password_hash",
		"max_login_attempts",
		"lobby_redirect_enabled",
		"identity",
		"metrics_addr",
		"database_url",
		"log_format",
		"log_level",
	} {
		assert.Contains(t, props, key, "missing property %q", key)
	}

	identity, ok := props["identity"].(map[string]any)
	require.True(t, ok)
	identityProps, ok := identity["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, identityProps, "service_url")
	assert.Contains(t, identityProps, "login_timeout")
	assert.Contains(t, identityProps, "poll_interval")

	// Durations are strings on the wire, not nanosecond integers.
	timeout, ok := identityProps["login_timeout"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", timeout["type"])
}

func TestValidateSchema(t *testing.T) {
	t.Cleanup(config.ResetSchemaCache)

	t.Run("valid config", func(t *testing.T) {
		err := config.ValidateSchema([]byte(`
server_password: hunter2
max_login_attempts: 5
identity:
  service_url: http://identity:9000
  login_timeout: 10m
`))
		assert.NoError(t, err)
	})

	t.Run("empty data", func(t *testing.T) {
		err := config.ValidateSchema(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("invalid YAML", func(t *testing.T) {
		err := config.ValidateSchema([]byte("{{nope"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid YAML")
	})

	t.Run("wrong type", func(t *testing.T) {
		err := config.ValidateSchema([]byte("max_login_attempts: three\n"))
		require.Error(t, err)
	})

	t.Run("attempts below minimum", func(t *testing.T) {
		err := config.ValidateSchema([]byte("max_login_attempts: 0\n"))
		require.Error(t, err)
	})

	t.Run("unknown key", func(t *testing.T) {
		err := config.ValidateSchema([]byte("server_pasword: oops\n"))
		require.Error(t, err)
	})

	t.Run("non-duration timeout", func(t *testing.T) {
		err := config.ValidateSchema([]byte("identity:\n  login_timeout: fast\n"))
		require.Error(t, err)
	})

	t.Run("bad enum value", func(t *testing.T) {
		err := config.ValidateSchema([]byte("log_format: xml\n"))
		require.Error(t, err)
	})
}

func TestFormatSchemaError(t *testing.T) {
	assert.Empty(t, config.FormatSchemaError(nil))

	err := config.ValidateSchema([]byte("log_format: xml\n"))
	require.Error(t, err)
	msg := config.FormatSchemaError(err)
	assert.NotEmpty(t, msg)
	assert.False(t, strings.HasPrefix(msg, "schema validation failed:"))
}
