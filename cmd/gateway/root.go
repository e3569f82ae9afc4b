// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stardew-valley-dedicated-server/gateway/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the gateway CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Operator tooling for the farm server admission gateway",
		Long: `Operator tooling for the farm server admission gateway: log the
identity sidecar into the vendor network, fetch app tickets, check
sidecar health, manage the role store schema, and generate the
configuration schema.`,
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLogging(configFile)
		},
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file path (falls back to $XDG_CONFIG_HOME/gateway/config.yaml)")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newTicketCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newGenSchemaCmd())
	cmd.AddCommand(newHashPasswordCmd())

	return cmd
}

// setupLogging configures the default slog logger from the log_format and
// log_level settings before any subcommand runs. A missing or broken config
// file is not fatal here: logging keeps its defaults and the subcommands
// that need settings report the load failure themselves.
func setupLogging(path string) {
	format, level := "json", slog.LevelInfo
	if settings, err := loadSettings(path); err == nil {
		format = settings.LogFormat
		level = logging.ParseLevel(settings.LogLevel)
	}
	logging.SetDefault("gateway", version, format, level)
}
