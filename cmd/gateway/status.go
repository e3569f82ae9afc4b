// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stardew-valley-dedicated-server/gateway/internal/config"
)

// statusProbeTimeout bounds the single health request the status command
// makes. Short so an unreachable sidecar reports quickly.
const statusProbeTimeout = 2 * time.Second

// SidecarStatus holds the status information for the identity sidecar.
type SidecarStatus struct {
	URL       string `json:"url"`
	Reachable bool   `json:"reachable"`
	LoggedIn  bool   `json:"logged_in,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
}

// newStatusCmd creates the status subcommand with all flags configured.
func newStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of the identity sidecar",
		Long: `Query the identity sidecar's health endpoint and report whether it is
reachable and holds a vendor login.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatusWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	// Register flags
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatusWithDeps runs the status command with injectable dependencies.
// If deps is nil, default implementations are used. An unreachable sidecar
// is reported, not treated as a command failure.
func runStatusWithDeps(ctx context.Context, cfg *statusConfig, cmd *cobra.Command, deps *StatusDeps) error {
	if deps == nil {
		deps = &StatusDeps{}
	}
	if deps.SettingsLoader == nil {
		deps.SettingsLoader = loadSettings
	}
	if deps.ClientFactory == nil {
		deps.ClientFactory = func(cfg *config.Settings) (HealthAPI, error) {
			return newStatusClient(cfg)
		}
	}

	settings, err := deps.SettingsLoader(configFile)
	if err != nil {
		return err
	}

	client, err := deps.ClientFactory(settings)
	if err != nil {
		return err
	}

	status := querySidecarStatus(ctx, settings.Identity.ServiceURL, client)

	var output string
	if cfg.jsonOutput {
		output, err = formatStatusJSON(map[string]SidecarStatus{"identity": status})
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
	} else {
		output = formatStatusTable(status)
	}

	cmd.Println(output)
	return nil
}

// querySidecarStatus probes the sidecar health endpoint and returns its
// status.
func querySidecarStatus(ctx context.Context, url string, client HealthAPI) SidecarStatus {
	status := SidecarStatus{URL: url}

	ctx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}

	status.Reachable = true
	status.LoggedIn = health.LoggedIn
	status.Status = health.Status
	return status
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status SidecarStatus) string {
	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	// Header
	_, _ = fmt.Fprintln(w, "COMPONENT\tSTATE\tSESSION\tDETAIL")
	_, _ = fmt.Fprintln(w, "---------\t-----\t-------\t------")

	if status.Reachable {
		session := "logged out"
		if status.LoggedIn {
			session = "logged in"
		}
		detail := status.Status
		if detail == "" {
			detail = "-"
		}
		_, _ = fmt.Fprintf(w, "identity\tup\t%s\t%s\n", session, detail)
	} else {
		reason := "not running"
		if status.Error != "" {
			reason = status.Error
		}
		_, _ = fmt.Fprintf(w, "identity\tunreachable\t-\t%s\n", reason)
	}

	_ = w.Flush()
	return string(buf)
}

// formatStatusJSON formats the status as JSON.
func formatStatusJSON(statuses map[string]SidecarStatus) (string, error) {
	data, err := json.MarshalIndent(statuses, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal status: %w", err)
	}
	return string(data), nil
}

// byteWriter is a simple writer that appends to a byte slice.
type byteWriter []byte

func (w *byteWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
