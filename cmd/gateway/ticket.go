// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package main

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/stardew-valley-dedicated-server/gateway/internal/config"
	"github.com/stardew-valley-dedicated-server/gateway/internal/identity"
)

// Default timeout for the ticket command.
const defaultTicketTimeout = 30 * time.Second

// ticketConfig holds configuration for the ticket command.
type ticketConfig struct {
	timeout time.Duration
}

// newTicketCmd creates the ticket subcommand with all flags configured.
func newTicketCmd() *cobra.Command {
	cfg := &ticketConfig{}

	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Fetch an app ticket from the identity sidecar",
		Long: `Fetch an app ticket from the identity sidecar and print it. The
sidecar must already hold a vendor login; run "gateway login" first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTicketWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultTicketTimeout, "timeout for sidecar requests (e.g., 30s, 1m)")

	return cmd
}

// runTicketWithDeps runs the ticket command with injectable dependencies.
// If deps is nil, default implementations are used.
func runTicketWithDeps(ctx context.Context, cfg *ticketConfig, cmd *cobra.Command, deps *TicketDeps) error {
	if deps == nil {
		deps = &TicketDeps{}
	}
	if deps.SettingsLoader == nil {
		deps.SettingsLoader = loadSettings
	}
	if deps.BrokerFactory == nil {
		deps.BrokerFactory = func(cfg *config.Settings) (TicketBroker, error) {
			return newSidecarBroker(cfg)
		}
	}

	settings, err := deps.SettingsLoader(configFile)
	if err != nil {
		return err
	}

	broker, err := deps.BrokerFactory(settings)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	session, err := broker.Resume(ctx)
	if err != nil {
		return err
	}
	if session.Status != identity.StatusAuthenticated {
		return oops.
			Code(identity.CodeRejected).
			With("status", session.Status.String()).
			Errorf("identity service holds no vendor login; run \"gateway login\" first")
	}

	ticket, err := broker.AcquireTicket(ctx)
	if err != nil {
		return err
	}

	printTicket(cmd, ticket)
	return nil
}

// printTicket renders a ticket for the operator. The ticket bytes are hex
// so they can be pasted into debugging tools.
func printTicket(cmd *cobra.Command, ticket *identity.Ticket) {
	cmd.Printf("Subject:  %s\n", ticket.Subject)
	cmd.Printf("Issued:   %s\n", ticket.IssuedAt.Format(time.RFC3339))
	cmd.Printf("Expires:  %s\n", ticket.ExpiresAt.Format(time.RFC3339))
	cmd.Printf("Ticket:   %s\n", hex.EncodeToString(ticket.Data))
}
