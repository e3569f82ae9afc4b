// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/stardew-valley-dedicated-server/gateway/internal/config"
	"github.com/stardew-valley-dedicated-server/gateway/internal/identity"
	"github.com/stardew-valley-dedicated-server/gateway/internal/retryhttp"
	"github.com/stardew-valley-dedicated-server/gateway/internal/xdg"
)

// sidecarHTTPTimeout bounds a single HTTP request to the identity sidecar.
// Retries layer on top of it.
const sidecarHTTPTimeout = 10 * time.Second

// LoginDeps contains injectable dependencies for the login command.
// All fields with nil values will use their default implementations.
type LoginDeps struct {
	// SettingsLoader loads the gateway configuration.
	// Default: config.Load without extra flag overrides
	SettingsLoader func(path string) (*config.Settings, error)

	// BrokerFactory creates the login broker from loaded settings.
	// Default: newSidecarBroker
	BrokerFactory func(cfg *config.Settings) (LoginBroker, error)
}

// TicketDeps contains injectable dependencies for the ticket command.
// All fields with nil values will use their default implementations.
type TicketDeps struct {
	// SettingsLoader loads the gateway configuration.
	// Default: config.Load without extra flag overrides
	SettingsLoader func(path string) (*config.Settings, error)

	// BrokerFactory creates the ticket broker from loaded settings.
	// Default: newSidecarBroker
	BrokerFactory func(cfg *config.Settings) (TicketBroker, error)
}

// StatusDeps contains injectable dependencies for the status command.
// All fields with nil values will use their default implementations.
type StatusDeps struct {
	// SettingsLoader loads the gateway configuration.
	// Default: config.Load without extra flag overrides
	SettingsLoader func(path string) (*config.Settings, error)

	// ClientFactory creates the sidecar health client from loaded settings.
	// Default: newStatusClient
	ClientFactory func(cfg *config.Settings) (HealthAPI, error)
}

// MigrateDeps contains injectable dependencies for the migrate subcommands.
// All fields with nil values will use their default implementations.
type MigrateDeps struct {
	// SettingsLoader loads the gateway configuration.
	// Default: config.Load without extra flag overrides
	SettingsLoader func(path string) (*config.Settings, error)

	// MigratorFactory creates the schema migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (SchemaMigrator, error)
}

// LoginBroker interface wraps the broker methods used by the login command.
type LoginBroker interface {
	Authenticate(ctx context.Context, req identity.AuthenticateRequest) (*identity.Ticket, error)
}

// TicketBroker interface wraps the broker methods used by the ticket command.
type TicketBroker interface {
	Resume(ctx context.Context) (identity.LoginSession, error)
	AcquireTicket(ctx context.Context) (*identity.Ticket, error)
}

// HealthAPI interface wraps the sidecar client methods used by the status
// command.
type HealthAPI interface {
	Health(ctx context.Context) (*identity.Health, error)
}

// SchemaMigrator interface wraps the methods used from store.Migrator.
type SchemaMigrator interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
	Close() error
}

// loadSettings is the default SettingsLoader. When no path is given it
// falls back to the XDG config location, if a file exists there.
func loadSettings(path string) (*config.Settings, error) {
	if path == "" {
		path = xdg.DefaultConfigFile()
	}
	return config.Load(path, nil)
}

// newSidecarBroker builds the production broker stack from settings:
// retrying HTTP transport, sidecar client, login broker. The stack logs
// through the default logger the root command configured.
func newSidecarBroker(cfg *config.Settings) (*identity.Broker, error) {
	transport := retryhttp.New(&http.Client{Timeout: sidecarHTTPTimeout},
		retryhttp.WithLogger(slog.Default()))
	client, err := identity.NewClient(cfg.Identity.ServiceURL, transport,
		identity.WithClientLogger(slog.Default()))
	if err != nil {
		return nil, err
	}
	return identity.NewBroker(client,
		identity.WithLogger(slog.Default()),
		identity.WithPollInterval(cfg.Identity.PollInterval),
		identity.WithLoginTimeout(cfg.Identity.LoginTimeout),
	)
}

// newStatusClient builds the sidecar client used by the status command.
// No retries and a short timeout so an unreachable sidecar reports quickly.
func newStatusClient(cfg *config.Settings) (*identity.Client, error) {
	transport := retryhttp.New(
		&http.Client{Timeout: statusProbeTimeout},
		retryhttp.WithMaxRetries(0),
	)
	return identity.NewClient(cfg.Identity.ServiceURL, transport)
}
