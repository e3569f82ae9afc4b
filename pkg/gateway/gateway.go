// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

// Package gateway assembles the admission components into the hook surface
// the game engine embeds.
//
// The engine constructs a Gateway once at start-up, wires it in as its
// host.Hooks implementation, and calls Start before accepting connections:
//
//	gw, err := gateway.New(ctx, settings, engine)
//	if err != nil { ... }
//	if err := gw.Start(); err != nil { ... }
//	defer gw.Stop(shutdownCtx)
//
// Everything behind the hooks (session tracking, slot admission, the
// holding-area redirect, the password gate, chat commands, metrics) is
// internal; the engine only ever sees this package and pkg/host.
package gateway

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/stardew-valley-dedicated-server/gateway/internal/admission"
	"github.com/stardew-valley-dedicated-server/gateway/internal/command"
	"github.com/stardew-valley-dedicated-server/gateway/internal/command/handlers"
	"github.com/stardew-valley-dedicated-server/gateway/internal/config"
	"github.com/stardew-valley-dedicated-server/gateway/internal/gate"
	"github.com/stardew-valley-dedicated-server/gateway/internal/holding"
	"github.com/stardew-valley-dedicated-server/gateway/internal/identity"
	"github.com/stardew-valley-dedicated-server/gateway/internal/logging"
	"github.com/stardew-valley-dedicated-server/gateway/internal/observability"
	"github.com/stardew-valley-dedicated-server/gateway/internal/retryhttp"
	"github.com/stardew-valley-dedicated-server/gateway/internal/roles"
	"github.com/stardew-valley-dedicated-server/gateway/internal/session"
	"github.com/stardew-valley-dedicated-server/gateway/internal/store"
	"github.com/stardew-valley-dedicated-server/gateway/pkg/errutil"
	"github.com/stardew-valley-dedicated-server/gateway/pkg/host"
)

// defaultSidecarTimeout bounds a single HTTP request to the identity
// sidecar. Retries layer on top of it.
const defaultSidecarTimeout = 10 * time.Second

// Gateway is the assembled admission layer. It implements host.Hooks; the
// engine calls those methods from its message loop.
type Gateway struct {
	cfg    *config.Settings
	engine host.Engine
	logger *slog.Logger

	sessions   *session.Registry
	filter     *admission.Filter
	waitlist   *admission.Waitlist
	encoder    *admission.Encoder
	redirector *holding.Redirector
	gate       *gate.Gate
	roles      *roles.Service
	broker     *identity.Broker
	registry   *command.Registry
	dispatcher *command.Dispatcher
	services   *command.Services

	metrics *observability.Metrics
	obs     *observability.Server

	// pool is non-nil only when the gateway opened its own database
	// connection; an injected repository leaves it nil.
	pool *pgxpool.Pool

	rolesRepo roles.Repository
	httpDoer  retryhttp.Doer
}

var _ host.Hooks = (*Gateway)(nil)

// Option configures a Gateway during New.
type Option func(*Gateway)

// WithLogger replaces the logger the gateway builds for itself from the
// log_format and log_level settings. Engines that already run structured
// logging pass their own logger here.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRolesRepository injects a grant repository, bypassing the database_url
// wiring. The caller keeps ownership of whatever backs it.
func WithRolesRepository(repo roles.Repository) Option {
	return func(g *Gateway) {
		g.rolesRepo = repo
	}
}

// WithHTTPClient overrides the HTTP client used to reach the identity
// sidecar.
func WithHTTPClient(doer retryhttp.Doer) Option {
	return func(g *Gateway) {
		if doer != nil {
			g.httpDoer = doer
		}
	}
}

// New builds a Gateway from validated settings and the embedding engine. It
// refuses engines outside the supported version range, connects to the role
// store when one is configured, and leaves every component ready for the
// engine's first hook call.
func New(ctx context.Context, cfg *config.Settings, engine host.Engine, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, oops.In("gateway").Errorf("settings are required")
	}
	if engine == nil {
		return nil, oops.In("gateway").Errorf("engine is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, oops.In("gateway").Code("CONFIG_INVALID").Wrap(err)
	}
	if err := checkEngineVersion(engine.Version()); err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:      cfg,
		engine:   engine,
		httpDoer: &http.Client{Timeout: defaultSidecarTimeout},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logging.Setup("gateway", Version, cfg.LogFormat,
			logging.ParseLevel(cfg.LogLevel), nil)
	}

	// Anything that fails past this point must release the pool we opened.
	ok := false
	defer func() {
		if !ok && g.pool != nil {
			g.pool.Close()
		}
	}()

	g.sessions = session.NewRegistry()
	g.filter = admission.NewFilter(cfg.AllowIPConnections)
	g.waitlist = admission.NewWaitlist(admission.WithWaitlistLogger(g.logger))
	g.encoder = &admission.Encoder{}
	g.redirector = holding.NewRedirector(cfg.LobbyRedirectEnabled,
		holding.WithRedirectorLogger(g.logger))

	repo := g.rolesRepo
	if repo == nil {
		if cfg.DatabaseURL != "" {
			pool, err := store.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, err
			}
			g.pool = pool
			repo = roles.NewPostgresRepository(pool)
		} else {
			g.logger.Info("no database configured, role grants live in memory only")
			repo = roles.NewMemoryRepository()
		}
	}

	rolesSvc, err := roles.NewService(repo, roles.WithServiceLogger(g.logger))
	if err != nil {
		return nil, err
	}
	g.roles = rolesSvc

	g.gate, err = gate.New(g.sessions, cfg.ServerPassword, cfg.ServerPasswordHash,
		cfg.MaxLoginAttempts,
		gate.WithBans(rolesSvc),
		gate.WithLogger(g.logger))
	if err != nil {
		return nil, err
	}

	transport := retryhttp.New(g.httpDoer, retryhttp.WithLogger(g.logger))
	client, err := identity.NewClient(cfg.Identity.ServiceURL, transport,
		identity.WithClientLogger(g.logger))
	if err != nil {
		return nil, err
	}
	g.broker, err = identity.NewBroker(client,
		identity.WithLogger(g.logger),
		identity.WithPollInterval(cfg.Identity.PollInterval),
		identity.WithLoginTimeout(cfg.Identity.LoginTimeout))
	if err != nil {
		return nil, err
	}

	if cfg.MetricsAddr != "" {
		g.obs = observability.NewServer(cfg.MetricsAddr, engine.WorldReady)
		g.metrics = g.obs.Metrics()
	} else {
		g.metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	g.registry = command.NewRegistry()
	handlers.RegisterAll(g.registry)
	g.dispatcher, err = command.NewDispatcher(g.registry, rolesSvc)
	if err != nil {
		return nil, err
	}
	g.services = &command.Services{
		Gate:    g.gate,
		Roles:   rolesSvc,
		Engine:  engine,
		Filter:  g.filter,
		Metrics: g.metrics,
	}

	g.logger.Info("gateway assembled",
		"engine_version", engine.Version(),
		"gate_enabled", g.gate.Enabled(),
		"lobby_redirect", g.redirector.Enabled(),
		"allow_ip_connections", cfg.AllowIPConnections,
		"commands", len(g.registry.All()),
	)

	ok = true
	return g, nil
}

// Start launches the observability server when one is configured. Call it
// after New and before the engine accepts its first connection.
func (g *Gateway) Start() error {
	if g.obs == nil {
		return nil
	}
	errCh, err := g.obs.Start()
	if err != nil {
		return err
	}
	go func() {
		for serveErr := range errCh {
			errutil.LogError(g.logger, "observability server failed", serveErr)
		}
	}()
	g.logger.Info("observability server listening", "addr", g.obs.Addr())
	return nil
}

// MetricsAddr returns the address the observability server is bound to.
// It is empty before Start and when metrics are disabled; with a ":0"
// listen address it is the only way to learn the assigned port.
func (g *Gateway) MetricsAddr() string {
	if g.obs == nil {
		return ""
	}
	return g.obs.Addr()
}

// Stop shuts down the observability server and releases the database pool.
// The engine calls it once during shutdown; hooks must not run afterwards.
func (g *Gateway) Stop(ctx context.Context) error {
	var firstErr error
	if g.obs != nil {
		if err := g.obs.Stop(ctx); err != nil {
			firstErr = err
		}
	}
	if g.pool != nil {
		g.pool.Close()
	}
	return firstErr
}

// AcquireStartupTicket adopts the login session already held by the identity
// sidecar and fetches the app ticket the engine presents to the vendor
// network. The operator completes the login ahead of time with the CLI; the
// server only harvests the result, so an idle sidecar is an error here.
func (g *Gateway) AcquireStartupTicket(ctx context.Context) (*identity.Ticket, error) {
	if _, err := g.broker.Resume(ctx); err != nil {
		g.metrics.TicketFetches.WithLabelValues("failure").Inc()
		return nil, err
	}
	ticket, err := g.broker.AcquireTicket(ctx)
	if err != nil {
		g.metrics.TicketFetches.WithLabelValues("failure").Inc()
		return nil, err
	}

	g.metrics.TicketFetches.WithLabelValues("success").Inc()
	g.logger.InfoContext(ctx, "app ticket acquired",
		"subject", ticket.Subject,
		"expires_at", ticket.ExpiresAt,
	)
	return ticket, nil
}

// HandleConnect registers the connection and classifies its transport.
func (g *Gateway) HandleConnect(ctx context.Context, connectionID, providedIdentity string) {
	conn := g.sessions.Register(connectionID, providedIdentity)
	g.logger.InfoContext(ctx, "connection established",
		"connection_id", connectionID,
		"transport", conn.Transport.Label(),
		"identity", providedIdentity,
	)
}

// HandleDisconnect drops all gateway state for the connection, including any
// parked slot request.
func (g *Gateway) HandleDisconnect(ctx context.Context, connectionID string) {
	dropped := g.waitlist.Drop(connectionID)
	g.sessions.Remove(connectionID)
	g.logger.InfoContext(ctx, "connection removed",
		"connection_id", connectionID,
		"dropped_pending_listing", dropped,
	)
}

// HandleSlotListRequest answers a slot availability request, or parks it
// until the world is ready. Parking is not an error: the engine treats the
// request as accepted and the reply arrives through send later.
func (g *Gateway) HandleSlotListRequest(ctx context.Context, connectionID string, send host.SendFunc) error {
	if !g.engine.WorldReady() {
		if g.waitlist.Add(connectionID, func(ctx context.Context) error {
			return g.sendSlotList(ctx, connectionID, send)
		}) {
			g.metrics.SlotListings.WithLabelValues("parked").Inc()
			g.logger.InfoContext(ctx, "world not ready, parking slot request",
				"connection_id", connectionID)
		}
		return nil
	}
	return g.sendSlotList(ctx, connectionID, send)
}

// sendSlotList encodes the current availability for the connection and
// delivers it. Unauthenticated connections get every spawn pointed at the
// holding area for the duration of the encode.
func (g *Gateway) sendSlotList(ctx context.Context, connectionID string, send host.SendFunc) error {
	authenticated := g.gate.IsPlayerAuthenticated(connectionID)
	availability := admission.Availability{
		Date:  g.engine.GameDate(),
		Slots: g.filter.VisibleSlots(g.engine.Slots()),
	}

	var buf bytes.Buffer
	if err := g.encodeAvailability(&buf, availability, authenticated); err != nil {
		g.metrics.SlotListings.WithLabelValues("failed").Inc()
		return oops.In("gateway").
			With("connection_id", connectionID).
			Wrapf(err, "encoding slot availability")
	}
	if err := send(buf.Bytes()); err != nil {
		g.metrics.SlotListings.WithLabelValues("failed").Inc()
		return oops.In("gateway").
			Code("SEND_FAILED").
			With("connection_id", connectionID).
			Wrap(err)
	}

	g.metrics.SlotListings.WithLabelValues("delivered").Inc()
	g.logger.InfoContext(ctx, "slot availability delivered",
		"connection_id", connectionID,
		"slots", len(availability.Slots),
		"redirected", g.redirector.ShouldRedirect(authenticated),
	)
	return nil
}

// encodeAvailability writes one availability message. The redirected path
// encodes slot by slot so each spawn patch covers exactly one write.
func (g *Gateway) encodeAvailability(w io.Writer, a admission.Availability, authenticated bool) error {
	if !g.redirector.ShouldRedirect(authenticated) {
		return g.encoder.EncodeAvailability(w, a)
	}

	if err := g.encoder.EncodeHeader(w, a.Date, len(a.Slots)); err != nil {
		return err
	}
	for _, slot := range a.Slots {
		g.metrics.SpawnRedirects.Inc()
		err := g.redirector.Apply(slot, authenticated, func() error {
			return g.encoder.EncodeSlot(w, slot)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// HandleClaimRequest decides whether the connection may take the named slot.
// A non-nil return refuses the claim.
func (g *Gateway) HandleClaimRequest(ctx context.Context, connectionID, slotName string) error {
	slot, err := g.filter.ValidateClaim(g.engine.Slots(), slotName, g.engine.WorldReady())
	if err != nil {
		g.metrics.Claims.WithLabelValues("refused").Inc()
		g.logger.WarnContext(ctx, "claim refused",
			"connection_id", connectionID,
			"slot", slotName,
			"reason", errutil.CodeOf(err),
		)
		return err
	}

	g.metrics.Claims.WithLabelValues("admitted").Inc()
	g.logger.InfoContext(ctx, "claim admitted",
		"connection_id", connectionID,
		"slot", slot.Name,
	)
	return nil
}

// HandleWorldReady answers every parked slot request.
func (g *Gateway) HandleWorldReady(ctx context.Context) {
	g.logger.InfoContext(ctx, "world ready", "parked", g.waitlist.Len())
	g.waitlist.FireAll(ctx)
}

// HandleChatCommand dispatches a stripped command line. Dispatch failures
// are answered in chat and reported back as handled; kicking a player over
// a typo is the engine's call to make, not the hook's.
func (g *Gateway) HandleChatCommand(ctx context.Context, connectionID, line string) error {
	exec := &command.Execution{
		ConnectionID: connectionID,
		Transport:    session.Classify(connectionID),
		Services:     g.services,
	}
	if conn, found := g.sessions.Get(connectionID); found {
		exec.Transport = conn.Transport
		// Identity stays empty until the connection passes the gate, so
		// capability-gated commands cannot run on a claimed name alone.
		if g.gate.IsPlayerAuthenticated(connectionID) {
			exec.Identity = conn.ProvidedIdentity
		}
	}

	err := g.dispatcher.Dispatch(ctx, line, exec)
	g.metrics.ChatCommands.WithLabelValues(g.commandLabel(line), statusLabel(err)).Inc()
	if err == nil {
		return nil
	}

	g.logger.DebugContext(ctx, "chat command rejected",
		"connection_id", connectionID,
		"code", errutil.CodeOf(err),
	)
	g.replyChat(ctx, connectionID, command.PlayerMessage(err))
	return nil
}

// replyChat delivers a player-facing line, best effort.
func (g *Gateway) replyChat(ctx context.Context, connectionID, message string) {
	if err := g.engine.SendChat(ctx, connectionID, message); err != nil {
		g.logger.WarnContext(ctx, "failed to send chat reply",
			"connection_id", connectionID,
			"error", err,
		)
	}
}

// commandLabel keeps the command metric label on a closed set: registered
// names plus "unknown" and "none".
func (g *Gateway) commandLabel(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "none"
	}
	name := strings.ToLower(fields[0])
	if _, found := g.registry.Get(name); found {
		return name
	}
	return "unknown"
}

// statusLabel maps a dispatch outcome to its metric label.
func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errutil.HasCode(err, command.CodeUnknownCommand):
		return "unknown_command"
	case errutil.HasCode(err, command.CodePermissionDenied):
		return "permission_denied"
	case errutil.HasCode(err, command.CodeInvalidArgs):
		return "invalid_args"
	default:
		return "error"
	}
}
