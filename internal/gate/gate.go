// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

// Package gate implements the shared-secret chat gate. Connections prove
// knowledge of the server password before they count as authenticated;
// exceeding the failed-attempt limit tells the caller to kick them.
package gate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"

	"github.com/stardew-valley-dedicated-server/gateway/internal/session"
	"github.com/stardew-valley-dedicated-server/gateway/pkg/errutil"
)

// Result is the outcome of one authentication attempt. Message is always a
// player-facing chat line; the gate itself never disconnects anyone, it only
// asks via ShouldKick.
type Result struct {
	Success    bool
	Message    string
	ShouldKick bool
}

// Bans answers whether an identity is banned. The role service satisfies it.
type Bans interface {
	Banned(ctx context.Context, identity string) (bool, error)
}

// Gate validates password submissions against the configured secret.
type Gate struct {
	sessions    *session.Registry
	verifier    secretVerifier
	maxAttempts int
	bans        Bans
	logger      *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithBans lets the gate refuse banned identities before any password check.
func WithBans(bans Bans) Option {
	return func(g *Gate) {
		g.bans = bans
	}
}

// WithLogger sets the gate's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a Gate. Exactly one of password and passwordHash may be set;
// leaving both empty disables the gate, in which case every connection
// counts as authenticated.
func New(sessions *session.Registry, password, passwordHash string, maxAttempts int, opts ...Option) (*Gate, error) {
	if sessions == nil {
		return nil, oops.Errorf("gate: session registry is required")
	}
	if maxAttempts < 1 {
		return nil, oops.With("max_attempts", maxAttempts).Errorf("gate: max attempts must be at least 1")
	}
	if password != "" && passwordHash != "" {
		return nil, oops.Errorf("gate: configure either the password or its hash, not both")
	}

	g := &Gate{
		sessions:    sessions,
		maxAttempts: maxAttempts,
		logger:      slog.New(slog.DiscardHandler),
	}
	switch {
	case passwordHash != "":
		verifier, err := newHashedSecret(passwordHash)
		if err != nil {
			return nil, err
		}
		g.verifier = verifier
	case password != "":
		g.verifier = plainSecret{value: password}
	}

	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Enabled reports whether a secret is configured at all.
func (g *Gate) Enabled() bool {
	return g.verifier != nil
}

// IsPlayerAuthenticated reports whether the connection has passed the gate.
// With the gate disabled, every connection counts as authenticated.
func (g *Gate) IsPlayerAuthenticated(connectionID string) bool {
	if !g.Enabled() {
		return true
	}
	return g.sessions.IsAuthenticated(connectionID)
}

// TryAuthenticate checks a password submission for the connection. Repeat
// submissions after success are harmless; failures count toward the kick
// limit, and the attempt that pushes past it sets ShouldKick.
func (g *Gate) TryAuthenticate(ctx context.Context, connectionID, secret string) Result {
	if !g.Enabled() {
		return Result{Success: true, Message: "password not required on this server"}
	}

	conn, ok := g.sessions.Get(connectionID)
	if !ok {
		g.logger.Warn("password submitted by unknown connection", "connection_id", connectionID)
		return Result{Message: "connection not recognized, rejoin and try again"}
	}
	if conn.Authenticated {
		return Result{Success: true, Message: "already authenticated"}
	}

	if g.bans != nil && conn.ProvidedIdentity != "" {
		banned, err := g.bans.Banned(ctx, conn.ProvidedIdentity)
		switch {
		case err != nil:
			// A broken role store must not lock every player out.
			errutil.LogError(g.logger, "ban check failed, allowing password attempt", err)
		case banned:
			g.logger.Warn("banned identity attempted to authenticate",
				"connection_id", connectionID,
				"identity", conn.ProvidedIdentity,
			)
			return g.fail(conn, "you are banned from this server")
		}
	}

	if !g.verifier.verify(secret) {
		return g.fail(conn, "incorrect password")
	}

	g.sessions.MarkAuthenticated(connectionID)
	g.logger.Info("connection authenticated",
		"connection_id", connectionID,
		"transport", conn.Transport.String(),
	)
	return Result{Success: true, Message: "access granted, happy farming"}
}

// fail records the failed attempt and decides whether it crossed the kick
// limit. The limit is exceeded strictly: with maxAttempts 3, the fourth
// failure kicks.
func (g *Gate) fail(conn *session.Connection, reason string) Result {
	attempts, _ := g.sessions.IncrementLoginAttempts(conn.ID)
	if attempts > g.maxAttempts {
		g.logger.Warn("kicking connection after repeated failures",
			"connection_id", conn.ID,
			"attempts", attempts,
		)
		return Result{Message: "too many failed attempts", ShouldKick: true}
	}
	return Result{Message: fmt.Sprintf("%s, attempt %d of %d", reason, attempts, g.maxAttempts)}
}
