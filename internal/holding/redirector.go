// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

// Package holding spawns unauthenticated joiners into a holding area
// instead of their real farmhouse. The redirect is transient: it patches a
// slot's spawn fields around one outbound serialization and guarantees the
// persisted values come back untouched.
package holding

import (
	"log/slog"

	"github.com/stardew-valley-dedicated-server/gateway/pkg/host"
)

// DefaultLocation is the holding-area map used when none is configured.
const DefaultLocation = "Lobby"

// DefaultEntryPoint is the spawn tile inside the holding location.
var DefaultEntryPoint = host.Point{X: 8, Y: 8}

// Redirector decides when a slot send gets the holding-area override and
// applies it.
type Redirector struct {
	enabled  bool
	location string
	entry    host.Point
	logger   *slog.Logger
}

// Option configures a Redirector.
type Option func(*Redirector)

// WithLocation overrides the holding-area location name.
func WithLocation(location string) Option {
	return func(r *Redirector) {
		if location != "" {
			r.location = location
		}
	}
}

// WithEntryPoint overrides the spawn tile inside the holding location.
func WithEntryPoint(entry host.Point) Option {
	return func(r *Redirector) {
		r.entry = entry
	}
}

// WithRedirectorLogger sets the logger.
func WithRedirectorLogger(logger *slog.Logger) Option {
	return func(r *Redirector) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRedirector creates a Redirector. enabled mirrors the lobby-redirect
// configuration flag; a disabled redirector passes every send through
// untouched.
func NewRedirector(enabled bool, opts ...Option) *Redirector {
	r := &Redirector{
		enabled:  enabled,
		location: DefaultLocation,
		entry:    DefaultEntryPoint,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enabled reports whether holding-area redirection is on at all.
func (r *Redirector) Enabled() bool {
	return r.enabled
}

// ShouldRedirect reports whether a send on behalf of a connection with the
// given authentication state gets the holding-area override.
func (r *Redirector) ShouldRedirect(authenticated bool) bool {
	return r.enabled && !authenticated
}

// Apply runs fn under the holding-area override when the connection needs
// one, and plainly otherwise.
func (r *Redirector) Apply(slot *host.SlotRecord, authenticated bool, fn func() error) error {
	if !r.ShouldRedirect(authenticated) {
		return fn()
	}
	r.logger.Debug("redirecting slot spawn to holding area",
		"slot", slot.Name,
		"location", r.location,
	)
	return WithRedirect(slot, r.location, r.entry, fn)
}

// WithRedirect captures the slot's spawn fields, points them at the holding
// location with the synthetic slept-in-temporary-bed flag set, runs fn, and
// restores the captured values on every exit path. A panicking fn still
// gets the restore before the panic continues up.
//
// This is the only place in the gateway that writes a slot's spawn fields.
// It is not re-entrant for the same slot; calls arrive on the engine's
// message loop, one at a time.
func WithRedirect(slot *host.SlotRecord, location string, entry host.Point, fn func() error) error {
	captured := slot.Spawn
	slot.Spawn = host.SpawnState{
		Position:            entry,
		Location:            location,
		DisconnectLocation:  location,
		DisconnectPosition:  entry,
		LastSleepLocation:   location,
		LastSleepPoint:      entry,
		SleptInTemporaryBed: true,
	}
	defer func() { slot.Spawn = captured }()
	return fn()
}
