// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

// Package command routes chat command lines to handlers. The engine strips
// the command leader and hands the rest of the line to the gateway, which
// dispatches it here: registry lookup, capability check against the role
// service, then the handler.
package command

import (
	"context"

	"github.com/stardew-valley-dedicated-server/gateway/internal/admission"
	"github.com/stardew-valley-dedicated-server/gateway/internal/gate"
	"github.com/stardew-valley-dedicated-server/gateway/internal/observability"
	"github.com/stardew-valley-dedicated-server/gateway/internal/roles"
	"github.com/stardew-valley-dedicated-server/gateway/internal/session"
	"github.com/stardew-valley-dedicated-server/gateway/pkg/host"
)

// Handler executes one chat command.
type Handler func(ctx context.Context, exec *Execution) error

// Entry describes a registered command.
type Entry struct {
	// Name is the first word of the command line, lowercase.
	Name    string
	Handler Handler
	// Capabilities the caller must hold, all of them, before the handler
	// runs. Empty means anyone may run the command.
	Capabilities []string
	// Help is a one-line description.
	Help string
	// Usage is the argument syntax, e.g. "role grant <identity> <role>".
	Usage string
}

// GetCapabilities returns a copy of the required capabilities.
func (e *Entry) GetCapabilities() []string {
	caps := make([]string, len(e.Capabilities))
	copy(caps, e.Capabilities)
	return caps
}

// Execution carries the per-invocation state handed to a Handler.
type Execution struct {
	ConnectionID string
	// Identity is the caller's verified identity, empty before the
	// connection has authenticated.
	Identity  string
	Transport session.Transport
	// Args is the command line split on whitespace, name excluded.
	Args     []string
	Services *Services
}

// Services aggregates the gateway components handlers may touch.
type Services struct {
	Gate    *gate.Gate
	Roles   *roles.Service
	Engine  host.Engine
	Filter  *admission.Filter
	Metrics *observability.Metrics
}
