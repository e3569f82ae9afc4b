// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package command

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("gateway/command")

// Capabilities answers whether an identity holds a capability. The role
// service satisfies it.
type Capabilities interface {
	Allows(ctx context.Context, identity, capability string) bool
}

// Dispatcher splits command lines, checks capabilities, and runs handlers.
type Dispatcher struct {
	registry *Registry
	caps     Capabilities
}

// NewDispatcher creates a command dispatcher. Returns an error if registry
// or caps is nil.
func NewDispatcher(registry *Registry, caps Capabilities) (*Dispatcher, error) {
	if registry == nil {
		return nil, oops.Errorf("command registry is required")
	}
	if caps == nil {
		return nil, oops.Errorf("capability checker is required")
	}
	return &Dispatcher{registry: registry, caps: caps}, nil
}

// Dispatch executes the command on a line the engine has already stripped
// of its leader. The line is split on whitespace; the first word names the
// command, case-insensitively. A missing or unknown command is an
// UNKNOWN_COMMAND error, never a panic.
func (d *Dispatcher) Dispatch(ctx context.Context, line string, exec *Execution) (err error) {
	// Handlers assume Services is populated.
	if exec == nil || exec.Services == nil {
		return oops.Errorf("execution services are required")
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ErrUnknownCommand("")
	}
	name := strings.ToLower(fields[0])

	ctx, span := tracer.Start(ctx, "command.execute",
		trace.WithAttributes(
			attribute.String("command.name", name),
			attribute.String("connection.id", exec.ConnectionID),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	entry, ok := d.registry.Get(name)
	if !ok {
		err = ErrUnknownCommand(name)
		return err
	}

	for _, capability := range entry.GetCapabilities() {
		if !d.caps.Allows(ctx, exec.Identity, capability) {
			err = ErrPermissionDenied(name, capability)
			return err
		}
	}

	exec.Args = fields[1:]
	err = entry.Handler(ctx, exec)
	if err != nil {
		slog.WarnContext(ctx, "command execution failed",
			"command", name,
			"connection_id", exec.ConnectionID,
			"error", err,
		)
	}
	return err
}
