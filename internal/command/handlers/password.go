// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package handlers

import (
	"context"
	"strings"

	"github.com/samber/oops"

	"github.com/stardew-valley-dedicated-server/gateway/internal/command"
)

// PasswordHandler checks a password submission against the shared-secret
// gate. Every outcome is answered in chat; crossing the attempt limit also
// kicks the connection.
func PasswordHandler(ctx context.Context, exec *command.Execution) error {
	if len(exec.Args) == 0 {
		// Not counted as an attempt: nothing was submitted.
		return command.ErrInvalidArgs("password", "password <secret>")
	}
	// The command line was split on whitespace, so a secret containing
	// spaces arrives as several args. Rejoining with single spaces restores
	// it; secrets with runs of whitespace cannot survive the chat layer.
	secret := strings.Join(exec.Args, " ")

	result := exec.Services.Gate.TryAuthenticate(ctx, exec.ConnectionID, secret)

	outcome := "failure"
	if result.Success {
		outcome = "success"
	}
	exec.Services.Metrics.PasswordAttempts.WithLabelValues(outcome, exec.Transport.Label()).Inc()

	if result.Message != "" {
		reply(ctx, exec, "password", result.Message)
	}

	if result.ShouldKick {
		exec.Services.Metrics.Kicks.Inc()
		if err := exec.Services.Engine.Kick(ctx, exec.ConnectionID, "too many failed login attempts"); err != nil {
			return oops.
				Code("KICK_FAILED").
				With("connection_id", exec.ConnectionID).
				Wrap(err)
		}
	}
	return nil
}
