// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stardew-valley-dedicated-server/gateway/internal/command"
)

// reply sends a chat line back on the caller's connection and logs any send
// failure. A lost reply never fails the command that produced it: the
// command's effect has already happened.
func reply(ctx context.Context, exec *command.Execution, cmd, msg string) {
	if err := exec.Services.Engine.SendChat(ctx, exec.ConnectionID, msg); err != nil {
		slog.WarnContext(ctx, "failed to send command reply",
			"command", cmd,
			"connection_id", exec.ConnectionID,
			"error", err,
		)
	}
}

// replyf formats a chat line and sends it via reply.
func replyf(ctx context.Context, exec *command.Execution, cmd, format string, args ...any) {
	reply(ctx, exec, cmd, fmt.Sprintf(format, args...))
}
