// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

// Package handlers implements the gateway's built-in chat commands.
package handlers

import (
	"github.com/stardew-valley-dedicated-server/gateway/internal/command"
)

// RegisterAll registers all built-in command handlers with the registry.
// Panics if any registration fails (indicates a programming error).
func RegisterAll(reg *command.Registry) {
	mustRegister := func(entry command.Entry) {
		if err := reg.Register(entry); err != nil {
			panic("failed to register command " + entry.Name + ": " + err.Error())
		}
	}

	mustRegister(command.Entry{
		Name:    "password",
		Handler: PasswordHandler,
		Help:    "Submit the server password",
		Usage:   "password <secret>",
	})

	mustRegister(command.Entry{
		Name:         "role",
		Handler:      RoleHandler,
		Capabilities: []string{"admin:roles"},
		Help:         "Grant, revoke, or list role assignments",
		Usage:        "role grant|revoke <identity> <role>, or role list [identity]",
	})

	mustRegister(command.Entry{
		Name:         "slots",
		Handler:      SlotsHandler,
		Capabilities: []string{"admin:slots"},
		Help:         "Show the slot roster and claim state",
		Usage:        "slots",
	})
}
