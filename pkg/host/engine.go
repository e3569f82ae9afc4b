// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package host

import "context"

// Engine is the narrow API the game engine exposes to the gateway.
//
// All methods are invoked from the engine's single message-processing
// goroutine or from gateway background workers; implementations decide
// their own synchronization.
type Engine interface {
	// Version returns the engine's semantic version, checked against the
	// gateway's supported range at start-up.
	Version() string

	// WorldReady reports whether the world has finished loading and slot
	// availability may be answered.
	WorldReady() bool

	// GameDate returns the current in-game date.
	GameDate() GameDate

	// Slots returns the live slot records in their stable persisted order.
	// The gateway may transiently patch Spawn fields on the returned
	// records during redirected sends.
	Slots() []*SlotRecord

	// Kick disconnects a client. reason is shown to the user when the
	// transport supports it.
	Kick(ctx context.Context, connectionID, reason string) error

	// SendChat delivers a server message to one connection's chat.
	SendChat(ctx context.Context, connectionID, message string) error
}
