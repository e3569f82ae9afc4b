// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package host

import "context"

// SendFunc delivers one encoded outbound message to a connection.
type SendFunc func(payload []byte) error

// Hooks is the interception surface the gateway implements. The engine
// calls each hook at a fixed, documented point in its message loop instead
// of the gateway rewriting engine methods at runtime.
//
// Call discipline: HandleConnect, HandleDisconnect, HandleSlotListRequest,
// HandleWorldReady, and HandleChatCommand are all invoked from the engine's
// single message-processing goroutine.
type Hooks interface {
	// HandleConnect runs when a transport-level connection is established,
	// before any game messages are exchanged. providedIdentity is the
	// client-claimed identity and may be empty.
	HandleConnect(ctx context.Context, connectionID, providedIdentity string)

	// HandleDisconnect runs after a connection is torn down. All gateway
	// state for the connection is dropped, including parked slot requests.
	HandleDisconnect(ctx context.Context, connectionID string)

	// HandleSlotListRequest runs when a client asks which slots it may
	// claim. The gateway either calls send synchronously or parks the
	// request until the world is ready.
	HandleSlotListRequest(ctx context.Context, connectionID string, send SendFunc) error

	// HandleClaimRequest runs before the engine accepts a client's claim on
	// a named slot. A non-nil error means the claim must be refused.
	HandleClaimRequest(ctx context.Context, connectionID, slotName string) error

	// HandleWorldReady runs once the world has finished loading. Parked
	// slot requests are answered in arrival order.
	HandleWorldReady(ctx context.Context)

	// HandleChatCommand routes a chat line the engine has already
	// recognized as a server command (stripped of its leader). The engine
	// keeps ordinary chat; only command lines reach the gateway.
	HandleChatCommand(ctx context.Context, connectionID, line string) error
}
