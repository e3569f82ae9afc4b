// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/stardew-valley-dedicated-server/gateway/internal/command"
	"github.com/stardew-valley-dedicated-server/gateway/pkg/host"
)

// SlotsHandler prints the slot roster: every engine slot with its claim
// state, plus whether the admission filter would list it to a joining
// client right now.
func SlotsHandler(ctx context.Context, exec *command.Execution) error {
	engine := exec.Services.Engine
	if !engine.WorldReady() {
		reply(ctx, exec, "slots", "The world is still loading. Try again shortly.")
		return nil
	}

	slots := engine.Slots()
	listed := make(map[string]bool, len(slots))
	for _, slot := range exec.Services.Filter.VisibleSlots(slots) {
		listed[slot.Name] = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s, %d slot(s):", engine.GameDate(), len(slots))
	for _, slot := range slots {
		fmt.Fprintf(&b, "\n  %s: %s", slot.Name, describeSlot(slot, listed[slot.Name]))
	}
	reply(ctx, exec, "slots", b.String())
	return nil
}

// describeSlot renders one roster line. "listable" means the admission
// filter currently includes the slot in availability listings.
func describeSlot(slot *host.SlotRecord, listable bool) string {
	var parts []string
	switch {
	case slot.ReservedHoldingSlot:
		parts = append(parts, "holding area")
	case slot.Claimed():
		parts = append(parts, "held by "+slot.OwnerID)
	default:
		parts = append(parts, "unclaimed")
	}
	if slot.Active {
		parts = append(parts, "online")
	}
	if slot.Disconnecting {
		parts = append(parts, "disconnecting")
	}
	if !slot.ReadyForClaim {
		parts = append(parts, "cabin locked")
	}
	if listable {
		parts = append(parts, "listable")
	}
	return strings.Join(parts, ", ")
}
