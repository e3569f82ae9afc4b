// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

// Package admission decides which character slots a connecting client may
// see and claim. It computes filtered slot listings, parks listing requests
// that arrive before the world has loaded, and encodes the availability
// wire message the game client consumes.
package admission

import (
	"github.com/samber/oops"

	"github.com/stardew-valley-dedicated-server/gateway/pkg/host"
)

// Error codes attached to admission failures.
const (
	// CodeWorldNotReady marks a claim attempted before the world loaded.
	CodeWorldNotReady = "SESSION_WORLD_NOT_READY"
	// CodeSlotUnavailable marks a claim on a slot that is missing, taken,
	// locked, or otherwise not claimable by this connection.
	CodeSlotUnavailable = "SESSION_SLOT_UNAVAILABLE"
)

// Filter computes the slot listing a connection is allowed to see.
type Filter struct {
	allowCreation bool
}

// NewFilter creates a Filter. allowCreation controls whether unclaimed
// slots are listed at all; owned slots are always listed, with ownership
// proven later during authentication.
func NewFilter(allowCreation bool) *Filter {
	return &Filter{allowCreation: allowCreation}
}

// VisibleSlots returns the slots the connection may see, in the order the
// engine handed them over. A slot is visible when its owner is not
// currently in the world, its cabin is unlocked for claiming, the
// connection is allowed to see it, and it is not the reserved holding slot.
func (f *Filter) VisibleSlots(slots []*host.SlotRecord) []*host.SlotRecord {
	visible := make([]*host.SlotRecord, 0, len(slots))
	for _, slot := range slots {
		if !f.admissible(slot) {
			continue
		}
		visible = append(visible, slot)
	}
	return visible
}

func (f *Filter) admissible(slot *host.SlotRecord) bool {
	if slot.Active && !slot.Disconnecting {
		return false
	}
	if !slot.ReadyForClaim {
		return false
	}
	if !slot.Claimed() && !f.allowCreation {
		return false
	}
	return !slot.ReservedHoldingSlot
}

// ValidateClaim checks that the named slot can be claimed right now and
// returns the live record. worldReady is the engine's world state at the
// time of the claim.
func (f *Filter) ValidateClaim(slots []*host.SlotRecord, name string, worldReady bool) (*host.SlotRecord, error) {
	if !worldReady {
		return nil, oops.
			Code(CodeWorldNotReady).
			With("slot", name).
			Errorf("the world is still loading")
	}

	for _, slot := range slots {
		if slot.Name != name {
			continue
		}
		if !f.admissible(slot) {
			return nil, oops.
				Code(CodeSlotUnavailable).
				With("slot", name).
				With("active", slot.Active).
				With("ready_for_claim", slot.ReadyForClaim).
				Errorf("slot %q is not claimable", name)
		}
		return slot, nil
	}

	return nil, oops.
		Code(CodeSlotUnavailable).
		With("slot", name).
		Errorf("no slot named %q", name)
}
