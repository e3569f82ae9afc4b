// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

// Package host defines the contract between the admission gateway and the
// game engine embedding it.
//
// The engine exposes a narrow, intentional API (Engine) and calls the
// gateway at fixed points in its message loop (Hooks). The gateway never
// reaches into engine internals; everything it reads or patches travels
// through the types in this package.
package host

import "fmt"

// Point is a tile coordinate inside a game location.
type Point struct {
	X int
	Y int
}

// GameDate is the in-game calendar date stamped onto slot availability
// messages.
type GameDate struct {
	// Year starts at 1.
	Year uint16
	// SeasonIndex is 0 for spring through 3 for winter.
	SeasonIndex uint8
	// DayOfMonth runs 1 through 28.
	DayOfMonth uint8
}

var seasonNames = [4]string{"spring", "summer", "fall", "winter"}

// Season returns the season name for the date.
func (d GameDate) Season() string {
	return seasonNames[d.SeasonIndex%4]
}

// String renders the date the way the game shows it, e.g. "spring 14, year 2".
func (d GameDate) String() string {
	return fmt.Sprintf("%s %d, year %d", d.Season(), d.DayOfMonth, d.Year)
}

// SpawnState is the persisted spawn sub-record of a slot. The holding-area
// redirector patches these fields for the duration of one outbound message
// and restores them afterwards; nothing else in the gateway writes them.
type SpawnState struct {
	Position           Point
	Location           string
	DisconnectDay      int
	DisconnectLocation string
	DisconnectPosition Point
	LastSleepLocation  string
	LastSleepPoint     Point
	// SleptInTemporaryBed tells downstream spawn logic to accept a spawn
	// point that does not match the slot's bed.
	SleptInTemporaryBed bool
}

// SlotRecord is one claimable character slot as the engine sees it. The
// engine hands the gateway live records; the gateway reads them, transiently
// patches Spawn during redirected sends, and never deletes them.
type SlotRecord struct {
	// OwnerID is empty while the slot is unclaimed.
	OwnerID string
	Name    string
	// Active is true while the owner is connected and in the world.
	Active bool
	// Disconnecting is true while the owner's connection is being torn
	// down; the slot already counts as free for admission purposes.
	Disconnecting bool
	// ReadyForClaim is true once the slot's cabin is built and unlocked.
	ReadyForClaim bool
	// ReservedHoldingSlot marks the internal lobby slot. It is never
	// surfaced in availability listings.
	ReservedHoldingSlot bool

	Spawn SpawnState
}

// Claimed reports whether the slot belongs to somebody.
func (s *SlotRecord) Claimed() bool {
	return s.OwnerID != ""
}
