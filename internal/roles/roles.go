// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

// Package roles persists role grants and answers capability checks for chat
// commands. Grants map a player identity to a built-in role; the role list is
// the gateway's only persisted state.
package roles

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Built-in role names. Custom roles are not supported; every grant refers to
// one of these.
const (
	RoleOperator = "operator"
	RolePlayer   = "player"
	RoleBanned   = "banned"
)

// Permission groups define reusable sets of capability patterns. Patterns use
// ':' as the segment separator, so "admin:*" covers "admin:roles" but not a
// deeper path.

var playerPowers = []string{
	"play:*",
}

var operatorPowers = []string{
	"admin:*",
}

// BuiltinRoles returns the role definitions. Roles compose permission groups
// explicitly; banned grants nothing and voids every other role.
func BuiltinRoles() map[string][]string {
	return map[string][]string{
		RolePlayer:   playerPowers,
		RoleOperator: compose(playerPowers, operatorPowers),
		RoleBanned:   nil,
	}
}

// compose merges multiple permission slices into one.
func compose(groups ...[]string) []string {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	result := make([]string, 0, total)
	for _, g := range groups {
		result = append(result, g...)
	}
	return result
}

// Grant is one persisted role assignment.
type Grant struct {
	ID        ulid.ULID
	Identity  string
	Role      string
	GrantedBy string // identity of the granting operator, empty for seeds
	GrantedAt time.Time
}

// Repository stores role grants.
type Repository interface {
	// Insert stores a new grant. Granting a role the identity already holds
	// returns ErrDuplicateGrant.
	Insert(ctx context.Context, grant *Grant) error

	// Delete removes the grant of role to identity.
	// Returns ErrNotFound when no such grant exists.
	Delete(ctx context.Context, identity, role string) error

	// RolesOf returns the roles granted to identity, oldest grant first.
	RolesOf(ctx context.Context, identity string) ([]string, error)

	// List returns every grant, oldest first.
	List(ctx context.Context) ([]*Grant, error)
}
