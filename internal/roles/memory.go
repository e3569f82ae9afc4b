// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package roles

import (
	"context"
	"slices"
	"sync"

	"github.com/samber/oops"
)

// MemoryRepository keeps grants in memory, insertion-ordered. It backs the
// gateway when no database is configured; grants then last until restart.
type MemoryRepository struct {
	mu     sync.RWMutex
	grants []*Grant
}

// NewMemoryRepository creates an empty in-memory grant store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Insert stores a new grant.
func (r *MemoryRepository) Insert(_ context.Context, grant *Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.grants {
		if g.Identity == grant.Identity && g.Role == grant.Role {
			return oops.Code("GRANT_DUPLICATE").
				With("identity", grant.Identity).
				With("role", grant.Role).
				Wrap(ErrDuplicateGrant)
		}
	}

	dup := *grant
	r.grants = append(r.grants, &dup)
	return nil
}

// Delete removes the grant of role to identity.
func (r *MemoryRepository) Delete(_ context.Context, identity, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, g := range r.grants {
		if g.Identity == identity && g.Role == role {
			r.grants = slices.Delete(r.grants, i, i+1)
			return nil
		}
	}
	return oops.Code("GRANT_NOT_FOUND").
		With("identity", identity).
		With("role", role).
		Wrap(ErrNotFound)
}

// RolesOf returns the roles granted to identity, oldest grant first.
func (r *MemoryRepository) RolesOf(_ context.Context, identity string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var held []string
	for _, g := range r.grants {
		if g.Identity == identity {
			held = append(held, g.Role)
		}
	}
	return held, nil
}

// List returns copies of every grant, oldest first.
func (r *MemoryRepository) List(_ context.Context) ([]*Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Grant, 0, len(r.grants))
	for _, g := range r.grants {
		dup := *g
		out = append(out, &dup)
	}
	return out, nil
}

// Compile-time interface check.
var _ Repository = (*MemoryRepository)(nil)
