// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package roles

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/stardew-valley-dedicated-server/gateway/pkg/errutil"
)

// compiledPermission holds a capability pattern and its compiled glob.
type compiledPermission struct {
	pattern string
	glob    glob.Glob
}

// Service answers capability checks against persisted grants.
//
// Thread-safety: roles is immutable after construction and requires no
// synchronization; all mutable state lives in the repository.
type Service struct {
	repo   Repository
	roles  map[string][]compiledPermission
	logger *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the service's logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a role service over repo with the built-in roles
// compiled. Returns an error if a permission pattern fails to compile.
func NewService(repo Repository, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, oops.In("roles").Errorf("repository is required")
	}

	definitions := BuiltinRoles()
	compiled := make(map[string][]compiledPermission, len(definitions))
	for role, patterns := range definitions {
		perms := make([]compiledPermission, 0, len(patterns))
		for _, p := range patterns {
			// ':' separates capability segments, so '*' stays within one.
			g, err := glob.Compile(p, ':')
			if err != nil {
				return nil, oops.In("roles").
					Code("INVALID_PERMISSION_PATTERN").
					With("role", role).
					With("pattern", p).
					Wrap(err)
			}
			perms = append(perms, compiledPermission{pattern: p, glob: g})
		}
		compiled[role] = perms
	}

	s := &Service{
		repo:   repo,
		roles:  compiled,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Allows reports whether identity may exercise capability. Identities without
// grants are denied, as is anything a lookup failure touches; a banned grant
// voids every other role the identity holds.
func (s *Service) Allows(ctx context.Context, identity, capability string) bool {
	if identity == "" {
		return false
	}

	held, err := s.repo.RolesOf(ctx, identity)
	if err != nil {
		errutil.LogError(s.logger, "role lookup failed, denying capability", err)
		return false
	}
	if slices.Contains(held, RoleBanned) {
		return false
	}

	for _, role := range held {
		for _, perm := range s.roles[role] {
			if perm.glob.Match(capability) {
				return true
			}
		}
	}
	return false
}

// Banned reports whether identity holds the banned role. The gate consults
// this before any password check.
func (s *Service) Banned(ctx context.Context, identity string) (bool, error) {
	if identity == "" {
		return false, nil
	}
	held, err := s.repo.RolesOf(ctx, identity)
	if err != nil {
		return false, err
	}
	return slices.Contains(held, RoleBanned), nil
}

// Grant assigns role to identity and persists the grant. Returns an error if
// identity is empty, the role is unknown, or the identity already holds it.
func (s *Service) Grant(ctx context.Context, identity, role, grantedBy string) (*Grant, error) {
	if identity == "" {
		return nil, oops.In("roles").Code("INVALID_IDENTITY").New("identity cannot be empty")
	}
	if _, ok := s.roles[role]; !ok {
		return nil, oops.In("roles").Code("UNKNOWN_ROLE").With("role", role).New("unknown role")
	}

	grant := &Grant{
		ID:        ulid.Make(),
		Identity:  identity,
		Role:      role,
		GrantedBy: grantedBy,
		GrantedAt: time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, grant); err != nil {
		return nil, err
	}

	s.logger.Info("role granted",
		"identity", identity,
		"role", role,
		"granted_by", grantedBy,
	)
	return grant, nil
}

// Revoke removes the grant of role to identity.
func (s *Service) Revoke(ctx context.Context, identity, role string) error {
	if identity == "" {
		return oops.In("roles").Code("INVALID_IDENTITY").New("identity cannot be empty")
	}
	if err := s.repo.Delete(ctx, identity, role); err != nil {
		return err
	}

	s.logger.Info("role revoked",
		"identity", identity,
		"role", role,
	)
	return nil
}

// RolesOf returns the roles granted to identity, oldest first.
func (s *Service) RolesOf(ctx context.Context, identity string) ([]string, error) {
	if identity == "" {
		return nil, oops.In("roles").Code("INVALID_IDENTITY").New("identity cannot be empty")
	}
	return s.repo.RolesOf(ctx, identity)
}

// List returns every grant, oldest first.
func (s *Service) List(ctx context.Context) ([]*Grant, error) {
	return s.repo.List(ctx)
}
