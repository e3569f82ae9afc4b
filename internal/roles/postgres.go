// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package roles

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// poolIface is the subset of pgxpool.Pool the repository uses. pgxmock
// satisfies it in tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool poolIface
}

// NewPostgresRepository creates a grant repository over pool.
func NewPostgresRepository(pool poolIface) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Insert stores a new grant. A unique violation on (identity, role) is
// reported as ErrDuplicateGrant.
func (r *PostgresRepository) Insert(ctx context.Context, grant *Grant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_grants (id, identity, role, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		grant.ID.String(),
		grant.Identity,
		grant.Role,
		grant.GrantedBy,
		grant.GrantedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("GRANT_DUPLICATE").
				With("identity", grant.Identity).
				With("role", grant.Role).
				Wrap(ErrDuplicateGrant)
		}
		return oops.Code("GRANT_CREATE_FAILED").
			With("operation", "insert grant").
			With("identity", grant.Identity).
			With("role", grant.Role).
			Wrap(err)
	}
	return nil
}

// Delete removes the grant of role to identity.
func (r *PostgresRepository) Delete(ctx context.Context, identity, role string) error {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM role_grants WHERE identity = $1 AND role = $2
	`, identity, role)
	if err != nil {
		return oops.Code("GRANT_DELETE_FAILED").
			With("operation", "delete grant").
			With("identity", identity).
			With("role", role).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("GRANT_NOT_FOUND").
			With("identity", identity).
			With("role", role).
			Wrap(ErrNotFound)
	}
	return nil
}

// RolesOf returns the roles granted to identity, oldest grant first.
func (r *PostgresRepository) RolesOf(ctx context.Context, identity string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT role FROM role_grants WHERE identity = $1 ORDER BY granted_at, id
	`, identity)
	if err != nil {
		return nil, oops.Code("GRANT_LOOKUP_FAILED").
			With("operation", "get roles").
			With("identity", identity).
			Wrap(err)
	}
	defer rows.Close()

	var held []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, oops.Code("GRANT_SCAN_FAILED").
				With("operation", "scan role row").
				With("identity", identity).
				Wrap(err)
		}
		held = append(held, role)
	}

	if err := rows.Err(); err != nil {
		return nil, oops.Code("GRANT_LOOKUP_FAILED").
			With("operation", "iterate roles").
			With("identity", identity).
			Wrap(err)
	}
	return held, nil
}

// List returns every grant, oldest first.
func (r *PostgresRepository) List(ctx context.Context) ([]*Grant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, identity, role, granted_by, granted_at
		FROM role_grants
		ORDER BY granted_at, id
	`)
	if err != nil {
		return nil, oops.Code("GRANT_LIST_FAILED").
			With("operation", "list grants").
			Wrap(err)
	}
	defer rows.Close()

	var grants []*Grant
	for rows.Next() {
		var (
			idStr     string
			identity  string
			role      string
			grantedBy string
			grantedAt time.Time
		)
		if err := rows.Scan(&idStr, &identity, &role, &grantedBy, &grantedAt); err != nil {
			return nil, oops.Code("GRANT_SCAN_FAILED").
				With("operation", "scan grant row").
				Wrap(err)
		}
		id, err := ulid.Parse(idStr)
		if err != nil {
			return nil, oops.Code("GRANT_INVALID_ID").
				With("operation", "parse grant id").
				With("id", idStr).
				Wrap(err)
		}
		grants = append(grants, &Grant{
			ID:        id,
			Identity:  identity,
			Role:      role,
			GrantedBy: grantedBy,
			GrantedAt: grantedAt,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, oops.Code("GRANT_LIST_FAILED").
			With("operation", "iterate grants").
			Wrap(err)
	}
	return grants, nil
}

// Compile-time interface check.
var _ Repository = (*PostgresRepository)(nil)
