// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package handlers

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/stardew-valley-dedicated-server/gateway/internal/command"
	"github.com/stardew-valley-dedicated-server/gateway/internal/roles"
	"github.com/stardew-valley-dedicated-server/gateway/pkg/errutil"
)

const roleUsage = "role grant|revoke <identity> <role>, or role list [identity]"

// RoleHandler administers role grants. Expected outcomes (duplicate grant,
// unknown role, missing grant) are answered in chat and are not command
// failures; only store errors propagate.
func RoleHandler(ctx context.Context, exec *command.Execution) error {
	if len(exec.Args) == 0 {
		return command.ErrInvalidArgs("role", roleUsage)
	}

	svc := exec.Services.Roles
	switch exec.Args[0] {
	case "grant":
		if len(exec.Args) != 3 {
			return command.ErrInvalidArgs("role", "role grant <identity> <role>")
		}
		identity, role := exec.Args[1], exec.Args[2]
		_, err := svc.Grant(ctx, identity, role, exec.Identity)
		switch {
		case err == nil:
			replyf(ctx, exec, "role", "Granted %s to %s.", role, identity)
		case errors.Is(err, roles.ErrDuplicateGrant):
			replyf(ctx, exec, "role", "%s already holds %s.", identity, role)
		case errutil.HasCode(err, "UNKNOWN_ROLE"):
			replyf(ctx, exec, "role", "Unknown role %q. Valid roles: %s.", role, strings.Join(roleNames(), ", "))
		default:
			return err
		}
		return nil

	case "revoke":
		if len(exec.Args) != 3 {
			return command.ErrInvalidArgs("role", "role revoke <identity> <role>")
		}
		identity, role := exec.Args[1], exec.Args[2]
		err := svc.Revoke(ctx, identity, role)
		switch {
		case err == nil:
			replyf(ctx, exec, "role", "Revoked %s from %s.", role, identity)
		case errors.Is(err, roles.ErrNotFound):
			replyf(ctx, exec, "role", "%s does not hold %s.", identity, role)
		default:
			return err
		}
		return nil

	case "list":
		if len(exec.Args) > 2 {
			return command.ErrInvalidArgs("role", "role list [identity]")
		}
		if len(exec.Args) == 2 {
			return listRolesOf(ctx, exec, svc, exec.Args[1])
		}
		return listGrants(ctx, exec, svc)

	default:
		return command.ErrInvalidArgs("role", roleUsage)
	}
}

func listRolesOf(ctx context.Context, exec *command.Execution, svc *roles.Service, identity string) error {
	held, err := svc.RolesOf(ctx, identity)
	if err != nil {
		return err
	}
	if len(held) == 0 {
		replyf(ctx, exec, "role", "%s holds no roles.", identity)
		return nil
	}
	replyf(ctx, exec, "role", "%s holds: %s.", identity, strings.Join(held, ", "))
	return nil
}

func listGrants(ctx context.Context, exec *command.Execution, svc *roles.Service) error {
	grants, err := svc.List(ctx)
	if err != nil {
		return err
	}
	if len(grants) == 0 {
		reply(ctx, exec, "role", "No role grants.")
		return nil
	}
	var b strings.Builder
	b.WriteString("Role grants:")
	for _, g := range grants {
		b.WriteString("\n  ")
		b.WriteString(g.Identity)
		b.WriteString(": ")
		b.WriteString(g.Role)
		if g.GrantedBy != "" {
			b.WriteString(" (granted by ")
			b.WriteString(g.GrantedBy)
			b.WriteString(")")
		}
	}
	reply(ctx, exec, "role", b.String())
	return nil
}

func roleNames() []string {
	return slices.Sorted(maps.Keys(roles.BuiltinRoles()))
}
