package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/migadu/soradb/consts"
)

// Role selects which database a unit of work runs against. The zero value
// means no role was requested.
type Role int

const (
	RolePrimary Role = iota + 1
	RoleReplica
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleReplica:
		return "replica"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole parses "primary" or "replica" (case-insensitive). "master",
// "write", "read" and "slave" are accepted as aliases.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "master", "write":
		return RolePrimary, nil
	case "replica", "slave", "read":
		return RoleReplica, nil
	default:
		return RolePrimary, fmt.Errorf("unknown database role %q", s)
	}
}

// SetRole returns a child of ctx that requests role.
func SetRole(ctx context.Context, role Role) context.Context {
	return context.WithValue(ctx, consts.DBRoleKey, role)
}

// RoleFromContext returns the role requested on ctx, if any.
func RoleFromContext(ctx context.Context) (Role, bool) {
	role, ok := ctx.Value(consts.DBRoleKey).(Role)
	return role, ok
}

// GetRole returns the role requested on ctx, defaulting to RolePrimary.
func GetRole(ctx context.Context) Role {
	if role, ok := RoleFromContext(ctx); ok {
		return role
	}
	return RolePrimary
}

func withRole(role Role, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return fn(SetRole(ctx, role))
	}
}

func withRoleAsync(role Role, fn func(context.Context) error) func(context.Context) <-chan error {
	return func(ctx context.Context) <-chan error {
		done := make(chan error, 1)
		roleCtx := SetRole(ctx, role)
		go func() {
			done <- fn(roleCtx)
		}()
		return done
	}
}

// UsePrimary returns fn bound to the primary for the duration of each call.
// The caller's context is never modified.
func UsePrimary(fn func(context.Context) error) func(context.Context) error {
	return withRole(RolePrimary, fn)
}

// UseReplica returns fn bound to a replica for the duration of each call.
func UseReplica(fn func(context.Context) error) func(context.Context) error {
	return withRole(RoleReplica, fn)
}

// UsePrimaryAsync is UsePrimary for work started on its own goroutine. The
// result channel is buffered and receives exactly one value.
func UsePrimaryAsync(fn func(context.Context) error) func(context.Context) <-chan error {
	return withRoleAsync(RolePrimary, fn)
}

// UseReplicaAsync is UseReplica for work started on its own goroutine.
func UseReplicaAsync(fn func(context.Context) error) func(context.Context) <-chan error {
	return withRoleAsync(RoleReplica, fn)
}
