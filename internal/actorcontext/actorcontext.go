// Package actorcontext carries the authenticated actor identity attached
// to every mutating call. Identity is issued by the auth gateway upstream
// and trusted here.
package actorcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleAdmin    = "admin"
	RoleCashier  = "cashier"
	RoleDesigner = "designer"
	RoleOperator = "operator"
)

// Actor identifies the employee performing a request.
type Actor struct {
	EmployeeID snowflake.ID
	Role       string
	TenantID   snowflake.ID
}

func (a Actor) IsAdmin() bool {
	return strings.EqualFold(strings.TrimSpace(a.Role), RoleAdmin)
}

type actorKey struct{}

// WithActor stores the actor identity in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor identity, if set.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || actor.EmployeeID == 0 {
		return Actor{}, false
	}
	return actor, true
}

// TenantFromContext returns the tenant the actor belongs to, if set.
func TenantFromContext(ctx context.Context) (snowflake.ID, bool) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.TenantID == 0 {
		return 0, false
	}
	return actor.TenantID, true
}
