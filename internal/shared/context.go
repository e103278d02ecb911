package shared

import "context"

// Role enumerates the actor roles the core distinguishes.
type Role string

const (
	// RoleStaff is EVM staff; may approve dealer orders and manage stock.
	RoleStaff Role = "STAFF"
	// RoleSalesAgent issues quotations and retail orders.
	RoleSalesAgent Role = "SALES_AGENT"
	// RoleDealer acts on behalf of a dealer account.
	RoleDealer Role = "DEALER"
)

// Actor is the verified identity supplied by the authentication layer.
// The core trusts this input; it only applies role preconditions.
type Actor struct {
	UserID   int64
	Role     Role
	DealerID *int64
}

// IsStaff reports whether the actor holds the staff role.
func (a Actor) IsStaff() bool { return a.Role == RoleStaff }

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
