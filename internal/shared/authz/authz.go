// Package authz is the single capability check every domain operation calls
// before touching state.
package authz

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleStaff      Role = "staff"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"

	// RoleSystem marks changes made by the service itself, such as webhook
	// reconciliation. It is never accepted from a token.
	RoleSystem Role = "system"
)

var (
	ErrUnauthenticated = errors.New("authz: no actor")
	ErrForbidden       = errors.New("authz: forbidden")
)

// Role sets used across services.
var (
	Staff    = []Role{RoleStaff, RoleAdmin, RoleSupervisor}
	Admins   = []Role{RoleAdmin}
	Shipping = []Role{RoleStaff, RoleAdmin}
	Refunds  = []Role{RoleAdmin, RoleSupervisor}
	Anyone   = []Role{RoleCustomer, RoleStaff, RoleSupervisor, RoleAdmin}
)

// System is the actor recorded for unattended changes.
var System = Actor{Role: RoleSystem}

// Actor is the identity supplied by the session collaborator. It is trusted
// as given.
type Actor struct {
	ID   uint64
	Role Role
}

func (a Actor) IsZero() bool { return a.ID == 0 && a.Role == "" }

func (a Actor) Is(roles ...Role) bool {
	return slices.Contains(roles, a.Role)
}

func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, slices.Contains(Anyone, r)
}

// Require fails unless the actor holds one of roles.
func Require(actor Actor, roles ...Role) error {
	if actor.IsZero() {
		return ErrUnauthenticated
	}
	if !actor.Is(roles...) {
		return fmt.Errorf("%w: role %q not in %v", ErrForbidden, actor.Role, roles)
	}
	return nil
}

// RequireOwner fails unless the actor is the owning customer.
func RequireOwner(actor Actor, ownerID uint64) error {
	if actor.IsZero() {
		return ErrUnauthenticated
	}
	if actor.ID != ownerID {
		return fmt.Errorf("%w: actor %d does not own resource", ErrForbidden, actor.ID)
	}
	return nil
}

// RequireOwnerOr lets the owner through, or anyone holding one of roles.
func RequireOwnerOr(actor Actor, ownerID uint64, roles ...Role) error {
	if actor.IsZero() {
		return ErrUnauthenticated
	}
	if actor.ID == ownerID || actor.Is(roles...) {
		return nil
	}
	return fmt.Errorf("%w: actor %d", ErrForbidden, actor.ID)
}

type ctxKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}
