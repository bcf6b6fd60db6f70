// Package auth carries the caller's verified identity through a context.
// Verification itself happens in the host; this package only transports
// the result.
package auth

import (
	"context"
	"errors"
	"slices"
)

// RoleOperator may administer any organization without being a member.
const RoleOperator = "operator"

// ErrNoPrincipal is returned when the context carries no verified caller.
var ErrNoPrincipal = errors.New("no principal in context")

// Principal is a verified caller.
type Principal interface {
	GetID() string
	GetRoles() []string
	HasRole(role string) bool
}

// BasePrincipal is a simple implementation of Principal.
type BasePrincipal struct {
	ID    string
	Roles []string
}

func (b *BasePrincipal) GetID() string {
	return b.ID
}

func (b *BasePrincipal) GetRoles() []string {
	return b.Roles
}

func (b *BasePrincipal) HasRole(role string) bool {
	return slices.Contains(b.Roles, role)
}

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from the context. A principal with
// an empty id counts as absent.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || p == nil || p.GetID() == "" {
		return nil, ErrNoPrincipal
	}
	return p, nil
}
