package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipalContext(t *testing.T) {
	_, err := GetPrincipal(context.Background())
	assert.ErrorIs(t, err, ErrNoPrincipal)

	ctx := WithPrincipal(context.Background(), &BasePrincipal{ID: "alice", Roles: []string{RoleOperator}})
	p, err := GetPrincipal(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.GetID())
	assert.True(t, p.HasRole(RoleOperator))
	assert.False(t, p.HasRole("admin"))
}

func TestPrincipalContext_EmptyID(t *testing.T) {
	ctx := WithPrincipal(context.Background(), &BasePrincipal{})
	_, err := GetPrincipal(ctx)
	assert.ErrorIs(t, err, ErrNoPrincipal)
}
