package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequire(t *testing.T) {
	cases := []struct {
		name  string
		actor Actor
		roles []Role
		want  error
	}{
		{"staff may review", Actor{ID: 1, Role: RoleStaff}, Staff, nil},
		{"supervisor may review", Actor{ID: 2, Role: RoleSupervisor}, Staff, nil},
		{"customer may not review", Actor{ID: 3, Role: RoleCustomer}, Staff, ErrForbidden},
		{"staff may not assign", Actor{ID: 1, Role: RoleStaff}, Admins, ErrForbidden},
		{"supervisor may not ship", Actor{ID: 2, Role: RoleSupervisor}, Shipping, ErrForbidden},
		{"admin may refund", Actor{ID: 4, Role: RoleAdmin}, Refunds, nil},
		{"anonymous", Actor{}, Anyone, ErrUnauthenticated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Require(tc.actor, tc.roles...)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestOwnership(t *testing.T) {
	owner := Actor{ID: 10, Role: RoleCustomer}
	other := Actor{ID: 11, Role: RoleCustomer}
	staff := Actor{ID: 12, Role: RoleStaff}

	assert.NoError(t, RequireOwner(owner, 10))
	assert.ErrorIs(t, RequireOwner(other, 10), ErrForbidden)
	// staff are not owners
	assert.ErrorIs(t, RequireOwner(staff, 10), ErrForbidden)

	assert.NoError(t, RequireOwnerOr(staff, 10, Staff...))
	assert.ErrorIs(t, RequireOwnerOr(other, 10, Staff...), ErrForbidden)
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{ID: 5, Role: RoleAdmin})
	a, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), a.ID)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole("supervisor")
	assert.True(t, ok)
	assert.Equal(t, RoleSupervisor, r)

	_, ok = ParseRole("root")
	assert.False(t, ok)
}
