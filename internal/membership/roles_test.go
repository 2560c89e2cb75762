package membership_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackline/internal/domain"
	"trackline/internal/fault"
	"trackline/internal/membership"
)

func TestLevel(t *testing.T) {
	assert.Equal(t, 3, membership.Level(domain.RoleOwner))
	assert.Equal(t, 2, membership.Level(domain.RoleAdmin))
	assert.Equal(t, 1, membership.Level(domain.RoleMember))
	assert.Equal(t, 1, membership.Level(domain.RoleBilling))
	assert.Equal(t, 0, membership.Level(domain.RoleReadonly))
	assert.Equal(t, -1, membership.Level("superuser"))
}

func TestAuthorize(t *testing.T) {
	assert.NoError(t, membership.Authorize(domain.RoleOwner, domain.RoleAdmin))
	assert.NoError(t, membership.Authorize(domain.RoleAdmin, domain.RoleAdmin))
	assert.NoError(t, membership.Authorize(domain.RoleBilling, domain.RoleMember))

	err := membership.Authorize(domain.RoleMember, domain.RoleAdmin)
	var ae fault.AuthorizationError
	require.ErrorAs(t, err, &ae)

	assert.Error(t, membership.Authorize("superuser", domain.RoleReadonly))
}

func TestAuthorizeMemberChange(t *testing.T) {
	// Self-removal bypasses the hierarchy entirely.
	assert.NoError(t, membership.AuthorizeMemberChange(domain.RoleReadonly, domain.RoleOwner, true))

	assert.NoError(t, membership.AuthorizeMemberChange(domain.RoleAdmin, domain.RoleMember, false))
	assert.NoError(t, membership.AuthorizeMemberChange(domain.RoleOwner, domain.RoleOwner, false))

	// Admins stop at the owner boundary.
	err := membership.AuthorizeMemberChange(domain.RoleAdmin, domain.RoleOwner, false)
	var ae fault.AuthorizationError
	require.ErrorAs(t, err, &ae)

	assert.Error(t, membership.AuthorizeMemberChange(domain.RoleMember, domain.RoleMember, false))
}

func TestValidRoles(t *testing.T) {
	assert.True(t, membership.ValidOrgRole(domain.RoleBilling))
	assert.False(t, membership.ValidProjectRole(domain.RoleBilling))
	assert.True(t, membership.ValidProjectRole(domain.RoleMember))
	assert.False(t, membership.ValidOrgRole("guest"))
}

func TestValidSlug(t *testing.T) {
	assert.True(t, membership.ValidSlug("acme-corp_01"))
	assert.False(t, membership.ValidSlug(""))
	assert.False(t, membership.ValidSlug("acme corp"))
	assert.False(t, membership.ValidSlug("acmé"))
	assert.False(t, membership.ValidSlug("a/b"))
}
