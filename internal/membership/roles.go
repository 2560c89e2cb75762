// Package membership holds the role-hierarchy policy every handler and
// engine operation consults for authorization decisions, instead of
// re-deriving "is owner or admin" inline per endpoint.
package membership

import (
	"regexp"

	"trackline/internal/domain"
	"trackline/internal/fault"
)

var roleLevels = map[string]int{
	domain.RoleOwner:    3,
	domain.RoleAdmin:    2,
	domain.RoleMember:   1,
	domain.RoleBilling:  1,
	domain.RoleReadonly: 0,
}

var orgRoles = map[string]bool{
	domain.RoleOwner:    true,
	domain.RoleAdmin:    true,
	domain.RoleMember:   true,
	domain.RoleBilling:  true,
	domain.RoleReadonly: true,
}

var projectRoles = map[string]bool{
	domain.RoleOwner:  true,
	domain.RoleAdmin:  true,
	domain.RoleMember: true,
}

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9-_]+$`)

// Level returns the hierarchy level of a role; unknown roles rank below
// readonly.
func Level(role string) int {
	if lvl, ok := roleLevels[role]; ok {
		return lvl
	}
	return -1
}

// ValidOrgRole reports whether role is an organization role.
func ValidOrgRole(role string) bool { return orgRoles[role] }

// ValidProjectRole reports whether role is a project role.
func ValidProjectRole(role string) bool { return projectRoles[role] }

// ValidSlug reports whether slug matches the allowed pattern.
func ValidSlug(slug string) bool { return slug != "" && slugPattern.MatchString(slug) }

// Authorize checks that an actor holding actorRole may perform an action
// requiring requiredRole's level.
func Authorize(actorRole, requiredRole string) error {
	if Level(actorRole) >= Level(requiredRole) {
		return nil
	}
	return fault.Forbidden("role %s required", requiredRole)
}

// AuthorizeMemberChange checks that the actor may modify or remove a member
// holding targetRole. Self-removal is always permitted regardless of role,
// but a role change never is; the last-owner guard is enforced separately by
// the engine. An admin may never modify or remove an owner.
func AuthorizeMemberChange(actorRole, targetRole string, selfRemoval bool) error {
	if selfRemoval {
		return nil
	}
	if err := Authorize(actorRole, domain.RoleAdmin); err != nil {
		return err
	}
	if targetRole == domain.RoleOwner && actorRole != domain.RoleOwner {
		return fault.Forbidden("only an owner may modify an owner")
	}
	return nil
}
