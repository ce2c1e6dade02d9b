// Package actor defines the authenticated identity the gateway authorizes
// against. Actors are constructed by an identity provider and only read by the
// core: the dispatcher evaluates permissions against the frozen snapshot it
// was handed, so directory changes apply to subsequent requests only.
package actor

import (
	"fmt"
	"slices"
)

// Role is a closed set of caller roles. Unknown roles fail ParseRole; there is
// no open-ended role registration.
type Role string

const (
	RolePhysician    Role = "physician"
	RoleNurse        Role = "nurse"
	RolePharmacist   Role = "pharmacist"
	RoleResearcher   Role = "researcher"
	RoleAgentService Role = "agent_service"
	RoleAdmin        Role = "admin"
)

// Roles lists every valid role, for config validation messages.
func Roles() []Role {
	return []Role{RolePhysician, RoleNurse, RolePharmacist, RoleResearcher, RoleAgentService, RoleAdmin}
}

// Valid reports whether r is one of the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RolePhysician, RoleNurse, RolePharmacist, RoleResearcher, RoleAgentService, RoleAdmin:
		return true
	}
	return false
}

// ParseRole converts a string into a Role, failing on anything outside the
// closed set.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q (valid: physician, nurse, pharmacist, researcher, agent_service, admin)", s)
	}
	return r, nil
}

// Actor is an authenticated identity with a role and a set of granted
// permissions. Organization is a free-text tenancy label; the permission
// matcher never consults it, so cross-tenant isolation relies on
// organization-qualified resource names.
type Actor struct {
	ID           string
	Role         Role
	Organization string
	Permissions  []string
}

// Validate checks self-consistency: a non-empty id and a known role.
// Permission strings are not validated here; malformed entries simply never
// match (the directory loader rejects them earlier with context).
func (a Actor) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("actor id is required")
	}
	if !a.Role.Valid() {
		return fmt.Errorf("actor %q: unknown role %q", a.ID, a.Role)
	}
	return nil
}

// Clone returns a deep copy so providers can hand out snapshots without
// aliasing their internal permission slices.
func (a Actor) Clone() Actor {
	out := a
	out.Permissions = slices.Clone(a.Permissions)
	return out
}

// HasPermission reports whether the exact string p is present in the grant
// set. This is set membership, not pattern matching; authorization goes
// through the permission package.
func (a Actor) HasPermission(p string) bool {
	return slices.Contains(a.Permissions, p)
}
