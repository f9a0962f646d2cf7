package rbac

import "strings"

// Role identifies a helpdesk role. The set is closed: every valid role has an
// entry in the static role table, see Roles.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleTechnician Role = "technician"
	RoleEndUser    Role = "end_user"
)

// ParseRole normalises raw into a Role. The boolean is false when raw does not
// name a known role; the returned value still carries the normalised text so it
// can be displayed.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := roleTable[role]
	return role, ok
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleTable[r]
	return ok
}

// String implements fmt.Stringer.
func (r Role) String() string { return string(r) }

// Permission describes an entry of the permission catalog.
type Permission struct {
	Name        string
	Category    string
	Description string
}

// PermissionGroup is a category of the catalog with its permissions.
type PermissionGroup struct {
	Category    string
	Permissions []Permission
}

// Principal is the snapshot of the authenticated user the evaluator works on.
// Permissions holds explicit grants on top of the role defaults.
type Principal struct {
	ID          int64
	Username    string
	Role        Role
	Permissions []string
}

// IsSuperUser reports whether the principal bypasses permission checks.
func (p *Principal) IsSuperUser() bool {
	return p != nil && p.Role == RoleAdmin
}
