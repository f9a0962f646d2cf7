package rbac

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// The functions below are pure: they read the principal snapshot and the static
// tables only. They are advisory; handlers re-check on the server side.

// HasPermission reports whether p holds permission. Admins hold every
// permission, including ones missing from the catalog. Other principals hold
// the union of their explicit grants and their role defaults.
func HasPermission(p *Principal, permission string) bool {
	if p == nil {
		return false
	}
	if p.Role == RoleAdmin {
		return true
	}
	permission = normalizePermission(permission)
	if permission == "" {
		return false
	}
	for _, granted := range p.Permissions {
		if normalizePermission(granted) == permission {
			return true
		}
	}
	info, ok := roleTable[p.Role]
	if !ok {
		return false
	}
	_, ok = info.permissions[permission]
	return ok
}

// HasAllPermissions reports whether p holds every listed permission.
// Blank entries are ignored; an empty list is satisfied by any principal.
func HasAllPermissions(p *Principal, permissions ...string) bool {
	if p == nil {
		return false
	}
	for _, perm := range permissions {
		if normalizePermission(perm) == "" {
			continue
		}
		if !HasPermission(p, perm) {
			return false
		}
	}
	return true
}

// HasAnyPermission reports whether p holds at least one listed permission.
// Blank entries are ignored; an empty list is satisfied by any principal.
func HasAnyPermission(p *Principal, permissions ...string) bool {
	if p == nil {
		return false
	}
	checked := 0
	for _, perm := range permissions {
		if normalizePermission(perm) == "" {
			continue
		}
		checked++
		if HasPermission(p, perm) {
			return true
		}
	}
	return checked == 0
}

// HasRole reports whether p has exactly role.
func HasRole(p *Principal, role Role) bool {
	if p == nil {
		return false
	}
	role = normalizeRole(role)
	if role == "" {
		return false
	}
	return p.Role == role
}

// HasAnyRole reports whether the role of p is in roles.
func HasAnyRole(p *Principal, roles ...Role) bool {
	if p == nil {
		return false
	}
	for _, role := range roles {
		if HasRole(p, role) {
			return true
		}
	}
	return false
}

// EffectivePermissions returns the sorted capability set of p.
func EffectivePermissions(p *Principal) []string {
	if p == nil {
		return nil
	}
	if p.Role == RoleAdmin {
		return catalogNames()
	}
	set := make(map[string]struct{})
	if info, ok := roleTable[p.Role]; ok {
		for perm := range info.permissions {
			set[perm] = struct{}{}
		}
	}
	for _, perm := range p.Permissions {
		if perm = normalizePermission(perm); perm != "" {
			set[perm] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for perm := range set {
		out = append(out, perm)
	}
	sort.Strings(out)
	return out
}

// RoleDisplayName returns the human readable name of role. Unknown roles fall
// back to their identifier in title case, "lab_staff" becoming "Lab Staff".
func RoleDisplayName(role Role) string {
	if info, ok := roleTable[normalizeRole(role)]; ok {
		return info.displayName
	}
	raw := strings.TrimSpace(string(role))
	if raw == "" {
		return "Unknown"
	}
	words := strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(raw)
	return cases.Title(language.English).String(strings.Join(strings.Fields(words), " "))
}

// RoleColor returns the badge color token of role, neutral for unknown roles.
func RoleColor(role Role) string {
	if info, ok := roleTable[normalizeRole(role)]; ok {
		return info.color
	}
	return neutralColor
}

func normalizePermission(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

func normalizeRole(r Role) Role {
	return Role(strings.ToLower(strings.TrimSpace(string(r))))
}
