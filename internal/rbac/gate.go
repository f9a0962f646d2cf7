package rbac

import (
	"html/template"
	"strings"
)

// Mode combines the requirements of a Gate.
type Mode string

const (
	ModeAll Mode = "all"
	ModeAny Mode = "any"
)

// ParseMode maps "any" to ModeAny and everything else to ModeAll.
func ParseMode(raw string) Mode {
	if strings.EqualFold(strings.TrimSpace(raw), string(ModeAny)) {
		return ModeAny
	}
	return ModeAll
}

// Gate decides whether a page fragment is shown. A denied gate renders
// nothing; it never redirects.
type Gate struct {
	Permissions []string
	Roles       []Role
	Mode        Mode
}

// Allows reports whether p satisfies the gate. A principal holds a single
// role, so the role list is always matched as any-of.
func (g Gate) Allows(p *Principal) bool {
	if p == nil {
		return false
	}
	perms := normalizePermissions(g.Permissions)
	if len(perms) == 0 && len(g.Roles) == 0 {
		return true
	}
	if g.Mode == ModeAny {
		if len(perms) > 0 && HasAnyPermission(p, perms...) {
			return true
		}
		return len(g.Roles) > 0 && HasAnyRole(p, g.Roles...)
	}
	if !HasAllPermissions(p, perms...) {
		return false
	}
	return len(g.Roles) == 0 || HasAnyRole(p, g.Roles...)
}

// FuncMap exposes the evaluator to templates. Every function takes the
// principal first so templates read {{if can .Principal "tickets.assign"}}.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"can": HasPermission,
		"canAll": func(p *Principal, perms ...string) bool {
			return Gate{Permissions: perms, Mode: ModeAll}.Allows(p)
		},
		"canAny": func(p *Principal, perms ...string) bool {
			return Gate{Permissions: perms, Mode: ModeAny}.Allows(p)
		},
		// gate combines permissions and roles in one check:
		// {{if gate .Principal "any" (perms "tickets.assign") (roles "manager")}}.
		"gate": func(p *Principal, mode string, perms []string, roles []Role) bool {
			return Gate{Permissions: perms, Roles: roles, Mode: ParseMode(mode)}.Allows(p)
		},
		"perms": func(names ...string) []string { return names },
		"roles": func(names ...string) []Role {
			out := make([]Role, 0, len(names))
			for _, n := range names {
				out = append(out, Role(n))
			}
			return out
		},
		"hasRole":    HasRole,
		"hasAnyRole": HasAnyRole,
		"roleName":   RoleDisplayName,
		"roleColor":  RoleColor,
	}
}
