package rbac

import (
	"sort"

	"github.com/hospital-it/helpdesk/internal/shared"
)

// Neutral color token for roles missing from the table.
const neutralColor = "secondary"

type roleInfo struct {
	displayName string
	color       string
	description string
	permissions map[string]struct{}
}

// roleOrder fixes the presentation order of roles.
var roleOrder = []Role{RoleAdmin, RoleManager, RoleTechnician, RoleEndUser}

var roleTable = map[Role]roleInfo{
	RoleAdmin: {
		displayName: "Administrator",
		color:       "danger",
		description: "Full access to every helpdesk function.",
		permissions: permissionSet(),
	},
	RoleManager: {
		displayName: "IT Manager",
		color:       "warning",
		description: "Oversees tickets, tasks and inventory; approves new accounts.",
		permissions: permissionSet(
			shared.PermDashboardView, shared.PermReportsView,
			shared.PermUsersView, shared.PermUsersApprove,
			shared.PermRolesView, shared.PermPermissionsView,
			shared.PermTicketsView, shared.PermTicketsViewAll, shared.PermTicketsCreate,
			shared.PermTicketsUpdate, shared.PermTicketsAssign, shared.PermTicketsClose, shared.PermTicketsComment,
			shared.PermTasksView, shared.PermTasksViewAll, shared.PermTasksCreate,
			shared.PermTasksAssign, shared.PermTasksComplete,
			shared.PermEquipmentView, shared.PermEquipmentCreate, shared.PermEquipmentEdit, shared.PermEquipmentRetire,
		),
	},
	RoleTechnician: {
		displayName: "Technician",
		color:       "primary",
		description: "Works tickets and tasks, maintains equipment records.",
		permissions: permissionSet(
			shared.PermDashboardView,
			shared.PermTicketsView, shared.PermTicketsViewAll, shared.PermTicketsCreate,
			shared.PermTicketsUpdate, shared.PermTicketsComment,
			shared.PermTasksView, shared.PermTasksComplete,
			shared.PermEquipmentView, shared.PermEquipmentEdit,
		),
	},
	RoleEndUser: {
		displayName: "End User",
		color:       "success",
		description: "Hospital staff reporting problems and following their tickets.",
		permissions: permissionSet(
			shared.PermDashboardView,
			shared.PermTicketsView, shared.PermTicketsCreate, shared.PermTicketsComment,
		),
	},
}

var catalog = []Permission{
	{Name: shared.PermTicketsView, Category: "Tickets", Description: "View own and assigned tickets"},
	{Name: shared.PermTicketsViewAll, Category: "Tickets", Description: "View every ticket"},
	{Name: shared.PermTicketsCreate, Category: "Tickets", Description: "Open new tickets"},
	{Name: shared.PermTicketsUpdate, Category: "Tickets", Description: "Change ticket status"},
	{Name: shared.PermTicketsAssign, Category: "Tickets", Description: "Assign tickets to technicians"},
	{Name: shared.PermTicketsClose, Category: "Tickets", Description: "Close and reopen tickets"},
	{Name: shared.PermTicketsComment, Category: "Tickets", Description: "Comment on tickets"},

	{Name: shared.PermTasksView, Category: "Tasks", Description: "View own tasks"},
	{Name: shared.PermTasksViewAll, Category: "Tasks", Description: "View every task"},
	{Name: shared.PermTasksCreate, Category: "Tasks", Description: "Create tasks"},
	{Name: shared.PermTasksAssign, Category: "Tasks", Description: "Assign tasks to technicians"},
	{Name: shared.PermTasksComplete, Category: "Tasks", Description: "Start and complete tasks"},

	{Name: shared.PermEquipmentView, Category: "Equipment", Description: "Browse the equipment inventory"},
	{Name: shared.PermEquipmentCreate, Category: "Equipment", Description: "Register equipment"},
	{Name: shared.PermEquipmentEdit, Category: "Equipment", Description: "Edit equipment records"},
	{Name: shared.PermEquipmentRetire, Category: "Equipment", Description: "Retire equipment"},

	{Name: shared.PermUsersView, Category: "Users", Description: "List user accounts"},
	{Name: shared.PermUsersEdit, Category: "Users", Description: "Change roles, grants and account status"},
	{Name: shared.PermUsersApprove, Category: "Users", Description: "Approve pending registrations"},

	{Name: shared.PermRolesView, Category: "Administration", Description: "View role definitions"},
	{Name: shared.PermPermissionsView, Category: "Administration", Description: "View the permission catalog"},

	{Name: shared.PermDashboardView, Category: "Dashboard", Description: "Open the dashboard"},
	{Name: shared.PermReportsView, Category: "Dashboard", Description: "View organisation wide statistics"},
}

func permissionSet(perms ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Roles returns every known role in presentation order.
func Roles() []Role {
	out := make([]Role, len(roleOrder))
	copy(out, roleOrder)
	return out
}

// RoleDescription returns the static description of a role, or "" when unknown.
func RoleDescription(role Role) string {
	return roleTable[role].description
}

// RolePermissions lists the default permissions implied by role, sorted.
// The admin role implies the whole catalog.
func RolePermissions(role Role) []string {
	if role == RoleAdmin {
		return catalogNames()
	}
	info, ok := roleTable[role]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(info.permissions))
	for p := range info.permissions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Catalog returns every known permission.
func Catalog() []Permission {
	out := make([]Permission, len(catalog))
	copy(out, catalog)
	return out
}

// CatalogByCategory groups the catalog by category, keeping first-seen order.
func CatalogByCategory() []PermissionGroup {
	var groups []PermissionGroup
	index := make(map[string]int)
	for _, p := range catalog {
		i, ok := index[p.Category]
		if !ok {
			i = len(groups)
			index[p.Category] = i
			groups = append(groups, PermissionGroup{Category: p.Category})
		}
		groups[i].Permissions = append(groups[i].Permissions, p)
	}
	return groups
}

// KnownPermission reports whether name is part of the catalog.
func KnownPermission(name string) bool {
	name = normalizePermission(name)
	for _, p := range catalog {
		if p.Name == name {
			return true
		}
	}
	return false
}

func catalogNames() []string {
	out := make([]string, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p.Name)
	}
	sort.Strings(out)
	return out
}
