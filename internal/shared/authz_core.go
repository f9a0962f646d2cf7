package shared

// Core platform permissions.
const (
	PermUsersView    = "users.view"
	PermUsersEdit    = "users.edit"
	PermUsersApprove = "users.approve"

	PermRolesView       = "roles.view"
	PermPermissionsView = "permissions.view"

	PermDashboardView = "dashboard.view"
	PermReportsView   = "reports.view"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermUsersApprove,
		PermRolesView,
		PermPermissionsView,
		PermDashboardView,
		PermReportsView,
	}
}
