package roles

import (
	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
)

// Summary describes a role on the reference page.
type Summary struct {
	Role        rbac.Role
	Name        string
	Color       string
	Description string
	Permissions []string
	UserCount   int
}

// PermissionRow is one entry of the permission catalog table, with the roles
// that imply it by default.
type PermissionRow struct {
	rbac.Permission
	Roles []rbac.Role
}

// PermissionSpec is the data table contract of the permission catalog.
var PermissionSpec = listing.Spec{
	SortColumns:    map[string]string{"name": "name", "category": "category"},
	DefaultSort:    "category",
	DefaultDir:     listing.Asc,
	Filters:        []string{"category", "role"},
	DefaultPerPage: 50,
	MaxPerPage:     200,
}
