package roles

import (
	"context"
	"strings"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	CountByRole(ctx context.Context) (map[rbac.Role]int, error)
}

// Service builds the read-only role and permission reference.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Summaries lists every known role. Accounts carrying a role outside the
// closed set are counted under that value and listed after the known roles.
func (s *Service) Summaries(ctx context.Context) ([]Summary, error) {
	counts, err := s.repo.CountByRole(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(counts))
	for _, role := range rbac.Roles() {
		out = append(out, summary(role, counts[role]))
		delete(counts, role)
	}
	for role, n := range counts {
		out = append(out, summary(role, n))
	}
	return out, nil
}

func summary(role rbac.Role, n int) Summary {
	return Summary{
		Role:        role,
		Name:        rbac.RoleDisplayName(role),
		Color:       rbac.RoleColor(role),
		Description: rbac.RoleDescription(role),
		Permissions: rbac.RolePermissions(role),
		UserCount:   n,
	}
}

var permissionTable = listing.Table[PermissionRow]{
	Text: func(p PermissionRow) []string { return []string{p.Name, p.Description} },
	Match: func(p PermissionRow, key, value string) bool {
		switch key {
		case "category":
			return strings.EqualFold(p.Category, value)
		case "role":
			for _, r := range p.Roles {
				if strings.EqualFold(string(r), value) {
					return true
				}
			}
			return false
		}
		return true
	},
	Less: map[string]func(a, b PermissionRow) bool{
		"name": func(a, b PermissionRow) bool { return a.Name < b.Name },
		"category": func(a, b PermissionRow) bool {
			if a.Category != b.Category {
				return a.Category < b.Category
			}
			return a.Name < b.Name
		},
	},
}

// Permissions lists the catalog as a searchable table.
func (s *Service) Permissions(q listing.Query) listing.Page[PermissionRow] {
	catalog := rbac.Catalog()
	rows := make([]PermissionRow, 0, len(catalog))
	for _, p := range catalog {
		row := PermissionRow{Permission: p}
		for _, role := range rbac.Roles() {
			sample := &rbac.Principal{Role: role}
			if rbac.HasPermission(sample, p.Name) {
				row.Roles = append(row.Roles, role)
			}
		}
		rows = append(rows, row)
	}
	return listing.Apply(rows, q, permissionTable)
}

// Categories lists the catalog categories in display order.
func (s *Service) Categories() []string {
	groups := rbac.CatalogByCategory()
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.Category
	}
	return out
}
