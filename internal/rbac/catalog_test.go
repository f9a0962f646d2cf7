package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryRoleHasTableEntry(t *testing.T) {
	require.Len(t, roleTable, len(roleOrder))
	for _, role := range Roles() {
		info, ok := roleTable[role]
		require.True(t, ok, role)
		assert.NotEmpty(t, info.displayName, role)
		assert.NotEmpty(t, info.color, role)
		assert.NotEqual(t, neutralColor, info.color, role)
		assert.True(t, role.Valid())
	}
}

func TestRoleDefaultsAreCataloged(t *testing.T) {
	for role, info := range roleTable {
		for perm := range info.permissions {
			assert.True(t, KnownPermission(perm), "%s grants uncataloged %s", role, perm)
		}
	}
}

func TestCatalogHasNoDuplicates(t *testing.T) {
	seen := make(map[string]bool)
	for _, p := range Catalog() {
		assert.False(t, seen[p.Name], p.Name)
		seen[p.Name] = true
		assert.NotEmpty(t, p.Category)
	}
}

func TestCatalogByCategoryKeepsOrder(t *testing.T) {
	groups := CatalogByCategory()
	require.NotEmpty(t, groups)
	assert.Equal(t, "Tickets", groups[0].Category)

	total := 0
	for _, g := range groups {
		total += len(g.Permissions)
	}
	assert.Equal(t, len(Catalog()), total)
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole(" Technician ")
	assert.True(t, ok)
	assert.Equal(t, RoleTechnician, role)

	role, ok = ParseRole("lab_staff")
	assert.False(t, ok)
	assert.Equal(t, Role("lab_staff"), role)
}

func TestRolePermissions(t *testing.T) {
	assert.Equal(t, catalogNames(), RolePermissions(RoleAdmin))
	assert.Contains(t, RolePermissions(RoleEndUser), "tickets.create")
	assert.NotContains(t, RolePermissions(RoleManager), "users.edit")
	assert.Nil(t, RolePermissions("lab_staff"))
	assert.Empty(t, RoleDescription("lab_staff"))
}
