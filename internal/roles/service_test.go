package roles

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
)

type stubRepo struct {
	counts map[rbac.Role]int
	err    error
}

func (s stubRepo) CountByRole(ctx context.Context) (map[rbac.Role]int, error) {
	out := make(map[rbac.Role]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out, s.err
}

func TestSummariesKeepRoleOrderAndUnknownRoles(t *testing.T) {
	svc := NewService(stubRepo{counts: map[rbac.Role]int{rbac.RoleTechnician: 4, "lab_staff": 2}})
	out, err := svc.Summaries(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 5)

	assert.Equal(t, rbac.RoleAdmin, out[0].Role)
	assert.Equal(t, 0, out[0].UserCount)
	assert.Equal(t, 4, out[2].UserCount)

	last := out[4]
	assert.Equal(t, "Lab Staff", last.Name)
	assert.Equal(t, "secondary", last.Color)
	assert.Empty(t, last.Permissions)
}

func TestSummariesPropagatesErrors(t *testing.T) {
	_, err := NewService(stubRepo{err: errors.New("boom")}).Summaries(context.Background())
	assert.Error(t, err)
}

func TestPermissionsTable(t *testing.T) {
	svc := NewService(stubRepo{})

	page := svc.Permissions(listing.Parse(url.Values{"category": {"users"}}, PermissionSpec))
	require.Len(t, page.Items, 3)
	for _, row := range page.Items {
		assert.Equal(t, "Users", row.Category)
		assert.Contains(t, row.Roles, rbac.RoleAdmin)
	}

	page = svc.Permissions(listing.Parse(url.Values{"role": {"end_user"}, "sort": {"name"}}, PermissionSpec))
	names := make([]string, 0, len(page.Items))
	for _, row := range page.Items {
		names = append(names, row.Name)
	}
	assert.Equal(t, rbac.RolePermissions(rbac.RoleEndUser), names)

	page = svc.Permissions(listing.Parse(url.Values{"search": {"retire"}}, PermissionSpec))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "equipment.retire", page.Items[0].Name)
}
