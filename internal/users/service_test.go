package users

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
)

type stubRepo struct {
	users map[int64]User
}

func newStubRepo(users ...User) *stubRepo {
	s := &stubRepo{users: make(map[int64]User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *stubRepo) List(ctx context.Context, q listing.Query) ([]User, int, error) {
	all := make([]User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, u)
	}
	return all, len(all), nil
}

func (s *stubRepo) Get(ctx context.Context, id int64) (User, error) {
	u, ok := s.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (s *stubRepo) Approve(ctx context.Context, id int64) error {
	u := s.users[id]
	u.IsApproved = true
	s.users[id] = u
	return nil
}

func (s *stubRepo) SetRole(ctx context.Context, id int64, role rbac.Role) error {
	u := s.users[id]
	u.Role = role
	s.users[id] = u
	return nil
}

func (s *stubRepo) SetActive(ctx context.Context, id int64, active bool) error {
	u, ok := s.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.IsActive = active
	s.users[id] = u
	return nil
}

func (s *stubRepo) SetPermissions(ctx context.Context, id int64, perms []string) error {
	u := s.users[id]
	u.Permissions = perms
	s.users[id] = u
	return nil
}

func (s *stubRepo) ListAssignable(ctx context.Context, roles []rbac.Role) ([]User, error) {
	var out []User
	for _, u := range s.users {
		for _, r := range roles {
			if u.Role == r && u.IsActive && u.IsApproved {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

type auditSpy struct {
	logs []shared.AuditLog
	err  error
}

func (a *auditSpy) Record(ctx context.Context, log shared.AuditLog) error {
	if a.err != nil {
		return a.err
	}
	a.logs = append(a.logs, log)
	return nil
}

var (
	admin   = &rbac.Principal{ID: 1, Username: "root", Role: rbac.RoleAdmin}
	manager = &rbac.Principal{ID: 2, Username: "boss", Role: rbac.RoleManager}
	tech    = &rbac.Principal{ID: 3, Username: "tech", Role: rbac.RoleTechnician}
)

func TestApprove(t *testing.T) {
	repo := newStubRepo(User{ID: 10, Username: "nurse", Role: rbac.RoleEndUser, IsActive: true})
	audit := &auditSpy{}
	svc := NewService(repo, audit, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Approve(ctx, tech, 10), shared.ErrForbidden)
	assert.ErrorIs(t, svc.Approve(ctx, nil, 10), shared.ErrForbidden)

	require.NoError(t, svc.Approve(ctx, manager, 10))
	assert.True(t, repo.users[10].IsApproved)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "user.approve", audit.logs[0].Action)
	assert.Equal(t, "10", audit.logs[0].EntityID)

	assert.ErrorIs(t, svc.Approve(ctx, manager, 10), ErrAlreadyApproved)
	assert.ErrorIs(t, svc.Approve(ctx, manager, 99), shared.ErrNotFound)
}

func TestChangeRole(t *testing.T) {
	repo := newStubRepo(
		User{ID: 1, Username: "root", Role: rbac.RoleAdmin, IsActive: true, IsApproved: true},
		User{ID: 10, Username: "nurse", Role: rbac.RoleEndUser, IsActive: true, IsApproved: true},
	)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.ChangeRole(ctx, manager, 10, "technician"), shared.ErrForbidden, "managers lack users.edit")
	assert.ErrorIs(t, svc.ChangeRole(ctx, admin, 10, "wizard"), shared.ErrValidation)
	assert.ErrorIs(t, svc.ChangeRole(ctx, admin, 1, "end_user"), ErrSelfChange)

	require.NoError(t, svc.ChangeRole(ctx, admin, 10, " Technician "))
	assert.Equal(t, rbac.RoleTechnician, repo.users[10].Role)
}

func TestSetActive(t *testing.T) {
	repo := newStubRepo(User{ID: 10, Username: "nurse", Role: rbac.RoleEndUser, IsActive: true, IsApproved: true})
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.SetActive(ctx, admin, admin.ID, false), ErrSelfChange)
	require.NoError(t, svc.SetActive(ctx, admin, 10, false))
	assert.False(t, repo.users[10].IsActive)
	assert.Equal(t, StatusInactive, repo.users[10].Status())
	assert.ErrorIs(t, svc.SetActive(ctx, admin, 77, true), shared.ErrNotFound)
}

func TestGrantPermissions(t *testing.T) {
	repo := newStubRepo(User{ID: 10, Username: "tech2", Role: rbac.RoleTechnician, IsActive: true, IsApproved: true})
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.GrantPermissions(ctx, admin, 10, []string{"tickets.assign", "launch.missiles"}), shared.ErrValidation)

	require.NoError(t, svc.GrantPermissions(ctx, admin, 10, []string{" TASKS.ASSIGN ", "tickets.assign", "tickets.assign", ""}))
	assert.Equal(t, []string{"tasks.assign", "tickets.assign"}, repo.users[10].Permissions)

	p := &rbac.Principal{ID: 10, Role: rbac.RoleTechnician, Permissions: repo.users[10].Permissions}
	assert.True(t, rbac.HasPermission(p, shared.PermTicketsAssign))
}

func TestListBuildsPagination(t *testing.T) {
	repo := newStubRepo(User{ID: 1}, User{ID: 2}, User{ID: 3})
	svc := NewService(repo, nil, nil)
	page, err := svc.List(context.Background(), listing.Query{Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, StatusPending, User{IsActive: true}.Status())
	assert.Equal(t, StatusActive, User{IsActive: true, IsApproved: true}.Status())
}

func TestAuditFailureIsLoggedNotReturned(t *testing.T) {
	repo := newStubRepo(User{ID: 10, Username: "nurse", Role: rbac.RoleEndUser, IsActive: true})
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	svc := NewService(repo, &auditSpy{err: errors.New("audit table locked")}, logger)

	require.NoError(t, svc.Approve(context.Background(), manager, 10))
	assert.True(t, repo.users[10].IsApproved)
	assert.Contains(t, buf.String(), "audit record failed")
	assert.Contains(t, buf.String(), "action=user.approve")
	assert.Contains(t, buf.String(), "audit table locked")
}
