package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
)

type stubRepo struct {
	tasks      map[int64]Task
	assignable map[int64]bool
	nextID     int64
}

func newStubRepo(tasks ...Task) *stubRepo {
	s := &stubRepo{tasks: make(map[int64]Task), assignable: make(map[int64]bool), nextID: 50}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *stubRepo) List(ctx context.Context, q listing.Query, scope Scope, now time.Time) ([]Task, int, error) {
	var out []Task
	for _, t := range s.tasks {
		if scope.Visible(t) {
			out = append(out, t)
		}
	}
	return out, len(out), nil
}

func (s *stubRepo) Get(ctx context.Context, id int64) (Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, shared.ErrNotFound
	}
	return t, nil
}

func (s *stubRepo) Create(ctx context.Context, in NewTask) (int64, error) {
	s.nextID++
	s.tasks[s.nextID] = Task{
		ID:          s.nextID,
		Title:       in.Title,
		Description: in.Description,
		TicketID:    in.TicketID,
		AssigneeID:  in.AssigneeID,
		DueAt:       in.DueAt,
		CreatedBy:   in.CreatedBy,
		Status:      StatusPending,
	}
	return s.nextID, nil
}

func (s *stubRepo) Assign(ctx context.Context, id, assigneeID int64) error {
	t := s.tasks[id]
	t.AssigneeID = &assigneeID
	s.tasks[id] = t
	return nil
}

func (s *stubRepo) UpdateStatus(ctx context.Context, id int64, status Status, completedAt *time.Time) error {
	t := s.tasks[id]
	t.Status = status
	t.CompletedAt = completedAt
	s.tasks[id] = t
	return nil
}

func (s *stubRepo) IsAssignable(ctx context.Context, userID int64) (bool, error) {
	return s.assignable[userID], nil
}

func (s *stubRepo) Overdue(ctx context.Context, now time.Time) ([]Task, error) {
	var out []Task
	for _, t := range s.tasks {
		if t.OverdueAt(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *stubRepo) CountOpen(ctx context.Context, userID int64, now time.Time) (int, int, error) {
	var open, overdue int
	for _, t := range s.tasks {
		if t.AssignedTo(userID) && t.Status.Open() {
			open++
			if t.OverdueAt(now) {
				overdue++
			}
		}
	}
	return open, overdue, nil
}

func ptr(v int64) *int64 { return &v }

var (
	manager = &rbac.Principal{ID: 1, Username: "manager", Role: rbac.RoleManager}
	tech    = &rbac.Principal{ID: 2, Username: "tech", Role: rbac.RoleTechnician}
	tech2   = &rbac.Principal{ID: 3, Username: "tech2", Role: rbac.RoleTechnician}
	nurse   = &rbac.Principal{ID: 9, Username: "nurse", Role: rbac.RoleEndUser}
)

func TestCreateTask(t *testing.T) {
	repo := newStubRepo()
	repo.assignable[tech.ID] = true
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, tech, CreateInput{Title: "Swap toner"})
	assert.ErrorIs(t, err, shared.ErrForbidden, "technicians do not create tasks")

	_, err = svc.Create(ctx, manager, CreateInput{Title: "", DueAt: "tomorrow"})
	errs := shared.FieldErrorsFrom(err)
	assert.Contains(t, errs, "Title")
	assert.Contains(t, errs, "DueAt")

	_, err = svc.Create(ctx, manager, CreateInput{Title: "Swap toner", AssigneeID: nurse.ID})
	assert.Contains(t, shared.FieldErrorsFrom(err), "AssigneeID")

	task, err := svc.Create(ctx, manager, CreateInput{Title: "Swap toner", AssigneeID: tech.ID, TicketID: 4, DueAt: "2026-03-01"})
	require.NoError(t, err)
	assert.True(t, task.AssignedTo(tech.ID))
	require.NotNil(t, task.TicketID)
	assert.Equal(t, int64(4), *task.TicketID)
	require.NotNil(t, task.DueAt)
	assert.Equal(t, "2026-03-01 23:59:59", task.DueAt.Format("2006-01-02 15:04:05"))
}

func TestOnlyAssigneeWorksTask(t *testing.T) {
	repo := newStubRepo(Task{ID: 1, Title: "Patch", AssigneeID: ptr(tech.ID), CreatedBy: manager.ID, Status: StatusPending})
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Start(ctx, tech2, 1), shared.ErrNotFound, "other technicians cannot see the task")

	require.NoError(t, svc.Start(ctx, tech, 1))
	assert.Equal(t, StatusInProgress, repo.tasks[1].Status)
	assert.ErrorIs(t, svc.Start(ctx, tech, 1), ErrInvalidTransition)

	require.NoError(t, svc.Complete(ctx, tech, 1))
	assert.Equal(t, StatusDone, repo.tasks[1].Status)
	assert.NotNil(t, repo.tasks[1].CompletedAt)
	assert.ErrorIs(t, svc.Complete(ctx, tech, 1), ErrInvalidTransition)
}

func TestManagerCanCompleteAnyTask(t *testing.T) {
	repo := newStubRepo(Task{ID: 1, AssigneeID: ptr(tech.ID), Status: StatusInProgress})
	svc := NewService(repo, nil, nil)
	require.NoError(t, svc.Complete(context.Background(), manager, 1))
}

func TestUnassignedTaskNeedsOversight(t *testing.T) {
	repo := newStubRepo(Task{ID: 1, CreatedBy: tech.ID, Status: StatusPending})
	svc := NewService(repo, nil, nil)
	err := svc.Start(context.Background(), tech, 1)
	assert.ErrorIs(t, err, ErrNotAssignee)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestAssignAndCancel(t *testing.T) {
	repo := newStubRepo(
		Task{ID: 1, Status: StatusPending},
		Task{ID: 2, Status: StatusDone},
	)
	repo.assignable[tech2.ID] = true
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Assign(ctx, tech, 1, tech2.ID), shared.ErrForbidden)
	require.NoError(t, svc.Assign(ctx, manager, 1, tech2.ID))
	assert.True(t, repo.tasks[1].AssignedTo(tech2.ID))
	assert.ErrorIs(t, svc.Assign(ctx, manager, 2, tech2.ID), shared.ErrValidation)

	require.NoError(t, svc.Cancel(ctx, manager, 1))
	assert.Equal(t, StatusCancelled, repo.tasks[1].Status)
	assert.ErrorIs(t, svc.Cancel(ctx, manager, 1), ErrInvalidTransition)
}

func TestOverdueAndCounts(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	repo := newStubRepo(
		Task{ID: 1, AssigneeID: ptr(tech.ID), Status: StatusPending, DueAt: &past},
		Task{ID: 2, AssigneeID: ptr(tech.ID), Status: StatusInProgress, DueAt: &future},
		Task{ID: 3, AssigneeID: ptr(tech.ID), Status: StatusDone, DueAt: &past},
		Task{ID: 4, AssigneeID: ptr(tech2.ID), Status: StatusInProgress},
	)
	svc := NewService(repo, nil, nil)
	svc.now = func() time.Time { return now }

	overdue, err := svc.Overdue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, int64(1), overdue[0].ID)

	open, late, err := svc.OpenCounts(context.Background(), tech)
	require.NoError(t, err)
	assert.Equal(t, 2, open)
	assert.Equal(t, 1, late)

	_, _, err = svc.OpenCounts(context.Background(), nurse)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}
