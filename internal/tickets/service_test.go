package tickets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
)

type stubRepo struct {
	tickets    map[int64]Ticket
	comments   map[int64][]Comment
	assignable map[int64]bool
	nextID     int64
	lastScope  Scope
}

func newStubRepo(tickets ...Ticket) *stubRepo {
	s := &stubRepo{
		tickets:    make(map[int64]Ticket),
		comments:   make(map[int64][]Comment),
		assignable: make(map[int64]bool),
		nextID:     100,
	}
	for _, t := range tickets {
		s.tickets[t.ID] = t
	}
	return s
}

func (s *stubRepo) List(ctx context.Context, q listing.Query, scope Scope) ([]Ticket, int, error) {
	s.lastScope = scope
	var out []Ticket
	for _, t := range s.tickets {
		if scope.Visible(t) {
			out = append(out, t)
		}
	}
	return out, len(out), nil
}

func (s *stubRepo) Get(ctx context.Context, id int64) (Ticket, error) {
	t, ok := s.tickets[id]
	if !ok {
		return Ticket{}, shared.ErrNotFound
	}
	return t, nil
}

func (s *stubRepo) Create(ctx context.Context, in NewTicket) (int64, error) {
	s.nextID++
	s.tickets[s.nextID] = Ticket{
		ID:          s.nextID,
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Priority:    in.Priority,
		Status:      StatusOpen,
		RequesterID: in.RequesterID,
		EquipmentID: in.EquipmentID,
		Department:  in.Department,
	}
	return s.nextID, nil
}

func (s *stubRepo) UpdateStatus(ctx context.Context, id int64, status Status, resolvedAt *time.Time) error {
	t, ok := s.tickets[id]
	if !ok {
		return shared.ErrNotFound
	}
	t.Status = status
	t.ResolvedAt = resolvedAt
	s.tickets[id] = t
	return nil
}

func (s *stubRepo) Assign(ctx context.Context, id, assigneeID int64) error {
	t := s.tickets[id]
	t.AssigneeID = &assigneeID
	s.tickets[id] = t
	return nil
}

func (s *stubRepo) AddComment(ctx context.Context, ticketID, authorID int64, body string) error {
	s.comments[ticketID] = append(s.comments[ticketID], Comment{TicketID: ticketID, AuthorID: authorID, Body: body})
	return nil
}

func (s *stubRepo) Comments(ctx context.Context, ticketID int64) ([]Comment, error) {
	return s.comments[ticketID], nil
}

func (s *stubRepo) IsAssignable(ctx context.Context, userID int64) (bool, error) {
	return s.assignable[userID], nil
}

func (s *stubRepo) CountByStatus(ctx context.Context, scope Scope) (map[Status]int, error) {
	out := make(map[Status]int)
	for _, t := range s.tickets {
		if scope.Visible(t) {
			out[t.Status]++
		}
	}
	return out, nil
}

type recordingNotifier struct {
	ids []int64
	err error
}

func (n *recordingNotifier) NotifyTicketAssigned(ctx context.Context, ticketID int64) error {
	n.ids = append(n.ids, ticketID)
	return n.err
}

var (
	admin      = &rbac.Principal{ID: 1, Username: "admin", Role: rbac.RoleAdmin}
	technician = &rbac.Principal{ID: 2, Username: "tech", Role: rbac.RoleTechnician}
	manager    = &rbac.Principal{ID: 3, Username: "manager", Role: rbac.RoleManager}
	nurse      = &rbac.Principal{ID: 10, Username: "nurse", Role: rbac.RoleEndUser}
	otherNurse = &rbac.Principal{ID: 11, Username: "ward", Role: rbac.RoleEndUser}
)

func newTestService(repo *stubRepo, notifier Notifier) *Service {
	return NewService(repo, nil, notifier, nil)
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(StatusOpen, StatusInProgress))
	assert.True(t, CanTransition(StatusResolved, StatusInProgress))
	assert.True(t, CanTransition(StatusClosed, StatusOpen))
	assert.False(t, CanTransition(StatusClosed, StatusResolved))
	assert.False(t, CanTransition(StatusOnHold, StatusResolved))
	assert.False(t, CanTransition(Status("bogus"), StatusOpen))

	next := NextStatuses(StatusOpen)
	next[0] = StatusClosed
	assert.Equal(t, StatusInProgress, NextStatuses(StatusOpen)[0], "callers must not mutate the table")
}

func TestCreateValidatesInput(t *testing.T) {
	svc := newTestService(newStubRepo(), nil)

	_, err := svc.Create(context.Background(), nurse, CreateInput{Title: "  ", Category: "hardware", Priority: "urgent"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
	errs := shared.FieldErrorsFrom(err)
	assert.Contains(t, errs, "Title")
	assert.Contains(t, errs, "Description")
	assert.Contains(t, errs, "Priority")
}

func TestCreateStoresRequester(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, nil)

	ticket, err := svc.Create(context.Background(), nurse, CreateInput{
		Title:       "Printer jammed",
		Description: "Ward 3 label printer",
		Category:    "hardware",
		Priority:    "high",
		EquipmentID: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, nurse.ID, ticket.RequesterID)
	assert.Equal(t, PriorityHigh, ticket.Priority)
	require.NotNil(t, ticket.EquipmentID)
	assert.Equal(t, int64(7), *ticket.EquipmentID)
}

func TestCreateRequiresPermission(t *testing.T) {
	svc := newTestService(newStubRepo(), nil)
	_, err := svc.Create(context.Background(), &rbac.Principal{ID: 5, Role: rbac.Role("visitor")}, CreateInput{})
	assert.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Create(context.Background(), nil, CreateInput{})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestVisibilityIsScoped(t *testing.T) {
	repo := newStubRepo(
		Ticket{ID: 1, RequesterID: nurse.ID, Status: StatusOpen},
		Ticket{ID: 2, RequesterID: otherNurse.ID, Status: StatusOpen},
	)
	svc := newTestService(repo, nil)

	page, err := svc.List(context.Background(), nurse, listing.Query{Page: 1, PerPage: 20})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.False(t, repo.lastScope.All)

	_, _, err = svc.Get(context.Background(), nurse, 2)
	assert.ErrorIs(t, err, shared.ErrNotFound, "foreign tickets look missing")

	page, err = svc.List(context.Background(), technician, listing.Query{Page: 1, PerPage: 20})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.True(t, repo.lastScope.All)
}

func TestAssignNotifiesAndChecksAssignee(t *testing.T) {
	repo := newStubRepo(Ticket{ID: 1, RequesterID: nurse.ID, Status: StatusOpen})
	repo.assignable[technician.ID] = true
	notifier := &recordingNotifier{}
	svc := newTestService(repo, notifier)

	err := svc.Assign(context.Background(), technician, 1, technician.ID)
	assert.ErrorIs(t, err, shared.ErrForbidden, "technicians cannot assign")

	err = svc.Assign(context.Background(), manager, 1, nurse.ID)
	assert.ErrorIs(t, err, shared.ErrValidation)

	require.NoError(t, svc.Assign(context.Background(), manager, 1, technician.ID))
	assert.True(t, repo.tickets[1].AssignedTo(technician.ID))
	assert.Equal(t, []int64{1}, notifier.ids)

	require.NoError(t, svc.Assign(context.Background(), manager, 1, technician.ID))
	assert.Len(t, notifier.ids, 1, "reassigning the same technician is a no-op")
}

func TestAssignSurvivesNotifierFailure(t *testing.T) {
	repo := newStubRepo(Ticket{ID: 1, RequesterID: nurse.ID, Status: StatusOpen})
	repo.assignable[technician.ID] = true
	svc := newTestService(repo, &recordingNotifier{err: errors.New("redis down")})

	require.NoError(t, svc.Assign(context.Background(), admin, 1, technician.ID))
	assert.True(t, repo.tickets[1].AssignedTo(technician.ID))
}

func TestChangeStatus(t *testing.T) {
	repo := newStubRepo(Ticket{ID: 1, RequesterID: nurse.ID, Status: StatusOpen})
	svc := newTestService(repo, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.ChangeStatus(ctx, nurse, 1, "in_progress"), shared.ErrForbidden)

	require.NoError(t, svc.ChangeStatus(ctx, technician, 1, "in_progress"))
	assert.Equal(t, StatusInProgress, repo.tickets[1].Status)
	assert.Nil(t, repo.tickets[1].ResolvedAt)

	require.NoError(t, svc.ChangeStatus(ctx, technician, 1, "resolved"))
	require.NotNil(t, repo.tickets[1].ResolvedAt)

	assert.ErrorIs(t, svc.ChangeStatus(ctx, technician, 1, "closed"), shared.ErrForbidden, "closing needs tickets.close")
	require.NoError(t, svc.ChangeStatus(ctx, manager, 1, "closed"))

	assert.ErrorIs(t, svc.ChangeStatus(ctx, manager, 1, "resolved"), ErrInvalidTransition)
	assert.ErrorIs(t, svc.ChangeStatus(ctx, technician, 1, "open"), shared.ErrForbidden, "reopening needs tickets.close")

	require.NoError(t, svc.ChangeStatus(ctx, manager, 1, "open"))
	assert.Nil(t, repo.tickets[1].ResolvedAt)
}

func TestAddComment(t *testing.T) {
	repo := newStubRepo(
		Ticket{ID: 1, RequesterID: nurse.ID, Status: StatusOpen},
		Ticket{ID: 2, RequesterID: nurse.ID, Status: StatusClosed},
	)
	svc := newTestService(repo, nil)
	ctx := context.Background()

	err := svc.AddComment(ctx, nurse, 1, "   ")
	assert.Contains(t, shared.FieldErrorsFrom(err), "Body")

	require.NoError(t, svc.AddComment(ctx, nurse, 1, "Still broken"))
	assert.Len(t, repo.comments[1], 1)

	assert.ErrorIs(t, svc.AddComment(ctx, otherNurse, 1, "hi"), shared.ErrNotFound)
	assert.ErrorIs(t, svc.AddComment(ctx, nurse, 2, "hi"), shared.ErrValidation)
}

func TestCountsAreScoped(t *testing.T) {
	repo := newStubRepo(
		Ticket{ID: 1, RequesterID: nurse.ID, Status: StatusOpen},
		Ticket{ID: 2, RequesterID: otherNurse.ID, Status: StatusOpen},
		Ticket{ID: 3, RequesterID: otherNurse.ID, AssigneeID: &technician.ID, Status: StatusResolved},
	)
	svc := newTestService(repo, nil)

	counts, err := svc.Counts(context.Background(), nurse)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusOpen: 1}, counts)

	counts, err = svc.Counts(context.Background(), admin)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[StatusOpen])
	assert.Equal(t, 1, counts[StatusResolved])
}
