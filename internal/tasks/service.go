package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
)

// RepositoryPort defines data access methods for tasks.
type RepositoryPort interface {
	List(ctx context.Context, q listing.Query, scope Scope, now time.Time) ([]Task, int, error)
	Get(ctx context.Context, id int64) (Task, error)
	Create(ctx context.Context, in NewTask) (int64, error)
	Assign(ctx context.Context, id, assigneeID int64) error
	UpdateStatus(ctx context.Context, id int64, status Status, completedAt *time.Time) error
	IsAssignable(ctx context.Context, userID int64) (bool, error)
	Overdue(ctx context.Context, now time.Time) ([]Task, error)
	CountOpen(ctx context.Context, userID int64, now time.Time) (open, overdue int, err error)
}

// Service implements technician task handling.
type Service struct {
	repo      RepositoryPort
	audit     shared.AuditRecorder
	logger    *slog.Logger
	validator *validator.Validate
	now       func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, validator: validator.New(), now: time.Now}
}

// List returns a page of tasks visible to actor.
func (s *Service) List(ctx context.Context, actor *rbac.Principal, q listing.Query) (listing.Page[Task], error) {
	if !rbac.HasPermission(actor, shared.PermTasksView) {
		return listing.Page[Task]{}, shared.ErrForbidden
	}
	items, total, err := s.repo.List(ctx, q, ScopeFor(actor), s.now())
	if err != nil {
		return listing.Page[Task]{}, err
	}
	return listing.Page[Task]{Items: items, Pagination: shared.NewPagination(q.Page, q.PerPage, total), Query: q}, nil
}

// Get returns a visible task.
func (s *Service) Get(ctx context.Context, actor *rbac.Principal, id int64) (Task, error) {
	if !rbac.HasPermission(actor, shared.PermTasksView) {
		return Task{}, shared.ErrForbidden
	}
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if !ScopeFor(actor).Visible(t) {
		return Task{}, shared.ErrNotFound
	}
	return t, nil
}

// Create adds a task. Assigning it on creation requires tasks.assign.
func (s *Service) Create(ctx context.Context, actor *rbac.Principal, in CreateInput) (Task, error) {
	if !rbac.HasPermission(actor, shared.PermTasksCreate) {
		return Task{}, shared.ErrForbidden
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.DueAt = strings.TrimSpace(in.DueAt)
	if err := shared.Validate(s.validator, in); err != nil {
		return Task{}, err
	}
	nt := NewTask{Title: in.Title, Description: in.Description, CreatedBy: actor.ID}
	if in.TicketID > 0 {
		id := in.TicketID
		nt.TicketID = &id
	}
	if in.DueAt != "" {
		due, _ := time.Parse("2006-01-02", in.DueAt)
		// Due at the end of the given day.
		due = due.Add(24*time.Hour - time.Second)
		nt.DueAt = &due
	}
	if in.AssigneeID > 0 {
		if !rbac.HasPermission(actor, shared.PermTasksAssign) {
			return Task{}, shared.ErrForbidden
		}
		if err := s.checkAssignee(ctx, in.AssigneeID); err != nil {
			return Task{}, err
		}
		assignee := in.AssigneeID
		nt.AssigneeID = &assignee
	}
	id, err := s.repo.Create(ctx, nt)
	if err != nil {
		return Task{}, err
	}
	s.record(ctx, actor, "task.create", id, nil)
	return s.repo.Get(ctx, id)
}

// Assign hands an open task to a technician.
func (s *Service) Assign(ctx context.Context, actor *rbac.Principal, id, assigneeID int64) error {
	if !rbac.HasPermission(actor, shared.PermTasksAssign) {
		return shared.ErrForbidden
	}
	t, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if !t.Status.Open() {
		return fmt.Errorf("%w: finished tasks cannot be reassigned", shared.ErrValidation)
	}
	if err := s.checkAssignee(ctx, assigneeID); err != nil {
		return err
	}
	if err := s.repo.Assign(ctx, id, assigneeID); err != nil {
		return err
	}
	s.record(ctx, actor, "task.assign", id, map[string]any{"assignee_id": assigneeID})
	return nil
}

// Start marks a pending task in progress.
func (s *Service) Start(ctx context.Context, actor *rbac.Principal, id int64) error {
	return s.advance(ctx, actor, id, StatusInProgress, StatusPending)
}

// Complete marks an open task done.
func (s *Service) Complete(ctx context.Context, actor *rbac.Principal, id int64) error {
	return s.advance(ctx, actor, id, StatusDone, StatusPending, StatusInProgress)
}

// Cancel withdraws an open task. Only those who assign work may cancel it.
func (s *Service) Cancel(ctx context.Context, actor *rbac.Principal, id int64) error {
	if !rbac.HasPermission(actor, shared.PermTasksAssign) {
		return shared.ErrForbidden
	}
	t, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if !t.Status.Open() {
		return ErrInvalidTransition
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusCancelled, nil); err != nil {
		return err
	}
	s.record(ctx, actor, "task.cancel", id, nil)
	return nil
}

// Overdue lists open tasks past their due date at now. It serves the
// background scan and performs no permission check.
func (s *Service) Overdue(ctx context.Context, now time.Time) ([]Task, error) {
	return s.repo.Overdue(ctx, now)
}

// OpenCounts returns the number of open and overdue tasks assigned to actor.
func (s *Service) OpenCounts(ctx context.Context, actor *rbac.Principal) (open, overdue int, err error) {
	if !rbac.HasPermission(actor, shared.PermTasksView) {
		return 0, 0, shared.ErrForbidden
	}
	return s.repo.CountOpen(ctx, actor.ID, s.now())
}

// advance moves a task to next when its status is one of from. Only the
// assignee may work a task unless the actor oversees all tasks.
func (s *Service) advance(ctx context.Context, actor *rbac.Principal, id int64, next Status, from ...Status) error {
	if !rbac.HasPermission(actor, shared.PermTasksComplete) {
		return shared.ErrForbidden
	}
	t, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if !t.AssignedTo(actor.ID) && !rbac.HasPermission(actor, shared.PermTasksViewAll) {
		return ErrNotAssignee
	}
	allowed := false
	for _, st := range from {
		if t.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidTransition
	}
	var completedAt *time.Time
	if next == StatusDone {
		now := s.now().UTC()
		completedAt = &now
	}
	if err := s.repo.UpdateStatus(ctx, id, next, completedAt); err != nil {
		return err
	}
	s.record(ctx, actor, "task."+string(next), id, map[string]any{"from": string(t.Status)})
	return nil
}

func (s *Service) checkAssignee(ctx context.Context, userID int64) error {
	ok, err := s.repo.IsAssignable(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return shared.FieldErrors{"AssigneeID": "Choose an active technician."}
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor *rbac.Principal, action string, id int64, meta map[string]any) {
	shared.RecordOrLog(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "task",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}
