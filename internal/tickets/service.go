package tickets

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

// RepositoryPort defines data access methods for tickets.
type RepositoryPort interface {
	List(ctx context.Context, q listing.Query, scope Scope) ([]Ticket, int, error)
	Get(ctx context.Context, id int64) (Ticket, error)
	Create(ctx context.Context, in NewTicket) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status Status, resolvedAt *time.Time) error
	Assign(ctx context.Context, id, assigneeID int64) error
	AddComment(ctx context.Context, ticketID, authorID int64, body string) error
	Comments(ctx context.Context, ticketID int64) ([]Comment, error)
	IsAssignable(ctx context.Context, userID int64) (bool, error)
	CountByStatus(ctx context.Context, scope Scope) (map[Status]int, error)
}

// Notifier is told about assignments. Implementations enqueue emails.
type Notifier interface {
	NotifyTicketAssigned(ctx context.Context, ticketID int64) error
}

type nopNotifier struct{}

func (nopNotifier) NotifyTicketAssigned(context.Context, int64) error { return nil }

// Service implements the ticket workflow. Every operation checks the actor's
// permissions and visibility itself.
type Service struct {
	repo      RepositoryPort
	audit     shared.AuditRecorder
	notifier  Notifier
	logger    *slog.Logger
	validator *validator.Validate
	now       func() time.Time
}

// NewService builds Service instance. Nil collaborators are replaced by no-ops.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, notifier Notifier, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		audit:     audit,
		notifier:  notifier,
		logger:    logger,
		validator: validator.New(),
		now:       time.Now,
	}
}

// List returns a page of tickets visible to actor.
func (s *Service) List(ctx context.Context, actor *rbac.Principal, q listing.Query) (listing.Page[Ticket], error) {
	if !rbac.HasPermission(actor, shared.PermTicketsView) {
		return listing.Page[Ticket]{}, shared.ErrForbidden
	}
	items, total, err := s.repo.List(ctx, q, ScopeFor(actor))
	if err != nil {
		return listing.Page[Ticket]{}, err
	}
	return listing.Page[Ticket]{Items: items, Pagination: shared.NewPagination(q.Page, q.PerPage, total), Query: q}, nil
}

// Get returns a ticket with its comments. Tickets outside the actor's scope
// are reported as not found.
func (s *Service) Get(ctx context.Context, actor *rbac.Principal, id int64) (Ticket, []Comment, error) {
	t, err := s.visible(ctx, actor, id)
	if err != nil {
		return Ticket{}, nil, err
	}
	comments, err := s.repo.Comments(ctx, id)
	if err != nil {
		return Ticket{}, nil, err
	}
	return t, comments, nil
}

// Create opens a ticket on behalf of actor.
func (s *Service) Create(ctx context.Context, actor *rbac.Principal, in CreateInput) (Ticket, error) {
	if !rbac.HasPermission(actor, shared.PermTicketsCreate) {
		return Ticket{}, shared.ErrForbidden
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Department = strings.TrimSpace(in.Department)
	if err := shared.Validate(s.validator, in); err != nil {
		return Ticket{}, err
	}
	nt := NewTicket{
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Priority:    Priority(in.Priority),
		RequesterID: actor.ID,
		Department:  in.Department,
	}
	if in.EquipmentID > 0 {
		eq := in.EquipmentID
		nt.EquipmentID = &eq
	}
	id, err := s.repo.Create(ctx, nt)
	if err != nil {
		return Ticket{}, err
	}
	s.record(ctx, actor, "ticket.create", id, map[string]any{"priority": in.Priority})
	return s.repo.Get(ctx, id)
}

// Assign hands a ticket to a technician and queues the notification.
func (s *Service) Assign(ctx context.Context, actor *rbac.Principal, id, assigneeID int64) error {
	if !rbac.HasPermission(actor, shared.PermTicketsAssign) {
		return shared.ErrForbidden
	}
	t, err := s.visible(ctx, actor, id)
	if err != nil {
		return err
	}
	if t.Status == StatusClosed {
		return fmt.Errorf("%w: closed tickets cannot be reassigned", shared.ErrValidation)
	}
	if t.AssignedTo(assigneeID) {
		return nil
	}
	ok, err := s.repo.IsAssignable(ctx, assigneeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: choose an active technician", shared.ErrValidation)
	}
	if err := s.repo.Assign(ctx, id, assigneeID); err != nil {
		return err
	}
	s.record(ctx, actor, "ticket.assign", id, map[string]any{"assignee_id": assigneeID})
	if err := s.notifier.NotifyTicketAssigned(ctx, id); err != nil {
		s.logger.Warn("queue assignment notification", slog.Int64("ticket_id", id), slog.Any("error", err))
	}
	return nil
}

// ChangeStatus moves a ticket through the workflow. Closing or reopening a
// closed ticket requires tickets.close.
func (s *Service) ChangeStatus(ctx context.Context, actor *rbac.Principal, id int64, raw string) error {
	if !rbac.HasPermission(actor, shared.PermTicketsUpdate) {
		return shared.ErrForbidden
	}
	to := Status(strings.TrimSpace(raw))
	t, err := s.visible(ctx, actor, id)
	if err != nil {
		return err
	}
	if t.Status == to {
		return nil
	}
	if !CanTransition(t.Status, to) {
		return ErrInvalidTransition
	}
	if needsClose(t.Status, to) && !rbac.HasPermission(actor, shared.PermTicketsClose) {
		return shared.ErrForbidden
	}
	resolvedAt := t.ResolvedAt
	switch to {
	case StatusResolved, StatusClosed:
		if resolvedAt == nil {
			now := s.now().UTC()
			resolvedAt = &now
		}
	default:
		resolvedAt = nil
	}
	if err := s.repo.UpdateStatus(ctx, id, to, resolvedAt); err != nil {
		return err
	}
	s.record(ctx, actor, "ticket.status", id, map[string]any{"from": string(t.Status), "to": string(to)})
	return nil
}

// AddComment appends a note to a visible ticket.
func (s *Service) AddComment(ctx context.Context, actor *rbac.Principal, id int64, body string) error {
	if !rbac.HasPermission(actor, shared.PermTicketsComment) {
		return shared.ErrForbidden
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return shared.FieldErrors{"Body": "This field is required."}
	}
	if len(body) > 5000 {
		return shared.FieldErrors{"Body": "Must be at most 5000 characters."}
	}
	t, err := s.visible(ctx, actor, id)
	if err != nil {
		return err
	}
	if t.Status == StatusClosed {
		return fmt.Errorf("%w: closed tickets do not accept comments", shared.ErrValidation)
	}
	return s.repo.AddComment(ctx, id, actor.ID, body)
}

// Counts returns ticket counts per status within actor's scope.
func (s *Service) Counts(ctx context.Context, actor *rbac.Principal) (map[Status]int, error) {
	if !rbac.HasPermission(actor, shared.PermTicketsView) {
		return nil, shared.ErrForbidden
	}
	return s.repo.CountByStatus(ctx, ScopeFor(actor))
}

func (s *Service) visible(ctx context.Context, actor *rbac.Principal, id int64) (Ticket, error) {
	if !rbac.HasPermission(actor, shared.PermTicketsView) {
		return Ticket{}, shared.ErrForbidden
	}
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Ticket{}, err
	}
	if !ScopeFor(actor).Visible(t) {
		return Ticket{}, shared.ErrNotFound
	}
	return t, nil
}

func (s *Service) record(ctx context.Context, actor *rbac.Principal, action string, id int64, meta map[string]any) {
	shared.RecordOrLog(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "ticket",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}
