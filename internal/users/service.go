package users

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	List(ctx context.Context, q listing.Query) ([]User, int, error)
	Get(ctx context.Context, id int64) (User, error)
	Approve(ctx context.Context, id int64) error
	SetRole(ctx context.Context, id int64, role rbac.Role) error
	SetActive(ctx context.Context, id int64, active bool) error
	SetPermissions(ctx context.Context, id int64, perms []string) error
	ListAssignable(ctx context.Context, roles []rbac.Role) ([]User, error)
}

// Service handles user administration. Every mutation re-checks the actor's
// permissions; the route guard only decides what is shown.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// List returns a page of users.
func (s *Service) List(ctx context.Context, q listing.Query) (listing.Page[User], error) {
	items, total, err := s.repo.List(ctx, q)
	if err != nil {
		return listing.Page[User]{}, err
	}
	return listing.Page[User]{Items: items, Pagination: shared.NewPagination(q.Page, q.PerPage, total), Query: q}, nil
}

// Get returns a user.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

// Technicians lists the accounts tickets and tasks can be assigned to.
func (s *Service) Technicians(ctx context.Context) ([]User, error) {
	return s.repo.ListAssignable(ctx, []rbac.Role{rbac.RoleTechnician, rbac.RoleManager, rbac.RoleAdmin})
}

// Approve activates a pending registration.
func (s *Service) Approve(ctx context.Context, actor *rbac.Principal, id int64) error {
	if !rbac.HasPermission(actor, shared.PermUsersApprove) {
		return shared.ErrForbidden
	}
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if user.IsApproved {
		return ErrAlreadyApproved
	}
	if err := s.repo.Approve(ctx, id); err != nil {
		return fmt.Errorf("users: approve: %w", err)
	}
	s.record(ctx, actor, "user.approve", id, map[string]any{"username": user.Username})
	return nil
}

// ChangeRole assigns a new role.
func (s *Service) ChangeRole(ctx context.Context, actor *rbac.Principal, id int64, raw string) error {
	if !rbac.HasPermission(actor, shared.PermUsersEdit) {
		return shared.ErrForbidden
	}
	role, ok := rbac.ParseRole(raw)
	if !ok {
		return fmt.Errorf("%w: unknown role %q", shared.ErrValidation, raw)
	}
	if actor.ID == id {
		return ErrSelfChange
	}
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if user.Role == role {
		return nil
	}
	if err := s.repo.SetRole(ctx, id, role); err != nil {
		return fmt.Errorf("users: set role: %w", err)
	}
	s.record(ctx, actor, "user.role", id, map[string]any{"from": string(user.Role), "to": string(role)})
	return nil
}

// SetActive enables or disables an account.
func (s *Service) SetActive(ctx context.Context, actor *rbac.Principal, id int64, active bool) error {
	if !rbac.HasPermission(actor, shared.PermUsersEdit) {
		return shared.ErrForbidden
	}
	if actor.ID == id {
		return ErrSelfChange
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return fmt.Errorf("users: set active: %w", err)
	}
	action := "user.deactivate"
	if active {
		action = "user.activate"
	}
	s.record(ctx, actor, action, id, nil)
	return nil
}

// GrantPermissions replaces the explicit grants of an account. Only catalog
// permissions can be granted.
func (s *Service) GrantPermissions(ctx context.Context, actor *rbac.Principal, id int64, perms []string) error {
	if !rbac.HasPermission(actor, shared.PermUsersEdit) {
		return shared.ErrForbidden
	}
	seen := make(map[string]struct{}, len(perms))
	clean := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !rbac.KnownPermission(p) {
			return fmt.Errorf("%w: unknown permission %q", shared.ErrValidation, p)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		clean = append(clean, p)
	}
	sort.Strings(clean)
	if err := s.repo.SetPermissions(ctx, id, clean); err != nil {
		return fmt.Errorf("users: set permissions: %w", err)
	}
	s.record(ctx, actor, "user.permissions", id, map[string]any{"permissions": clean})
	return nil
}

func (s *Service) record(ctx context.Context, actor *rbac.Principal, action string, id int64, meta map[string]any) {
	shared.RecordOrLog(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}
