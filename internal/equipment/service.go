package equipment

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
)

// RepositoryPort defines data access methods for the inventory.
type RepositoryPort interface {
	List(ctx context.Context, q listing.Query) ([]Item, int, error)
	Get(ctx context.Context, id int64) (Item, error)
	Create(ctx context.Context, rec Record) (int64, error)
	Update(ctx context.Context, id int64, rec Record) error
	SetStatus(ctx context.Context, id int64, status Status) error
	Options(ctx context.Context) ([]Item, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// Service maintains the equipment inventory.
type Service struct {
	repo      RepositoryPort
	audit     shared.AuditRecorder
	logger    *slog.Logger
	validator *validator.Validate
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, validator: validator.New()}
}

// List returns a page of assets.
func (s *Service) List(ctx context.Context, actor *rbac.Principal, q listing.Query) (listing.Page[Item], error) {
	if !rbac.HasPermission(actor, shared.PermEquipmentView) {
		return listing.Page[Item]{}, shared.ErrForbidden
	}
	items, total, err := s.repo.List(ctx, q)
	if err != nil {
		return listing.Page[Item]{}, err
	}
	return listing.Page[Item]{Items: items, Pagination: shared.NewPagination(q.Page, q.PerPage, total), Query: q}, nil
}

// Get returns one asset.
func (s *Service) Get(ctx context.Context, actor *rbac.Principal, id int64) (Item, error) {
	if !rbac.HasPermission(actor, shared.PermEquipmentView) {
		return Item{}, shared.ErrForbidden
	}
	return s.repo.Get(ctx, id)
}

// Create registers an asset. A duplicate asset tag is reported on the
// AssetTag field.
func (s *Service) Create(ctx context.Context, actor *rbac.Principal, in Input) (Item, error) {
	if !rbac.HasPermission(actor, shared.PermEquipmentCreate) {
		return Item{}, shared.ErrForbidden
	}
	rec, err := s.record(in)
	if err != nil {
		return Item{}, err
	}
	id, err := s.repo.Create(ctx, rec)
	if err != nil {
		return Item{}, duplicateAsField(err)
	}
	s.audited(ctx, actor, "equipment.create", id, map[string]any{"asset_tag": rec.AssetTag})
	return s.repo.Get(ctx, id)
}

// Update edits an asset that is not retired.
func (s *Service) Update(ctx context.Context, actor *rbac.Principal, id int64, in Input) error {
	if !rbac.HasPermission(actor, shared.PermEquipmentEdit) {
		return shared.ErrForbidden
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == StatusRetired {
		return ErrRetired
	}
	rec, err := s.record(in)
	if err != nil {
		return err
	}
	if err := s.repo.Update(ctx, id, rec); err != nil {
		return duplicateAsField(err)
	}
	s.audited(ctx, actor, "equipment.update", id, nil)
	return nil
}

// Retire takes an asset out of the inventory for good.
func (s *Service) Retire(ctx context.Context, actor *rbac.Principal, id int64) error {
	if !rbac.HasPermission(actor, shared.PermEquipmentRetire) {
		return shared.ErrForbidden
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == StatusRetired {
		return ErrRetired
	}
	if err := s.repo.SetStatus(ctx, id, StatusRetired); err != nil {
		return err
	}
	s.audited(ctx, actor, "equipment.retire", id, map[string]any{"asset_tag": current.AssetTag})
	return nil
}

// Options lists assets a ticket can refer to.
func (s *Service) Options(ctx context.Context) ([]shared.Option, error) {
	items, err := s.repo.Options(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]shared.Option, 0, len(items))
	for _, it := range items {
		out = append(out, shared.Option{ID: it.ID, Label: it.AssetTag + " · " + it.Name})
	}
	return out, nil
}

// Counts returns the number of assets per status.
func (s *Service) Counts(ctx context.Context, actor *rbac.Principal) (map[Status]int, error) {
	if !rbac.HasPermission(actor, shared.PermEquipmentView) {
		return nil, shared.ErrForbidden
	}
	return s.repo.CountByStatus(ctx)
}

func (s *Service) record(in Input) (Record, error) {
	in.AssetTag = strings.ToUpper(strings.TrimSpace(in.AssetTag))
	in.Name = strings.TrimSpace(in.Name)
	in.Department = strings.TrimSpace(in.Department)
	in.Location = strings.TrimSpace(in.Location)
	in.SerialNumber = strings.TrimSpace(in.SerialNumber)
	in.PurchasedAt = strings.TrimSpace(in.PurchasedAt)
	in.Notes = strings.TrimSpace(in.Notes)
	if err := shared.Validate(s.validator, in); err != nil {
		return Record{}, err
	}
	rec := Record{
		AssetTag:     in.AssetTag,
		Name:         in.Name,
		Category:     in.Category,
		Department:   in.Department,
		Location:     in.Location,
		Status:       Status(in.Status),
		SerialNumber: in.SerialNumber,
		Notes:        in.Notes,
	}
	if rec.Status == "" {
		rec.Status = StatusInService
	}
	if in.PurchasedAt != "" {
		at, _ := time.Parse("2006-01-02", in.PurchasedAt)
		if at.After(time.Now()) {
			return Record{}, shared.FieldErrors{"PurchasedAt": "The purchase date cannot be in the future."}
		}
		rec.PurchasedAt = &at
	}
	return rec, nil
}

func duplicateAsField(err error) error {
	if errors.Is(err, ErrDuplicateTag) {
		return shared.FieldErrors{"AssetTag": "This asset tag is already registered."}
	}
	return err
}

func (s *Service) audited(ctx context.Context, actor *rbac.Principal, action string, id int64, meta map[string]any) {
	shared.RecordOrLog(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "equipment",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}
