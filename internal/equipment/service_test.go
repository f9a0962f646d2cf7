package equipment

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
)

type stubRepo struct {
	items  map[int64]Item
	nextID int64
}

func newStubRepo(items ...Item) *stubRepo {
	s := &stubRepo{items: make(map[int64]Item)}
	for _, it := range items {
		s.items[it.ID] = it
		if it.ID > s.nextID {
			s.nextID = it.ID
		}
	}
	return s
}

func (s *stubRepo) tagTaken(tag string, except int64) bool {
	for id, it := range s.items {
		if id != except && strings.EqualFold(it.AssetTag, tag) {
			return true
		}
	}
	return false
}

func (s *stubRepo) List(ctx context.Context, q listing.Query) ([]Item, int, error) {
	var out []Item
	for _, it := range s.items {
		out = append(out, it)
	}
	return out, len(out), nil
}

func (s *stubRepo) Get(ctx context.Context, id int64) (Item, error) {
	it, ok := s.items[id]
	if !ok {
		return Item{}, shared.ErrNotFound
	}
	return it, nil
}

func (s *stubRepo) Create(ctx context.Context, rec Record) (int64, error) {
	if s.tagTaken(rec.AssetTag, 0) {
		return 0, ErrDuplicateTag
	}
	s.nextID++
	s.items[s.nextID] = fromRecord(s.nextID, rec)
	return s.nextID, nil
}

func (s *stubRepo) Update(ctx context.Context, id int64, rec Record) error {
	if _, ok := s.items[id]; !ok {
		return shared.ErrNotFound
	}
	if s.tagTaken(rec.AssetTag, id) {
		return ErrDuplicateTag
	}
	s.items[id] = fromRecord(id, rec)
	return nil
}

func (s *stubRepo) SetStatus(ctx context.Context, id int64, status Status) error {
	it := s.items[id]
	it.Status = status
	s.items[id] = it
	return nil
}

func (s *stubRepo) Options(ctx context.Context) ([]Item, error) {
	var out []Item
	for _, it := range s.items {
		if it.Status != StatusRetired {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *stubRepo) CountByStatus(ctx context.Context) (map[Status]int, error) {
	out := make(map[Status]int)
	for _, it := range s.items {
		out[it.Status]++
	}
	return out, nil
}

func fromRecord(id int64, rec Record) Item {
	return Item{
		ID:           id,
		AssetTag:     rec.AssetTag,
		Name:         rec.Name,
		Category:     rec.Category,
		Department:   rec.Department,
		Location:     rec.Location,
		Status:       rec.Status,
		SerialNumber: rec.SerialNumber,
		PurchasedAt:  rec.PurchasedAt,
		Notes:        rec.Notes,
	}
}

var (
	manager = &rbac.Principal{ID: 1, Role: rbac.RoleManager}
	tech    = &rbac.Principal{ID: 2, Role: rbac.RoleTechnician}
	nurse   = &rbac.Principal{ID: 3, Role: rbac.RoleEndUser}
)

func TestCreateNormalisesAndDefaults(t *testing.T) {
	svc := NewService(newStubRepo(), nil, nil)
	item, err := svc.Create(context.Background(), manager, Input{
		AssetTag:    "  ws-0042 ",
		Name:        "Nursing station PC",
		Category:    "workstation",
		PurchasedAt: "2024-02-01",
	})
	require.NoError(t, err)
	assert.Equal(t, "WS-0042", item.AssetTag)
	assert.Equal(t, StatusInService, item.Status)
	require.NotNil(t, item.PurchasedAt)
	assert.Equal(t, "2024-02-01", item.PurchasedAt.Format("2006-01-02"))
}

func TestCreateRejectsDuplicateTag(t *testing.T) {
	svc := NewService(newStubRepo(Item{ID: 1, AssetTag: "PR-1", Status: StatusInService}), nil, nil)
	_, err := svc.Create(context.Background(), manager, Input{AssetTag: "pr-1", Name: "Printer", Category: "printer"})
	require.Error(t, err)
	assert.Equal(t, "This asset tag is already registered.", shared.FieldErrorsFrom(err)["AssetTag"])
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newStubRepo(), nil, nil)
	_, err := svc.Create(context.Background(), manager, Input{Category: "toaster", PurchasedAt: "2999-01-01", Status: "retired"})
	errs := shared.FieldErrorsFrom(err)
	assert.Contains(t, errs, "AssetTag")
	assert.Contains(t, errs, "Name")
	assert.Contains(t, errs, "Category")
	assert.Contains(t, errs, "Status", "retired is only set through Retire")

	_, err = svc.Create(context.Background(), manager, Input{AssetTag: "X1", Name: "X", Category: "other", PurchasedAt: "2999-01-01"})
	assert.Contains(t, shared.FieldErrorsFrom(err), "PurchasedAt")
}

func TestPermissions(t *testing.T) {
	svc := NewService(newStubRepo(Item{ID: 1, AssetTag: "A", Status: StatusInService}), nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, tech, Input{})
	assert.ErrorIs(t, err, shared.ErrForbidden)
	assert.ErrorIs(t, svc.Retire(ctx, tech, 1), shared.ErrForbidden)
	_, err = svc.List(ctx, nurse, listing.Query{Page: 1, PerPage: 10})
	assert.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Counts(ctx, nurse)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	require.NoError(t, svc.Update(ctx, tech, 1, Input{AssetTag: "A", Name: "Scanner", Category: "medical_device", Status: "under_repair"}))
}

func TestRetire(t *testing.T) {
	repo := newStubRepo(Item{ID: 1, AssetTag: "A", Name: "Old PC", Category: "workstation", Status: StatusInService})
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	require.NoError(t, svc.Retire(ctx, manager, 1))
	assert.Equal(t, StatusRetired, repo.items[1].Status)
	assert.ErrorIs(t, svc.Retire(ctx, manager, 1), ErrRetired)
	assert.ErrorIs(t, svc.Update(ctx, manager, 1, Input{AssetTag: "A", Name: "Old PC", Category: "workstation"}), ErrRetired)

	opts, err := svc.Options(ctx)
	require.NoError(t, err)
	assert.Empty(t, opts)
}
