package equipment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const itemColumns = `id, asset_tag, name, category, department, location, status, serial_number, purchased_at, notes, created_at, updated_at`

// List returns one page of assets and the number of matches.
func (r *Repository) List(ctx context.Context, q listing.Query) ([]Item, int, error) {
	var where listing.Where
	where.Search(q.Search, "asset_tag", "name", "serial_number", "location")
	if v := q.Filter("status"); v != "" {
		where.Add("status = ?", v)
	} else {
		where.Add("status <> ?", string(StatusRetired))
	}
	if v := q.Filter("category"); v != "" {
		where.Add("category = ?", v)
	}
	if v := q.Filter("department"); v != "" {
		where.Add("LOWER(department) = LOWER(?)", v)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM equipment`+where.SQL(), where.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("equipment: count: %w", err)
	}
	limit, args := where.Paginate(q)
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM equipment`+where.SQL()+` ORDER BY `+q.OrderBy(ListSpec)+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("equipment: list: %w", err)
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, it)
	}
	return out, total, rows.Err()
}

// Get returns one asset.
func (r *Repository) Get(ctx context.Context, id int64) (Item, error) {
	it, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM equipment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, shared.ErrNotFound
	}
	return it, err
}

// Create inserts an asset.
func (r *Repository) Create(ctx context.Context, rec Record) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO equipment (asset_tag, name, category, department, location, status, serial_number, purchased_at, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		rec.AssetTag, rec.Name, rec.Category, rec.Department, rec.Location, string(rec.Status), rec.SerialNumber, rec.PurchasedAt, rec.Notes).Scan(&id)
	if err != nil {
		return 0, mapWriteError("create", err)
	}
	return id, nil
}

// Update overwrites the editable fields of an asset.
func (r *Repository) Update(ctx context.Context, id int64, rec Record) error {
	tag, err := r.pool.Exec(ctx, `UPDATE equipment SET asset_tag = $2, name = $3, category = $4, department = $5, location = $6,
status = $7, serial_number = $8, purchased_at = $9, notes = $10, updated_at = NOW() WHERE id = $1`,
		id, rec.AssetTag, rec.Name, rec.Category, rec.Department, rec.Location, string(rec.Status), rec.SerialNumber, rec.PurchasedAt, rec.Notes)
	if err != nil {
		return mapWriteError("update", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetStatus changes the status only.
func (r *Repository) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE equipment SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("equipment: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Options lists assets that are not retired, for select inputs.
func (r *Repository) Options(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM equipment WHERE status <> 'retired' ORDER BY UPPER(asset_tag)`)
	if err != nil {
		return nil, fmt.Errorf("equipment: options: %w", err)
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// CountByStatus counts assets per status.
func (r *Repository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM equipment GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("equipment: count by status: %w", err)
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return ErrDuplicateTag
	}
	return fmt.Errorf("equipment: %s: %w", op, err)
}

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	var status string
	if err := row.Scan(&it.ID, &it.AssetTag, &it.Name, &it.Category, &it.Department, &it.Location,
		&status, &it.SerialNumber, &it.PurchasedAt, &it.Notes, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return Item{}, err
	}
	it.Status = Status(status)
	return it, nil
}
