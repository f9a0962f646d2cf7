package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
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

const userColumns = `id, username, email, role, department, permissions, is_active, is_approved, created_at, updated_at`

// List returns one page of users and the total number of matches.
func (r *Repository) List(ctx context.Context, q listing.Query) ([]User, int, error) {
	var where listing.Where
	where.Search(q.Search, "username", "email", "department")
	if role := q.Filter("role"); role != "" {
		where.Add("role = ?", role)
	}
	switch q.Filter("status") {
	case StatusPending:
		where.Add("NOT is_approved")
	case StatusInactive:
		where.Add("is_approved AND NOT is_active")
	case StatusActive:
		where.Add("is_approved AND is_active")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where.SQL(), where.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("users: count: %w", err)
	}

	limit, args := where.Paginate(q)
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users`+where.SQL()+` ORDER BY `+q.OrderBy(ListSpec)+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

// Get returns one user.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.ErrNotFound
	}
	return u, err
}

// Approve marks a pending account approved.
func (r *Repository) Approve(ctx context.Context, id int64) error {
	return r.exec(ctx, `UPDATE users SET is_approved = TRUE, updated_at = NOW() WHERE id = $1`, id)
}

// SetRole changes the role of an account.
func (r *Repository) SetRole(ctx context.Context, id int64, role rbac.Role) error {
	return r.exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, id, string(role))
}

// SetActive enables or disables an account.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

// SetPermissions replaces the explicit grants of an account.
func (r *Repository) SetPermissions(ctx context.Context, id int64, perms []string) error {
	return r.exec(ctx, `UPDATE users SET permissions = $2, updated_at = NOW() WHERE id = $1`, id, perms)
}

// ListAssignable returns active, approved accounts holding one of roles,
// ordered by username. Used to fill assignee pickers.
func (r *Repository) ListAssignable(ctx context.Context, roles []rbac.Role) ([]User, error) {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE is_active AND is_approved AND role = ANY($1) ORDER BY LOWER(username)`, names)
	if err != nil {
		return nil, fmt.Errorf("users: assignable: %w", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repository) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u    User
		role string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &role, &u.Department, &u.Permissions,
		&u.IsActive, &u.IsApproved, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	u.Role, _ = rbac.ParseRole(role)
	return u, nil
}
