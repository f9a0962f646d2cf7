package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
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

const taskSelect = `SELECT k.id, k.title, k.description, k.ticket_id, k.assignee_id,
	COALESCE(u.username, ''), COALESCE(u.email, ''), k.status, k.due_at, k.created_by,
	k.created_at, k.updated_at, k.completed_at
FROM tasks k
LEFT JOIN users u ON u.id = k.assignee_id`

func scopeWhere(where *listing.Where, scope Scope) {
	if !scope.All {
		where.Add("(k.assignee_id = ? OR k.created_by = ?)", scope.UserID, scope.UserID)
	}
}

// List returns one page of visible tasks and the number of matches.
func (r *Repository) List(ctx context.Context, q listing.Query, scope Scope, now time.Time) ([]Task, int, error) {
	var where listing.Where
	scopeWhere(&where, scope)
	where.Search(q.Search, "k.title", "k.description")
	if v := q.Filter("status"); v != "" {
		where.Add("k.status = ?", v)
	}
	if q.Filter("overdue") == "1" {
		where.Add("k.status IN ('pending', 'in_progress') AND k.due_at < ?", now)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks k`+where.SQL(), where.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("tasks: count: %w", err)
	}
	limit, args := where.Paginate(q)
	rows, err := r.pool.Query(ctx, taskSelect+where.SQL()+` ORDER BY `+q.OrderBy(ListSpec)+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("tasks: list: %w", err)
	}
	defer rows.Close()
	out, err := collectTasks(rows)
	return out, total, err
}

// Get returns one task.
func (r *Repository) Get(ctx context.Context, id int64) (Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, taskSelect+` WHERE k.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, shared.ErrNotFound
	}
	return t, err
}

// Create inserts a task and returns its id.
func (r *Repository) Create(ctx context.Context, in NewTask) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO tasks (title, description, ticket_id, assignee_id, due_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		in.Title, in.Description, in.TicketID, in.AssigneeID, in.DueAt, in.CreatedBy).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("tasks: create: %w", err)
	}
	return id, nil
}

// Assign sets the assignee.
func (r *Repository) Assign(ctx context.Context, id, assigneeID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tasks SET assignee_id = $2, updated_at = NOW() WHERE id = $1`, id, assigneeID)
	if err != nil {
		return fmt.Errorf("tasks: assign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UpdateStatus stores a new status and completion time.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status Status, completedAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tasks SET status = $2, completed_at = $3, updated_at = NOW() WHERE id = $1`, id, string(status), completedAt)
	if err != nil {
		return fmt.Errorf("tasks: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// IsAssignable reports whether userID is an active technician, manager or administrator.
func (r *Repository) IsAssignable(ctx context.Context, userID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND is_active AND is_approved
AND role IN ('technician', 'manager', 'admin'))`, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("tasks: assignable: %w", err)
	}
	return ok, nil
}

// Overdue lists open tasks due before now, oldest first.
func (r *Repository) Overdue(ctx context.Context, now time.Time) ([]Task, error) {
	rows, err := r.pool.Query(ctx, taskSelect+` WHERE k.status IN ('pending', 'in_progress') AND k.due_at < $1 ORDER BY k.due_at, k.id`, now)
	if err != nil {
		return nil, fmt.Errorf("tasks: overdue: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// CountOpen counts open tasks assigned to userID and how many are overdue.
func (r *Repository) CountOpen(ctx context.Context, userID int64, now time.Time) (open, overdue int, err error) {
	err = r.pool.QueryRow(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE due_at < $2)
FROM tasks WHERE assignee_id = $1 AND status IN ('pending', 'in_progress')`, userID, now).Scan(&open, &overdue)
	if err != nil {
		return 0, 0, fmt.Errorf("tasks: count open: %w", err)
	}
	return open, overdue, nil
}

func collectTasks(rows pgx.Rows) ([]Task, error) {
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	var status string
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.TicketID, &t.AssigneeID,
		&t.AssigneeName, &t.AssigneeEmail, &status, &t.DueAt, &t.CreatedBy,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt); err != nil {
		return Task{}, err
	}
	t.Status = Status(status)
	return t, nil
}
