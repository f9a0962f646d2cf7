package tickets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/platform/db"
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

const ticketSelect = `SELECT t.id, t.title, t.description, t.category, t.priority, t.status,
	t.requester_id, COALESCE(req.username, ''), t.assignee_id, COALESCE(asg.username, ''),
	t.equipment_id, COALESCE(eq.asset_tag, ''), t.department, t.created_at, t.updated_at, t.resolved_at
FROM tickets t
LEFT JOIN users req ON req.id = t.requester_id
LEFT JOIN users asg ON asg.id = t.assignee_id
LEFT JOIN equipment eq ON eq.id = t.equipment_id`

func scopeWhere(where *listing.Where, scope Scope) {
	if !scope.All {
		where.Add("(t.requester_id = ? OR t.assignee_id = ?)", scope.UserID, scope.UserID)
	}
}

// List returns one page of visible tickets and the number of matches.
func (r *Repository) List(ctx context.Context, q listing.Query, scope Scope) ([]Ticket, int, error) {
	var where listing.Where
	scopeWhere(&where, scope)
	where.Search(q.Search, "t.title", "t.description", "t.department")
	if v := q.Filter("status"); v != "" {
		where.Add("t.status = ?", v)
	}
	if v := q.Filter("priority"); v != "" {
		where.Add("t.priority = ?", v)
	}
	if v := q.Filter("category"); v != "" {
		where.Add("t.category = ?", v)
	}
	switch v := q.Filter("assignee"); v {
	case "":
	case "none":
		where.Add("t.assignee_id IS NULL")
	default:
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			where.Add("t.assignee_id = ?", id)
		}
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets t`+where.SQL(), where.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("tickets: count: %w", err)
	}
	limit, args := where.Paginate(q)
	rows, err := r.pool.Query(ctx, ticketSelect+where.SQL()+` ORDER BY `+q.OrderBy(ListSpec)+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("tickets: list: %w", err)
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// Get returns one ticket.
func (r *Repository) Get(ctx context.Context, id int64) (Ticket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx, ticketSelect+` WHERE t.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Ticket{}, shared.ErrNotFound
	}
	return t, err
}

// Create inserts a ticket and returns its id.
func (r *Repository) Create(ctx context.Context, in NewTicket) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO tickets (title, description, category, priority, requester_id, equipment_id, department)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		in.Title, in.Description, in.Category, string(in.Priority), in.RequesterID, in.EquipmentID, in.Department).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("tickets: create: %w", err)
	}
	return id, nil
}

// UpdateStatus moves a ticket to status. resolvedAt is stored as given.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status Status, resolvedAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tickets SET status = $2, resolved_at = $3, updated_at = NOW() WHERE id = $1`, id, string(status), resolvedAt)
	if err != nil {
		return fmt.Errorf("tickets: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Assign sets the assignee.
func (r *Repository) Assign(ctx context.Context, id, assigneeID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tickets SET assignee_id = $2, updated_at = NOW() WHERE id = $1`, id, assigneeID)
	if err != nil {
		return fmt.Errorf("tickets: assign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// AddComment stores a comment.
func (r *Repository) AddComment(ctx context.Context, ticketID, authorID int64, body string) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO ticket_comments (ticket_id, author_id, body) VALUES ($1, $2, $3)`, ticketID, authorID, body); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE tickets SET updated_at = NOW() WHERE id = $1`, ticketID)
		return err
	})
	if err != nil {
		return fmt.Errorf("tickets: add comment: %w", err)
	}
	return nil
}

// Comments lists the comments of a ticket, oldest first.
func (r *Repository) Comments(ctx context.Context, ticketID int64) ([]Comment, error) {
	rows, err := r.pool.Query(ctx, `SELECT c.id, c.ticket_id, c.author_id, COALESCE(u.username, ''), c.body, c.created_at
FROM ticket_comments c LEFT JOIN users u ON u.id = c.author_id
WHERE c.ticket_id = $1 ORDER BY c.created_at, c.id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("tickets: comments: %w", err)
	}
	defer rows.Close()
	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.TicketID, &c.AuthorID, &c.AuthorName, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// IsAssignable reports whether userID is an active technician, manager or administrator.
func (r *Repository) IsAssignable(ctx context.Context, userID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND is_active AND is_approved
AND role IN ('technician', 'manager', 'admin'))`, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("tickets: assignable: %w", err)
	}
	return ok, nil
}

// CountByStatus counts visible tickets per status.
func (r *Repository) CountByStatus(ctx context.Context, scope Scope) (map[Status]int, error) {
	var where listing.Where
	scopeWhere(&where, scope)
	rows, err := r.pool.Query(ctx, `SELECT t.status, COUNT(*) FROM tickets t`+where.SQL()+` GROUP BY t.status`, where.Args()...)
	if err != nil {
		return nil, fmt.Errorf("tickets: count by status: %w", err)
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

// AssignmentNotice loads the data of the assignment email.
func (r *Repository) AssignmentNotice(ctx context.Context, id int64) (AssignmentNotice, error) {
	var n AssignmentNotice
	var priority string
	err := r.pool.QueryRow(ctx, `SELECT t.id, t.title, t.priority, t.department, COALESCE(req.username, ''), asg.username, asg.email
FROM tickets t
JOIN users asg ON asg.id = t.assignee_id
LEFT JOIN users req ON req.id = t.requester_id
WHERE t.id = $1`, id).Scan(&n.TicketID, &n.Title, &priority, &n.Department, &n.RequesterName, &n.AssigneeName, &n.AssigneeEmail)
	if errors.Is(err, pgx.ErrNoRows) {
		return AssignmentNotice{}, shared.ErrNotFound
	}
	if err != nil {
		return AssignmentNotice{}, fmt.Errorf("tickets: assignment notice: %w", err)
	}
	n.Priority = Priority(priority)
	return n, nil
}

func scanTicket(row pgx.Row) (Ticket, error) {
	var t Ticket
	var priority, status string
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Category, &priority, &status,
		&t.RequesterID, &t.RequesterName, &t.AssigneeID, &t.AssigneeName,
		&t.EquipmentID, &t.EquipmentTag, &t.Department, &t.CreatedAt, &t.UpdatedAt, &t.ResolvedAt); err != nil {
		return Ticket{}, err
	}
	t.Priority = Priority(priority)
	t.Status = Status(status)
	return t, nil
}
