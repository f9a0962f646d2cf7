package tasks

import (
	"fmt"
	"time"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
)

// Status is the progress of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists task statuses in workflow order.
func Statuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusDone, StatusCancelled}
}

// Open reports whether work on the task is outstanding.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusInProgress
}

// Task is a unit of technician work, optionally attached to a ticket.
type Task struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	TicketID      *int64     `json:"ticket_id,omitempty"`
	AssigneeID    *int64     `json:"assignee_id,omitempty"`
	AssigneeName  string     `json:"assignee,omitempty"`
	AssigneeEmail string     `json:"-"`
	Status        Status     `json:"status"`
	DueAt         *time.Time `json:"due_at,omitempty"`
	CreatedBy     int64      `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// AssignedTo reports whether userID is the assignee.
func (t Task) AssignedTo(userID int64) bool {
	return t.AssigneeID != nil && *t.AssigneeID == userID
}

// OverdueAt reports whether the task is open and past due at now.
func (t Task) OverdueAt(now time.Time) bool {
	return t.Status.Open() && t.DueAt != nil && t.DueAt.Before(now)
}

// CreateInput carries the fields of a new task.
type CreateInput struct {
	Title       string `validate:"required,max=200"`
	Description string `validate:"max=5000"`
	TicketID    int64  `validate:"gte=0"`
	AssigneeID  int64  `validate:"gte=0"`
	DueAt       string `validate:"omitempty,datetime=2006-01-02"`
}

// NewTask is the repository payload for Create.
type NewTask struct {
	Title       string
	Description string
	TicketID    *int64
	AssigneeID  *int64
	DueAt       *time.Time
	CreatedBy   int64
}

// Scope restricts task visibility to the assignee or creator unless All.
type Scope struct {
	UserID int64
	All    bool
}

// ScopeFor derives the visibility scope of p.
func ScopeFor(p *rbac.Principal) Scope {
	if p == nil {
		return Scope{}
	}
	return Scope{UserID: p.ID, All: rbac.HasPermission(p, shared.PermTasksViewAll)}
}

// Visible reports whether t falls within the scope.
func (s Scope) Visible(t Task) bool {
	return s.All || t.AssignedTo(s.UserID) || t.CreatedBy == s.UserID
}

// ErrNotAssignee blocks work on a task assigned to someone else.
var ErrNotAssignee = fmt.Errorf("%w: only the assignee can work on this task", shared.ErrForbidden)

// ErrInvalidTransition is returned for a status change outside the workflow.
var ErrInvalidTransition = fmt.Errorf("%w: status change not allowed", shared.ErrValidation)

// ListSpec is the data table contract of the task list.
var ListSpec = listing.Spec{
	SortColumns: map[string]string{
		"title":   "LOWER(k.title)",
		"status":  "k.status",
		"due":     "k.due_at",
		"created": "k.created_at",
	},
	DefaultSort:    "due",
	DefaultDir:     listing.Asc,
	Filters:        []string{"status", "overdue"},
	DefaultPerPage: 20,
	MaxPerPage:     100,
	KeyColumn:      "k.id",
}
