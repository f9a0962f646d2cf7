package tickets

import (
	"fmt"
	"time"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
)

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusOnHold     Status = "on_hold"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

// Statuses lists statuses in workflow order.
func Statuses() []Status {
	return []Status{StatusOpen, StatusInProgress, StatusOnHold, StatusResolved, StatusClosed}
}

// Label returns the status for display.
func (s Status) Label() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusInProgress:
		return "In progress"
	case StatusOnHold:
		return "On hold"
	case StatusResolved:
		return "Resolved"
	case StatusClosed:
		return "Closed"
	default:
		return string(s)
	}
}

// Priority ranks the urgency of a ticket.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Priorities lists priorities from lowest to highest.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
}

// Categories lists the ticket categories offered on the form.
func Categories() []string {
	return []string{"hardware", "software", "network", "access", "clinical_system", "other"}
}

var transitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress, StatusOnHold, StatusResolved, StatusClosed},
	StatusInProgress: {StatusOnHold, StatusResolved, StatusClosed},
	StatusOnHold:     {StatusInProgress, StatusClosed},
	StatusResolved:   {StatusInProgress, StatusClosed},
	StatusClosed:     {StatusOpen},
}

// NextStatuses returns the statuses reachable from s.
func NextStatuses(s Status) []Status {
	return append([]Status(nil), transitions[s]...)
}

// CanTransition reports whether a ticket may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// needsClose reports whether moving between the statuses requires tickets.close.
func needsClose(from, to Status) bool {
	return to == StatusClosed || from == StatusClosed
}

// ErrInvalidTransition is returned for a status change outside the workflow.
var ErrInvalidTransition = fmt.Errorf("%w: status change not allowed", shared.ErrValidation)

// Ticket is a support request raised by hospital staff.
type Ticket struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Category      string     `json:"category"`
	Priority      Priority   `json:"priority"`
	Status        Status     `json:"status"`
	RequesterID   int64      `json:"requester_id"`
	RequesterName string     `json:"requester"`
	AssigneeID    *int64     `json:"assignee_id,omitempty"`
	AssigneeName  string     `json:"assignee,omitempty"`
	EquipmentID   *int64     `json:"equipment_id,omitempty"`
	EquipmentTag  string     `json:"equipment_tag,omitempty"`
	Department    string     `json:"department"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// AssignedTo reports whether userID is the assignee.
func (t Ticket) AssignedTo(userID int64) bool {
	return t.AssigneeID != nil && *t.AssigneeID == userID
}

// Comment is a note added to a ticket.
type Comment struct {
	ID         int64     `json:"id"`
	TicketID   int64     `json:"ticket_id"`
	AuthorID   int64     `json:"author_id"`
	AuthorName string    `json:"author"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateInput carries the fields of a new ticket.
type CreateInput struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required,max=5000"`
	Category    string `json:"category" validate:"required,oneof=hardware software network access clinical_system other"`
	Priority    string `json:"priority" validate:"required,oneof=low medium high critical"`
	Department  string `json:"department" validate:"max=120"`
	EquipmentID int64  `json:"equipment_id" validate:"gte=0"`
}

// NewTicket is the repository payload for Create.
type NewTicket struct {
	Title       string
	Description string
	Category    string
	Priority    Priority
	RequesterID int64
	EquipmentID *int64
	Department  string
}

// AssignmentNotice carries what the assignment email needs.
type AssignmentNotice struct {
	TicketID      int64
	Title         string
	Priority      Priority
	Department    string
	RequesterName string
	AssigneeName  string
	AssigneeEmail string
}

// Scope restricts ticket visibility. Without All only tickets requested by or
// assigned to UserID are visible.
type Scope struct {
	UserID int64
	All    bool
}

// ScopeFor derives the visibility scope of p.
func ScopeFor(p *rbac.Principal) Scope {
	if p == nil {
		return Scope{}
	}
	return Scope{UserID: p.ID, All: rbac.HasPermission(p, shared.PermTicketsViewAll)}
}

// Key identifies the scope in cache keys.
func (s Scope) Key() string {
	if s.All {
		return "all"
	}
	return fmt.Sprintf("user:%d", s.UserID)
}

// Visible reports whether t falls within the scope.
func (s Scope) Visible(t Ticket) bool {
	return s.All || t.RequesterID == s.UserID || t.AssignedTo(s.UserID)
}

// ListSpec is the data table contract of the ticket list.
var ListSpec = listing.Spec{
	SortColumns: map[string]string{
		"id":       "t.id",
		"title":    "LOWER(t.title)",
		"priority": "CASE t.priority WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END",
		"status":   "t.status",
		"created":  "t.created_at",
		"updated":  "t.updated_at",
	},
	DefaultSort:    "updated",
	DefaultDir:     listing.Desc,
	Filters:        []string{"status", "priority", "category", "assignee"},
	DefaultPerPage: 20,
	MaxPerPage:     100,
	KeyColumn:      "t.id",
}
