package users

import (
	"fmt"
	"time"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
)

// User is an account as seen by administrators.
type User struct {
	ID          int64
	Username    string
	Email       string
	Role        rbac.Role
	Department  string
	Permissions []string
	IsActive    bool
	IsApproved  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Status summarises the account flags for display and filtering.
func (u User) Status() string {
	switch {
	case !u.IsApproved:
		return StatusPending
	case !u.IsActive:
		return StatusInactive
	default:
		return StatusActive
	}
}

// Account statuses used by the status filter.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusPending  = "pending"
)

// ListSpec is the data table contract of the user list.
var ListSpec = listing.Spec{
	SortColumns: map[string]string{
		"username":   "LOWER(username)",
		"email":      "LOWER(email)",
		"role":       "role",
		"department": "LOWER(department)",
		"created":    "created_at",
	},
	DefaultSort:    "username",
	DefaultDir:     listing.Asc,
	Filters:        []string{"role", "status"},
	DefaultPerPage: 25,
	MaxPerPage:     100,
}

var (
	// ErrSelfChange blocks administrators from locking themselves out.
	ErrSelfChange = fmt.Errorf("%w: you cannot change your own role or status", shared.ErrValidation)
	// ErrAlreadyApproved is returned when approving an approved account.
	ErrAlreadyApproved = fmt.Errorf("%w: account is already approved", shared.ErrValidation)
)
