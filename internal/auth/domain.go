package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
)

var (
	// ErrAuthResolution means the persisted credential no longer maps to a
	// usable account. The credential is dropped and the caller is anonymous.
	ErrAuthResolution = errors.New("auth: credential no longer valid")
	// ErrTransient means the user store could not be reached. The credential
	// is kept and the request should be retried.
	ErrTransient = errors.New("auth: user lookup unavailable")
	// ErrAccountPending is returned on login before an administrator approved the account.
	ErrAccountPending = fmt.Errorf("%w: account awaiting approval", shared.ErrInvalidCredentials)
)

// User represents a helpdesk account.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         rbac.Role
	Department   string
	Permissions  []string
	IsActive     bool
	IsApproved   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal returns the evaluator snapshot of the user.
func (u *User) Principal() *rbac.Principal {
	if u == nil {
		return nil
	}
	perms := make([]string, len(u.Permissions))
	copy(perms, u.Permissions)
	return &rbac.Principal{ID: u.ID, Username: u.Username, Role: u.Role, Permissions: perms}
}

// NewUser carries the fields needed to create an account.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	Role         rbac.Role
	Department   string
	IsApproved   bool
}

// UserView is the JSON shape of a user.
type UserView struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	RoleName    string   `json:"role_name"`
	Department  string   `json:"department"`
	Permissions []string `json:"permissions"`
	IsActive    bool     `json:"is_active"`
	IsApproved  bool     `json:"is_approved"`
}

// NewUserView renders u for API clients, with the effective permission set.
func NewUserView(u *User) UserView {
	return UserView{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Role:        string(u.Role),
		RoleName:    rbac.RoleDisplayName(u.Role),
		Department:  u.Department,
		Permissions: rbac.EffectivePermissions(u.Principal()),
		IsActive:    u.IsActive,
		IsApproved:  u.IsApproved,
	}
}
