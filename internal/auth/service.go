package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"

	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo  Repository
	group singleflight.Group
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates username-or-email / password credentials.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*User, error) {
	user, err := s.repo.FindByLogin(ctx, login)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsApproved {
		return nil, ErrAccountPending
	}
	return user, nil
}

// RegisterInput is a self-service registration.
type RegisterInput struct {
	Username   string
	Email      string
	Department string
	Password   string
}

// Register creates an end-user account that waits for approval.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if strings.TrimSpace(in.Username) == "" || strings.TrimSpace(in.Email) == "" || len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: username, email and a password of 8+ characters are required", shared.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	return s.repo.Create(ctx, NewUser{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         rbac.RoleEndUser,
		Department:   in.Department,
	})
}

// userLookupTimeout bounds a shared CurrentUser query once it no longer
// follows the context of the caller that started it.
const userLookupTimeout = 5 * time.Second

// CurrentUser loads the account behind a persisted credential. Concurrent
// lookups of the same id share one query. The query runs detached from the
// caller that started it, so that caller going away does not fail the others;
// each caller still stops waiting when its own ctx ends.
func (s *Service) CurrentUser(ctx context.Context, id int64) (*User, error) {
	ch := s.group.DoChan(strconv.FormatInt(id, 10), func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), userLookupTimeout)
		defer cancel()
		return s.lookupUser(lookupCtx, id)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrTransient, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*User), nil
	}
}

func (s *Service) lookupUser(ctx context.Context, id int64) (*User, error) {
	user, err := s.repo.FindByID(ctx, id)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return nil, fmt.Errorf("%w: user %d not found", ErrAuthResolution, id)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	case !user.IsActive:
		return nil, fmt.Errorf("%w: user %d deactivated", ErrAuthResolution, id)
	case !user.IsApproved:
		return nil, fmt.Errorf("%w: user %d not approved", ErrAuthResolution, id)
	}
	return user, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
