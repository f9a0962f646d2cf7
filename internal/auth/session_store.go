package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
)

// SessionStore owns the browser credential. The signed-in user is changed only
// through Begin and End; Resolve reads it once per request.
type SessionStore struct {
	logger   *slog.Logger
	service  *Service
	sessions *shared.SessionManager
	csrf     *shared.CSRFManager
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{logger: logger, service: service, sessions: sessions, csrf: csrf}
}

// Begin binds user to sess after a successful login. The session id and the
// CSRF token are rotated so a pre-login identifier cannot be reused.
func (s *SessionStore) Begin(ctx context.Context, sess *shared.Session, user *User, ip, ua string) error {
	if sess == nil {
		return errors.New("auth: session missing")
	}
	if user == nil {
		return errors.New("auth: user missing")
	}
	s.sessions.Rotate(sess)
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	s.csrf.Rotate(sess)

	expiresAt := time.Now().Add(s.sessions.TTL())
	if err := s.service.RegisterSession(ctx, sess.ID, user.ID, expiresAt, ip, ua); err != nil {
		s.logger.Warn("register session", slog.Any("error", err))
	}
	return nil
}

// End signs the user out. The database record is removed on a best effort
// basis; the local session is destroyed regardless.
func (s *SessionStore) End(ctx context.Context, sess *shared.Session) {
	if sess == nil {
		return
	}
	if sess.User() != "" {
		if err := s.service.RemoveSession(ctx, sess.ID); err != nil {
			s.logger.Warn("remove session", slog.Any("error", err))
		}
	}
	s.sessions.Destroy(sess)
}

// Resolve maps the session to a principal. A credential that no longer
// resolves is dropped; a failed lookup leaves it in place and reports Pending.
func (s *SessionStore) Resolve(ctx context.Context, sess *shared.Session) (rbac.Resolution, *User) {
	if sess == nil || sess.Destroyed() {
		return rbac.Resolution{}, nil
	}
	raw := sess.User()
	if raw == "" {
		return rbac.Resolution{}, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Warn("session user id", slog.String("value", raw))
		sess.ClearUser()
		return rbac.Resolution{Err: ErrAuthResolution}, nil
	}

	user, err := s.service.CurrentUser(ctx, id)
	switch {
	case err == nil:
		return rbac.Resolution{Principal: user.Principal()}, user
	case errors.Is(err, ErrAuthResolution):
		s.logger.Info("session dropped", slog.Int64("user_id", id), slog.Any("error", err))
		if rmErr := s.service.RemoveSession(ctx, sess.ID); rmErr != nil {
			s.logger.Warn("remove session", slog.Any("error", rmErr))
		}
		sess.ClearUser()
		s.csrf.Rotate(sess)
		sess.AddFlash(shared.FlashMessage{Kind: "warning", Message: "Your session has ended. Please sign in again."})
		return rbac.Resolution{Err: err}, nil
	default:
		s.logger.Error("resolve session user", slog.Int64("user_id", id), slog.Any("error", err))
		return rbac.Resolution{Pending: true, Err: err}, nil
	}
}
