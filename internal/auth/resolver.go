package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
)

// Resolver attaches the rbac.Resolution of the current user to every request.
// Requests carrying a bearer token are resolved from the token, everything
// else from the session cookie.
type Resolver struct {
	logger  *slog.Logger
	store   *SessionStore
	tokens  *TokenIssuer
	service *Service
}

// NewResolver constructs a Resolver. tokens may be nil to disable bearer auth.
func NewResolver(logger *slog.Logger, store *SessionStore, tokens *TokenIssuer, service *Service) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger, store: store, tokens: tokens, service: service}
}

// Middleware resolves the user and stores the outcome in the request context.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var (
			resolution rbac.Resolution
			user       *User
		)
		if raw := BearerToken(r); raw != "" && res.tokens != nil {
			var claims *Claims
			resolution, user, claims = res.resolveBearer(r, raw)
			if claims != nil {
				ctx = contextWithClaims(ctx, claims)
			}
			if errors.Is(resolution.Err, ErrAuthResolution) {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			}
		} else {
			resolution, user = res.store.Resolve(ctx, shared.SessionFromContext(ctx))
		}
		ctx = rbac.ContextWithResolution(ctx, resolution)
		if user != nil {
			ctx = ContextWithUser(ctx, user)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (res *Resolver) resolveBearer(r *http.Request, raw string) (rbac.Resolution, *User, *Claims) {
	claims, err := res.tokens.Parse(r.Context(), raw)
	if err != nil {
		if errors.Is(err, ErrTransient) {
			res.logger.Error("verify bearer token", slog.Any("error", err))
			return rbac.Resolution{Pending: true, Err: err}, nil, nil
		}
		res.logger.Debug("bearer token rejected", slog.Any("error", err))
		return rbac.Resolution{Err: err}, nil, nil
	}
	id, _ := claims.UserID()
	user, err := res.service.CurrentUser(r.Context(), id)
	switch {
	case err == nil:
		return rbac.Resolution{Principal: user.Principal()}, user, claims
	case errors.Is(err, ErrAuthResolution):
		return rbac.Resolution{Err: err}, nil, nil
	default:
		res.logger.Error("resolve token user", slog.Int64("user_id", id), slog.Any("error", err))
		return rbac.Resolution{Pending: true, Err: err}, nil, claims
	}
}
