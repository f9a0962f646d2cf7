package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hospital-it/helpdesk/internal/platform/httpx"
)

// Middleware enforces permissions on JSON API handlers. Unlike Guard it never
// redirects; it answers with problem details.
type Middleware struct {
	Logger   *slog.Logger
	Recorder DecisionRecorder
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require("any", func(p *Principal) bool {
		return HasAnyPermission(p, normalized...)
	})
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require("all", func(p *Principal) bool {
		return HasAllPermissions(p, normalized...)
	})
}

func (m Middleware) require(mode string, allowed func(*Principal) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := ResolutionFromContext(r.Context())
			var state State
			switch {
			case res.Pending:
				state = StateLoading
				w.Header().Set("Retry-After", "2")
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "user lookup failed, try again")
			case res.Principal == nil:
				state = StateUnauthenticated
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
			case !allowed(res.Principal):
				state = StateForbidden
				if m.Logger != nil {
					m.Logger.Debug("rbac denied",
						slog.String("mode", mode),
						slog.Int64("user_id", res.Principal.ID),
						slog.String("path", r.URL.Path))
				}
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission")
			default:
				state = StateAuthorized
			}
			if m.Recorder != nil {
				m.Recorder.RecordGuardDecision(state.String())
			}
			if state == StateAuthorized {
				next.ServeHTTP(w, r)
			}
		})
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, seen := unique[p]; seen {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
