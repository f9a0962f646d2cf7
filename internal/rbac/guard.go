package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hospital-it/helpdesk/internal/platform/httpx"
)

// DefaultLoginPath and DefaultFallbackPath are used when a Guard leaves the
// corresponding field empty.
const (
	DefaultLoginPath    = "/auth/login"
	DefaultFallbackPath = "/unauthorized"
)

// ErrRouteConfiguration marks a guarded route without a usable requirement.
var ErrRouteConfiguration = errors.New("rbac: route configuration")

// State is the outcome of a guard evaluation.
type State int

const (
	StateLoading State = iota
	StateUnauthenticated
	StateAuthorized
	StateForbidden
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthorized:
		return "authorized"
	case StateForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of resolving the current user for a request.
// Pending means the user store could not answer yet; the session is kept and
// the caller should retry.
type Resolution struct {
	Pending   bool
	Principal *Principal
	Err       error
}

type resolutionKey struct{}

// ContextWithResolution stores res in ctx.
func ContextWithResolution(ctx context.Context, res Resolution) context.Context {
	return context.WithValue(ctx, resolutionKey{}, res)
}

// ResolutionFromContext returns the resolution stored in ctx. Without one the
// request is treated as settled and anonymous.
func ResolutionFromContext(ctx context.Context) Resolution {
	if ctx == nil {
		return Resolution{}
	}
	res, _ := ctx.Value(resolutionKey{}).(Resolution)
	return res
}

// PrincipalFromContext returns the resolved principal or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	res := ResolutionFromContext(ctx)
	if res.Pending {
		return nil
	}
	return res.Principal
}

// Route declares what a page requires. At most one requirement is expected;
// when several are set all of them must hold.
type Route struct {
	RequiredRole       Role
	RequiredPermission string
	RequiredAnyRole    []Role
	FallbackPath       string
}

// Validate reports a route with no requirement or more than one.
func (rt Route) Validate() error {
	n := 0
	if normalizeRole(rt.RequiredRole) != "" {
		n++
	}
	if normalizePermission(rt.RequiredPermission) != "" {
		n++
	}
	if len(rt.RequiredAnyRole) > 0 {
		n++
	}
	switch {
	case n == 0:
		return fmt.Errorf("%w: no requirement, any signed-in user is admitted", ErrRouteConfiguration)
	case n > 1:
		return fmt.Errorf("%w: %d requirements declared, all are enforced", ErrRouteConfiguration, n)
	}
	for _, role := range rt.RequiredAnyRole {
		if !normalizeRole(role).Valid() {
			return fmt.Errorf("%w: unknown role %q", ErrRouteConfiguration, role)
		}
	}
	if rt.RequiredRole != "" && !normalizeRole(rt.RequiredRole).Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrRouteConfiguration, rt.RequiredRole)
	}
	return nil
}

// Decision is what the guard does with a request.
type Decision struct {
	State    State
	Redirect string
	// Failed names the requirement that denied access.
	Failed string
}

// DecisionRecorder receives one call per guarded request.
type DecisionRecorder interface {
	RecordGuardDecision(state string)
}

// Guard gates page handlers. It only shapes navigation: handlers and services
// check permissions again before acting.
type Guard struct {
	LoginPath    string
	FallbackPath string
	Development  bool
	Logger       *slog.Logger
	Recorder     DecisionRecorder
	// Placeholder renders the Loading state. A bare 503 is used when nil.
	Placeholder http.Handler
}

// Decide evaluates rt against res without side effects.
func (g Guard) Decide(res Resolution, rt Route) Decision {
	if res.Pending {
		return Decision{State: StateLoading}
	}
	p := res.Principal
	if p == nil {
		return Decision{State: StateUnauthenticated, Redirect: g.loginPath()}
	}
	if role := normalizeRole(rt.RequiredRole); role != "" && !HasRole(p, role) {
		return g.forbid(rt, "role:"+string(role))
	}
	if perm := normalizePermission(rt.RequiredPermission); perm != "" && !HasPermission(p, perm) {
		return g.forbid(rt, "permission:"+perm)
	}
	if len(rt.RequiredAnyRole) > 0 && !HasAnyRole(p, rt.RequiredAnyRole...) {
		return g.forbid(rt, "any_role:"+joinRoles(rt.RequiredAnyRole))
	}
	return Decision{State: StateAuthorized}
}

// Protect returns middleware enforcing rt.
func (g Guard) Protect(rt Route) func(http.Handler) http.Handler {
	if g.Development && g.Logger != nil {
		if err := rt.Validate(); err != nil {
			g.Logger.Warn("route guard configuration", slog.Any("error", err))
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.Decide(ResolutionFromContext(r.Context()), rt)
			if g.Recorder != nil {
				g.Recorder.RecordGuardDecision(d.State.String())
			}
			switch d.State {
			case StateAuthorized:
				next.ServeHTTP(w, r)
			case StateLoading:
				g.renderLoading(w, r)
			case StateUnauthenticated:
				httpx.Redirect(w, r, loginTarget(d.Redirect, r))
			default:
				if g.Logger != nil {
					g.Logger.Debug("route guard denied",
						slog.String("path", r.URL.Path),
						slog.String("requirement", d.Failed))
				}
				httpx.Redirect(w, r, d.Redirect)
			}
		})
	}
}

func (g Guard) renderLoading(w http.ResponseWriter, r *http.Request) {
	if g.Placeholder != nil {
		g.Placeholder.ServeHTTP(w, r)
		return
	}
	w.Header().Set("Retry-After", "2")
	w.Header().Set("Cache-Control", "no-store")
	http.Error(w, "Loading, please try again shortly.", http.StatusServiceUnavailable)
}

func (g Guard) forbid(rt Route, failed string) Decision {
	target := httpx.SafeRedirectPath(rt.FallbackPath)
	if target == "" {
		target = httpx.SafeRedirectPath(g.FallbackPath)
	}
	if target == "" {
		target = DefaultFallbackPath
	}
	return Decision{State: StateForbidden, Redirect: target, Failed: failed}
}

func (g Guard) loginPath() string {
	if path := httpx.SafeRedirectPath(g.LoginPath); path != "" {
		return path
	}
	return DefaultLoginPath
}

// loginTarget appends the location login should send the user back to. Only
// a page the browser can load again with GET qualifies. For htmx requests that
// is the page they were issued from; a plain form post uses its same-host
// Referer. Without either the user gets plain login.
func loginTarget(login string, r *http.Request) string {
	var back string
	switch {
	case httpx.IsHTMX(r):
		back = pagePath(r.Header.Get("HX-Current-URL"), "")
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		back = r.URL.RequestURI()
	default:
		back = pagePath(r.Referer(), r.Host)
	}
	back = httpx.SafeRedirectPath(back)
	if back == "" || back == "/" {
		return login
	}
	return login + "?redirect_uri=" + url.QueryEscape(back)
}

// pagePath reduces a browser-supplied URL to its path and query. A non-empty
// host rejects absolute URLs pointing elsewhere.
func pagePath(raw, host string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if host != "" && u.Host != "" && !strings.EqualFold(u.Host, host) {
		return ""
	}
	return u.RequestURI()
}

func joinRoles(roles []Role) string {
	parts := make([]string, 0, len(roles))
	for _, r := range roles {
		parts = append(parts, string(normalizeRole(r)))
	}
	return strings.Join(parts, ",")
}
