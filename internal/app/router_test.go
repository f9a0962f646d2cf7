package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-it/helpdesk/internal/observability"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
	"github.com/hospital-it/helpdesk/internal/view"
	"github.com/hospital-it/helpdesk/jobs"
	_ "github.com/hospital-it/helpdesk/testing"
)

type routerFixture struct {
	handler http.Handler
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	templates, err := view.NewEngine()
	require.NoError(t, err)

	cfg := &Config{AppEnv: "test", LoginPath: "/auth/login", UnauthorizedPath: "/unauthorized", AppRequestTimeout: 5 * time.Second}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()

	handler := NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		Templates:      templates,
		SessionManager: shared.NewSessionManager(client, "helpdesk_session", "session-secret", time.Hour, false),
		CSRFManager:    shared.NewCSRFManager("csrf-secret"),
		Guard:          NewGuard(cfg, logger, metrics, templates),
		Metrics:        metrics,
		JobHandler:     jobs.NewHandler(nil, logger),
	})
	return routerFixture{handler: handler}
}

// serve runs req through the router with res already resolved, the way the
// auth resolver middleware would leave it.
func (f routerFixture) serve(req *http.Request, res rbac.Resolution) *httptest.ResponseRecorder {
	req = req.WithContext(rbac.ContextWithResolution(req.Context(), res))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthz(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.serve(httptest.NewRequest(http.MethodGet, "/healthz", nil), rbac.Resolution{})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestRouterGuardStates(t *testing.T) {
	f := newRouterFixture(t)
	admin := &rbac.Principal{ID: 1, Username: "admin", Role: rbac.RoleAdmin}
	tech := &rbac.Principal{ID: 2, Username: "tech", Role: rbac.RoleTechnician}

	t.Run("anonymous is sent to login with a return path", func(t *testing.T) {
		rec := f.serve(httptest.NewRequest(http.MethodGet, "/jobs/health", nil), rbac.Resolution{})
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/auth/login?redirect_uri=%2Fjobs%2Fhealth", rec.Header().Get("Location"))
	})

	t.Run("wrong role is sent to the fallback page", func(t *testing.T) {
		rec := f.serve(httptest.NewRequest(http.MethodGet, "/jobs/health", nil), rbac.Resolution{Principal: tech})
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/unauthorized", rec.Header().Get("Location"))
	})

	t.Run("pending resolution renders the placeholder", func(t *testing.T) {
		rec := f.serve(httptest.NewRequest(http.MethodGet, "/jobs/health", nil), rbac.Resolution{Pending: true})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("Retry-After"))
		assert.Empty(t, rec.Header().Get("Location"))
		assert.Contains(t, rec.Body.String(), "Loading your account")
	})

	t.Run("admin reaches the handler", func(t *testing.T) {
		rec := f.serve(httptest.NewRequest(http.MethodGet, "/jobs/health", nil), rbac.Resolution{Principal: admin})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"queues"`)
	})

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil), rbac.Resolution{})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, state := range []string{"loading", "unauthenticated", "authorized", "forbidden"} {
		assert.Contains(t, body, `helpdesk_route_guard_decisions_total{state="`+state+`"} 1`)
	}
}

func TestRouterPublicPages(t *testing.T) {
	f := newRouterFixture(t)
	nurse := &rbac.Principal{ID: 3, Username: "nurse", Role: rbac.RoleEndUser}

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/welcome", nil), rbac.Resolution{})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sign in")

	rec = f.serve(httptest.NewRequest(http.MethodGet, "/welcome", nil), rbac.Resolution{Principal: nurse})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	rec = f.serve(httptest.NewRequest(http.MethodGet, "/unauthorized", nil), rbac.Resolution{Principal: nurse})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "signed in as nurse")
}

func TestRouterStaticAssets(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.serve(httptest.NewRequest(http.MethodGet, "/static/css/app.css", nil), rbac.Resolution{})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/css"))
}

func TestRouterRejectsPostWithoutCSRFToken(t *testing.T) {
	f := newRouterFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/welcome", strings.NewReader("x=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := f.serve(req, rbac.Resolution{})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCSRFExempt(t *testing.T) {
	bearer := httptest.NewRequest(http.MethodPost, "/api/tickets", nil)
	bearer.Header.Set("Authorization", "Bearer abc.def.ghi")
	assert.True(t, csrfExempt(bearer))

	assert.True(t, csrfExempt(httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)))
	assert.False(t, csrfExempt(httptest.NewRequest(http.MethodPost, "/api/tickets", nil)))
	assert.False(t, csrfExempt(httptest.NewRequest(http.MethodPost, "/auth/login", nil)))
}

func TestConfigEnvironmentHelpers(t *testing.T) {
	var nilCfg *Config
	assert.False(t, nilCfg.IsProduction())
	assert.False(t, nilCfg.IsDevelopment())
	assert.True(t, (&Config{AppEnv: "local"}).IsDevelopment())
	assert.True(t, (&Config{AppEnv: "production"}).IsProduction())
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("APP_ENV", "production")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("APP_ENV", "development")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/auth/login", cfg.LoginPath)
	assert.Equal(t, 30*time.Second, cfg.DashboardCacheTTL)
}

func TestTestModeFlag(t *testing.T) {
	assert.True(t, InTestMode())
	// Registered first so it runs after t.Setenv restores the variable.
	t.Cleanup(func() { RefreshTestMode() })
	t.Setenv(testModeEnv, "0")
	assert.False(t, RefreshTestMode())
}
