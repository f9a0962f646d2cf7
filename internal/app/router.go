package app

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hospital-it/helpdesk/internal/auth"
	"github.com/hospital-it/helpdesk/internal/dashboard"
	"github.com/hospital-it/helpdesk/internal/equipment"
	"github.com/hospital-it/helpdesk/internal/observability"
	"github.com/hospital-it/helpdesk/internal/platform/httpx"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/roles"
	"github.com/hospital-it/helpdesk/internal/shared"
	"github.com/hospital-it/helpdesk/internal/tasks"
	"github.com/hospital-it/helpdesk/internal/tickets"
	"github.com/hospital-it/helpdesk/internal/users"
	"github.com/hospital-it/helpdesk/internal/view"
	"github.com/hospital-it/helpdesk/jobs"
	"github.com/hospital-it/helpdesk/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Resolver       *auth.Resolver
	Guard          rbac.Guard
	Metrics        *observability.Metrics

	AuthHandler      *auth.Handler
	AuthAPIHandler   *auth.APIHandler
	DashboardHandler *dashboard.Handler
	UsersHandler     *users.Handler
	RolesHandler     *roles.Handler
	TicketsHandler   *tickets.Handler
	TicketsAPI       *tickets.APIHandler
	TasksHandler     *tasks.Handler
	EquipmentHandler *equipment.Handler
	JobHandler       *jobs.Handler
}

// NewGuard builds the route guard from configuration. The loading placeholder
// is rendered through templates when available.
func NewGuard(cfg *Config, logger *slog.Logger, metrics *observability.Metrics, templates *view.Engine) rbac.Guard {
	g := rbac.Guard{
		Development: cfg.IsDevelopment(),
		Logger:      logger,
	}
	if cfg != nil {
		g.LoginPath = cfg.LoginPath
		g.FallbackPath = cfg.UnauthorizedPath
	}
	if metrics != nil {
		g.Recorder = metrics
	}
	if templates != nil {
		g.Placeholder = loadingHandler(logger, templates)
	}
	return g
}

// APIMiddleware builds the JSON permission middleware sharing the guard's
// logger and decision recorder.
func APIMiddleware(g rbac.Guard) rbac.Middleware {
	return rbac.Middleware{Logger: g.Logger, Recorder: g.Recorder}
}

// NewRouter constructs the chi.Router with helpdesk defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Resolver:       params.Resolver,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/welcome", func(w http.ResponseWriter, r *http.Request) {
		if rbac.PrincipalFromContext(r.Context()) != nil {
			httpx.Redirect(w, r, "/")
			return
		}
		renderPage(w, r, params, http.StatusOK, "pages/landing.html", "IT Helpdesk", nil)
	})

	r.Get("/unauthorized", func(w http.ResponseWriter, r *http.Request) {
		renderPage(w, r, params, http.StatusForbidden, "pages/unauthorized.html", "Access denied", nil)
	})

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.AuthAPIHandler != nil {
		r.Route("/api/auth", params.AuthAPIHandler.MountRoutes)
	}
	if params.TicketsAPI != nil {
		r.Route("/api/tickets", params.TicketsAPI.MountRoutes)
	}

	if params.DashboardHandler != nil {
		params.DashboardHandler.MountRoutes(r)
	}
	if params.UsersHandler != nil {
		r.Route("/users", params.UsersHandler.MountRoutes)
	}
	if params.RolesHandler != nil {
		r.Route("/roles", params.RolesHandler.MountRoutes)
		r.Route("/permissions", params.RolesHandler.MountPermissionRoutes)
	}
	if params.TicketsHandler != nil {
		r.Route("/tickets", params.TicketsHandler.MountRoutes)
	}
	if params.TasksHandler != nil {
		r.Route("/tasks", params.TasksHandler.MountRoutes)
	}
	if params.EquipmentHandler != nil {
		r.Route("/equipment", params.EquipmentHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(params.Guard.Protect(rbac.Route{RequiredRole: rbac.RoleAdmin}))
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

func renderPage(w http.ResponseWriter, r *http.Request, params RouterParams, status int, name, title string, data any) {
	token, _ := params.CSRFManager.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	if err := params.Templates.RenderStatus(w, status, name, view.Page(r, title, token, data)); err != nil {
		params.Logger.Error("render page", slog.String("template", name), slog.Any("error", err))
	}
}

// loadingHandler renders the neutral placeholder shown while the current user
// cannot be resolved. It never redirects.
func loadingHandler(logger *slog.Logger, templates *view.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.Header().Set("Cache-Control", "no-store")
		if err := templates.RenderStatus(w, http.StatusServiceUnavailable, "pages/loading.html", view.Page(r, "Loading", "", nil)); err != nil && logger != nil {
			logger.Error("render loading", slog.Any("error", err))
		}
	})
}

// staticCacheHandler caches embedded assets in the browser for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}

// Directory lists assignees and equipment for ticket and task forms.
type Directory struct {
	People *users.Service
	Assets *equipment.Service
}

// Assignees returns the active technicians, managers and admins.
func (d Directory) Assignees(ctx context.Context) ([]shared.Option, error) {
	list, err := d.People.Technicians(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]shared.Option, 0, len(list))
	for _, u := range list {
		label := u.Username
		if u.Department != "" {
			label += " (" + u.Department + ")"
		}
		out = append(out, shared.Option{ID: u.ID, Label: label})
	}
	return out, nil
}

// Equipment returns the selectable equipment.
func (d Directory) Equipment(ctx context.Context) ([]shared.Option, error) {
	return d.Assets.Options(ctx)
}
