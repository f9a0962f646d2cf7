package dashboard

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
	"github.com/hospital-it/helpdesk/internal/view"
)

// Handler serves the landing page.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     rbac.Guard
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, guard rbac.Guard) *Handler {
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, guard: guard}
}

// MountRoutes registers the dashboard on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermDashboardView})).Get("/", h.show)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context(), rbac.PrincipalFromContext(r.Context()))
	data := map[string]any{"Summary": summary, "Error": ""}
	if err != nil {
		h.logger.Error("dashboard summary", slog.Any("error", err))
		data["Error"] = shared.UserSafeMessage(err)
	}
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	if err := h.templates.Render(w, "pages/dashboard.html", view.Page(r, "Dashboard", csrfToken, data)); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}
