package roles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
	"github.com/hospital-it/helpdesk/internal/view"
)

// Handler serves the role and permission reference pages.
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

// MountRoutes registers /roles.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermRolesView})).Get("/", h.listRoles)
}

// MountPermissionRoutes registers /permissions.
func (h *Handler) MountPermissionRoutes(r chi.Router) {
	r.With(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermPermissionsView})).Get("/", h.listPermissions)
}

type permissionsPage struct {
	Rows       listing.Page[PermissionRow]
	Categories []string
	Roles      []rbac.Role
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.service.Summaries(r.Context())
	status := http.StatusOK
	if err != nil {
		h.logger.Error("list roles failed", slog.Any("error", err))
		status = http.StatusInternalServerError
	}
	h.render(w, r, "pages/roles_list.html", "Roles", map[string]any{"Roles": summaries, "Error": shared.UserSafeMessage(err)}, status)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	q := listing.Parse(r.URL.Query(), PermissionSpec)
	h.render(w, r, "pages/permissions_list.html", "Permissions", permissionsPage{
		Rows:       h.service.Permissions(q),
		Categories: h.service.Categories(),
		Roles:      rbac.Roles(),
	}, http.StatusOK)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data any, status int) {
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	if err := h.templates.RenderStatus(w, status, template, view.Page(r, title, csrfToken, data)); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}
