package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
	"github.com/hospital-it/helpdesk/internal/view"
)

// Handler manages user management endpoints.
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

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermUsersView}))
		r.Get("/", h.listUsers)
		r.Get("/{id}", h.showUser)
	})
	r.With(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermUsersApprove})).Post("/{id}/approve", h.approveUser)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermUsersEdit}))
		r.Post("/{id}/role", h.changeRole)
		r.Post("/{id}/active", h.setActive)
		r.Post("/{id}/permissions", h.grantPermissions)
	})
}

type listPage struct {
	Page     listing.Page[User]
	Roles    []rbac.Role
	Statuses []string
}

type detailPage struct {
	User    User
	Roles   []rbac.Role
	Catalog []rbac.PermissionGroup
	Granted map[string]bool
	Implied map[string]bool
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := listing.Parse(r.URL.Query(), ListSpec)
	page, err := h.service.List(r.Context(), q)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		page = listing.Page[User]{Query: q, Pagination: shared.NewPagination(q.Page, q.PerPage, 0)}
		h.flash(r, "danger", shared.UserSafeMessage(err))
	}
	h.render(w, r, "pages/users_list.html", "Users", listPage{
		Page:     page,
		Roles:    rbac.Roles(),
		Statuses: []string{StatusActive, StatusInactive, StatusPending},
	}, http.StatusOK)
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("get user failed", slog.Any("error", err))
		http.Error(w, shared.UserSafeMessage(err), http.StatusInternalServerError)
		return
	}
	granted := make(map[string]bool, len(user.Permissions))
	for _, p := range user.Permissions {
		granted[p] = true
	}
	implied := make(map[string]bool)
	for _, p := range rbac.RolePermissions(user.Role) {
		implied[p] = true
	}
	h.render(w, r, "pages/users_show.html", user.Username, detailPage{
		User:    user,
		Roles:   rbac.Roles(),
		Catalog: rbac.CatalogByCategory(),
		Granted: granted,
		Implied: implied,
	}, http.StatusOK)
}

func (h *Handler) approveUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	err := h.service.Approve(r.Context(), rbac.PrincipalFromContext(r.Context()), id)
	h.afterMutation(w, r, "/users?status=pending", "Account approved.", err)
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	err := h.service.ChangeRole(r.Context(), rbac.PrincipalFromContext(r.Context()), id, r.PostFormValue("role"))
	h.afterMutation(w, r, "/users/"+strconv.FormatInt(id, 10), "Role updated.", err)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	active := r.PostFormValue("active") == "true"
	msg := "Account deactivated."
	if active {
		msg = "Account activated."
	}
	err := h.service.SetActive(r.Context(), rbac.PrincipalFromContext(r.Context()), id, active)
	h.afterMutation(w, r, "/users/"+strconv.FormatInt(id, 10), msg, err)
}

func (h *Handler) grantPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	err := h.service.GrantPermissions(r.Context(), rbac.PrincipalFromContext(r.Context()), id, r.PostForm["permissions"])
	h.afterMutation(w, r, "/users/"+strconv.FormatInt(id, 10), "Permissions updated.", err)
}

func (h *Handler) afterMutation(w http.ResponseWriter, r *http.Request, location, success string, err error) {
	if err != nil {
		if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrForbidden) && !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("user update failed", slog.Any("error", err))
		}
		h.redirectWithFlash(w, r, location, "danger", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, location, "success", success)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data any, status int) {
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	if err := h.templates.RenderStatus(w, status, template, view.Page(r, title, csrfToken, data)); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}

func (h *Handler) flash(r *http.Request, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	h.flash(r, kind, message)
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func userID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}
