package equipment

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

// Handler serves the inventory pages.
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

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermEquipmentCreate}))
		r.Get("/new", h.newItem)
		r.Post("/", h.createItem)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermEquipmentView}))
		r.Get("/", h.listItems)
		r.Get("/{id}", h.showItem)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermEquipmentEdit}))
		r.Get("/{id}/edit", h.editItem)
		r.Post("/{id}", h.updateItem)
	})
	r.With(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermEquipmentRetire})).Post("/{id}/retire", h.retireItem)
}

type listPage struct {
	Page       listing.Page[Item]
	Statuses   []Status
	Categories []string
}

type formPage struct {
	ID         int64
	Form       Input
	Errors     map[string]string
	Statuses   []Status
	Categories []string
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	q := listing.Parse(r.URL.Query(), ListSpec)
	page, err := h.service.List(r.Context(), rbac.PrincipalFromContext(r.Context()), q)
	if err != nil {
		h.logger.Error("list equipment failed", slog.Any("error", err))
		page = listing.Page[Item]{Query: q, Pagination: shared.NewPagination(q.Page, q.PerPage, 0)}
		h.flash(r, "danger", shared.UserSafeMessage(err))
	}
	h.render(w, r, "pages/equipment_list.html", "Equipment", listPage{Page: page, Statuses: Statuses(), Categories: Categories()}, http.StatusOK)
}

func (h *Handler) showItem(w http.ResponseWriter, r *http.Request) {
	item, ok := h.load(w, r)
	if !ok {
		return
	}
	h.render(w, r, "pages/equipment_show.html", item.AssetTag, item, http.StatusOK)
}

func (h *Handler) newItem(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, 0, Input{Category: "workstation", Status: string(StatusInService)}, nil, http.StatusOK)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := formInput(r)
	item, err := h.service.Create(r.Context(), rbac.PrincipalFromContext(r.Context()), form)
	if err != nil {
		h.formFailed(w, r, 0, form, err)
		return
	}
	h.redirectWithFlash(w, r, itemPath(item.ID), "success", item.AssetTag+" registered.")
}

func (h *Handler) editItem(w http.ResponseWriter, r *http.Request) {
	item, ok := h.load(w, r)
	if !ok {
		return
	}
	if item.Status == StatusRetired {
		h.redirectWithFlash(w, r, itemPath(item.ID), "warning", shared.UserSafeMessage(ErrRetired))
		return
	}
	h.renderForm(w, r, item.ID, InputFrom(item), nil, http.StatusOK)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := formInput(r)
	if err := h.service.Update(r.Context(), rbac.PrincipalFromContext(r.Context()), id, form); err != nil {
		if errors.Is(err, ErrRetired) || errors.Is(err, shared.ErrNotFound) {
			h.redirectWithFlash(w, r, itemPath(id), "danger", shared.UserSafeMessage(err))
			return
		}
		h.formFailed(w, r, id, form, err)
		return
	}
	h.redirectWithFlash(w, r, itemPath(id), "success", "Equipment updated.")
}

func (h *Handler) retireItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := h.service.Retire(r.Context(), rbac.PrincipalFromContext(r.Context()), id); err != nil {
		if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrForbidden) {
			h.logger.Error("retire equipment failed", slog.Any("error", err))
		}
		h.redirectWithFlash(w, r, itemPath(id), "danger", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/equipment", "success", "Equipment retired.")
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (Item, bool) {
	id, ok := itemID(r)
	if !ok {
		http.NotFound(w, r)
		return Item{}, false
	}
	item, err := h.service.Get(r.Context(), rbac.PrincipalFromContext(r.Context()), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			http.NotFound(w, r)
			return Item{}, false
		}
		h.logger.Error("get equipment failed", slog.Any("error", err))
		http.Error(w, shared.UserSafeMessage(err), http.StatusInternalServerError)
		return Item{}, false
	}
	return item, true
}

func (h *Handler) formFailed(w http.ResponseWriter, r *http.Request, id int64, form Input, err error) {
	if errs := shared.FieldErrorsFrom(err); errs != nil {
		h.renderForm(w, r, id, form, errs, http.StatusUnprocessableEntity)
		return
	}
	status := http.StatusInternalServerError
	if errors.Is(err, shared.ErrForbidden) {
		status = http.StatusForbidden
	} else {
		h.logger.Error("save equipment failed", slog.Any("error", err))
	}
	h.renderForm(w, r, id, form, map[string]string{"general": shared.UserSafeMessage(err)}, status)
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, id int64, form Input, errs map[string]string, status int) {
	if errs == nil {
		errs = map[string]string{}
	}
	title := "New equipment"
	if id > 0 {
		title = "Edit " + form.AssetTag
	}
	h.render(w, r, "pages/equipment_form.html", title, formPage{
		ID:         id,
		Form:       form,
		Errors:     errs,
		Statuses:   EditableStatuses(),
		Categories: Categories(),
	}, status)
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

func formInput(r *http.Request) Input {
	return Input{
		AssetTag:     r.PostFormValue("asset_tag"),
		Name:         r.PostFormValue("name"),
		Category:     r.PostFormValue("category"),
		Department:   r.PostFormValue("department"),
		Location:     r.PostFormValue("location"),
		Status:       r.PostFormValue("status"),
		SerialNumber: r.PostFormValue("serial_number"),
		PurchasedAt:  r.PostFormValue("purchased_at"),
		Notes:        r.PostFormValue("notes"),
	}
}

func itemPath(id int64) string {
	return "/equipment/" + strconv.FormatInt(id, 10)
}

func itemID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}
