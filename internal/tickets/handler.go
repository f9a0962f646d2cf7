package tickets

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

// Handler serves the ticket pages.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	directory shared.Directory
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     rbac.Guard
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, directory shared.Directory, templates *view.Engine, csrf *shared.CSRFManager, guard rbac.Guard) *Handler {
	return &Handler{logger: logger, service: service, directory: directory, templates: templates, csrf: csrf, guard: guard}
}

// MountRoutes registers ticket routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermTicketsView}))
		r.Get("/", h.listTickets)
		r.Get("/{id}", h.showTicket)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermTicketsCreate}))
		r.Get("/new", h.newTicket)
		r.Post("/", h.createTicket)
	})
	r.With(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermTicketsUpdate})).Post("/{id}/status", h.changeStatus)
	r.With(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermTicketsAssign})).Post("/{id}/assign", h.assign)
	r.With(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermTicketsComment})).Post("/{id}/comments", h.comment)
}

type listPage struct {
	Page       listing.Page[Ticket]
	Statuses   []Status
	Priorities []Priority
	Categories []string
}

type formPage struct {
	Form       CreateInput
	Errors     map[string]string
	Categories []string
	Priorities []Priority
	Equipment  []shared.Option
}

type showPage struct {
	Ticket    Ticket
	Comments  []Comment
	Next      []Status
	Assignees []shared.Option
	Errors    map[string]string
}

func (h *Handler) listTickets(w http.ResponseWriter, r *http.Request) {
	q := listing.Parse(r.URL.Query(), ListSpec)
	page, err := h.service.List(r.Context(), rbac.PrincipalFromContext(r.Context()), q)
	if err != nil {
		h.logger.Error("list tickets failed", slog.Any("error", err))
		page = listing.Page[Ticket]{Query: q, Pagination: shared.NewPagination(q.Page, q.PerPage, 0)}
		h.flash(r, "danger", shared.UserSafeMessage(err))
	}
	h.render(w, r, "pages/tickets_list.html", "Tickets", listPage{
		Page:       page,
		Statuses:   Statuses(),
		Priorities: Priorities(),
		Categories: Categories(),
	}, http.StatusOK)
}

func (h *Handler) newTicket(w http.ResponseWriter, r *http.Request) {
	form := CreateInput{Priority: string(PriorityMedium), Category: "hardware"}
	if v := r.URL.Query().Get("equipment_id"); v != "" {
		form.EquipmentID, _ = strconv.ParseInt(v, 10, 64)
	}
	h.renderForm(w, r, form, nil, http.StatusOK)
}

func (h *Handler) createTicket(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := CreateInput{
		Title:       r.PostFormValue("title"),
		Description: r.PostFormValue("description"),
		Category:    r.PostFormValue("category"),
		Priority:    r.PostFormValue("priority"),
		Department:  r.PostFormValue("department"),
	}
	form.EquipmentID, _ = strconv.ParseInt(r.PostFormValue("equipment_id"), 10, 64)

	ticket, err := h.service.Create(r.Context(), rbac.PrincipalFromContext(r.Context()), form)
	if err != nil {
		if errs := shared.FieldErrorsFrom(err); errs != nil {
			h.renderForm(w, r, form, errs, http.StatusUnprocessableEntity)
			return
		}
		status := http.StatusInternalServerError
		if errors.Is(err, shared.ErrForbidden) {
			status = http.StatusForbidden
		} else {
			h.logger.Error("create ticket failed", slog.Any("error", err))
		}
		h.renderForm(w, r, form, map[string]string{"general": shared.UserSafeMessage(err)}, status)
		return
	}
	h.redirectWithFlash(w, r, ticketPath(ticket.ID), "success", "Ticket #"+strconv.FormatInt(ticket.ID, 10)+" created.")
}

func (h *Handler) showTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	actor := rbac.PrincipalFromContext(r.Context())
	ticket, comments, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("get ticket failed", slog.Any("error", err))
		http.Error(w, shared.UserSafeMessage(err), http.StatusInternalServerError)
		return
	}
	data := showPage{Ticket: ticket, Comments: comments, Next: NextStatuses(ticket.Status)}
	if rbac.HasPermission(actor, shared.PermTicketsAssign) && h.directory != nil {
		if data.Assignees, err = h.directory.Assignees(r.Context()); err != nil {
			h.logger.Warn("load assignees", slog.Any("error", err))
		}
	}
	h.render(w, r, "pages/tickets_show.html", ticket.Title, data, http.StatusOK)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	err := h.service.ChangeStatus(r.Context(), rbac.PrincipalFromContext(r.Context()), id, r.PostFormValue("status"))
	h.afterMutation(w, r, ticketPath(id), "Status updated.", err)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	assignee, err := strconv.ParseInt(r.PostFormValue("assignee_id"), 10, 64)
	if err != nil || assignee <= 0 {
		h.redirectWithFlash(w, r, ticketPath(id), "danger", "Choose a technician.")
		return
	}
	err = h.service.Assign(r.Context(), rbac.PrincipalFromContext(r.Context()), id, assignee)
	h.afterMutation(w, r, ticketPath(id), "Ticket assigned.", err)
}

func (h *Handler) comment(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	err := h.service.AddComment(r.Context(), rbac.PrincipalFromContext(r.Context()), id, r.PostFormValue("body"))
	if errs := shared.FieldErrorsFrom(err); errs != nil {
		h.redirectWithFlash(w, r, ticketPath(id), "danger", "Comment: "+errs["Body"])
		return
	}
	h.afterMutation(w, r, ticketPath(id)+"#comments", "Comment added.", err)
}

func (h *Handler) afterMutation(w http.ResponseWriter, r *http.Request, location, success string, err error) {
	if err != nil {
		if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrForbidden) && !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("ticket update failed", slog.Any("error", err))
		}
		h.redirectWithFlash(w, r, location, "danger", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, location, "success", success)
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, form CreateInput, errs map[string]string, status int) {
	data := formPage{Form: form, Errors: errs, Categories: Categories(), Priorities: Priorities()}
	if data.Errors == nil {
		data.Errors = map[string]string{}
	}
	if h.directory != nil {
		var err error
		if data.Equipment, err = h.directory.Equipment(r.Context()); err != nil {
			h.logger.Warn("load equipment options", slog.Any("error", err))
		}
	}
	h.render(w, r, "pages/tickets_form.html", "New ticket", data, status)
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

func ticketPath(id int64) string {
	return "/tickets/" + strconv.FormatInt(id, 10)
}

func ticketID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}
