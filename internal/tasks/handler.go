package tasks

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
	"github.com/hospital-it/helpdesk/internal/view"
)

// Handler serves the task pages.
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

// MountRoutes registers task routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermTasksView}))
		r.Get("/", h.listTasks)
		r.Get("/{id}", h.showTask)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermTasksCreate}))
		r.Get("/new", h.newTask)
		r.Post("/", h.createTask)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermTasksComplete}))
		r.Post("/{id}/start", h.startTask)
		r.Post("/{id}/complete", h.completeTask)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Protect(rbac.Route{RequiredPermission: shared.PermTasksAssign}))
		r.Post("/{id}/assign", h.assignTask)
		r.Post("/{id}/cancel", h.cancelTask)
	})
}

type listPage struct {
	Page     listing.Page[Task]
	Statuses []Status
	Now      time.Time
}

type formPage struct {
	Form      CreateInput
	Errors    map[string]string
	Assignees []shared.Option
}

type showPage struct {
	Task      Task
	Now       time.Time
	Assignees []shared.Option
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	q := listing.Parse(r.URL.Query(), ListSpec)
	page, err := h.service.List(r.Context(), rbac.PrincipalFromContext(r.Context()), q)
	if err != nil {
		h.logger.Error("list tasks failed", slog.Any("error", err))
		page = listing.Page[Task]{Query: q, Pagination: shared.NewPagination(q.Page, q.PerPage, 0)}
		h.flash(r, "danger", shared.UserSafeMessage(err))
	}
	h.render(w, r, "pages/tasks_list.html", "Tasks", listPage{Page: page, Statuses: Statuses(), Now: time.Now()}, http.StatusOK)
}

func (h *Handler) showTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	actor := rbac.PrincipalFromContext(r.Context())
	task, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("get task failed", slog.Any("error", err))
		http.Error(w, shared.UserSafeMessage(err), http.StatusInternalServerError)
		return
	}
	data := showPage{Task: task, Now: time.Now()}
	if rbac.HasPermission(actor, shared.PermTasksAssign) && h.directory != nil {
		if data.Assignees, err = h.directory.Assignees(r.Context()); err != nil {
			h.logger.Warn("load assignees", slog.Any("error", err))
		}
	}
	h.render(w, r, "pages/tasks_show.html", task.Title, data, http.StatusOK)
}

func (h *Handler) newTask(w http.ResponseWriter, r *http.Request) {
	form := CreateInput{}
	form.TicketID, _ = strconv.ParseInt(r.URL.Query().Get("ticket_id"), 10, 64)
	h.renderForm(w, r, form, nil, http.StatusOK)
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := CreateInput{
		Title:       r.PostFormValue("title"),
		Description: r.PostFormValue("description"),
		DueAt:       r.PostFormValue("due_at"),
	}
	form.TicketID, _ = strconv.ParseInt(r.PostFormValue("ticket_id"), 10, 64)
	form.AssigneeID, _ = strconv.ParseInt(r.PostFormValue("assignee_id"), 10, 64)

	task, err := h.service.Create(r.Context(), rbac.PrincipalFromContext(r.Context()), form)
	if err != nil {
		if errs := shared.FieldErrorsFrom(err); errs != nil {
			h.renderForm(w, r, form, errs, http.StatusUnprocessableEntity)
			return
		}
		status := http.StatusInternalServerError
		if errors.Is(err, shared.ErrForbidden) {
			status = http.StatusForbidden
		} else {
			h.logger.Error("create task failed", slog.Any("error", err))
		}
		h.renderForm(w, r, form, map[string]string{"general": shared.UserSafeMessage(err)}, status)
		return
	}
	h.redirectWithFlash(w, r, taskPath(task.ID), "success", "Task created.")
}

func (h *Handler) startTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Start, "Task started.")
}

func (h *Handler) completeTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Complete, "Task completed.")
}

func (h *Handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel, "Task cancelled.")
}

func (h *Handler) assignTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	assignee, _ := strconv.ParseInt(r.PostFormValue("assignee_id"), 10, 64)
	err := h.service.Assign(r.Context(), rbac.PrincipalFromContext(r.Context()), id, assignee)
	if errs := shared.FieldErrorsFrom(err); errs != nil {
		h.redirectWithFlash(w, r, taskPath(id), "danger", errs["AssigneeID"])
		return
	}
	h.afterMutation(w, r, taskPath(id), "Task assigned.", err)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actor *rbac.Principal, id int64) error, success string) {
	id, ok := taskID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	err := fn(r.Context(), rbac.PrincipalFromContext(r.Context()), id)
	h.afterMutation(w, r, taskPath(id), success, err)
}

func (h *Handler) afterMutation(w http.ResponseWriter, r *http.Request, location, success string, err error) {
	if err != nil {
		if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrForbidden) && !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("task update failed", slog.Any("error", err))
		}
		h.redirectWithFlash(w, r, location, "danger", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, location, "success", success)
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, form CreateInput, errs map[string]string, status int) {
	data := formPage{Form: form, Errors: errs}
	if data.Errors == nil {
		data.Errors = map[string]string{}
	}
	if rbac.HasPermission(rbac.PrincipalFromContext(r.Context()), shared.PermTasksAssign) && h.directory != nil {
		var err error
		if data.Assignees, err = h.directory.Assignees(r.Context()); err != nil {
			h.logger.Warn("load assignees", slog.Any("error", err))
		}
	}
	h.render(w, r, "pages/tasks_form.html", "New task", data, status)
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

func taskPath(id int64) string {
	return "/tasks/" + strconv.FormatInt(id, 10)
}

func taskID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}
