package tickets

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/platform/httpx"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
)

// IdempotencyKeys guards API creates carrying an Idempotency-Key header.
type IdempotencyKeys interface {
	Claim(ctx context.Context, userID int64, scope, key string) error
	Release(ctx context.Context, userID int64, scope, key string) error
}

const idempotencyScope = "tickets.create"

// APIHandler exposes tickets to bearer clients.
type APIHandler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	keys    IdempotencyKeys
}

// NewAPIHandler constructs an APIHandler.
func NewAPIHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *APIHandler {
	return &APIHandler{logger: logger, service: service, rbac: mw}
}

// WithIdempotency makes POST /api/tickets honour the Idempotency-Key header.
func (h *APIHandler) WithIdempotency(keys IdempotencyKeys) *APIHandler {
	h.keys = keys
	return h
}

// MountRoutes registers /api/tickets routes.
func (h *APIHandler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermTicketsView, shared.PermTicketsViewAll)).Get("/", h.list)
	r.With(h.rbac.RequireAny(shared.PermTicketsView, shared.PermTicketsViewAll)).Get("/{id}", h.show)
	r.With(h.rbac.RequireAll(shared.PermTicketsCreate)).Post("/", h.create)
}

type listResponse struct {
	Items      []Ticket          `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

type showResponse struct {
	Ticket   Ticket    `json:"ticket"`
	Comments []Comment `json:"comments"`
}

func (h *APIHandler) list(w http.ResponseWriter, r *http.Request) {
	q := listing.Parse(r.URL.Query(), ListSpec)
	page, err := h.service.List(r.Context(), rbac.PrincipalFromContext(r.Context()), q)
	if err != nil {
		h.fail(w, err)
		return
	}
	items := page.Items
	if items == nil {
		items = []Ticket{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Pagination: page.Pagination})
}

func (h *APIHandler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(r)
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown ticket")
		return
	}
	ticket, comments, err := h.service.Get(r.Context(), rbac.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if comments == nil {
		comments = []Comment{}
	}
	httpx.JSON(w, http.StatusOK, showResponse{Ticket: ticket, Comments: comments})
}

func (h *APIHandler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	principal := rbac.PrincipalFromContext(r.Context())
	key := r.Header.Get("Idempotency-Key")
	if h.keys != nil && key != "" {
		if err := h.keys.Claim(r.Context(), principal.ID, idempotencyScope, key); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Conflict", "a ticket was already created with this Idempotency-Key")
				return
			}
			h.fail(w, err)
			return
		}
	}
	ticket, err := h.service.Create(r.Context(), principal, in)
	if err != nil {
		if h.keys != nil && key != "" {
			if relErr := h.keys.Release(r.Context(), principal.ID, idempotencyScope, key); relErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", relErr))
			}
		}
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ticket)
}

func (h *APIHandler) fail(w http.ResponseWriter, err error) {
	if errs := shared.FieldErrorsFrom(err); errs != nil {
		httpx.JSON(w, http.StatusUnprocessableEntity, map[string]any{"title": "Validation Failed", "status": http.StatusUnprocessableEntity, "errors": errs})
		return
	}
	if !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrForbidden) && !errors.Is(err, shared.ErrValidation) {
		h.logger.Error("ticket api", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
