package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/hospital-it/helpdesk/internal/platform/httpx"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
)

// APIHandler serves the JSON authentication endpoints used by bearer clients.
type APIHandler struct {
	logger    *slog.Logger
	service   *Service
	tokens    *TokenIssuer
	validator *validator.Validate
	limiter   func(http.Handler) http.Handler
}

// NewAPIHandler constructs an APIHandler.
func NewAPIHandler(logger *slog.Logger, service *Service, tokens *TokenIssuer) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{
		logger:    logger,
		service:   service,
		tokens:    tokens,
		validator: validator.New(),
		limiter:   httprate.LimitByIP(10, time.Minute),
	}
}

// MountRoutes registers /api/auth routes.
func (h *APIHandler) MountRoutes(r chi.Router) {
	r.With(h.limiter).Post("/login", h.login)
	r.Get("/me", h.me)
	r.Post("/logout", h.logout)
}

type loginRequest struct {
	Login    string `json:"login" validate:"required,min=3,max=120"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginResponse struct {
	User      UserView  `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *APIHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	req.Login = strings.TrimSpace(req.Login)
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "login and password are required")
		return
	}
	user, err := h.service.Authenticate(r.Context(), req.Login, req.Password)
	if err != nil {
		detail := shared.UserSafeMessage(shared.ErrInvalidCredentials)
		if errors.Is(err, ErrAccountPending) {
			detail = "account awaiting approval"
		}
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", detail)
		return
	}
	token, expiresAt, err := h.tokens.Issue(user)
	if err != nil {
		h.logger.Error("issue token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, loginResponse{User: NewUserView(user), Token: token, ExpiresAt: expiresAt})
}

func (h *APIHandler) me(w http.ResponseWriter, r *http.Request) {
	res := rbac.ResolutionFromContext(r.Context())
	if res.Pending {
		w.Header().Set("Retry-After", "2")
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "user lookup failed, try again")
		return
	}
	user := UserFromContext(r.Context())
	if user == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	httpx.JSON(w, http.StatusOK, NewUserView(user))
}

// logout always succeeds for the client; revocation is best effort.
func (h *APIHandler) logout(w http.ResponseWriter, r *http.Request) {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		if err := h.tokens.Revoke(r.Context(), claims); err != nil {
			h.logger.Warn("revoke token", slog.Any("error", err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
