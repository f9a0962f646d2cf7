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
	"github.com/hospital-it/helpdesk/internal/view"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	store       *SessionStore
	templates   *view.Engine
	csrfManager *shared.CSRFManager
	validator   *validator.Validate
	limiter     func(http.Handler) http.Handler
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, store *SessionStore, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		store:       store,
		templates:   templates,
		csrfManager: csrf,
		validator:   validator.New(),
		limiter:     httprate.LimitByIP(10, time.Minute),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.With(h.limiter).Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/register", h.showRegister)
	r.With(h.limiter).Post("/register", h.handleRegister)
}

type loginForm struct {
	Login       string `validate:"required,min=3,max=120"`
	Password    string `validate:"required,min=8,max=72"`
	RedirectURI string
}

type registerForm struct {
	Username   string `validate:"required,alphanum,min=3,max=40"`
	Email      string `validate:"required,email,max=120"`
	Department string `validate:"required,max=80"`
	Password   string `validate:"required,min=8,max=72"`
	Confirm    string `validate:"required,eqfield=Password"`
}

type formPageData[T any] struct {
	Form   T
	Errors map[string]string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	target := httpx.SafeRedirectPath(r.URL.Query().Get("redirect_uri"))
	if rbac.PrincipalFromContext(r.Context()) != nil {
		if target == "" {
			target = "/"
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	h.renderLogin(w, r, http.StatusOK, loginForm{RedirectURI: target}, nil)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	form := loginForm{
		Login:       strings.TrimSpace(r.PostFormValue("login")),
		Password:    r.PostFormValue("password"),
		RedirectURI: httpx.SafeRedirectPath(r.PostFormValue("redirect_uri")),
	}
	errs := fieldErrors(h.validator.Struct(form))
	if len(errs) == 0 {
		user, err := h.service.Authenticate(r.Context(), form.Login, form.Password)
		switch {
		case errors.Is(err, ErrAccountPending):
			errs["general"] = "Your account is waiting for approval by an administrator."
		case err != nil:
			errs["general"] = shared.UserSafeMessage(shared.ErrInvalidCredentials)
		default:
			if err := h.store.Begin(r.Context(), sess, user, r.RemoteAddr, r.UserAgent()); err != nil {
				h.logger.Error("begin session", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back, " + user.Username + "."})
			target := form.RedirectURI
			if target == "" {
				target = "/"
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}
	}
	form.Password = ""
	h.renderLogin(w, r, http.StatusBadRequest, form, errs)
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, status int, form loginForm, errs map[string]string) {
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	data := view.Page(r, "Sign in", csrfToken, formPageData[loginForm]{Form: form, Errors: errs})
	if err := h.templates.RenderStatus(w, status, "pages/login.html", data); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
	}
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.store.End(r.Context(), shared.SessionFromContext(r.Context()))
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

func (h *Handler) showRegister(w http.ResponseWriter, r *http.Request) {
	if rbac.PrincipalFromContext(r.Context()) != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.renderRegister(w, r, http.StatusOK, registerForm{}, nil)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := registerForm{
		Username:   strings.TrimSpace(r.PostFormValue("username")),
		Email:      strings.TrimSpace(r.PostFormValue("email")),
		Department: strings.TrimSpace(r.PostFormValue("department")),
		Password:   r.PostFormValue("password"),
		Confirm:    r.PostFormValue("confirm"),
	}
	errs := fieldErrors(h.validator.Struct(form))
	if len(errs) == 0 {
		_, err := h.service.Register(r.Context(), RegisterInput{
			Username:   form.Username,
			Email:      form.Email,
			Department: form.Department,
			Password:   form.Password,
		})
		switch {
		case errors.Is(err, shared.ErrDuplicate):
			errs["general"] = "That username or email is already registered."
		case err != nil:
			h.logger.Error("register user", slog.Any("error", err))
			errs["general"] = shared.UserSafeMessage(err)
		default:
			if sess := shared.SessionFromContext(r.Context()); sess != nil {
				sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "Registration received. An administrator must approve your account before you can sign in."})
			}
			http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
			return
		}
	}
	form.Password, form.Confirm = "", ""
	h.renderRegister(w, r, http.StatusBadRequest, form, errs)
}

func (h *Handler) renderRegister(w http.ResponseWriter, r *http.Request, status int, form registerForm, errs map[string]string) {
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	data := view.Page(r, "Create account", csrfToken, formPageData[registerForm]{Form: form, Errors: errs})
	if err := h.templates.RenderStatus(w, status, "pages/register.html", data); err != nil {
		h.logger.Error("render register", slog.Any("error", err))
	}
}

func fieldErrors(err error) map[string]string {
	errs := shared.FieldErrorsFrom(err)
	if errs == nil {
		errs = make(shared.FieldErrors)
	}
	return errs
}

// ShowLoginForTest exposes the GET handler for tests.
func (h *Handler) ShowLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.showLogin(w, r)
}

// HandleLoginForTest exposes the POST handler for tests.
func (h *Handler) HandleLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogin(w, r)
}

// HandleLogoutForTest exposes the logout handler for tests.
func (h *Handler) HandleLogoutForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogout(w, r)
}

// HandleRegisterForTest exposes the registration handler for tests.
func (h *Handler) HandleRegisterForTest(w http.ResponseWriter, r *http.Request) {
	h.handleRegister(w, r)
}
