package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/pribylovaa/go-news-aggregator/authguard/internal/errors"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/http/handlers"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/http/middleware"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/models"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/ratelimit"
)

// Service — всё, что роутеру нужно от auth-сервиса.
type Service interface {
	handlers.AuthService
	middleware.Authenticator
}

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger       *slog.Logger
	Timeout      time.Duration
	BasePath     string // например, "/api"; если пустой — роуты регистрируются на корне.
	CookieName   string
	SecureCookie bool
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
// limiter может быть nil: тогда запросы не ограничиваются.
func NewRouter(svc Service, limiter *ratelimit.Limiter, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),
		middleware.RequestID(), // до логирования: id попадает в логгер запроса
		middleware.Logging(opts.Logger),
		middleware.Timeout(opts.Timeout),
	)
	if limiter != nil {
		root.Use(middleware.RateLimit(limiter))
	}

	root.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, r, http.StatusNotFound, "not_found", "not found")
	})
	root.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	h := handlers.New(svc, handlers.CookieOptions{Name: opts.CookieName, Secure: opts.SecureCookie})
	authn := middleware.Authenticate(svc, opts.CookieName)

	if opts.BasePath != "" {
		sub := chi.NewRouter()
		registerRoutes(sub, h, authn)
		root.Mount(opts.BasePath, sub)
		return root
	}

	registerRoutes(root, h, authn)
	return root
}

// registerRoutes — единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers, authn middleware.Middleware) {
	// public
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Post("/auth/refresh", h.Refresh)
	r.Post("/auth/password-reset/request", h.RequestPasswordReset)
	r.Post("/auth/password-reset/confirm", h.ConfirmPasswordReset)

	// authenticated
	r.Group(func(r chi.Router) {
		r.Use(authn)

		r.Post("/auth/logout", h.Logout)
		r.Post("/auth/logout-all", h.LogoutAll)
		r.Get("/auth/me", h.Me)
		r.Get("/auth/sessions", h.ListSessions)
		r.Delete("/auth/sessions/{id}", h.RevokeSession)
	})

	// admin
	r.Group(func(r chi.Router) {
		r.Use(authn, middleware.RequireRole(models.RoleAdmin))

		r.Get("/admin/users/{id}/sessions", h.AdminListSessions)
		r.Delete("/admin/users/{id}/sessions", h.AdminRevokeSessions)
	})
}

func writeStatus(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	resp := apierrors.ErrorResponse{Error: apierrors.APIError{
		Code:      code,
		Message:   msg,
		RequestID: r.Header.Get(middleware.HeaderRequestID),
	}}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
