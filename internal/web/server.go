// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

// Package web serves the account pages: registration, login, profile and
// the emailed password reset flow.
package web

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/cchanitur/accounts/internal/auth"
	"github.com/cchanitur/accounts/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Metrics records request and account events. Implemented by
// observability.Metrics.
type Metrics interface {
	ObserveRequest(route, method string, status int, elapsed time.Duration)
	RecordAuthEvent(event, outcome string)
}

// AccountService is the account behaviour the handlers need.
type AccountService interface {
	Register(ctx context.Context, username, email, password string) (*auth.User, error)
	Authenticate(ctx context.Context, username, password string) (*auth.User, error)
	Profile(ctx context.Context, username string) (*auth.User, error)
}

// ResetService is the password reset behaviour the handlers need.
type ResetService interface {
	RequestReset(ctx context.Context, email string, link auth.ResetLinkFunc) error
	ValidateToken(token string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// Config holds the web layer settings.
type Config struct {
	// BaseURL prefixes links in outgoing email. When empty the request's
	// scheme and host are used.
	BaseURL string
	// TrustProxy honours X-Forwarded-Proto when deriving links from the
	// request.
	TrustProxy bool
}

// Deps are the collaborators of a Server. Metrics may be nil.
type Deps struct {
	Accounts AccountService
	Resets   ResetService
	Sessions *session.Manager
	Metrics  Metrics
	Logger   *slog.Logger
}

// Server routes and renders the account pages.
type Server struct {
	cfg      Config
	accounts AccountService
	resets   ResetService
	sessions *session.Manager
	metrics  Metrics
	logger   *slog.Logger
	pages    map[string]*page
	mux      *http.ServeMux
	handler  http.Handler
}

// NewServer validates deps, parses the templates and builds the routes.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	switch {
	case deps.Accounts == nil:
		return nil, oops.Code("WEB_SERVER_INVALID").Errorf("account service is required")
	case deps.Resets == nil:
		return nil, oops.Code("WEB_SERVER_INVALID").Errorf("reset service is required")
	case deps.Sessions == nil:
		return nil, oops.Code("WEB_SERVER_INVALID").Errorf("session manager is required")
	case deps.Logger == nil:
		return nil, oops.Code("WEB_SERVER_INVALID").Errorf("logger is required")
	}

	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	s := &Server{
		cfg:      Config{BaseURL: strings.TrimRight(cfg.BaseURL, "/"), TrustProxy: cfg.TrustProxy},
		accounts: deps.Accounts,
		resets:   deps.Resets,
		sessions: deps.Sessions,
		metrics:  metrics,
		logger:   deps.Logger,
		pages:    pages,
		mux:      http.NewServeMux(),
	}
	if err := s.routes(); err != nil {
		return nil, err
	}

	s.handler = s.recoverPanics(s.traceRequests(s.logRequests(s.sessions.Middleware(s.tagUser(s.mux)))))
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() error {
	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		return oops.Code("WEB_SERVER_INVALID").Wrap(err)
	}

	s.mux.HandleFunc("GET /{$}", s.handleHome)
	s.mux.HandleFunc("GET /registro", s.handleRegisterForm)
	s.mux.HandleFunc("POST /registro", s.handleRegister)
	s.mux.HandleFunc("GET /login", s.handleLoginForm)
	s.mux.HandleFunc("POST /login", s.handleLogin)
	s.mux.Handle("GET /pagina_principal", s.requireUser(s.handleMain))
	s.mux.Handle("GET /mi_perfil", s.requireUser(s.handleProfile))
	s.mux.HandleFunc("GET /recuperar_contrasena", s.handleRecoverForm)
	s.mux.HandleFunc("POST /recuperar_contrasena", s.handleRecover)
	s.mux.HandleFunc("GET /restablecer_contrasena/{token}", s.handleResetForm)
	s.mux.HandleFunc("POST /restablecer_contrasena/{token}", s.handleReset)
	s.mux.HandleFunc("GET /logout", s.handleLogout)
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	return nil
}

type noopMetrics struct{}

func (noopMetrics) ObserveRequest(string, string, int, time.Duration) {}
func (noopMetrics) RecordAuthEvent(string, string)                    {}
