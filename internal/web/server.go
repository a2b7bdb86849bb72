// Package web provides the HTTP API for importing and listing drills.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/drillplan/internal/config"
	"github.com/JonMunkholm/drillplan/internal/importer"
	"github.com/JonMunkholm/drillplan/internal/store"
	"github.com/JonMunkholm/drillplan/internal/web/middleware"
)

// Store is the read side the handlers need beyond the import service.
type Store interface {
	ListCategories(ctx context.Context, ownerID string) ([]store.Category, error)
	ListDrills(ctx context.Context, ownerID string) ([]store.Drill, error)
	Ping(ctx context.Context) error
}

// Server is the HTTP server for the drill import API.
type Server struct {
	importer *importer.Service
	store    Store
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
}

// NewServer wires middleware and routes. ctx bounds background work started
// for the server, such as rate limiter cleanup.
func NewServer(ctx context.Context, svc *importer.Service, st Store, cfg *config.Config) *Server {
	s := &Server{
		importer: svc,
		store:    st,
		cfg:      cfg,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware(ctx)
	s.setupRoutes(ctx)
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware(ctx context.Context) {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
	}
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled && s.cfg.Rate.RequestsPerMinute > 0 {
		limiter := middleware.NewRateLimiter(ctx, s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.Middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(ctx context.Context) {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))
		r.Use(middleware.RequireOwner)

		// Imports get their own, stricter budget.
		r.Group(func(r chi.Router) {
			if s.cfg.Rate.Enabled && s.cfg.Rate.ImportLimit > 0 {
				r.Use(middleware.NewRateLimiter(ctx, s.cfg.Rate.ImportLimit, time.Minute).Middleware)
			}
			r.Post("/drills/import", s.handleImportRows)
			r.Post("/drills/import/file", s.handleImportFile)
			r.Post("/drills/import/preview", s.handleImportPreview)
		})

		r.Get("/drills/import/template", s.handleDownloadTemplate)
		r.Get("/drills/import/status", s.handleImportStatus)
		r.Get("/drills", s.handleListDrills)
		r.Get("/categories", s.handleListCategories)
		r.Get("/imports", s.handleListImports)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds hardening headers to every response. The CSP allows
// inline styles for the HTMX partials and nothing from other origins.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if enableCSP {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON encodes v as JSON with the given status.
// Encoding errors are logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
