// Package web provides the HTTP API for preparation runs.
package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/gulprep/internal/config"
	"github.com/JonMunkholm/gulprep/internal/metrics"
	"github.com/JonMunkholm/gulprep/internal/prep"
	"github.com/JonMunkholm/gulprep/internal/store"
	"github.com/JonMunkholm/gulprep/internal/web/middleware"
)

// maxRequestBody bounds run request bodies; requests carry paths, not data.
const maxRequestBody = 1 << 20

// Runner executes a preparation run. *prep.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, req prep.Request) (*prep.Result, error)
}

// RunHistory lists archived runs. *store.Store satisfies it.
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
}

// Server is the HTTP server of `gulprep serve`.
type Server struct {
	cfg     *config.Config
	runner  Runner
	history RunHistory
	limiter *prep.RunLimiter
	metrics *metrics.Metrics
	router  *chi.Mux
	server  *http.Server
}

// NewServer wires routes and middleware. history and m may be nil: run
// history then answers ARC002 and /metrics answers 404.
func NewServer(cfg *config.Config, runner Runner, history RunHistory, limiter *prep.RunLimiter, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		runner:  runner,
		history: history,
		limiter: limiter,
		metrics: m,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Security.APIKeys))
		r.Post("/runs", s.handleRun)
		r.Get("/runs", s.handleListRuns)
	})
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:         sc.Addr(),
		Handler:      s.router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}

	slog.Info("starting server", "addr", sc.Addr())
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight runs.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return s.limiter.WaitForDrain(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
