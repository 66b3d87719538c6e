package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nestor-home/nestor/pkg/config"
	"github.com/nestor-home/nestor/pkg/observability"
	"github.com/nestor-home/nestor/pkg/planner"
)

// Chatter runs one planning session. Implemented by session.Facade.
type Chatter interface {
	Run(ctx context.Context, input planner.UserInput) planner.FinalResponse
}

// HealthChecker reports readiness of the external collaborators.
type HealthChecker interface {
	EngineHealthy(ctx context.Context) bool
	IndexReady() bool
}

// Syncer re-syncs the code index on demand.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Server is the HTTP front end: POST /chat, GET /healthz, GET /metrics and an
// internal index-sync hook.
type Server struct {
	cfg     *config.ServerConfig
	chatter Chatter
	health  HealthChecker
	syncer  Syncer
	obs     *observability.Manager
	router  chi.Router
}

func New(cfg *config.ServerConfig, chatter Chatter, health HealthChecker, syncer Syncer, obs *observability.Manager) *Server {
	s := &Server{
		cfg:     cfg,
		chatter: chatter,
		health:  health,
		syncer:  syncer,
		obs:     obs,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Post("/chat", s.handleChat)
	r.Get("/healthz", s.handleHealth)
	if s.cfg.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}
	r.Post("/internal/index/sync", s.handleIndexSync)

	return r
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: time.Duration(s.cfg.ReadTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(s.cfg.ShutdownTimeout)*time.Second)
	defer cancel()

	slog.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
