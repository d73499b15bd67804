// Package api exposes the HTTP interface for the crawl service.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crawlforge/crawld/internal/config"
	"github.com/crawlforge/crawld/internal/coordinator"
	"github.com/crawlforge/crawld/internal/crawl"
	"github.com/crawlforge/crawld/internal/metrics"
	"github.com/crawlforge/crawld/internal/proxypool"
	"github.com/crawlforge/crawld/internal/scheduler"

	"go.uber.org/zap"
)

// Server wires HTTP handlers to the scheduler, stores, and live
// coordinators.
type Server struct {
	router    chi.Router
	scheduler *scheduler.Scheduler
	store     crawl.Store
	registry  *coordinator.Registry
	pool      *proxypool.Pool
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	sched *scheduler.Scheduler,
	store crawl.Store,
	registry *coordinator.Registry,
	pool *proxypool.Pool,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scheduler: sched,
		store:     store,
		registry:  registry,
		pool:      pool,
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
				r.Post("/reset", s.resetJob)
			})
		})
		r.Route("/sessions/{session_id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Get("/pages", s.listSessionPages)
			r.Post("/pause", s.pauseSession)
			r.Post("/resume", s.resumeSession)
		})
		r.Get("/proxies/health", s.proxyHealth)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The store is the only hard dependency at startup.
	if _, err := s.store.ListJobs(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) proxyHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"proxies": s.pool.Snapshot()})
}
