// Package server provides the HTTP server and routing for the rollup service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/enqueue"
	"github.com/aristath/rollup/internal/events"
	"github.com/aristath/rollup/internal/queue"
)

// JobService enqueues jobs and reports on pending ones.
type JobService interface {
	Enqueue(ctx context.Context, kind domain.JobKind, p domain.JobPayload, opts ...enqueue.Option) (string, error)
	GetJobStatus(ctx context.Context, tenantID, projectID, asOfDate string) (enqueue.JobStatus, error)
}

// EventEmitter turns domain events into jobs.
type EventEmitter interface {
	Emit(ctx context.Context, name string, p events.Payload, correlationID string) (events.Emitted, error)
}

// SnapshotLister reads stored snapshots of one scope.
type SnapshotLister interface {
	ListSnapshots(ctx context.Context, tenantID string, scopeType domain.ScopeType, scopeID, asOfDate string) ([]domain.Snapshot, error)
}

// HealthChecker reports whether a backing store is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// FlagStore reads and overrides feature flags.
type FlagStore interface {
	IsEnabled(name string) bool
	Set(name string, enabled bool)
	Snapshot() map[string]bool
}

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Port      int
	DevMode   bool
	Jobs      JobService
	Events    EventEmitter
	Store     queue.Store
	Snapshots SnapshotLister
	Database  HealthChecker
	Flags     FlagStore
	Gatherer  prometheus.Gatherer
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	port      int
	jobs      JobService
	events    EventEmitter
	store     queue.Store
	snapshots SnapshotLister
	database  HealthChecker
	flags     FlagStore
	gatherer  prometheus.Gatherer
	now       func() time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		port:      cfg.Port,
		jobs:      cfg.Jobs,
		events:    cfg.Events,
		store:     cfg.Store,
		snapshots: cfg.Snapshots,
		database:  cfg.Database,
		flags:     cfg.Flags,
		gatherer:  gatherer,
		now:       time.Now,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/events", s.handleEmitEvent)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/status", s.handleJobStatus)
			r.Get("/stats", s.handleQueueStats)
			r.Get("/failed", s.handleFailedJobs)
		})

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Post("/projects/{projectID}/recompute", s.handleRecomputeProject)
			r.Post("/portfolios/{portfolioID}/rollup", s.handleRollup(domain.KindPortfolioRollup, "portfolioID"))
			r.Post("/programs/{programID}/rollup", s.handleRollup(domain.KindProgramRollup, "programID"))
			r.Get("/snapshots", s.handleListSnapshots)
		})

		r.Route("/flags", func(r chi.Router) {
			r.Get("/", s.handleListFlags)
			r.Put("/{name}", s.handleSetFlag)
		})
	})
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
