// Package httpserver provides the HTTP REST API of the paper recommender.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-recommender/internal/database"
	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/observability"
	"github.com/helixir/paper-recommender/internal/qdrant"
)

// TaskService starts and reads recommendation tasks.
type TaskService interface {
	Enqueue(ctx context.Context, trigger domain.TaskTrigger, overrides domain.ConfigOverrides) (*domain.RecommendationTask, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.RecommendationTask, error)
	Latest(ctx context.Context) (*domain.RecommendationTask, error)
}

// ExclusionService reads the filtered latest run and manages excludes.
type ExclusionService interface {
	Latest(ctx context.Context) (*domain.RecommendationRun, error)
	CreateFromItem(ctx context.Context, itemID uuid.UUID, reason string) (*domain.RecommendationExclude, bool, error)
	List(ctx context.Context, limit, offset int) ([]domain.RecommendationExclude, error)
}

// SimilarService answers library similarity lookups.
type SimilarService interface {
	Similar(ctx context.Context, paperID uuid.UUID, limit int) ([]qdrant.SimilarPaper, error)
}

// HealthChecker reports database health.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Deps holds the services behind the HTTP API. Similar may be nil when the
// vector mirror is disabled; Metrics may be nil.
type Deps struct {
	Tasks      TaskService
	Exclusions ExclusionService
	Similar    SimilarService
	Health     HealthChecker
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	tasks      TaskService
	exclusions ExclusionService
	similar    SimilarService
	health     HealthChecker
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{
		tasks:      deps.Tasks,
		exclusions: deps.Exclusions,
		similar:    deps.Similar,
		health:     deps.Health,
		metrics:    deps.Metrics,
		logger:     deps.Logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(metricsMiddleware(s.metrics))
	r.Use(requestLogMiddleware(s.logger))
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/recommendations", func(r chi.Router) {
			r.Post("/tasks", s.enqueueTask)
			r.Get("/tasks/latest", s.getLatestTask)
			r.Get("/tasks/{taskID}", s.getTask)
			r.Get("/latest", s.getLatestRun)
			r.Post("/excludes", s.createExclude)
			r.Get("/excludes", s.listExcludes)
		})
		r.Get("/library/papers/{paperID}/similar", s.similarPapers)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	health := s.health.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler returns readiness status including database connectivity.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}
	health := s.health.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ready",
		"database": health,
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
