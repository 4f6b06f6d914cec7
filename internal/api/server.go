// Package api provides the HTTP server for troupe.
// It exposes every actor system operation as a JSON endpoint, plus the event
// journal, health statuses and Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/troupe/internal/domain"
	"github.com/tutu-network/troupe/internal/health"
	"github.com/tutu-network/troupe/internal/infra/events"
)

// Journal is the read/write surface of the event journal used by the API.
type Journal interface {
	RecentEvents(limit int, typ events.Type) ([]events.Event, error)
	RecordTaskResult(r domain.TaskResult) error
	TaskResult(taskID string) (*domain.TaskResult, error)
}

// HealthReporter exposes the latest health check results.
type HealthReporter interface {
	Statuses() []health.Status
	IsHealthy() bool
}

// Server is the troupe HTTP API server.
type Server struct {
	sys            domain.ActorSystem
	journal        Journal        // nil if the journal is disabled
	health         HealthReporter // nil if health checks are disabled
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(sys domain.ActorSystem) *Server {
	return &Server{sys: sys}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetJournal enables the events and task result endpoints.
func (s *Server) SetJournal(j Journal) { s.journal = j }

// SetHealth enables the /api/health endpoint.
func (s *Server) SetHealth(h HealthReporter) { s.health = h }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if !s.sys.Running() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"node_id": s.sys.NodeID(),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/metrics", s.handleMetrics)
		r.Get("/nodes", s.handleNodes)

		r.Get("/actors", s.handleListActors)
		r.Post("/actors", s.handleCreateActor)
		r.Post("/actors/{id}/messages", s.handleSendMessage)
		r.Post("/actors/{id}/migrate", s.handleMigrate)
		r.Get("/actors/{id}/replies", s.handleReplies)

		r.Post("/broadcast", s.handleBroadcast)

		r.Post("/tasks", s.handleProcessTask)
		r.Get("/tasks/{id}", s.handleGetTask)

		r.Get("/events", s.handleEvents)
		r.Get("/health", s.handleHealth)
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps a domain error to its HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrActorNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoEligibleActor), errors.Is(err, domain.ErrNoEligibleNode),
		errors.Is(err, domain.ErrActorMigrating):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrUnknownMessageType),
		errors.Is(err, domain.ErrUnknownSubtaskKind),
		errors.Is(err, domain.ErrValidationFailed),
		errors.Is(err, domain.ErrNoSubtasks):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrBackPressure):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrNodeUnreachable), errors.Is(err, domain.ErrMigrationFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrTaskFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
