package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

const serviceVersion = "v1.0.0"

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status       string            `json:"status"`
	ServiceName  string            `json:"serviceName"`
	Version      string            `json:"version"`
	Uptime       string            `json:"uptime,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// setupRoutes registers all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Health endpoints
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Ingestion
	mux.HandleFunc("POST /api/v1/datasets/upload", s.handleDatasetUpload)
	mux.HandleFunc("GET /api/v1/datasets/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/v1/datasets/jobs/{job_id}", s.handleGetJob)
	mux.HandleFunc("POST /api/v1/datasets/jobs/{job_id}/retry", s.handleRetryJob)

	// Query engine
	mux.HandleFunc("POST /api/v1/query", s.handleQuery)
	mux.HandleFunc("POST /api/v1/query/benchmark", s.handleBenchmark)

	// Chat sessions
	mux.HandleFunc("POST /api/v1/chat/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/v1/chat/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/v1/chat/sessions/{session_id}", s.handleGetSession)
	mux.HandleFunc("PATCH /api/v1/chat/sessions/{session_id}", s.handleRenameSession)
	mux.HandleFunc("DELETE /api/v1/chat/sessions/{session_id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/v1/chat/sessions/{session_id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/v1/chat/sessions/{session_id}/query", s.handleChatQuery)
	mux.HandleFunc("POST /api/v1/chat/sessions/{session_id}/confirm", s.handleChatConfirm)
	mux.HandleFunc("GET /api/v1/chat/suggestions", s.handleSuggestions)

	// Catch-all for 404s
	mux.HandleFunc("/", s.handleNotFound)
}

// handlePing responds to liveness probes.
func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

// handleReady responds to readiness probes by checking the database probe
// only. Redis and the object store degrade gracefully, so they do not gate
// readiness.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if check, ok := s.deps.HealthChecks["database"]; ok {
		if err := check(ctx); err != nil {
			s.logger.Error("Readiness check failed", slog.String("error", err.Error()))

			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))

			return
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleHealth reports overall status plus per-dependency reachability for
// the database, Redis, and the object store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	dependencies := make(map[string]string, len(s.deps.HealthChecks))

	for name, check := range s.deps.HealthChecks {
		if err := check(ctx); err != nil {
			dependencies[name] = "unreachable"
			status = "degraded"

			s.logger.Warn("Dependency health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)

			continue
		}

		dependencies[name] = "ok"
	}

	var uptime string
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:       status,
		ServiceName:  "floatchat",
		Version:      serviceVersion,
		Uptime:       uptime,
		Dependencies: dependencies,
	})
}

// handleNotFound returns RFC 7807 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// writeJSON marshals a response body and writes it with the given status.
// Marshal failures become RFC 7807 500s before headers are committed.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}
