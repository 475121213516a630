// Package server exposes the pipeline over HTTP: job execution, batch
// submission, status and runtime statistics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/civictrail/promisetrack/internal/metrics"
	"github.com/civictrail/promisetrack/internal/pipeline"
)

// Server wraps the HTTP surface with dependencies and lifecycle management.
type Server struct {
	orchestrator *pipeline.Orchestrator
	collector    *metrics.Collector
	logger       *slog.Logger
	httpServer   *http.Server
}

// New creates the HTTP server. The collector may be nil, in which case
// /stats reports an empty snapshot.
func New(addr string, orchestrator *pipeline.Orchestrator, collector *metrics.Collector, logger *slog.Logger) *Server {
	s := &Server{
		orchestrator: orchestrator,
		collector:    collector,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleHealth)
	mux.HandleFunc("GET /jobs", s.handleJobs)
	mux.HandleFunc("POST /jobs/batch", s.handleBatch)
	mux.HandleFunc("POST /jobs/{stage}/{job}", s.handleRunJob)
	mux.HandleFunc("GET /stats", s.handleStats)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           LoggingMiddleware(logger, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run starts the server and blocks until Shutdown or a listener error.
func (s *Server) Run() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and waits for triggered jobs.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.orchestrator.WaitForTriggered()
	return err
}

// Handler exposes the configured handler chain for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "promisetrack"})
}

// handleJobs lists configured jobs and which are currently running.
// Optional stage and job query parameters filter the catalog.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	snapshot := s.orchestrator.Status(r.URL.Query().Get("stage"), r.URL.Query().Get("job"))
	writeJSON(w, http.StatusOK, snapshot)
}

// handleRunJob executes one job synchronously. The response status mirrors
// the job outcome: 200 on success, 500 on any failure.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	stage := r.PathValue("stage")
	job := r.PathValue("job")

	// An empty or absent body means no arguments.
	var args map[string]any
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result := s.orchestrator.ExecuteJob(r.Context(), stage, job, args)

	status := http.StatusOK
	if !result.Succeeded() {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

// handleBatch executes a set of jobs under the configured concurrency cap.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Jobs []pipeline.BatchRequest `json:"jobs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(payload.Jobs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no jobs given"})
		return
	}

	batch := s.orchestrator.ExecuteBatch(r.Context(), payload.Jobs)

	status := "success"
	httpStatus := http.StatusOK
	if !batch.Success {
		status = "partial_failure"
		httpStatus = http.StatusInternalServerError
	}
	writeJSON(w, httpStatus, map[string]any{
		"status":  status,
		"results": batch.Results,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeJSON(w, http.StatusOK, metrics.Snapshot{})
		return
	}
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
