// Package server exposes the planning workflow over HTTP: job submission and
// its SSE stream, the per-plan refinement stream, and the plan lifecycle
// endpoints. Authentication is an external collaborator; the caller identity
// arrives in the X-User-ID header set by the fronting proxy.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/headshakers/planner/job"
	"github.com/headshakers/planner/metrics"
	"github.com/headshakers/planner/planner"
	"github.com/headshakers/planner/store"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// userIDHeader carries the authenticated caller identity.
const userIDHeader = "X-User-ID"

// Server wires the workflow engine to HTTP handlers.
type Server struct {
	jobs          *job.Store
	store         *store.Store
	planner       *planner.Planner
	metrics       *metrics.Metrics
	deltaInterval time.Duration
	logger        *slog.Logger
}

// New creates a Server. deltaInterval is the minimum spacing between SSE
// delta events; zero uses 100ms.
func New(jobs *job.Store, st *store.Store, pl *planner.Planner, m *metrics.Metrics,
	deltaInterval time.Duration, logger *slog.Logger) *Server {

	if deltaInterval <= 0 {
		deltaInterval = 100 * time.Millisecond
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		jobs:          jobs,
		store:         st,
		planner:       pl,
		metrics:       m,
		deltaInterval: deltaInterval,
		logger:        logger,
	}
}

// RegisterHandlers registers all endpoints on the given mux.
func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /jobs", s.handleCreateJob)
	mux.HandleFunc("GET /jobs/{jobId}/stream", s.handleJobStream)

	mux.HandleFunc("POST /plans", s.handleCreatePlan)
	mux.HandleFunc("GET /plans", s.handleListPlans)
	mux.HandleFunc("GET /plans/{planId}", s.handleGetPlan)
	mux.HandleFunc("POST /plans/{planId}/step", s.handleSetStep)

	mux.HandleFunc("POST /plans/{planId}/refine/stream", s.handleRefineStream)
	mux.HandleFunc("GET /plans/{planId}/refinements", s.handleListRefinements)
	mux.HandleFunc("POST /plans/{planId}/select-refinement", s.handleSelectRefinement)

	mux.HandleFunc("POST /plans/{planId}/discover", s.handleDiscover)
	mux.HandleFunc("GET /plans/{planId}/discoveries", s.handleListDiscoveries)
	mux.HandleFunc("POST /plans/{planId}/select-discovery", s.handleSelectDiscovery)
	mux.HandleFunc("POST /plans/{planId}/files", s.handleSetFiles)

	mux.HandleFunc("POST /plans/{planId}/generate", s.handleGenerate)
	mux.HandleFunc("GET /plans/{planId}/generations", s.handleListGenerations)
	mux.HandleFunc("POST /plans/{planId}/select-generation", s.handleSelectGeneration)
}

// Handler returns the complete HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterHandlers(mux)
	return mux
}

// userID extracts the authenticated caller, writing a 401 when absent.
func (s *Server) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(userIDHeader)
	if id == "" {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return "", false
	}
	return id, true
}

// ownedPlan loads a plan and enforces that the caller owns it.
func (s *Server) ownedPlan(w http.ResponseWriter, r *http.Request, userID string) (*store.FeaturePlan, bool) {
	planID := r.PathValue("planId")
	p, err := s.store.GetPlan(r.Context(), planID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Plan not found", http.StatusNotFound)
		} else {
			s.logger.Error("Failed to load plan", "plan_id", planID, "error", err)
			http.Error(w, "Failed to load plan", http.StatusInternalServerError)
		}
		return nil, false
	}
	if p.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil, false
	}
	return p, true
}

// decodeBody parses a bounded JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON marshals v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encode errors after WriteHeader cannot be reported to the client
	_ = json.NewEncoder(w).Encode(v)
}
