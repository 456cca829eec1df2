package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/headshakers/planner/store"
)

// ---- POST /plans ----

// createPlanRequest starts a new feature plan at the capture step.
type createPlanRequest struct {
	OriginalRequest string `json:"originalRequest"`

	// ParentPlanID links an iteration to the plan it was cloned from.
	ParentPlanID string `json:"parentPlanId,omitempty"`
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	var req createPlanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.OriginalRequest) == "" {
		http.Error(w, "originalRequest is required", http.StatusBadRequest)
		return
	}

	p, err := s.store.CreatePlan(r.Context(), userID, req.OriginalRequest, req.ParentPlanID)
	if err != nil {
		s.logger.Error("Failed to create plan", "error", err)
		http.Error(w, "Failed to create plan", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// ---- GET /plans ----

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	plans, err := s.store.ListPlansByUser(r.Context(), userID)
	if err != nil {
		s.logger.Error("Failed to list plans", "user_id", userID, "error", err)
		http.Error(w, "Failed to list plans", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, plans)
}

// ---- GET /plans/{planId} ----

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	plan, ok := s.ownedPlan(w, r, userID)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, plan)
}

// ---- POST /plans/{planId}/step ----

// setStepRequest moves the plan to a workflow step. Backward moves always
// succeed; forward moves require the gating data for the target step.
type setStepRequest struct {
	Step int `json:"step"`
}

func (s *Server) handleSetStep(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	plan, ok := s.ownedPlan(w, r, userID)
	if !ok {
		return
	}

	var req setStepRequest
	if !decodeBody(w, r, &req) {
		return
	}

	updated, err := s.store.SetStep(r.Context(), plan.ID, req.Step)
	if err != nil {
		if errors.Is(err, store.ErrStepLocked) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// ---- GET /plans/{planId}/refinements ----

func (s *Server) handleListRefinements(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	plan, ok := s.ownedPlan(w, r, userID)
	if !ok {
		return
	}

	refs, err := s.store.ListRefinementsByPlan(r.Context(), plan.ID)
	if err != nil {
		s.logger.Error("Failed to list refinements", "plan_id", plan.ID, "error", err)
		http.Error(w, "Failed to list refinements", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, refs)
}

// ---- POST /plans/{planId}/select-refinement ----

// selectRefinementRequest picks which refinement feeds the next step. An
// empty ID keeps the user's original request as the refined request.
type selectRefinementRequest struct {
	RefinementID string `json:"refinementId"`
}

func (s *Server) handleSelectRefinement(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	plan, ok := s.ownedPlan(w, r, userID)
	if !ok {
		return
	}

	var req selectRefinementRequest
	if !decodeBody(w, r, &req) {
		return
	}

	updated, err := s.store.SelectRefinement(r.Context(), plan.ID, req.RefinementID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Refinement not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// ---- POST /plans/{planId}/discover ----

// discoverRequest runs a file discovery session against the repository.
type discoverRequest struct {
	Model string `json:"model,omitempty"`
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	plan, ok := s.ownedPlan(w, r, userID)
	if !ok {
		return
	}

	var req discoverRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := s.planner.DiscoverFiles(r.Context(), plan, req.Model)
	if err != nil {
		s.logger.Warn("File discovery failed", "plan_id", plan.ID, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// ---- GET /plans/{planId}/discoveries ----

func (s *Server) handleListDiscoveries(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	plan, ok := s.ownedPlan(w, r, userID)
	if !ok {
		return
	}

	sessions, err := s.store.ListDiscoverySessionsByPlan(r.Context(), plan.ID)
	if err != nil {
		s.logger.Error("Failed to list discovery sessions", "plan_id", plan.ID, "error", err)
		http.Error(w, "Failed to list discovery sessions", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, sessions)
}

// ---- POST /plans/{planId}/select-discovery ----

type selectDiscoveryRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleSelectDiscovery(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	plan, ok := s.ownedPlan(w, r, userID)
	if !ok {
		return
	}

	var req selectDiscoveryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	updated, err := s.store.SelectDiscoverySession(r.Context(), plan.ID, req.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Discovery session not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// ---- POST /plans/{planId}/files ----

// setFilesRequest replaces the plan's selected file list. The list may mix
// discovered files with manually added entries; manual entries carry their
// own description and priority.
type setFilesRequest struct {
	Files []selectedFileEntry `json:"files"`
}

type selectedFileEntry struct {
	FilePath    string `json:"filePath"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

func (s *Server) handleSetFiles(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	plan, ok := s.ownedPlan(w, r, userID)
	if !ok {
		return
	}

	var req setFilesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	files := make([]store.FileDiscoveryResult, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, store.FileDiscoveryResult{
			FilePath:    f.FilePath,
			Description: f.Description,
			Priority:    f.Priority,
		})
	}

	updated, err := s.store.SetSelectedFiles(r.Context(), plan.ID, files)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// ---- POST /plans/{planId}/generate ----

type generateRequest struct {
	Model string `json:"model,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	plan, ok := s.ownedPlan(w, r, userID)
	if !ok {
		return
	}

	var req generateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	g, err := s.planner.GeneratePlan(r.Context(), plan, req.Model)
	if err != nil {
		s.logger.Warn("Plan generation failed", "plan_id", plan.ID, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, g)
}

// ---- GET /plans/{planId}/generations ----

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	plan, ok := s.ownedPlan(w, r, userID)
	if !ok {
		return
	}

	gens, err := s.store.ListPlanGenerationsByPlan(r.Context(), plan.ID)
	if err != nil {
		s.logger.Error("Failed to list plan generations", "plan_id", plan.ID, "error", err)
		http.Error(w, "Failed to list plan generations", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, gens)
}

// ---- POST /plans/{planId}/select-generation ----

type selectGenerationRequest struct {
	GenerationID string `json:"generationId"`
}

func (s *Server) handleSelectGeneration(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	plan, ok := s.ownedPlan(w, r, userID)
	if !ok {
		return
	}

	var req selectGenerationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	updated, err := s.store.SelectPlanGeneration(r.Context(), plan.ID, req.GenerationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Plan generation not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}
