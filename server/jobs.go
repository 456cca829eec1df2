package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/headshakers/planner/job"
)

// ---- POST /jobs ----

// createJobResponse returns the ID the client passes to the stream endpoint.
type createJobResponse struct {
	JobID string `json:"jobId"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	var input job.Input
	if !decodeBody(w, r, &input) {
		return
	}

	m, err := s.jobs.Create(r.Context(), userID, input)
	if err != nil {
		if verr := input.Validate(); verr != nil {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("Failed to create job", "error", err)
		http.Error(w, "Failed to create job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, createJobResponse{JobID: m.JobID})
}

// ---- GET /jobs/{jobId}/stream ----

// connectedPayload is the first event on a job stream.
type connectedPayload struct {
	JobID     string `json:"jobId"`
	Timestamp int64  `json:"timestamp"`
}

// deltaPayload carries the cumulative generated text so far. Clients render
// Text directly; TotalLength lets them detect truncated frames.
type deltaPayload struct {
	Text        string `json:"text"`
	TotalLength int    `json:"totalLength"`
}

// tokenUsagePayload is the camelCase wire shape of token usage.
type tokenUsagePayload struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// completePayload terminates a successful job stream.
type completePayload struct {
	ExecutionTimeMs int64             `json:"executionTimeMs"`
	Suggestions     any               `json:"suggestions"`
	TokenUsage      tokenUsagePayload `json:"tokenUsage"`
}

// errorPayload terminates a failed job stream.
type errorPayload struct {
	Message string `json:"message"`
}

// handleJobStream claims a job and relays its generation as SSE. All
// authorization and state failures surface as plain HTTP status codes before
// any stream headers are written; once the stream opens, failures become
// error events.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	jobID := r.PathValue("jobId")
	ctx := r.Context()

	m, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrNotFound):
			http.Error(w, "Job not found or expired", http.StatusNotFound)
		case errors.Is(err, job.ErrInvalidMetadata):
			s.logger.Error("Malformed job record", "job_id", jobID, "error", err)
			http.Error(w, "Invalid job metadata", http.StatusInternalServerError)
		default:
			s.logger.Error("Failed to load job", "job_id", jobID, "error", err)
			http.Error(w, "Failed to load job", http.StatusInternalServerError)
		}
		return
	}
	if m.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if err := s.jobs.MarkInProgress(ctx, m); err != nil {
		s.logger.Error("Failed to claim job", "job_id", jobID, "error", err)
		http.Error(w, "Failed to claim job", http.StatusInternalServerError)
		return
	}

	sse, err := startSSE(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.metrics.StreamsOpen.Inc()
	defer s.metrics.StreamsOpen.Dec()

	s.emit(sse, "connected", connectedPayload{
		JobID:     jobID,
		Timestamp: time.Now().UnixMilli(),
	})

	// Throttled relay: chunks accumulate into the cumulative text, and a
	// delta is emitted at most once per deltaInterval. OnChunk runs on the
	// request goroutine, so no locking is needed.
	var accumulated string
	lastEmit := time.Now()
	onChunk := func(chunk string) {
		accumulated += chunk
		if now := time.Now(); now.Sub(lastEmit) >= s.deltaInterval {
			lastEmit = now
			s.emit(sse, "delta", deltaPayload{Text: accumulated, TotalLength: len(accumulated)})
		}
	}

	outcome, err := s.planner.SuggestFeatures(ctx, m.Input, onChunk)
	if err != nil {
		s.emit(sse, "error", errorPayload{Message: err.Error()})
		bg := context.WithoutCancel(ctx)
		if ferr := s.jobs.MarkFailed(bg, m, err.Error()); ferr != nil {
			s.logger.Error("Failed to mark job failed", "job_id", jobID, "error", ferr)
		}
		s.logger.Warn("Job stream failed", "job_id", jobID, "error", err)
		return
	}

	// Flush whatever the throttle held back so the client has the full text
	// before the terminal event.
	if accumulated != "" {
		s.emit(sse, "delta", deltaPayload{Text: accumulated, TotalLength: len(accumulated)})
	}

	s.emit(sse, "complete", completePayload{
		ExecutionTimeMs: outcome.ExecutionTimeMs,
		Suggestions:     outcome.Result.Suggestions,
		TokenUsage: tokenUsagePayload{
			PromptTokens:     outcome.TokenUsage.PromptTokens,
			CompletionTokens: outcome.TokenUsage.CompletionTokens,
			TotalTokens:      outcome.TokenUsage.TotalTokens,
		},
	})

	bg := context.WithoutCancel(ctx)
	if err := s.jobs.Delete(bg, jobID); err != nil {
		s.logger.Error("Failed to delete completed job", "job_id", jobID, "error", err)
	}

	s.logger.Info("Job stream completed",
		"job_id", jobID,
		"execution_time_ms", outcome.ExecutionTimeMs,
		"total_tokens", outcome.TokenUsage.TotalTokens)
}

// emit writes one named event and records it, logging write failures at
// debug since a vanished client is routine.
func (s *Server) emit(sse *sseWriter, event string, data any) {
	s.metrics.StreamEvents.WithLabelValues(event).Inc()
	if err := sse.sendEvent(event, data); err != nil {
		s.logger.Debug("SSE write failed", "event", event, "error", err)
	}
}
