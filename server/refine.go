package server

import (
	"net/http"
	"time"

	"github.com/headshakers/planner/planner"
	"github.com/headshakers/planner/store"
)

// ---- POST /plans/{planId}/refine/stream ----

// refineStreamRequest selects the agents and model for a refinement run.
type refineStreamRequest struct {
	AgentIDs []string `json:"agentIds,omitempty"`
	Model    string   `json:"model,omitempty"`
}

// refineFrame is one data-only SSE frame on the refinement stream. Type is
// one of partial, complete, error, or done.
type refineFrame struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// refineDonePayload closes the stream with every persisted record.
type refineDonePayload struct {
	PlanID      string              `json:"planId"`
	Refinements []*store.Refinement `json:"refinements"`
}

// handleRefineStream runs the refinement fan-out and relays per-agent
// progress as data-only frames. Partial frames carry each agent's cumulative
// text, throttled per agent; a complete or error frame follows per agent,
// then a single done frame with all records.
func (s *Server) handleRefineStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	plan, ok := s.ownedPlan(w, r, userID)
	if !ok {
		return
	}

	var req refineStreamRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sse, err := startSSE(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.metrics.StreamsOpen.Inc()
	defer s.metrics.StreamsOpen.Dec()

	// Agents stream concurrently, so updates are funneled through a channel
	// and written from this goroutine only.
	type update struct {
		agentID string
		text    string
	}
	updates := make(chan update, 256)
	onUpdate := func(agentID, text string) {
		select {
		case updates <- update{agentID: agentID, text: text}:
		default:
			// Drop rather than block the agent; the next update carries the
			// cumulative text anyway.
		}
	}

	type result struct {
		refinements []*store.Refinement
		err         error
	}
	done := make(chan result, 1)
	go func() {
		refs, rerr := s.planner.Refine(r.Context(), plan, planner.RefinementSettings{
			AgentIDs: req.AgentIDs,
			Model:    req.Model,
		}, onUpdate)
		done <- result{refinements: refs, err: rerr}
	}()

	lastEmit := make(map[string]time.Time)
	latest := make(map[string]string)
	var res result
loop:
	for {
		select {
		case u := <-updates:
			latest[u.agentID] = u.text
			if now := time.Now(); now.Sub(lastEmit[u.agentID]) >= s.deltaInterval {
				lastEmit[u.agentID] = now
				s.emitFrame(sse, refineFrame{Type: "partial", AgentID: u.agentID, Data: u.text})
			}
		case res = <-done:
			break loop
		}
	}

	// Flush each agent's final cumulative text past the throttle, draining
	// anything still queued first.
	for {
		select {
		case u := <-updates:
			latest[u.agentID] = u.text
			continue
		default:
		}
		break
	}
	for agentID, text := range latest {
		s.emitFrame(sse, refineFrame{Type: "partial", AgentID: agentID, Data: text})
	}

	if res.err != nil {
		s.emitFrame(sse, refineFrame{Type: "error", Data: res.err.Error()})
		s.logger.Warn("Refinement stream failed", "plan_id", plan.ID, "error", res.err)
		return
	}

	for _, ref := range res.refinements {
		if ref.Status == store.StatusFailed {
			s.emitFrame(sse, refineFrame{Type: "error", AgentID: ref.AgentID, Data: ref.ErrorMessage})
		} else {
			s.emitFrame(sse, refineFrame{Type: "complete", AgentID: ref.AgentID, Data: ref})
		}
	}

	s.emitFrame(sse, refineFrame{Type: "done", Data: refineDonePayload{
		PlanID:      plan.ID,
		Refinements: res.refinements,
	}})
}

// emitFrame writes one data-only frame and counts it by its type.
func (s *Server) emitFrame(sse *sseWriter, f refineFrame) {
	s.metrics.StreamEvents.WithLabelValues(f.Type).Inc()
	if err := sse.sendData(f); err != nil {
		s.logger.Debug("SSE write failed", "type", f.Type, "error", err)
	}
}
