package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/headshakers/planner/agent"
	"github.com/headshakers/planner/llm"
	"github.com/headshakers/planner/store"
)

// RefinementSettings controls one refinement run.
type RefinementSettings struct {
	// AgentIDs selects which agents participate. Empty means all active
	// agents from the catalog.
	AgentIDs []string

	// Model optionally overrides the default model for this run.
	Model string
}

// RefineUpdate delivers a partial result: the cumulative text one agent has
// produced so far. It is invoked concurrently from per-agent goroutines.
type RefineUpdate func(agentID, text string)

var (
	headerLineRe = regexp.MustCompile(`(?m)^#{1,6}\s`)
	bulletLineRe = regexp.MustCompile(`(?m)^\s*[-*]\s`)
)

// Refine fans the plan's original request out to the selected agents
// concurrently. Each agent produces an independent refinement record; one
// agent's failure does not affect its siblings, and a run where every agent
// fails still returns the failed records rather than an error. The records
// are returned in agent order and persisted as they complete.
func (p *Planner) Refine(ctx context.Context, plan *store.FeaturePlan, settings RefinementSettings, onUpdate RefineUpdate) ([]*store.Refinement, error) {
	if strings.TrimSpace(plan.OriginalRequest) == "" {
		return nil, fmt.Errorf("plan has no original request")
	}

	var agents []agent.Agent
	if len(settings.AgentIDs) > 0 {
		agents = p.catalog.ByIDs(settings.AgentIDs)
	} else {
		agents = p.catalog.Active()
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("no active refinement agents")
	}

	results := make([]*store.Refinement, len(agents))
	var wg sync.WaitGroup
	for i, ag := range agents {
		wg.Add(1)
		go func(i int, ag agent.Agent) {
			defer wg.Done()
			results[i] = p.refineOne(ctx, plan, ag, settings.Model, onUpdate)
		}(i, ag)
	}
	wg.Wait()

	var total int64
	for _, r := range results {
		total += r.ExecutionTimeMs
	}
	if err := p.store.AddExecutionTime(context.WithoutCancel(ctx), plan.ID, total); err != nil {
		p.logger.Warn("Failed to record plan execution time", "plan_id", plan.ID, "error", err)
	}

	return results, nil
}

// refineOne runs a single agent and persists its refinement record. Errors
// are captured on the record, never returned.
func (p *Planner) refineOne(ctx context.Context, plan *store.FeaturePlan, ag agent.Agent, model string, onUpdate RefineUpdate) *store.Refinement {
	start := time.Now()
	r := &store.Refinement{
		PlanID:       plan.ID,
		AgentID:      ag.ID,
		AgentName:    ag.Name,
		AgentRole:    ag.Role,
		Focus:        ag.Focus,
		InputRequest: plan.OriginalRequest,
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	prompt := p.buildRefinementPrompt(plan.OriginalRequest)
	var buf strings.Builder
	resp, err := p.client.Complete(callCtx, llm.Request{
		Model:       model,
		Temperature: ag.Temperature,
		Messages: []llm.Message{
			{Role: "system", Content: ag.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		OnChunk: func(text string) {
			buf.WriteString(text)
			if onUpdate != nil {
				onUpdate(ag.ID, buf.String())
			}
		},
	})

	r.ExecutionTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		r.Status = store.StatusFailed
		r.ErrorMessage = err.Error()
		p.logger.Warn("Refinement agent failed",
			"plan_id", plan.ID,
			"agent_id", ag.ID,
			"error", err)
	} else {
		refined := strings.TrimSpace(resp.Content)
		r.Status = store.StatusCompleted
		r.RefinedRequest = refined
		r.WordCount = wordCount(refined)
		r.CharacterCount = len(refined)
		if in := wordCount(plan.OriginalRequest); in > 0 {
			r.ExpansionRatio = float64(r.WordCount) / float64(in)
		}
		r.ValidationErrors = p.validateRefinement(refined)
		r.IsValidFormat = len(r.ValidationErrors) == 0
		r.PromptTokens = resp.Usage.PromptTokens
		r.CompletionTokens = resp.Usage.CompletionTokens
		r.TotalTokens = resp.Usage.TotalTokens
	}

	// Persist even when the run context is being torn down so completed
	// refinements stay visible after a cancellation.
	storeCtx := context.WithoutCancel(ctx)
	if perr := p.store.CreateRefinement(storeCtx, r); perr != nil {
		p.logger.Error("Failed to persist refinement",
			"plan_id", plan.ID,
			"agent_id", ag.ID,
			"error", perr)
	}

	p.logExecution(storeCtx, &store.ExecutionLog{
		PlanID:           plan.ID,
		AgentType:        ag.ID,
		Step:             stepRefinement,
		StepNumber:       1,
		DurationMs:       r.ExecutionTimeMs,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
		IsSuccess:        r.Status == store.StatusCompleted,
		InputPrompt:      prompt,
		AgentResponse:    r.RefinedRequest,
	})
	p.metrics.ObserveAgentCall(stepRefinement, time.Since(start), r.TotalTokens, err)

	return r
}

// buildRefinementPrompt produces the user message sent to every refinement
// agent alongside its own system prompt.
func (p *Planner) buildRefinementPrompt(originalRequest string) string {
	return fmt.Sprintf(`Refine this feature request into a clear, detailed description.

ORIGINAL REQUEST:
%s

REQUIREMENTS:
- Output length: %d-%d words
- Single paragraph only (no headers, bullets, or sections)
- Preserve original scope (do not add features)
- Add essential technical context

OUTPUT:
Provide only the refined paragraph, nothing else.`, originalRequest, p.cfg.MinOutputWords, p.cfg.MaxOutputWords)
}

// validateRefinement checks the output against the format the prompt asked
// for. Violations are diagnostics on the record, not failures.
func (p *Planner) validateRefinement(text string) []store.ValidationError {
	var errs []store.ValidationError

	if text == "" {
		return []store.ValidationError{{
			Code:    "empty_output",
			Field:   "refinedRequest",
			Message: "agent returned no text",
		}}
	}

	if headerLineRe.MatchString(text) || bulletLineRe.MatchString(text) {
		errs = append(errs, store.ValidationError{
			Code:    "not_single_paragraph",
			Field:   "refinedRequest",
			Message: "output contains headers or list items; expected a single paragraph",
		})
	}

	words := wordCount(text)
	if words < p.cfg.MinOutputWords {
		errs = append(errs, store.ValidationError{
			Code:    "too_short",
			Field:   "refinedRequest",
			Message: fmt.Sprintf("output is %d words, expected at least %d", words, p.cfg.MinOutputWords),
		})
	} else if words > p.cfg.MaxOutputWords {
		errs = append(errs, store.ValidationError{
			Code:    "too_long",
			Field:   "refinedRequest",
			Message: fmt.Sprintf("output is %d words, expected at most %d", words, p.cfg.MaxOutputWords),
		})
	}

	return errs
}
