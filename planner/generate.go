package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/headshakers/planner/llm"
	"github.com/headshakers/planner/store"
)

// generationAgentID is the catalog ID that overrides the built-in planning
// behavior when present.
const generationAgentID = "implementation-planner"

const generationSystemPrompt = `You are a senior engineer writing implementation plans.

You produce precise, actionable markdown plans that another engineer can
follow without further clarification. You never include code examples, only
instructions.`

var (
	complexityRe = regexp.MustCompile(`(?i)complexity[^a-zA-Z\n]{0,5}(low|medium|high)`)
	riskRe       = regexp.MustCompile(`(?i)risk\s*level[^a-zA-Z\n]{0,5}(low|medium|high)`)
	durationRe   = regexp.MustCompile(`(?im)^.*estimated\s+duration[^:\n]*:\s*(.+)$`)
)

// GeneratePlan invokes the planning agent with the refined request and the
// finalized file selection, validates the returned Markdown, and persists a
// new generation record. Structural violations are recorded as diagnostics
// on the record; they never fail the call.
func (p *Planner) GeneratePlan(ctx context.Context, plan *store.FeaturePlan, model string) (*store.PlanGeneration, error) {
	if strings.TrimSpace(plan.RefinedRequest) == "" {
		return nil, fmt.Errorf("plan has no refined request")
	}
	if len(plan.SelectedFiles) == 0 {
		return nil, fmt.Errorf("plan has no selected files")
	}

	start := time.Now()
	system := generationSystemPrompt
	var temperature *float64
	if ag, ok := p.catalog.Get(generationAgentID); ok && ag.Active {
		system = ag.SystemPrompt
		temperature = ag.Temperature
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	prompt := buildGenerationPrompt(plan)
	resp, err := p.client.Complete(callCtx, llm.Request{
		Model:       model,
		Temperature: temperature,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		p.metrics.ObserveAgentCall(stepGeneration, time.Since(start), 0, err)
		p.logExecution(context.WithoutCancel(ctx), &store.ExecutionLog{
			PlanID:      plan.ID,
			AgentType:   generationAgentID,
			Step:        stepGeneration,
			StepNumber:  3,
			DurationMs:  time.Since(start).Milliseconds(),
			IsSuccess:   false,
			InputPrompt: prompt,
			Metadata:    map[string]any{"error": err.Error()},
		})
		return nil, err
	}

	text := strings.TrimSpace(resp.Content)
	v := ValidatePlan(text)

	g := &store.PlanGeneration{
		PlanID:              plan.ID,
		AgentID:             generationAgentID,
		RefinedRequest:      plan.RefinedRequest,
		ImplementationPlan:  text,
		IsValidMarkdown:     v.IsValidMarkdown,
		HasRequiredSections: v.HasRequiredSections,
		TotalSteps:          v.TotalSteps,
		PrerequisitesCount:  v.PrerequisitesCount,
		QualityGatesCount:   v.QualityGatesCount,
		Complexity:          matchLevel(complexityRe, text),
		RiskLevel:           matchLevel(riskRe, text),
		EstimatedDuration:   matchDuration(text),
		ValidationErrors:    v.Errors,
		PromptTokens:        resp.Usage.PromptTokens,
		CompletionTokens:    resp.Usage.CompletionTokens,
		TotalTokens:         resp.Usage.TotalTokens,
		ExecutionTimeMs:     time.Since(start).Milliseconds(),
		Status:              store.StatusCompleted,
	}

	storeCtx := context.WithoutCancel(ctx)
	if perr := p.store.CreatePlanGeneration(storeCtx, g); perr != nil {
		return nil, fmt.Errorf("persist plan generation: %w", perr)
	}
	if perr := p.store.AddExecutionTime(storeCtx, plan.ID, g.ExecutionTimeMs); perr != nil {
		p.logger.Warn("Failed to record plan execution time", "plan_id", plan.ID, "error", perr)
	}

	p.logExecution(storeCtx, &store.ExecutionLog{
		PlanID:           plan.ID,
		AgentType:        generationAgentID,
		Step:             stepGeneration,
		StepNumber:       3,
		DurationMs:       g.ExecutionTimeMs,
		PromptTokens:     g.PromptTokens,
		CompletionTokens: g.CompletionTokens,
		TotalTokens:      g.TotalTokens,
		IsSuccess:        true,
		InputPrompt:      prompt,
		Metadata: map[string]any{
			"valid_markdown":        g.IsValidMarkdown,
			"has_required_sections": g.HasRequiredSections,
			"total_steps":           g.TotalSteps,
		},
	})
	p.metrics.ObserveAgentCall(stepGeneration, time.Since(start), g.TotalTokens, nil)

	return g, nil
}

// buildGenerationPrompt lists the selected files with the priority and
// description carried on each entry, discovered and manual alike.
func buildGenerationPrompt(plan *store.FeaturePlan) string {
	var files strings.Builder
	for _, f := range plan.SelectedFiles {
		fmt.Fprintf(&files, "- %s (%s): %s\n", f.FilePath, f.Priority, f.Description)
	}

	return fmt.Sprintf(`Create a detailed implementation plan for this feature.

FEATURE REQUEST:
%s

RELEVANT FILES:
%s
Create a structured markdown plan with:
1. Overview (estimated duration, complexity, risk level)
2. Quick Summary (2-3 sentences)
3. Prerequisites
4. Implementation Steps (numbered, with validation commands)
5. Quality Gates
6. Notes

IMPORTANT:
- Use markdown format (not XML)
- No code examples in plan (instructions only)
- Add confidence level for each step (high/medium/low)`, plan.RefinedRequest, files.String())
}

func matchLevel(re *regexp.Regexp, text string) string {
	if m := re.FindStringSubmatch(text); m != nil {
		return strings.ToLower(m[1])
	}
	return "medium"
}

func matchDuration(text string) string {
	if m := durationRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), "*_"))
	}
	return ""
}
