package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/headshakers/planner/job"
	"github.com/headshakers/planner/llm"
)

// suggestionAgentID is the catalog ID that overrides the built-in suggestion
// behavior when present.
const suggestionAgentID = "feature-suggestion"

const suggestionSystemPrompt = `You are a senior product strategist generating feature suggestions.

Your expertise:
- Product discovery and opportunity sizing
- Translating user context into concrete, buildable features
- Balancing user value against implementation effort

You always respond with a single JSON object and nothing else.`

// Suggestion is one proposed feature idea.
type Suggestion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Rationale   string `json:"rationale"`

	ImplementationConsiderations []string `json:"implementationConsiderations,omitempty"`
}

// SuggestionSet is the engine-specific payload of the complete event.
type SuggestionSet struct {
	Suggestions []Suggestion `json:"suggestions"`
}

// SuggestionOutcome carries the parsed suggestions plus execution metadata.
type SuggestionOutcome struct {
	Result          SuggestionSet
	ExecutionTimeMs int64
	TokenUsage      llm.TokenUsage
}

// SuggestFeatures runs the feature suggestion agent for a job's input,
// streaming raw text through onChunk as it arrives. The accumulated output
// must parse as a suggestion JSON object or the call fails.
func (p *Planner) SuggestFeatures(ctx context.Context, input job.Input, onChunk func(string)) (*SuggestionOutcome, error) {
	start := time.Now()

	system := suggestionSystemPrompt
	var temperature *float64
	if ag, ok := p.catalog.Get(suggestionAgentID); ok && ag.Active {
		system = ag.SystemPrompt
		temperature = ag.Temperature
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	resp, err := p.client.Complete(callCtx, llm.Request{
		Model:       input.CustomModel,
		Temperature: temperature,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: buildSuggestionPrompt(input)},
		},
		OnChunk: onChunk,
	})
	p.metrics.ObserveAgentCall(stepSuggestion, time.Since(start), tokensOf(resp), err)
	if err != nil {
		return nil, err
	}

	set, perr := parseSuggestions(resp.Content)
	if perr != nil {
		return nil, fmt.Errorf("parse suggestion output: %w", perr)
	}

	return &SuggestionOutcome{
		Result:          *set,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		TokenUsage:      resp.Usage,
	}, nil
}

func tokensOf(resp *llm.Response) int {
	if resp == nil {
		return 0
	}
	return resp.Usage.TotalTokens
}

func buildSuggestionPrompt(input job.Input) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Suggest three concrete feature ideas for the following area of the product.

PAGE OR COMPONENT: %s
FEATURE TYPE: %s
PRIORITY LEVEL: %s
`, input.PageOrComponent, input.FeatureType, input.PriorityLevel)
	if input.AdditionalContext != "" {
		fmt.Fprintf(&sb, "ADDITIONAL CONTEXT: %s\n", input.AdditionalContext)
	}
	sb.WriteString(`
For each suggestion provide a title, a short description, the rationale, and
implementation considerations.

Respond with JSON only:
{"suggestions":[{"title":"...","description":"...","rationale":"...","implementationConsiderations":["..."]}]}`)
	return sb.String()
}

// parseSuggestions extracts the suggestion object from the agent output,
// tolerating prose or code fences around the JSON.
func parseSuggestions(content string) (*SuggestionSet, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in output")
	}

	var set SuggestionSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		return nil, err
	}
	if len(set.Suggestions) == 0 {
		return nil, fmt.Errorf("no suggestions in output")
	}
	return &set, nil
}

// extractJSON returns the outermost {...} span of s, or "".
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}
