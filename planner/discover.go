package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/headshakers/planner/llm"
	"github.com/headshakers/planner/store"
)

// discoveryAgentID is the catalog ID that overrides the built-in discovery
// behavior when present.
const discoveryAgentID = "file-discovery"

const discoverySystemPrompt = `You are a codebase analyst locating the files relevant to a feature request.

You have read-only tools: file_glob to list files by pattern, file_grep to
search file contents, and file_read to inspect individual files. Use them to
explore the repository before answering.

When you have enough information, respond with a single JSON object and
nothing else:
{"files":[{"filePath":"...","priority":"critical|high|medium|low","description":"...","role":"...","integrationPoint":"...","reasoning":"...","relevanceScore":0-100}],"architectureInsights":"..."}`

// maxToolTurns bounds the discovery agent's explore loop. The final turn is
// issued without tools to force an answer.
const maxToolTurns = 8

// discoveryOutput is the JSON shape the discovery agent is instructed to emit.
type discoveryOutput struct {
	Files                []store.FileDiscoveryResult `json:"files"`
	ArchitectureInsights string                      `json:"architectureInsights"`
}

// DiscoverFiles runs the file discovery agent against the plan's refined
// request. The agent explores the repository through read-only tools, then
// emits a prioritized file list which is verified against the repo and
// persisted as a new, independent discovery session.
func (p *Planner) DiscoverFiles(ctx context.Context, plan *store.FeaturePlan, model string) (*store.DiscoverySession, error) {
	if strings.TrimSpace(plan.RefinedRequest) == "" {
		return nil, fmt.Errorf("plan has no refined request")
	}

	start := time.Now()
	system := discoverySystemPrompt
	var temperature *float64
	agentID := discoveryAgentID
	if ag, ok := p.catalog.Get(discoveryAgentID); ok && ag.Active {
		system = ag.SystemPrompt
		temperature = ag.Temperature
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	prompt := buildDiscoveryPrompt(plan.RefinedRequest)
	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}

	var usage llm.TokenUsage
	var final *llm.Response
	for turn := 0; ; turn++ {
		tools := p.files.Definitions()
		if turn >= maxToolTurns {
			tools = nil
		}

		resp, err := p.client.Complete(callCtx, llm.Request{
			Model:       model,
			Temperature: temperature,
			Messages:    messages,
			Tools:       tools,
		})
		if err != nil {
			p.metrics.ObserveAgentCall(stepDiscovery, time.Since(start), usage.TotalTokens, err)
			p.logExecution(context.WithoutCancel(ctx), &store.ExecutionLog{
				PlanID:      plan.ID,
				AgentType:   agentID,
				Step:        stepDiscovery,
				StepNumber:  2,
				DurationMs:  time.Since(start).Milliseconds(),
				IsSuccess:   false,
				InputPrompt: prompt,
				Metadata:    map[string]any{"error": err.Error()},
			})
			return nil, err
		}

		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		usage.TotalTokens += resp.Usage.TotalTokens

		if len(resp.ToolCalls) == 0 {
			final = resp
			break
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result, terr := p.files.Execute(callCtx, call)
			if terr != nil {
				p.metrics.ObserveAgentCall(stepDiscovery, time.Since(start), usage.TotalTokens, terr)
				return nil, fmt.Errorf("execute tool %s: %w", call.Name, terr)
			}
			messages = append(messages, result.Message())
		}
	}

	var out discoveryOutput
	raw := extractJSON(final.Content)
	if raw == "" {
		return nil, fmt.Errorf("discovery output has no JSON object")
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse discovery output: %w", err)
	}

	for i := range out.Files {
		f := &out.Files[i]
		f.Priority = normalizePriority(f.Priority)
		if f.RelevanceScore < 0 {
			f.RelevanceScore = 0
		} else if f.RelevanceScore > 100 {
			f.RelevanceScore = 100
		}
		f.FileExists = p.files.FileExists(f.FilePath)
	}

	session := &store.DiscoverySession{
		PlanID:               plan.ID,
		AgentID:              agentID,
		RefinedRequest:       plan.RefinedRequest,
		DiscoveredFiles:      out.Files,
		ArchitectureInsights: out.ArchitectureInsights,
		PromptTokens:         usage.PromptTokens,
		CompletionTokens:     usage.CompletionTokens,
		TotalTokens:          usage.TotalTokens,
		ExecutionTimeMs:      time.Since(start).Milliseconds(),
		Status:               store.StatusCompleted,
	}
	session.CountPriorities()

	storeCtx := context.WithoutCancel(ctx)
	if err := p.store.CreateDiscoverySession(storeCtx, session); err != nil {
		return nil, fmt.Errorf("persist discovery session: %w", err)
	}
	if err := p.store.AddExecutionTime(storeCtx, plan.ID, session.ExecutionTimeMs); err != nil {
		p.logger.Warn("Failed to record plan execution time", "plan_id", plan.ID, "error", err)
	}

	p.logExecution(storeCtx, &store.ExecutionLog{
		PlanID:           plan.ID,
		AgentType:        agentID,
		Step:             stepDiscovery,
		StepNumber:       2,
		DurationMs:       session.ExecutionTimeMs,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		IsSuccess:        true,
		InputPrompt:      prompt,
		Metadata:         map[string]any{"files_found": session.TotalFilesFound},
	})
	p.metrics.ObserveAgentCall(stepDiscovery, time.Since(start), usage.TotalTokens, nil)

	p.logger.Info("File discovery completed",
		"plan_id", plan.ID,
		"files_found", session.TotalFilesFound,
		"duration_ms", session.ExecutionTimeMs)

	return session, nil
}

func buildDiscoveryPrompt(refinedRequest string) string {
	return fmt.Sprintf(`Find all relevant files for implementing this feature request.

FEATURE REQUEST:
%s

For each file, provide:
- File path (exact path from project root)
- Priority (critical/high/medium/low)
- Role (what type of file: component, service, schema, etc.)
- Integration point (how it connects to the feature)
- Reasoning (why it's relevant)
- Relevance score (0-100)

Return at least 5 relevant files, organized by priority.`, refinedRequest)
}

func normalizePriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "critical":
		return "critical"
	case "high":
		return "high"
	case "low":
		return "low"
	default:
		return "medium"
	}
}
