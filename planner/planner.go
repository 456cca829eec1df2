// Package planner implements the feature planning workflow engine: parallel
// refinement of a feature request, tool-driven file discovery against a
// repository, implementation plan generation with structural validation, and
// feature suggestion for the streaming job endpoint.
package planner

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/headshakers/planner/agent"
	"github.com/headshakers/planner/llm"
	"github.com/headshakers/planner/metrics"
	"github.com/headshakers/planner/store"
	"github.com/headshakers/planner/tools/file"
)

// Workflow step names used in execution logs and metrics.
const (
	stepRefinement = "refinement"
	stepDiscovery  = "discovery"
	stepGeneration = "generation"
	stepSuggestion = "suggestion"
)

// Config holds workflow engine tunables.
type Config struct {
	// CallTimeout bounds a single agent invocation, streaming included.
	CallTimeout time.Duration

	// MinOutputWords and MaxOutputWords bound refinement output length.
	MinOutputWords int
	MaxOutputWords int
}

// Planner coordinates agent invocations and persists their results.
type Planner struct {
	client  *llm.Client
	catalog *agent.Catalog
	store   *store.Store
	files   *file.Executor
	metrics *metrics.Metrics
	cfg     Config
	logger  *slog.Logger
}

// New creates a Planner. A nil metrics value gets unregistered collectors; a
// nil logger falls back to slog.Default().
func New(client *llm.Client, catalog *agent.Catalog, st *store.Store, files *file.Executor,
	m *metrics.Metrics, cfg Config, logger *slog.Logger) *Planner {

	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Minute
	}
	if cfg.MinOutputWords <= 0 {
		cfg.MinOutputWords = 50
	}
	if cfg.MaxOutputWords <= 0 {
		cfg.MaxOutputWords = 200
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Planner{
		client:  client,
		catalog: catalog,
		store:   st,
		files:   files,
		metrics: m,
		cfg:     cfg,
		logger:  logger,
	}
}

// logExecution records one agent invocation in the audit log. Failures to
// write the log are reported but never fail the invocation itself.
func (p *Planner) logExecution(ctx context.Context, l *store.ExecutionLog) {
	if p.store == nil {
		return
	}
	if err := p.store.AppendExecutionLog(ctx, l); err != nil {
		p.logger.Warn("Failed to append execution log",
			"plan_id", l.PlanID,
			"agent_type", l.AgentType,
			"error", err)
	}
}

// wordCount counts whitespace-separated words.
func wordCount(s string) int {
	return len(strings.Fields(s))
}
