// Package store persists feature-planning workflow records using NATS KV.
//
// Each record kind lives in its own bucket: plans carry the cross-step
// workflow state, while refinements, discovery sessions, generations, and
// execution logs are per-step artifacts keyed back to their plan.
package store

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a per-step artifact.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Workflow steps. Forward navigation is gated on the prior step's artifact;
// backward navigation is unrestricted.
const (
	StepCapture  = 1 // capture the original request
	StepRefine   = 2 // agent refinements
	StepDiscover = 3 // file discovery
	StepPlan     = 4 // implementation plan generation
)

// FeaturePlan is the root workflow record. It threads the chosen artifact of
// each step into the next one.
type FeaturePlan struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	// CurrentStep is the workflow cursor, StepCapture..StepPlan.
	CurrentStep int `json:"currentStep"`

	OriginalRequest string `json:"originalRequest"`

	// RefinedRequest is the step-1 output: either a selected refinement's
	// text or the original request when the user keeps it unmodified.
	RefinedRequest string `json:"refinedRequest,omitempty"`

	// Selections record which artifact of each step was chosen. An empty
	// SelectedRefinementID with a non-empty RefinedRequest means the
	// original request was used as-is.
	SelectedRefinementID       string `json:"selectedRefinementId,omitempty"`
	SelectedDiscoverySessionID string `json:"selectedDiscoverySessionId,omitempty"`
	SelectedPlanGenerationID   string `json:"selectedPlanGenerationId,omitempty"`

	// SelectedFiles is the final file list for planning: discovered files
	// the user kept plus manually added entries, each carrying a priority
	// and description for the generation prompt.
	SelectedFiles []FileDiscoveryResult `json:"selectedFiles,omitempty"`

	ImplementationPlan string `json:"implementationPlan,omitempty"`

	Status               Status `json:"status"`
	TotalExecutionTimeMs int64  `json:"totalExecutionTimeMs,omitempty"`

	// Version counts updates; ParentPlanID links a plan recreated from an
	// earlier one.
	Version      int    `json:"version"`
	ParentPlanID string `json:"parentPlanId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// canEnterStep reports whether the plan may move to the given step.
func (p *FeaturePlan) canEnterStep(step int) error {
	if step < StepCapture || step > StepPlan {
		return fmt.Errorf("invalid step %d", step)
	}
	if step <= p.CurrentStep {
		return nil
	}
	if step >= StepRefine && strings.TrimSpace(p.OriginalRequest) == "" {
		return fmt.Errorf("%w: step %d requires an original request", ErrStepLocked, step)
	}
	if step >= StepDiscover && strings.TrimSpace(p.RefinedRequest) == "" {
		return fmt.Errorf("%w: step %d requires a selected or original refinement", ErrStepLocked, step)
	}
	if step >= StepPlan && len(p.SelectedFiles) == 0 {
		return fmt.Errorf("%w: step %d requires a file selection", ErrStepLocked, step)
	}
	return nil
}

// ValidationError describes a single non-fatal validation finding.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Refinement is one agent's rewrite of the original request.
type Refinement struct {
	ID     string `json:"id"`
	PlanID string `json:"planId"`

	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	AgentRole string `json:"agentRole,omitempty"`
	Focus     string `json:"focus,omitempty"`

	InputRequest   string `json:"inputRequest"`
	RefinedRequest string `json:"refinedRequest,omitempty"`

	WordCount      int     `json:"wordCount,omitempty"`
	CharacterCount int     `json:"characterCount,omitempty"`
	ExpansionRatio float64 `json:"expansionRatio,omitempty"`

	ExecutionTimeMs  int64 `json:"executionTimeMs,omitempty"`
	PromptTokens     int   `json:"promptTokens,omitempty"`
	CompletionTokens int   `json:"completionTokens,omitempty"`
	TotalTokens      int   `json:"totalTokens,omitempty"`

	ErrorMessage string `json:"errorMessage,omitempty"`

	IsValidFormat    bool              `json:"isValidFormat"`
	ValidationErrors []ValidationError `json:"validationErrors,omitempty"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// FileDiscoveryResult is one file an agent judged relevant to the request.
type FileDiscoveryResult struct {
	FilePath    string `json:"filePath"`
	Description string `json:"description,omitempty"`

	// Priority is one of critical, high, medium, low.
	Priority string `json:"priority"`

	// RelevanceScore is 0-100.
	RelevanceScore int `json:"relevanceScore"`

	Role             string `json:"role,omitempty"`
	IntegrationPoint string `json:"integrationPoint,omitempty"`
	Reasoning        string `json:"reasoning,omitempty"`

	// FileExists records whether the path was verified against the repo.
	FileExists      bool `json:"fileExists"`
	IsManuallyAdded bool `json:"isManuallyAdded,omitempty"`
}

// DiscoverySession is one file-discovery run against a refined request.
type DiscoverySession struct {
	ID     string `json:"id"`
	PlanID string `json:"planId"`

	AgentID        string `json:"agentId"`
	RefinedRequest string `json:"refinedRequest"`

	DiscoveredFiles []FileDiscoveryResult `json:"discoveredFiles,omitempty"`

	CriticalPriorityCount int `json:"criticalPriorityCount"`
	HighPriorityCount     int `json:"highPriorityCount"`
	MediumPriorityCount   int `json:"mediumPriorityCount"`
	LowPriorityCount      int `json:"lowPriorityCount"`
	TotalFilesFound       int `json:"totalFilesFound"`

	ArchitectureInsights string `json:"architectureInsights,omitempty"`

	IsSelected bool `json:"isSelected"`

	PromptTokens     int   `json:"promptTokens,omitempty"`
	CompletionTokens int   `json:"completionTokens,omitempty"`
	TotalTokens      int   `json:"totalTokens,omitempty"`
	ExecutionTimeMs  int64 `json:"executionTimeMs,omitempty"`

	ErrorMessage string    `json:"errorMessage,omitempty"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CountPriorities recomputes the per-tier counters from DiscoveredFiles.
func (d *DiscoverySession) CountPriorities() {
	d.CriticalPriorityCount = 0
	d.HighPriorityCount = 0
	d.MediumPriorityCount = 0
	d.LowPriorityCount = 0
	for _, f := range d.DiscoveredFiles {
		switch f.Priority {
		case "critical":
			d.CriticalPriorityCount++
		case "high":
			d.HighPriorityCount++
		case "medium":
			d.MediumPriorityCount++
		case "low":
			d.LowPriorityCount++
		}
	}
	d.TotalFilesFound = len(d.DiscoveredFiles)
}

// PlanGeneration is one implementation-plan generation run.
type PlanGeneration struct {
	ID     string `json:"id"`
	PlanID string `json:"planId"`

	AgentID        string `json:"agentId"`
	RefinedRequest string `json:"refinedRequest"`

	ImplementationPlan string `json:"implementationPlan,omitempty"`

	IsValidMarkdown     bool `json:"isValidMarkdown"`
	HasRequiredSections bool `json:"hasRequiredSections"`

	TotalSteps         int `json:"totalSteps,omitempty"`
	PrerequisitesCount int `json:"prerequisitesCount,omitempty"`
	QualityGatesCount  int `json:"qualityGatesCount,omitempty"`

	Complexity        string `json:"complexity,omitempty"`
	RiskLevel         string `json:"riskLevel,omitempty"`
	EstimatedDuration string `json:"estimatedDuration,omitempty"`

	IsSelected bool `json:"isSelected"`

	ValidationErrors []ValidationError `json:"validationErrors,omitempty"`

	PromptTokens     int   `json:"promptTokens,omitempty"`
	CompletionTokens int   `json:"completionTokens,omitempty"`
	TotalTokens      int   `json:"totalTokens,omitempty"`
	ExecutionTimeMs  int64 `json:"executionTimeMs,omitempty"`

	ErrorMessage string    `json:"errorMessage,omitempty"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ExecutionLog is an audit record for one agent invocation.
type ExecutionLog struct {
	ID     string `json:"id"`
	PlanID string `json:"planId"`

	AgentType  string `json:"agentType"`
	Step       string `json:"step"`
	StepNumber int    `json:"stepNumber"`

	DurationMs int64 `json:"durationMs"`

	PromptTokens     int `json:"promptTokens,omitempty"`
	CompletionTokens int `json:"completionTokens,omitempty"`
	TotalTokens      int `json:"totalTokens,omitempty"`

	IsSuccess     bool   `json:"isSuccess"`
	InputPrompt   string `json:"inputPrompt,omitempty"`
	AgentResponse string `json:"agentResponse,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}
