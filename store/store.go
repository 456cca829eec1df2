package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names for each record kind.
const (
	BucketPlans       = "PLANNER_PLANS"
	BucketRefinements = "PLANNER_REFINEMENTS"
	BucketDiscovery   = "PLANNER_DISCOVERY_SESSIONS"
	BucketGenerations = "PLANNER_PLAN_GENERATIONS"
	BucketLogs        = "PLANNER_EXECUTION_LOGS"
)

// Store provides workflow record storage backed by NATS KV.
type Store struct {
	plans       jetstream.KeyValue
	refinements jetstream.KeyValue
	discovery   jetstream.KeyValue
	generations jetstream.KeyValue
	logs        jetstream.KeyValue
}

// NewStore creates a new Store with the given JetStream context.
// It creates the necessary KV buckets if they don't exist.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	s := &Store{}
	for _, b := range []struct {
		name string
		kv   *jetstream.KeyValue
	}{
		{BucketPlans, &s.plans},
		{BucketRefinements, &s.refinements},
		{BucketDiscovery, &s.discovery},
		{BucketGenerations, &s.generations},
		{BucketLogs, &s.logs},
	} {
		kv, err := getOrCreateBucket(ctx, js, b.name)
		if err != nil {
			return nil, fmt.Errorf("create %s bucket: %w", strings.ToLower(b.name), err)
		}
		*b.kv = kv
	}
	return s, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Planner %s storage", strings.ToLower(name)),
		History:     5, // Keep last 5 revisions
	})
}

// CreatePlan creates a new feature plan for the given user.
func (s *Store) CreatePlan(ctx context.Context, userID, originalRequest, parentPlanID string) (*FeaturePlan, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}
	if strings.TrimSpace(originalRequest) == "" {
		return nil, fmt.Errorf("originalRequest is required")
	}

	now := time.Now()
	p := &FeaturePlan{
		ID:              uuid.New().String(),
		UserID:          userID,
		CurrentStep:     StepCapture,
		OriginalRequest: originalRequest,
		Status:          StatusInProgress,
		Version:         1,
		ParentPlanID:    parentPlanID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := create(ctx, s.plans, p.ID, p, "plan"); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPlan retrieves a plan by ID.
func (s *Store) GetPlan(ctx context.Context, planID string) (*FeaturePlan, error) {
	return get[FeaturePlan](ctx, s.plans, planID, "plan")
}

// UpdatePlan writes back a modified plan, bumping its version.
func (s *Store) UpdatePlan(ctx context.Context, p *FeaturePlan) error {
	p.Version++
	p.UpdatedAt = time.Now()
	return put(ctx, s.plans, p.ID, p, "plan")
}

// ListPlansByUser returns all plans owned by the given user.
func (s *Store) ListPlansByUser(ctx context.Context, userID string) ([]*FeaturePlan, error) {
	all, err := list[FeaturePlan](ctx, s.plans)
	if err != nil {
		return nil, err
	}
	plans := make([]*FeaturePlan, 0, len(all))
	for _, p := range all {
		if p.UserID == userID {
			plans = append(plans, p)
		}
	}
	return plans, nil
}

// SetStep moves the plan's workflow cursor. Forward moves are gated on the
// prior step's artifact; on a gate failure the stored step is unchanged and
// ErrStepLocked is returned.
func (s *Store) SetStep(ctx context.Context, planID string, step int) (*FeaturePlan, error) {
	p, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := p.canEnterStep(step); err != nil {
		return nil, err
	}
	p.CurrentStep = step
	if err := s.UpdatePlan(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateRefinement stores a refinement record for a plan.
func (s *Store) CreateRefinement(ctx context.Context, r *Refinement) error {
	if r.PlanID == "" || r.AgentID == "" {
		return fmt.Errorf("refinement requires planId and agentId")
	}
	r.ID = uuid.New().String()
	r.CreatedAt = time.Now()
	return create(ctx, s.refinements, r.ID, r, "refinement")
}

// GetRefinement retrieves a refinement by ID.
func (s *Store) GetRefinement(ctx context.Context, id string) (*Refinement, error) {
	return get[Refinement](ctx, s.refinements, id, "refinement")
}

// ListRefinementsByPlan returns all refinements recorded for a plan.
func (s *Store) ListRefinementsByPlan(ctx context.Context, planID string) ([]*Refinement, error) {
	all, err := list[Refinement](ctx, s.refinements)
	if err != nil {
		return nil, err
	}
	out := make([]*Refinement, 0, len(all))
	for _, r := range all {
		if r.PlanID == planID {
			out = append(out, r)
		}
	}
	return out, nil
}

// SelectRefinement records the step-1 choice on the plan. An empty
// refinementID means the original request is used unmodified. Selection is a
// pure state transition on the plan; other refinement records are untouched.
func (s *Store) SelectRefinement(ctx context.Context, planID, refinementID string) (*FeaturePlan, error) {
	p, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	if refinementID == "" {
		p.SelectedRefinementID = ""
		p.RefinedRequest = p.OriginalRequest
	} else {
		r, err := s.GetRefinement(ctx, refinementID)
		if err != nil {
			return nil, err
		}
		if r.PlanID != planID {
			return nil, fmt.Errorf("refinement %s does not belong to plan %s", refinementID, planID)
		}
		if strings.TrimSpace(r.RefinedRequest) == "" {
			return nil, fmt.Errorf("refinement %s has no refined text", refinementID)
		}
		p.SelectedRefinementID = refinementID
		p.RefinedRequest = r.RefinedRequest
	}

	if err := s.UpdatePlan(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateDiscoverySession stores a file-discovery session for a plan.
func (s *Store) CreateDiscoverySession(ctx context.Context, d *DiscoverySession) error {
	if d.PlanID == "" || d.AgentID == "" {
		return fmt.Errorf("discovery session requires planId and agentId")
	}
	d.ID = uuid.New().String()
	d.CreatedAt = time.Now()
	return create(ctx, s.discovery, d.ID, d, "discovery session")
}

// GetDiscoverySession retrieves a discovery session by ID.
func (s *Store) GetDiscoverySession(ctx context.Context, id string) (*DiscoverySession, error) {
	return get[DiscoverySession](ctx, s.discovery, id, "discovery session")
}

// ListDiscoverySessionsByPlan returns all discovery sessions for a plan.
func (s *Store) ListDiscoverySessionsByPlan(ctx context.Context, planID string) ([]*DiscoverySession, error) {
	all, err := list[DiscoverySession](ctx, s.discovery)
	if err != nil {
		return nil, err
	}
	out := make([]*DiscoverySession, 0, len(all))
	for _, d := range all {
		if d.PlanID == planID {
			out = append(out, d)
		}
	}
	return out, nil
}

// SelectDiscoverySession marks one session as the plan's chosen discovery
// run, clearing the flag on any previously selected session.
func (s *Store) SelectDiscoverySession(ctx context.Context, planID, sessionID string) (*FeaturePlan, error) {
	p, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	chosen, err := s.GetDiscoverySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if chosen.PlanID != planID {
		return nil, fmt.Errorf("discovery session %s does not belong to plan %s", sessionID, planID)
	}

	siblings, err := s.ListDiscoverySessionsByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	for _, d := range siblings {
		selected := d.ID == sessionID
		if d.IsSelected == selected {
			continue
		}
		d.IsSelected = selected
		if err := put(ctx, s.discovery, d.ID, d, "discovery session"); err != nil {
			return nil, err
		}
	}

	p.SelectedDiscoverySessionID = sessionID
	if err := s.UpdatePlan(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SetSelectedFiles records the final file list for planning. Entries whose
// path matches the selected discovery session inherit its metadata unless the
// caller supplied their own; anything else is marked as manually added.
// Priorities default to medium.
func (s *Store) SetSelectedFiles(ctx context.Context, planID string, files []FileDiscoveryResult) (*FeaturePlan, error) {
	p, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	byPath := map[string]FileDiscoveryResult{}
	if p.SelectedDiscoverySessionID != "" {
		session, err := s.GetDiscoverySession(ctx, p.SelectedDiscoverySessionID)
		if err != nil {
			return nil, err
		}
		for _, f := range session.DiscoveredFiles {
			byPath[f.FilePath] = f
		}
	}

	selected := make([]FileDiscoveryResult, 0, len(files))
	for _, f := range files {
		if strings.TrimSpace(f.FilePath) == "" {
			return nil, fmt.Errorf("selected file requires a filePath")
		}
		if d, ok := byPath[f.FilePath]; ok {
			if f.Description == "" {
				f.Description = d.Description
			}
			if f.Priority == "" {
				f.Priority = d.Priority
			}
			f.RelevanceScore = d.RelevanceScore
			f.FileExists = d.FileExists
		} else {
			f.IsManuallyAdded = true
		}
		if f.Priority == "" {
			f.Priority = "medium"
		}
		selected = append(selected, f)
	}

	p.SelectedFiles = selected
	if err := s.UpdatePlan(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreatePlanGeneration stores a plan-generation record.
func (s *Store) CreatePlanGeneration(ctx context.Context, g *PlanGeneration) error {
	if g.PlanID == "" || g.AgentID == "" {
		return fmt.Errorf("plan generation requires planId and agentId")
	}
	g.ID = uuid.New().String()
	g.CreatedAt = time.Now()
	return create(ctx, s.generations, g.ID, g, "plan generation")
}

// GetPlanGeneration retrieves a plan generation by ID.
func (s *Store) GetPlanGeneration(ctx context.Context, id string) (*PlanGeneration, error) {
	return get[PlanGeneration](ctx, s.generations, id, "plan generation")
}

// ListPlanGenerationsByPlan returns all generation records for a plan.
func (s *Store) ListPlanGenerationsByPlan(ctx context.Context, planID string) ([]*PlanGeneration, error) {
	all, err := list[PlanGeneration](ctx, s.generations)
	if err != nil {
		return nil, err
	}
	out := make([]*PlanGeneration, 0, len(all))
	for _, g := range all {
		if g.PlanID == planID {
			out = append(out, g)
		}
	}
	return out, nil
}

// SelectPlanGeneration marks one generation as the plan's implementation
// plan and completes the workflow.
func (s *Store) SelectPlanGeneration(ctx context.Context, planID, generationID string) (*FeaturePlan, error) {
	p, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	chosen, err := s.GetPlanGeneration(ctx, generationID)
	if err != nil {
		return nil, err
	}
	if chosen.PlanID != planID {
		return nil, fmt.Errorf("plan generation %s does not belong to plan %s", generationID, planID)
	}
	if strings.TrimSpace(chosen.ImplementationPlan) == "" {
		return nil, fmt.Errorf("plan generation %s has no plan text", generationID)
	}

	siblings, err := s.ListPlanGenerationsByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	for _, g := range siblings {
		selected := g.ID == generationID
		if g.IsSelected == selected {
			continue
		}
		g.IsSelected = selected
		if err := put(ctx, s.generations, g.ID, g, "plan generation"); err != nil {
			return nil, err
		}
	}

	p.SelectedPlanGenerationID = generationID
	p.ImplementationPlan = chosen.ImplementationPlan
	p.Status = StatusCompleted
	if err := s.UpdatePlan(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// AddExecutionTime accumulates agent execution time onto the plan.
func (s *Store) AddExecutionTime(ctx context.Context, planID string, ms int64) error {
	p, err := s.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	p.TotalExecutionTimeMs += ms
	return s.UpdatePlan(ctx, p)
}

// AppendExecutionLog stores an audit record for one agent invocation.
func (s *Store) AppendExecutionLog(ctx context.Context, l *ExecutionLog) error {
	if l.PlanID == "" {
		return fmt.Errorf("execution log requires planId")
	}
	l.ID = uuid.New().String()
	l.CreatedAt = time.Now()
	return create(ctx, s.logs, l.ID, l, "execution log")
}

// ListExecutionLogs returns all execution logs for a plan.
func (s *Store) ListExecutionLogs(ctx context.Context, planID string) ([]*ExecutionLog, error) {
	all, err := list[ExecutionLog](ctx, s.logs)
	if err != nil {
		return nil, err
	}
	out := make([]*ExecutionLog, 0, len(all))
	for _, l := range all {
		if l.PlanID == planID {
			out = append(out, l)
		}
	}
	return out, nil
}

func create[T any](ctx context.Context, kv jetstream.KeyValue, key string, v *T, kind string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	if _, err := kv.Create(ctx, key, data); err != nil {
		return fmt.Errorf("store %s: %w", kind, err)
	}
	return nil
}

func put[T any](ctx context.Context, kv jetstream.KeyValue, key string, v *T, kind string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	if _, err := kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("update %s: %w", kind, err)
	}
	return nil
}

func get[T any](ctx context.Context, kv jetstream.KeyValue, key, kind string) (*T, error) {
	entry, err := kv.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", kind, err)
	}
	var v T
	if err := json.Unmarshal(entry.Value(), &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	return &v, nil
}

func list[T any](ctx context.Context, kv jetstream.KeyValue) ([]*T, error) {
	keys, err := kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}

	out := make([]*T, 0, len(keys))
	for _, key := range keys {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var v T
		if err := json.Unmarshal(entry.Value(), &v); err != nil {
			continue
		}
		out = append(out, &v)
	}
	return out, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
