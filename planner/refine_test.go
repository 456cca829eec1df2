package planner

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headshakers/planner/store"
)

func TestRefineFanOut(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeChatRequest(t, r)
		require.True(t, req.Stream)
		// The product manager agent is configured to fail
		if strings.Contains(req.Messages[0].Content, "product manager") {
			http.Error(w, `{"error":"agent exploded"}`, http.StatusBadRequest)
			return
		}
		respondStream(w, "Implement a dark mode toggle ", "using a theme context.")
	})
	plan := h.newPlan(t)

	var mu sync.Mutex
	updates := map[string]string{}
	results, err := h.planner.Refine(context.Background(), plan, RefinementSettings{
		AgentIDs: []string{"technical-architect", "product-manager", "ux-designer"},
	}, func(agentID, text string) {
		mu.Lock()
		updates[agentID] = text
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Results come back in agent order; the failing agent does not affect
	// its siblings
	assert.Equal(t, "technical-architect", results[0].AgentID)
	assert.Equal(t, store.StatusCompleted, results[0].Status)
	assert.Equal(t, "Implement a dark mode toggle using a theme context.", results[0].RefinedRequest)

	assert.Equal(t, "product-manager", results[1].AgentID)
	assert.Equal(t, store.StatusFailed, results[1].Status)
	assert.Contains(t, results[1].ErrorMessage, "agent exploded")
	assert.Empty(t, results[1].RefinedRequest)

	assert.Equal(t, "ux-designer", results[2].AgentID)
	assert.Equal(t, store.StatusCompleted, results[2].Status)

	// Partial updates delivered cumulative text per agent
	assert.Equal(t, "Implement a dark mode toggle using a theme context.", updates["technical-architect"])
	assert.NotContains(t, updates, "product-manager")

	// Completed and failed records are both persisted
	stored, err := h.store.ListRefinementsByPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestRefineMetrics(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		respondStream(w, "Implement a dark mode toggle using a theme context.")
	})
	plan := h.newPlan(t)

	results, err := h.planner.Refine(context.Background(), plan, RefinementSettings{
		AgentIDs: []string{"technical-architect"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, 9, r.WordCount)
	assert.Equal(t, len(r.RefinedRequest), r.CharacterCount)
	assert.InDelta(t, 9.0/4.0, r.ExpansionRatio, 0.001)
	assert.True(t, r.IsValidFormat)
	assert.Equal(t, 15, r.TotalTokens)
	assert.GreaterOrEqual(t, r.ExecutionTimeMs, int64(0))

	// Execution time accumulates onto the plan
	got, err := h.store.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ExecutionTimeMs, got.TotalExecutionTimeMs)
}

func TestRefineAllAgentsFail(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"down"}`, http.StatusBadRequest)
	})
	plan := h.newPlan(t)

	// A run where every agent fails still returns the records, not an error
	results, err := h.planner.Refine(context.Background(), plan, RefinementSettings{
		AgentIDs: []string{"technical-architect", "ux-designer"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, store.StatusFailed, r.Status)
		assert.NotEmpty(t, r.ErrorMessage)
	}
}

func TestRefineNoAgents(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	plan := h.newPlan(t)

	_, err := h.planner.Refine(context.Background(), plan, RefinementSettings{
		AgentIDs: []string{"no-such-agent"},
	}, nil)
	assert.ErrorContains(t, err, "no active refinement agents")
}

func TestValidateRefinement(t *testing.T) {
	p := New(nil, nil, nil, nil, nil, Config{MinOutputWords: 5, MaxOutputWords: 10}, nil)

	tests := []struct {
		name  string
		text  string
		codes []string
	}{
		{"valid", "one two three four five six", nil},
		{"empty", "", []string{"empty_output"}},
		{"has header", "# Title\none two three four five", []string{"not_single_paragraph"}},
		{"has bullets", "- one two three four five six", []string{"not_single_paragraph"}},
		{"too short", "one two", []string{"too_short"}},
		{"too long", "a b c d e f g h i j k l", []string{"too_long"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := p.validateRefinement(tt.text)
			require.Len(t, errs, len(tt.codes))
			for i, code := range tt.codes {
				assert.Equal(t, code, errs[i].Code)
				assert.Equal(t, "refinedRequest", errs[i].Field)
			}
		})
	}
}
