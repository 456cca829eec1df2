package planner

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headshakers/planner/job"
)

const suggestionAnswer = `{"suggestions":[
  {"title":"Collection insights","description":"Show stats per collection","rationale":"Owners want trends","implementationConsiderations":["needs aggregation query"]},
  {"title":"Bulk tagging","description":"Tag many items at once","rationale":"Saves time"}
]}`

func suggestionInput() job.Input {
	return job.Input{
		PageOrComponent:   "dashboard",
		FeatureType:       "enhancement",
		PriorityLevel:     "high",
		AdditionalContext: "power users only",
	}
}

func TestSuggestFeatures(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeChatRequest(t, r)
		require.True(t, req.Stream)
		user := req.Messages[1].Content
		require.Contains(t, user, "dashboard")
		require.Contains(t, user, "power users only")
		// Deliver the JSON split across chunks
		respondStream(w, suggestionAnswer[:40], suggestionAnswer[40:])
	})

	var chunks []string
	outcome, err := h.planner.SuggestFeatures(context.Background(), suggestionInput(), func(text string) {
		chunks = append(chunks, text)
	})
	require.NoError(t, err)

	require.Len(t, outcome.Result.Suggestions, 2)
	assert.Equal(t, "Collection insights", outcome.Result.Suggestions[0].Title)
	assert.Equal(t, []string{"needs aggregation query"}, outcome.Result.Suggestions[0].ImplementationConsiderations)
	assert.Equal(t, "Bulk tagging", outcome.Result.Suggestions[1].Title)

	assert.Equal(t, 15, outcome.TokenUsage.TotalTokens)
	assert.GreaterOrEqual(t, outcome.ExecutionTimeMs, int64(0))

	// Chunks concatenate to the full output
	assert.Equal(t, suggestionAnswer, strings.Join(chunks, ""))
}

func TestSuggestFeaturesBadOutput(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		respondStream(w, "I have no ideas today.")
	})

	_, err := h.planner.SuggestFeatures(context.Background(), suggestionInput(), func(string) {})
	assert.ErrorContains(t, err, "parse suggestion output")
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"with prose", `Sure: {"a":1} hope that helps`, `{"a":1}`},
		{"no object", "nothing here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}
