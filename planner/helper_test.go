package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/headshakers/planner/agent"
	"github.com/headshakers/planner/llm"
	_ "github.com/headshakers/planner/llm/providers"
	"github.com/headshakers/planner/store"
	"github.com/headshakers/planner/testutil"
	"github.com/headshakers/planner/tools/file"
)

// chatRequest mirrors the OpenAI-compatible request shape the fake endpoint
// receives.
type chatRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role       string `json:"role"`
		Content    string `json:"content"`
		ToolCallID string `json:"tool_call_id"`
	} `json:"messages"`
}

func decodeChatRequest(t *testing.T, r *http.Request) chatRequest {
	t.Helper()
	var req chatRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

// respondChat writes a non-streaming OpenAI-compatible response.
func respondChat(w http.ResponseWriter, content string, toolCalls ...map[string]any) {
	message := map[string]any{"role": "assistant", "content": content}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}
	resp := map[string]any{
		"model": "test-model",
		"choices": []map[string]any{
			{"message": message, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func toolCall(id, name, arguments string) map[string]any {
	return map[string]any{
		"id":   id,
		"type": "function",
		"function": map[string]any{
			"name":      name,
			"arguments": arguments,
		},
	}
}

// respondStream writes an OpenAI-compatible SSE stream delivering the given
// text chunks followed by a usage frame and [DONE].
func respondStream(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, chunk := range chunks {
		payload, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{
				{"delta": map[string]string{"content": chunk}},
			},
		})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprintf(w, `data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`+"\n\n")
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

// testHarness wires a Planner against a fake LLM endpoint, an embedded NATS
// store, the built-in agent catalog, and a throwaway repo.
type testHarness struct {
	planner *Planner
	store   *store.Store
	repo    string
}

func newTestHarness(t *testing.T, handler http.HandlerFunc) *testHarness {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := llm.NewClient("test-model", map[string]llm.Endpoint{
		"test-model": {Provider: "ollama", URL: srv.URL, Model: "test-model"},
	}, llm.WithRetryConfig(llm.RetryConfig{
		MaxAttempts:       1,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 1,
		MaxBackoff:        time.Millisecond,
	}))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	catalog := agent.NewCatalog(filepath.Join(t.TempDir(), "agents.yaml"), logger)
	require.NoError(t, catalog.Load())

	js := testutil.StartJetStream(t)
	st, err := store.NewStore(context.Background(), js)
	require.NoError(t, err)

	repo := t.TempDir()
	writeRepoFile(t, repo, "src/theme.ts", "export const theme = 'dark'\n")
	writeRepoFile(t, repo, "src/app.ts", "import { theme } from './theme'\n")

	p := New(client, catalog, st, file.NewExecutor(repo, logger), nil, Config{
		CallTimeout:    10 * time.Second,
		MinOutputWords: 1,
		MaxOutputWords: 200,
	}, logger)

	return &testHarness{planner: p, store: st, repo: repo}
}

func writeRepoFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (h *testHarness) newPlan(t *testing.T) *store.FeaturePlan {
	t.Helper()
	p, err := h.store.CreatePlan(context.Background(), "user-1", "Add dark mode toggle", "")
	require.NoError(t, err)
	return p
}
