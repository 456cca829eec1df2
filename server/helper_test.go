package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/headshakers/planner/agent"
	"github.com/headshakers/planner/job"
	"github.com/headshakers/planner/llm"
	_ "github.com/headshakers/planner/llm/providers"
	"github.com/headshakers/planner/planner"
	"github.com/headshakers/planner/store"
	"github.com/headshakers/planner/testutil"
	"github.com/headshakers/planner/tools/file"
)

// respondChat writes a non-streaming OpenAI-compatible response.
func respondChat(w http.ResponseWriter, content string) {
	resp := map[string]any{
		"model": "test-model",
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
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

// serverHarness wires the full HTTP surface against a fake LLM endpoint and
// an embedded NATS store.
type serverHarness struct {
	srv   *httptest.Server
	jobs  *job.Store
	store *store.Store
	js    jetstream.JetStream
}

// harnessConfig tweaks per-test wiring.
type harnessConfig struct {
	deltaInterval time.Duration
}

func newServerHarness(t *testing.T, llmHandler http.HandlerFunc, cfg harnessConfig) *serverHarness {
	t.Helper()

	llmSrv := httptest.NewServer(llmHandler)
	t.Cleanup(llmSrv.Close)

	client := llm.NewClient("test-model", map[string]llm.Endpoint{
		"test-model": {Provider: "ollama", URL: llmSrv.URL, Model: "test-model"},
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
	ctx := context.Background()

	st, err := store.NewStore(ctx, js)
	require.NoError(t, err)

	jobs, err := job.NewStore(ctx, js, 10*time.Minute, time.Hour)
	require.NoError(t, err)

	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "src", "theme.ts"), []byte("export const theme = 'dark'\n"), 0o644))

	pl := planner.New(client, catalog, st, file.NewExecutor(repo, logger), nil, planner.Config{
		CallTimeout:    10 * time.Second,
		MinOutputWords: 1,
		MaxOutputWords: 200,
	}, logger)

	s := New(jobs, st, pl, nil, cfg.deltaInterval, logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &serverHarness{srv: srv, jobs: jobs, store: st, js: js}
}

// do issues a request with the given caller identity and JSON body.
func (h *serverHarness) do(t *testing.T, method, path, userID string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// doJSON issues a request and decodes the JSON response into out.
func (h *serverHarness) doJSON(t *testing.T, method, path, userID string, body, out any) int {
	t.Helper()
	resp := h.do(t, method, path, userID, body)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// sseEvent is one parsed frame from an SSE response. Name is empty for
// data-only frames.
type sseEvent struct {
	Name string
	Data string
}

// readSSE consumes an SSE response body into its frames.
func readSSE(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()

	var events []sseEvent
	var cur sseEvent
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.Name != "" || cur.Data != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "event: "):
			cur.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, scanner.Err())
	if cur.Name != "" || cur.Data != "" {
		events = append(events, cur)
	}
	return events
}

func decodeEvent(t *testing.T, e sseEvent, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(e.Data), v))
}

func validJobInput() job.Input {
	return job.Input{
		PageOrComponent: "dashboard",
		FeatureType:     "enhancement",
		PriorityLevel:   "high",
	}
}

// createJob stores a job for userID and returns its ID.
func (h *serverHarness) createJob(t *testing.T, userID string) string {
	t.Helper()
	var resp createJobResponse
	status := h.doJSON(t, http.MethodPost, "/jobs", userID, validJobInput(), &resp)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, resp.JobID)
	return resp.JobID
}

// createPlan stores a plan for userID over HTTP and returns it.
func (h *serverHarness) createPlan(t *testing.T, userID, request string) *store.FeaturePlan {
	t.Helper()
	var plan store.FeaturePlan
	status := h.doJSON(t, http.MethodPost, "/plans", userID, createPlanRequest{OriginalRequest: request}, &plan)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, plan.ID)
	return &plan
}
