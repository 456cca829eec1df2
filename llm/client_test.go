package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider speaks a trivial JSON dialect so client tests don't depend on
// any real provider adapter.
type fakeProvider struct{}

func (fakeProvider) Name() string                 { return "fake" }
func (fakeProvider) BuildURL(baseURL string) string { return baseURL }
func (fakeProvider) SetHeaders(req *http.Request) { req.Header.Set("X-Fake", "1") }

func (fakeProvider) BuildRequestBody(model string, messages []Message, temperature *float64, maxTokens int,
	tools []ToolDefinition, stream bool) ([]byte, error) {
	return json.Marshal(map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   stream,
	})
}

func (fakeProvider) ParseResponse(body []byte, model string) (*Response, error) {
	var payload struct {
		Content string     `json:"content"`
		Calls   []ToolCall `json:"tool_calls"`
		Total   int        `json:"total_tokens"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return &Response{
		Content:   payload.Content,
		ToolCalls: payload.Calls,
		Model:     model,
		Usage:     TokenUsage{TotalTokens: payload.Total},
	}, nil
}

func (fakeProvider) ParseStreamEvent(_, data string) (*StreamDelta, error) {
	if data == "[DONE]" {
		return &StreamDelta{Done: true}, nil
	}
	var chunk struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil, err
	}
	return &StreamDelta{Text: chunk.Text}, nil
}

func init() {
	RegisterProvider(fakeProvider{})
}

// fastRetry keeps retry tests quick.
func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Millisecond,
	}
}

func testClient(url string) *Client {
	return NewClient("fake-model", map[string]Endpoint{
		"fake-model": {Provider: "fake", URL: url, Model: "fake-1"},
	}, WithRetryConfig(fastRetry()))
}

func TestCompleteValidation(t *testing.T) {
	c := testClient("http://unused")

	_, err := c.Complete(context.Background(), Request{})
	assert.ErrorContains(t, err, "at least one message")

	_, err = c.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Tools:    []ToolDefinition{{Name: "t"}},
		OnChunk:  func(string) {},
	})
	assert.ErrorContains(t, err, "streaming and tool use")

	_, err = c.Complete(context.Background(), Request{
		Model:    "unknown",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestCompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.Header.Get("X-Fake"))
		fmt.Fprint(w, `{"content":"hello back","total_tokens":9}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	resp, err := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello back", resp.Content)
	assert.Equal(t, "fake-1", resp.Model)
	assert.Equal(t, 9, resp.Usage.TotalTokens)
	assert.NotEmpty(t, resp.RequestID)
	assert.Greater(t, resp.Duration, time.Duration(0))
}

func TestCompleteRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"content":"eventually"}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	resp, err := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "eventually", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCompleteFatalNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestCompleteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var req struct {
			Stream bool `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"text\":\"Hello\"}\n\n")
		fmt.Fprint(w, "data: {\"text\":\", world\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var chunks []string
	c := testClient(srv.URL)
	resp, err := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
		OnChunk:  func(text string) { chunks = append(chunks, text) },
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello, world", resp.Content)
	assert.Equal(t, []string{"Hello", ", world"}, chunks)
}

func TestCompleteStreamNotRetriedAfterOutput(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"text\":\"partial\"}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
		OnChunk:  func(string) {},
	})
	require.Error(t, err)
	// Output already reached the caller, so no second attempt
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":"","tool_calls":[{"id":"c1","name":"file_read","arguments":{"path":"main.go"}}]}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	resp, err := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "read main"}},
		Tools:    []ToolDefinition{{Name: "file_read"}},
	})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "file_read", resp.ToolCalls[0].Name)
}

func TestCompleteContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client disconnect and
		// cancels the request context; otherwise this handler never returns
		// and srv.Close hangs.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	c := testClient(srv.URL)
	_, err := c.Complete(ctx, Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
}

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadGateway, true},
		{http.StatusInternalServerError, true},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusBadRequest, false},
		{http.StatusTeapot, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := classifyHTTPError(tt.status, []byte("body"))
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, !tt.transient, IsFatal(err))
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	c := NewClient("m", nil)

	for attempt := 1; attempt <= 6; attempt++ {
		backoff := c.calculateBackoff(attempt)
		// Base 2s, multiplier 2, cap 30s, jitter +/- 25%
		assert.Greater(t, backoff, time.Duration(0))
		assert.LessOrEqual(t, backoff, time.Duration(float64(30*time.Second)*1.25))
	}
}

func TestHasModel(t *testing.T) {
	c := testClient("http://unused")
	assert.True(t, c.HasModel("fake-model"))
	assert.False(t, c.HasModel("nope"))
}
