// Package llm provides a provider-agnostic LLM client with retry and
// streaming support. Models are resolved through a named endpoint map so
// callers can override the model per request.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxResponseSize limits the LLM response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Endpoint describes one configured model endpoint.
type Endpoint struct {
	// Provider is the adapter name ("anthropic", "openai", "ollama").
	Provider string

	// URL is the API base URL. Empty uses the provider default.
	URL string

	// Model is the provider-side model identifier.
	Model string

	// MaxTokens limits response length. 0 uses the provider default.
	MaxTokens int
}

// Client is a provider-agnostic LLM client with retry support.
type Client struct {
	defaultModel string
	endpoints    map[string]Endpoint
	httpClient   *http.Client
	retryConfig  RetryConfig
	logger       *slog.Logger
}

// Message represents a chat message.
type Message struct {
	// Role is "system", "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the message text. For role "tool" it carries the tool result.
	Content string `json:"content"`

	// ToolCalls holds tool invocations on assistant messages.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID correlates a role "tool" message with the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Request defines an LLM completion request.
type Request struct {
	// Model names the endpoint to use. Empty uses the client default.
	Model string

	// Messages is the chat history to send to the LLM.
	Messages []Message

	// Temperature controls randomness. nil uses endpoint default, 0 is deterministic.
	Temperature *float64

	// MaxTokens limits response length. 0 uses the endpoint value.
	MaxTokens int

	// Tools the model may call. Incompatible with OnChunk.
	Tools []ToolDefinition

	// OnChunk, when set, enables streaming delivery. It is invoked from the
	// request goroutine with each new text fragment as it arrives.
	OnChunk func(text string)
}

// TokenUsage represents token consumption details for an LLM call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the LLM completion result.
type Response struct {
	// RequestID uniquely identifies this LLM call for log correlation.
	RequestID string

	// Content is the generated text. For streaming requests it is the full
	// accumulated output.
	Content string

	// ToolCalls holds tool invocations the model requested, if any.
	ToolCalls []ToolCall

	// Model is the actual model that was used.
	Model string

	// Usage contains token consumption metrics.
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string

	// Duration is the wall-clock time of the call including retries.
	Duration time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a new LLM client over the given endpoint map.
func NewClient(defaultModel string, endpoints map[string]Endpoint, opts ...ClientOption) *Client {
	c := &Client{
		defaultModel: defaultModel,
		endpoints:    endpoints,
		retryConfig:  DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for LLM responses
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// HasModel reports whether a named endpoint is configured.
func (c *Client) HasModel(name string) bool {
	_, ok := c.endpoints[name]
	return ok
}

// Complete sends a completion request, handling retry logic. Transient
// failures are retried with exponential backoff; once streaming output has
// been delivered via OnChunk the request is never retried.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}
	if req.OnChunk != nil && len(req.Tools) > 0 {
		return nil, fmt.Errorf("streaming and tool use cannot be combined")
	}

	modelName := req.Model
	if modelName == "" {
		modelName = c.defaultModel
	}
	ep, ok := c.endpoints[modelName]
	if !ok {
		return nil, NewFatalError(fmt.Errorf("no endpoint configured for model %q", modelName))
	}

	requestID := uuid.New().String()
	startedAt := time.Now()

	var lastErr error
	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		resp, streamed, err := c.doRequest(ctx, ep, req)
		if err == nil {
			resp.RequestID = requestID
			resp.Duration = time.Since(startedAt)
			return resp, nil
		}

		lastErr = err

		// Fatal errors and partially-delivered streams are not retryable
		if IsFatal(err) || streamed {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("Request failed, retrying",
				"request_id", requestID,
				"model", modelName,
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("model %s failed after %d attempts: %w", modelName, c.retryConfig.MaxAttempts, lastErr)
}

// calculateBackoff computes exponential backoff duration with jitter.
// Jitter prevents thundering herd when multiple clients retry simultaneously.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	// Add jitter: +/- 25% to prevent synchronized retries
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// doRequest executes a single HTTP request to the LLM endpoint. The second
// return value reports whether streaming output reached the caller before
// the error occurred.
func (c *Client) doRequest(ctx context.Context, ep Endpoint, req Request) (*Response, bool, error) {
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, false, NewFatalError(fmt.Errorf("unknown provider: %s", ep.Provider))
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = ep.MaxTokens
	}

	stream := req.OnChunk != nil
	url := provider.BuildURL(ep.URL)

	body, err := provider.BuildRequestBody(ep.Model, req.Messages, req.Temperature, maxTokens, req.Tools, stream)
	if err != nil {
		return nil, false, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("Sending LLM request",
		"provider", ep.Provider,
		"model", ep.Model,
		"url", url,
		"messages", len(req.Messages),
		"stream", stream)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient
		return nil, false, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
		return nil, false, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	if stream {
		return c.readStream(httpResp.Body, provider, ep.Model, req.OnChunk)
	}

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, false, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	resp, err := provider.ParseResponse(respBody, ep.Model)
	return resp, false, err
}

// readStream consumes an SSE response, forwarding text fragments to onChunk
// and assembling the final Response.
func (c *Client) readStream(body io.Reader, provider Provider, model string, onChunk func(string)) (*Response, bool, error) {
	var content strings.Builder
	var usage TokenUsage
	var finishReason string
	emitted := false

	err := newSSEReader(body, func(event, data string) error {
		delta, err := provider.ParseStreamEvent(event, data)
		if err != nil {
			return err
		}
		if delta == nil {
			return nil
		}
		if delta.Text != "" {
			content.WriteString(delta.Text)
			emitted = true
			onChunk(delta.Text)
		}
		if delta.FinishReason != "" {
			finishReason = delta.FinishReason
		}
		if delta.Usage != nil {
			// Providers report usage piecemeal across events
			if delta.Usage.PromptTokens > 0 {
				usage.PromptTokens = delta.Usage.PromptTokens
			}
			if delta.Usage.CompletionTokens > 0 {
				usage.CompletionTokens = delta.Usage.CompletionTokens
			}
			if delta.Usage.TotalTokens > 0 {
				usage.TotalTokens = delta.Usage.TotalTokens
			}
		}
		if delta.Done {
			return errStreamDone
		}
		return nil
	}).read()

	if err != nil && err != errStreamDone {
		if IsFatal(err) {
			return nil, emitted, err
		}
		return nil, emitted, NewTransientError(fmt.Errorf("read stream: %w", err))
	}

	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return &Response{
		Content:      content.String(),
		Model:        model,
		Usage:        usage,
		FinishReason: finishReason,
	}, emitted, nil
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("LLM API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		// Rate limiting is transient
		return NewTransientError(err)
	case statusCode >= 500:
		// Server errors are transient
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		// Auth errors are fatal
		return NewFatalError(err)
	case statusCode == http.StatusBadRequest:
		// Bad requests are fatal
		return NewFatalError(err)
	default:
		// Unknown errors default to fatal
		return NewFatalError(err)
	}
}
