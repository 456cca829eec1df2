package llm

import (
	"encoding/json"
	"net/http"
	"sync"
)

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	// Name is the tool identifier (e.g., "file_glob").
	Name string `json:"name"`

	// Description tells the model what the tool does.
	Description string `json:"description"`

	// Parameters is a JSON Schema object describing the arguments.
	Parameters json.RawMessage `json:"parameters"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	// ID correlates the call with its result message.
	ID string `json:"id"`

	// Name is the tool being invoked.
	Name string `json:"name"`

	// Arguments is the JSON-encoded argument object.
	Arguments json.RawMessage `json:"arguments"`
}

// StreamDelta is one parsed increment of a streaming response.
type StreamDelta struct {
	// Text is the new text fragment (may be empty for bookkeeping events).
	Text string

	// FinishReason is set when the provider reports why generation stopped.
	FinishReason string

	// Usage is set when the provider reports token consumption.
	Usage *TokenUsage

	// Done signals the end of the stream.
	Done bool
}

// Provider defines the interface for LLM provider implementations.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "ollama").
	Name() string

	// BuildURL constructs the full API endpoint URL.
	BuildURL(baseURL string) string

	// SetHeaders adds provider-specific headers to the request.
	SetHeaders(req *http.Request)

	// BuildRequestBody creates the JSON request body for the provider.
	// temperature is nil to use provider default, or a pointer to explicit value.
	// tools is optional - pass nil if not using tools. stream enables SSE delivery.
	BuildRequestBody(model string, messages []Message, temperature *float64, maxTokens int,
		tools []ToolDefinition, stream bool) ([]byte, error)

	// ParseResponse extracts the response from provider-specific JSON.
	ParseResponse(body []byte, model string) (*Response, error)

	// ParseStreamEvent interprets one SSE event from a streaming response.
	ParseStreamEvent(event, data string) (*StreamDelta, error)
}

// providerRegistry holds registered providers.
var (
	providerRegistry = make(map[string]Provider)
	providerMu       sync.RWMutex
)

// RegisterProvider adds a provider to the registry.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Name()] = p
}

// GetProvider retrieves a provider by name.
func GetProvider(name string) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[name]
}

// ListProviders returns all registered provider names.
func ListProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()

	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	return names
}
