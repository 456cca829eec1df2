package providers

import (
	"encoding/json"
	"testing"

	"github.com/headshakers/planner/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicProvider_BuildURL(t *testing.T) {
	p := &AnthropicProvider{}

	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{
			name:    "empty uses default",
			baseURL: "",
			want:    "https://api.anthropic.com/v1/messages",
		},
		{
			name:    "custom base URL",
			baseURL: "https://custom.api.com",
			want:    "https://custom.api.com/v1/messages",
		},
		{
			name:    "trailing slash handled",
			baseURL: "https://api.anthropic.com/",
			want:    "https://api.anthropic.com/v1/messages",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.BuildURL(tt.baseURL)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAnthropicProvider_BuildRequestBody(t *testing.T) {
	p := &AnthropicProvider{}

	messages := []llm.Message{
		{Role: "system", Content: "You are helpful."},
		{Role: "user", Content: "Hello"},
		{Role: "assistant", Content: "Hi there!"},
		{Role: "user", Content: "How are you?"},
	}

	temp := 0.7
	body, err := p.BuildRequestBody("claude-3-opus", messages, &temp, 2048, nil, false)
	require.NoError(t, err)

	// System message is extracted to the top-level field
	assert.Contains(t, string(body), `"system":"You are helpful."`)
	assert.Contains(t, string(body), `"model":"claude-3-opus"`)
	assert.Contains(t, string(body), `"max_tokens":2048`)
	assert.NotContains(t, string(body), `"role":"system"`)
	assert.Contains(t, string(body), `"role":"user"`)
	assert.Contains(t, string(body), `"role":"assistant"`)
	assert.NotContains(t, string(body), `"stream":true`)
}

func TestAnthropicProvider_BuildRequestBody_DefaultMaxTokens(t *testing.T) {
	p := &AnthropicProvider{}

	messages := []llm.Message{
		{Role: "user", Content: "Hello"},
	}

	body, err := p.BuildRequestBody("claude-3-opus", messages, nil, 0, nil, false)
	require.NoError(t, err)

	assert.Contains(t, string(body), `"max_tokens":4096`)
}

func TestAnthropicProvider_BuildRequestBody_Tools(t *testing.T) {
	p := &AnthropicProvider{}

	tools := []llm.ToolDefinition{
		{
			Name:        "file_glob",
			Description: "Find files by glob pattern",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"pattern":{"type":"string"}}}`),
		},
	}
	messages := []llm.Message{
		{Role: "user", Content: "Find the handlers"},
	}

	body, err := p.BuildRequestBody("claude-3-opus", messages, nil, 0, tools, false)
	require.NoError(t, err)

	assert.Contains(t, string(body), `"name":"file_glob"`)
	assert.Contains(t, string(body), `"input_schema"`)
}

func TestAnthropicProvider_BuildRequestBody_ToolConversation(t *testing.T) {
	p := &AnthropicProvider{}

	messages := []llm.Message{
		{Role: "user", Content: "Find the handlers"},
		{
			Role: "assistant",
			ToolCalls: []llm.ToolCall{
				{ID: "tu_1", Name: "file_glob", Arguments: json.RawMessage(`{"pattern":"**/*.go"}`)},
			},
		},
		{Role: "tool", ToolCallID: "tu_1", Content: "server/handler.go"},
	}

	body, err := p.BuildRequestBody("claude-3-opus", messages, nil, 0, nil, false)
	require.NoError(t, err)

	// Assistant tool calls become tool_use blocks
	assert.Contains(t, string(body), `"type":"tool_use"`)
	assert.Contains(t, string(body), `"id":"tu_1"`)
	// Tool results become user-role tool_result blocks
	assert.Contains(t, string(body), `"type":"tool_result"`)
	assert.Contains(t, string(body), `"tool_use_id":"tu_1"`)
	assert.NotContains(t, string(body), `"role":"tool"`)
}

func TestAnthropicProvider_BuildRequestBody_Stream(t *testing.T) {
	p := &AnthropicProvider{}

	body, err := p.BuildRequestBody("claude-3-opus", []llm.Message{{Role: "user", Content: "hi"}}, nil, 0, nil, true)
	require.NoError(t, err)

	assert.Contains(t, string(body), `"stream":true`)
}

func TestAnthropicProvider_ParseResponse(t *testing.T) {
	p := &AnthropicProvider{}

	body := []byte(`{
		"id": "msg_123",
		"type": "message",
		"role": "assistant",
		"content": [{"type": "text", "text": "Hello! How can I help?"}],
		"model": "claude-3-opus-20240229",
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 8}
	}`)

	resp, err := p.ParseResponse(body, "claude-3-opus")
	require.NoError(t, err)

	assert.Equal(t, "Hello! How can I help?", resp.Content)
	assert.Equal(t, "claude-3-opus-20240229", resp.Model)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 10, resp.Usage.PromptTokens)
	assert.Equal(t, 8, resp.Usage.CompletionTokens)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	assert.Empty(t, resp.ToolCalls)
}

func TestAnthropicProvider_ParseResponse_ToolUse(t *testing.T) {
	p := &AnthropicProvider{}

	body := []byte(`{
		"content": [
			{"type": "text", "text": "Let me check."},
			{"type": "tool_use", "id": "tu_1", "name": "file_grep", "input": {"pattern": "Handler"}}
		],
		"model": "claude-3-opus-20240229",
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 20, "output_tokens": 15}
	}`)

	resp, err := p.ParseResponse(body, "claude-3-opus")
	require.NoError(t, err)

	assert.Equal(t, "Let me check.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "file_grep", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"pattern":"Handler"}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, "tool_use", resp.FinishReason)
}

func TestAnthropicProvider_ParseResponse_Invalid(t *testing.T) {
	p := &AnthropicProvider{}

	_, err := p.ParseResponse([]byte("not json"), "claude-3-opus")
	assert.Error(t, err)
}

func TestAnthropicProvider_ParseStreamEvent(t *testing.T) {
	p := &AnthropicProvider{}

	tests := []struct {
		name  string
		event string
		data  string
		check func(t *testing.T, delta *llm.StreamDelta)
	}{
		{
			name:  "message_start carries prompt tokens",
			event: "message_start",
			data:  `{"type":"message_start","message":{"usage":{"input_tokens":25}}}`,
			check: func(t *testing.T, delta *llm.StreamDelta) {
				require.NotNil(t, delta.Usage)
				assert.Equal(t, 25, delta.Usage.PromptTokens)
			},
		},
		{
			name:  "text delta",
			event: "content_block_delta",
			data:  `{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hello"}}`,
			check: func(t *testing.T, delta *llm.StreamDelta) {
				assert.Equal(t, "Hello", delta.Text)
				assert.False(t, delta.Done)
			},
		},
		{
			name:  "message_delta carries stop reason and output tokens",
			event: "message_delta",
			data:  `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":42}}`,
			check: func(t *testing.T, delta *llm.StreamDelta) {
				assert.Equal(t, "end_turn", delta.FinishReason)
				require.NotNil(t, delta.Usage)
				assert.Equal(t, 42, delta.Usage.CompletionTokens)
			},
		},
		{
			name:  "message_stop ends the stream",
			event: "message_stop",
			data:  `{"type":"message_stop"}`,
			check: func(t *testing.T, delta *llm.StreamDelta) {
				assert.True(t, delta.Done)
			},
		},
		{
			name:  "ping is ignored",
			event: "ping",
			data:  `{"type":"ping"}`,
			check: func(t *testing.T, delta *llm.StreamDelta) {
				assert.Nil(t, delta)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, err := p.ParseStreamEvent(tt.event, tt.data)
			require.NoError(t, err)
			tt.check(t, delta)
		})
	}
}

func TestAnthropicProvider_ParseStreamEvent_Error(t *testing.T) {
	p := &AnthropicProvider{}

	_, err := p.ParseStreamEvent("error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Contains(t, err.Error(), "overloaded_error")
}
