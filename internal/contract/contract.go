// Package contract defines the wire types exchanged with a model
// provider: messages, completion requests, and resolved endpoints.
package contract

import "github.com/bionic-gpt/bionic-gpt-sub002/internal/chat"

type Message struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []chat.ToolCall `json:"tool_calls,omitempty"`
}

// CompletionRequest is the provider-ready request built by the
// assembler. Tools is nil when the model has none; an empty array is
// never sent.
type CompletionRequest struct {
	Model       string                `json:"model"`
	Messages    []Message             `json:"messages"`
	Tools       []chat.ToolDefinition `json:"tools,omitempty"`
	Temperature float32               `json:"temperature,omitempty"`
	MaxTokens   int                   `json:"max_tokens,omitempty"`
	Stream      bool                  `json:"stream,omitempty"`
}

type CompletionResponse struct {
	Content   string          `json:"content"`
	ToolCalls []chat.ToolCall `json:"tool_calls,omitempty"`
}

// Endpoint carries the resolved provider coordinates for one turn.
type Endpoint struct {
	Name    string
	BaseURL string
	APIKey  string
}
