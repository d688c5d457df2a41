// Package chat holds the domain model for conversation turns: chats,
// conversations, prompts, models and their capabilities, tool call
// payloads, and moderation flags.
package chat

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleTool      Role = "tool"
)

// Status tracks the lifecycle of a single chat. Triggering and assistant
// chats move Pending -> InProgress -> {Success, Error}; tool-result chats
// skip InProgress because tool execution is synchronous inside the sink.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Chat is one message-shaped row in a conversation.
type Chat struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content,omitempty"`
	ToolCallID     string    `json:"tool_call_id,omitempty"` // tool-role chats only
	ToolCalls      string    `json:"tool_calls,omitempty"`   // serialized JSON, assistant-role chats only
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type Conversation struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	UserID    string    `json:"user_id"`
	PromptID  string    `json:"prompt_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Prompt is the assistant configuration a conversation runs under.
// Immutable during a turn.
type Prompt struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	SystemPrompt        string   `json:"system_prompt,omitempty"`
	ModelContextSize    int      `json:"model_context_size"`
	MaxCompletionTokens int      `json:"max_completion_tokens"`
	MaxHistoryItems     int      `json:"max_history_items"`
	TrimRatio           int      `json:"trim_ratio"` // percentage, (0,100]
	Temperature         float32  `json:"temperature"`
	ModelID             string   `json:"model_id"`
	EmbeddingsModelID   string   `json:"embeddings_model_id,omitempty"`
	IntegrationIDs      []string `json:"integration_ids,omitempty"`
	DatasetIDs          []string `json:"dataset_ids,omitempty"`
}

// Capability is a model-level feature flag gating optional pipeline steps.
type Capability string

const (
	CapabilityToolUse Capability = "tool_use"
	CapabilityGuarded Capability = "guarded"
)

type Model struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	BaseURL      string       `json:"base_url"`
	APIKey       string       `json:"api_key,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

func (m Model) HasCapability(c Capability) bool {
	for _, got := range m.Capabilities {
		if got == c {
			return true
		}
	}
	return false
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON schema
}

// FlagCode is a moderation taxonomy category, communicated by the
// classifier as the final token of its verdict.
type FlagCode string

const (
	FlagS1  FlagCode = "S1"
	FlagS2  FlagCode = "S2"
	FlagS3  FlagCode = "S3"
	FlagS4  FlagCode = "S4"
	FlagS5  FlagCode = "S5"
	FlagS6  FlagCode = "S6"
	FlagS7  FlagCode = "S7"
	FlagS8  FlagCode = "S8"
	FlagS9  FlagCode = "S9"
	FlagS10 FlagCode = "S10"
	FlagS11 FlagCode = "S11"
	FlagS12 FlagCode = "S12"
	FlagS13 FlagCode = "S13"
	FlagS14 FlagCode = "S14"
)

var flagCodes = map[FlagCode]struct{}{
	FlagS1: {}, FlagS2: {}, FlagS3: {}, FlagS4: {}, FlagS5: {},
	FlagS6: {}, FlagS7: {}, FlagS8: {}, FlagS9: {}, FlagS10: {},
	FlagS11: {}, FlagS12: {}, FlagS13: {}, FlagS14: {},
}

// ParseFlagCode reports whether token is a known taxonomy code. Matching
// is case-insensitive.
func ParseFlagCode(token string) (FlagCode, bool) {
	code := FlagCode(normalizeCode(token))
	_, ok := flagCodes[code]
	return code, ok
}

func normalizeCode(token string) string {
	if len(token) < 2 || (token[0] != 'S' && token[0] != 's') {
		return token
	}
	return "S" + token[1:]
}

// PromptFlag records a moderation rejection against the chat that
// triggered it.
type PromptFlag struct {
	ID             string    `json:"id"`
	ChatID         string    `json:"chat_id"`
	ConversationID string    `json:"conversation_id"`
	Code           FlagCode  `json:"code"`
	CreatedAt      time.Time `json:"created_at"`
}

// TokenUsage records the completion token cost of one finished turn.
type TokenUsage struct {
	ID               string    `json:"id"`
	ChatID           string    `json:"chat_id"`
	CompletionTokens int       `json:"completion_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}
