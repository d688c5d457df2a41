// Package history converts stored chats into model messages and trims
// them to fit the prompt's token budget.
package history

import (
	"encoding/json"
	"log/slog"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/chat"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/contract"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/token"
)

// PlaceholderToolCallID is used for tool-result chats that lost their
// originating call id.
const PlaceholderToolCallID = "unknown_call_id"

// SizeAllowed computes the token budget available to the prompt. Headroom
// is reserved for the completion, except when the configured completion
// budget already exceeds the context window, in which case the whole
// window is usable. trimRatio is a percentage in (0,100].
func SizeAllowed(modelContextSize, maxCompletionTokens, trimRatio int) float64 {
	if maxCompletionTokens < modelContextSize {
		return float64(modelContextSize-maxCompletionTokens) * float64(trimRatio) / 100.0
	}
	return float64(modelContextSize)
}

// Build assembles the final message list for one turn: the system prompt
// (when present) followed by as much history as fits, oldest to newest.
// History is scanned newest first; a chat too large for the remaining
// budget is skipped, not a stopping point. Unselected history is only
// dropped from this turn's prompt, never from storage.
func Build(prompt chat.Prompt, chats []chat.Chat) []contract.Message {
	sizeAllowed := SizeAllowed(prompt.ModelContextSize, prompt.MaxCompletionTokens, prompt.TrimRatio)

	messages := make([]contract.Message, 0, len(chats)+1)
	total := 0

	if prompt.SystemPrompt != "" {
		// The system prompt always ships, even when it alone blows the
		// budget; it still counts against it.
		messages = append(messages, contract.Message{
			Role:    string(chat.RoleSystem),
			Content: prompt.SystemPrompt,
		})
		total += token.Count(prompt.SystemPrompt)
	}

	selected := make([]contract.Message, 0, len(chats))
	for i := len(chats) - 1; i >= 0; i-- {
		msg := ToMessage(chats[i])
		cost := token.CountMessage(msg)
		if float64(total+cost) >= sizeAllowed {
			continue
		}
		selected = append(selected, msg)
		total += cost
	}

	// Selection accumulated newest first; restore chronological order.
	for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
		selected[i], selected[j] = selected[j], selected[i]
	}

	return append(messages, selected...)
}

// ToMessage converts one stored chat into a model message.
//
// Assistant chats carry their text followed by any recorded tool calls;
// both empty degenerates to empty assistant text. Tool chats become a
// tool-result message keyed by their call id. Everything else (user,
// system, developer) is presented to the model as a plain user message.
func ToMessage(c chat.Chat) contract.Message {
	switch c.Role {
	case chat.RoleAssistant:
		msg := contract.Message{
			Role:    string(chat.RoleAssistant),
			Content: c.Content,
		}
		if c.ToolCalls != "" {
			var calls []chat.ToolCall
			if err := json.Unmarshal([]byte(c.ToolCalls), &calls); err != nil {
				slog.Warn("Dropping unparseable tool calls from history", "chat_id", c.ID, "error", err)
			} else {
				msg.ToolCalls = calls
			}
		}
		return msg
	case chat.RoleTool:
		callID := c.ToolCallID
		if callID == "" {
			callID = PlaceholderToolCallID
		}
		return contract.Message{
			Role:       string(chat.RoleTool),
			Content:    c.Content,
			ToolCallID: callID,
		}
	default:
		return contract.Message{
			Role:    string(chat.RoleUser),
			Content: c.Content,
		}
	}
}
