// Package token estimates prompt and completion token costs. The
// heuristic is ~4 chars/token; good enough for context trimming and
// usage accounting, not billing-accurate.
package token

import "github.com/bionic-gpt/bionic-gpt-sub002/internal/contract"

// Count estimates the token cost of a text blob, rounding up.
func Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// CountMessage estimates the token cost of one model message, including
// any tool call payloads it carries.
func CountMessage(m contract.Message) int {
	total := Count(m.Content)
	for _, tc := range m.ToolCalls {
		total += Count(tc.Function.Name)
		total += Count(tc.Function.Arguments)
	}
	total += Count(m.ToolCallID)
	return total
}

// CountMessages sums CountMessage over a message list.
func CountMessages(msgs []contract.Message) int {
	total := 0
	for _, m := range msgs {
		total += CountMessage(m)
	}
	return total
}
