// Package sink persists a finished model response, records usage, and
// runs any requested tool calls, writing their results back into the
// conversation as tool chats for the next cycle.
package sink

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/chat"
	apperrors "github.com/bionic-gpt/bionic-gpt-sub002/internal/errors"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/store"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/token"
)

// ToolResult is one executed call's outcome. A Result containing an
// "error" key signals a failed call.
type ToolResult struct {
	ID     string
	Result json.RawMessage
}

// Dispatcher executes requested tool calls, sequentially, outside this
// package's control. It is external to the engine; only the call/result
// contract is fixed here.
type Dispatcher interface {
	Execute(ctx context.Context, calls []chat.ToolCall, tenantID, conversationID, promptID string) ([]ToolResult, error)
}

// Input carries one finished turn into persistence.
type Input struct {
	ChatID    string
	Subject   string
	Snapshot  string
	ToolCalls []chat.ToolCall
	Status    chat.Status // Success or Error
}

type Sink struct {
	dispatcher Dispatcher
}

func New(dispatcher Dispatcher) *Sink {
	return &Sink{dispatcher: dispatcher}
}

// Persist runs the full result cycle inside tx and commits at the end.
// Any failure before the commit returns with nothing written: the
// transaction is dropped, and the storage layer must treat
// drop-without-commit as rollback.
//
// Tool calls execute after most writes but before the commit, so a crash
// mid-execution rolls back this turn's writes. It does not retry tool
// calls that already ran.
func (s *Sink) Persist(ctx context.Context, tx store.Tx, in Input) error {
	tenantID, err := tx.SetSecurityContext(ctx, in.Subject)
	if err != nil {
		return apperrors.Unauthorized("establish tenant context", err)
	}

	if err := tx.SetChatStatus(ctx, in.ChatID, in.Status); err != nil {
		return apperrors.Storage("finalize chat status", err)
	}

	completionTokens := token.Count(in.Snapshot)

	trigger, err := tx.Chat(ctx, in.ChatID)
	if err != nil {
		return apperrors.Storage("reload triggering chat", err)
	}
	conv, err := tx.ConversationForChat(ctx, trigger.ID)
	if err != nil {
		return apperrors.Storage("load conversation", err)
	}
	prompt, err := tx.PromptForConversation(ctx, conv.ID)
	if err != nil {
		return apperrors.Storage("load prompt", err)
	}

	if in.Status == chat.StatusSuccess {
		swept, err := tx.SweepPendingToolChats(ctx, conv.ID)
		if err != nil {
			return apperrors.Storage("sweep pending tool chats", err)
		}
		if swept > 0 {
			slog.Debug("Swept pending tool chats", "conversation_id", conv.ID, "count", swept)
		}
	}

	serializedCalls := ""
	if len(in.ToolCalls) > 0 {
		raw, err := json.Marshal(in.ToolCalls)
		if err != nil {
			return apperrors.Serialization("encode tool calls", err)
		}
		serializedCalls = string(raw)
	}

	if _, err := tx.CreateChat(ctx, chat.Chat{
		ConversationID: conv.ID,
		Role:           chat.RoleAssistant,
		Content:        in.Snapshot,
		ToolCalls:      serializedCalls,
		Status:         in.Status,
	}); err != nil {
		return apperrors.Storage("write assistant chat", err)
	}

	if err := tx.InsertTokenUsage(ctx, chat.TokenUsage{
		ChatID:           in.ChatID,
		CompletionTokens: completionTokens,
	}); err != nil {
		return apperrors.Storage("record token usage", err)
	}

	if in.Status == chat.StatusSuccess && len(in.ToolCalls) > 0 && s.dispatcher != nil {
		if err := s.dispatch(ctx, tx, in.ToolCalls, tenantID, conv.ID, prompt.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Storage("commit result", err)
	}
	return nil
}

func (s *Sink) dispatch(ctx context.Context, tx store.Tx, calls []chat.ToolCall, tenantID, conversationID, promptID string) error {
	results, err := s.dispatcher.Execute(ctx, calls, tenantID, conversationID, promptID)
	if err != nil {
		slog.Error("Tool dispatch failed", "conversation_id", conversationID, "error", err)
		return err
	}

	for _, result := range results {
		status := chat.StatusPending
		if hasErrorKey(result.Result) {
			status = chat.StatusError
		}
		serialized, err := json.Marshal(result.Result)
		if err != nil {
			return apperrors.Serialization("encode tool result", err)
		}
		if _, err := tx.CreateChat(ctx, chat.Chat{
			ConversationID: conversationID,
			Role:           chat.RoleTool,
			Content:        string(serialized),
			ToolCallID:     result.ID,
			Status:         status,
		}); err != nil {
			return apperrors.Storage("write tool chat", err)
		}
	}
	return nil
}

// hasErrorKey reports whether a tool result's top-level JSON object
// contains an "error" key.
func hasErrorKey(raw json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	_, ok := fields["error"]
	return ok
}
