// Package store defines the transactional persistence boundary the turn
// engine talks to. The relational backend lives outside this repo; the
// engine only depends on Store/Tx. A file-backed reference implementation
// is provided for the CLI and tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/chat"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized is returned when a security context cannot be
// established for the given subject.
var ErrUnauthorized = errors.New("unauthorized")

type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one transaction scoped to a single assembler or sink cycle.
// Dropping a Tx without Commit must behave as a rollback: none of its
// writes may survive.
type Tx interface {
	// SetSecurityContext establishes row-level tenant scoping for all
	// subsequent queries in this transaction and returns the tenant id.
	SetSecurityContext(ctx context.Context, subject string) (string, error)

	Chat(ctx context.Context, id string) (chat.Chat, error)
	SetChatStatus(ctx context.Context, id string, status chat.Status) error
	// CreateChat inserts a new chat, assigning an id when none is set.
	CreateChat(ctx context.Context, c chat.Chat) (chat.Chat, error)
	// ChatHistory returns up to limit chats of a conversation, oldest
	// first. limit <= 0 means no limit.
	ChatHistory(ctx context.Context, conversationID string, limit int) ([]chat.Chat, error)

	ConversationForChat(ctx context.Context, chatID string) (chat.Conversation, error)
	PromptForConversation(ctx context.Context, conversationID string) (chat.Prompt, error)
	ModelForPrompt(ctx context.Context, promptID string) (chat.Model, error)
	// GuardModel resolves the designated moderation guard model.
	GuardModel(ctx context.Context) (chat.Model, error)

	AttachmentCount(ctx context.Context, conversationID string) (int, error)
	EnabledToolNames(ctx context.Context, userID string) ([]string, error)
	// IntegrationTools returns tool definitions derived from the prompt's
	// configured integrations. Best-effort for callers: failures here must
	// not abort a turn.
	IntegrationTools(ctx context.Context, promptID string) ([]chat.ToolDefinition, error)

	// SweepPendingToolChats flips every tool-role chat in the conversation
	// that is currently pending to success and returns how many changed.
	SweepPendingToolChats(ctx context.Context, conversationID string) (int, error)
	// SweepStalePendingToolChats does the same across all conversations
	// for pending tool chats created before the cutoff.
	SweepStalePendingToolChats(ctx context.Context, cutoff time.Time) (int, error)

	InsertPromptFlag(ctx context.Context, flag chat.PromptFlag) error
	InsertTokenUsage(ctx context.Context, usage chat.TokenUsage) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
