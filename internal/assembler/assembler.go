// Package assembler turns a triggering chat into a provider-ready
// completion request: capability checks, history assembly, tool
// selection, and moderation gating.
package assembler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/chat"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/contract"
	apperrors "github.com/bionic-gpt/bionic-gpt-sub002/internal/errors"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/history"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/moderation"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/store"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/tooling"
)

// PreparedRequest is everything the caller needs to hit the provider.
type PreparedRequest struct {
	Request        contract.CompletionRequest
	Endpoint       contract.Endpoint
	OwnerUserID    string
	ChatID         string
	ConversationID string
	PromptID       string
}

type Assembler struct {
	classifier moderation.Classifier
	registry   *tooling.Registry
}

func New(classifier moderation.Classifier) *Assembler {
	if classifier == nil {
		classifier = moderation.NewGuard()
	}
	return &Assembler{
		classifier: classifier,
		registry:   tooling.DefaultRegistry(),
	}
}

// Assemble runs one request-assembly cycle inside tx. The triggering
// chat is moved to in-progress. On success the transaction is committed
// before returning, so it is never held open across the provider call.
//
// A moderation rejection is a committed outcome: a replacement assistant
// chat with fixed text plus a prompt flag land in storage, and the call
// fails with ErrModerationRejected. A classifier transport failure also
// commits (preserving the in-progress transition) but writes no flag.
// Storage failures return without committing.
func (a *Assembler) Assemble(ctx context.Context, tx store.Tx, userID, chatID string) (*PreparedRequest, error) {
	trigger, err := tx.Chat(ctx, chatID)
	if err != nil {
		return nil, apperrors.Storage("load triggering chat", err)
	}
	conv, err := tx.ConversationForChat(ctx, chatID)
	if err != nil {
		return nil, apperrors.Storage("load conversation", err)
	}
	prompt, err := tx.PromptForConversation(ctx, conv.ID)
	if err != nil {
		return nil, apperrors.Storage("load prompt", err)
	}
	model, err := tx.ModelForPrompt(ctx, prompt.ID)
	if err != nil {
		return nil, apperrors.Storage("load model", err)
	}
	chats, err := tx.ChatHistory(ctx, conv.ID, prompt.MaxHistoryItems)
	if err != nil {
		return nil, apperrors.Storage("load chat history", err)
	}

	messages := history.Build(prompt, chats)

	if err := tx.SetChatStatus(ctx, trigger.ID, chat.StatusInProgress); err != nil {
		return nil, apperrors.Storage("mark chat in progress", err)
	}

	var tools []chat.ToolDefinition
	if model.HasCapability(chat.CapabilityToolUse) {
		tools = tooling.Gather(ctx, tooling.GatherInput{
			Tx:             tx,
			Registry:       a.registry,
			ConversationID: conv.ID,
			UserID:         userID,
			Prompt:         prompt,
		})
	}

	if model.HasCapability(chat.CapabilityGuarded) {
		if err := a.moderate(ctx, tx, trigger, conv, messages); err != nil {
			return nil, err
		}
	}

	if len(messages) == 0 {
		// The provider rejects empty message lists.
		messages = []contract.Message{{Role: string(chat.RoleUser), Content: ""}}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.Storage("commit assembly", err)
	}

	return &PreparedRequest{
		Request: contract.CompletionRequest{
			Model:       model.Name,
			Messages:    messages,
			Tools:       tools,
			Temperature: prompt.Temperature,
			MaxTokens:   prompt.MaxCompletionTokens,
		},
		Endpoint: contract.Endpoint{
			Name:    model.Name,
			BaseURL: model.BaseURL,
			APIKey:  model.APIKey,
		},
		OwnerUserID:    conv.UserID,
		ChatID:         trigger.ID,
		ConversationID: conv.ID,
		PromptID:       prompt.ID,
	}, nil
}

func (a *Assembler) moderate(ctx context.Context, tx store.Tx, trigger chat.Chat, conv chat.Conversation, messages []contract.Message) error {
	guard, err := tx.GuardModel(ctx)
	if err != nil {
		return apperrors.Storage("load guard model", err)
	}

	sanitized := moderation.Sanitize(messages)
	verdict, err := a.classifier.Classify(ctx, guard, sanitized)
	if err != nil {
		// The in-progress transition still lands; the caller sees a
		// transport failure without any flag being written.
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return apperrors.Storage("commit after guard failure", commitErr)
		}
		return err
	}
	if verdict.Safe {
		return nil
	}

	slog.Info("Turn rejected by guard", "chat_id", trigger.ID, "code", verdict.Code)

	if _, err := tx.CreateChat(ctx, chat.Chat{
		ConversationID: conv.ID,
		Role:           chat.RoleAssistant,
		Content:        moderation.RefusalText,
		Status:         chat.StatusSuccess,
	}); err != nil {
		return apperrors.Storage("write refusal chat", err)
	}
	if err := tx.InsertPromptFlag(ctx, chat.PromptFlag{
		ChatID:         trigger.ID,
		ConversationID: conv.ID,
		Code:           verdict.Code,
	}); err != nil {
		return apperrors.Storage("write prompt flag", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.Storage("commit rejection", err)
	}
	return fmt.Errorf("conversation %s flagged %s: %w", conv.ID, verdict.Code, apperrors.ErrModerationRejected)
}
