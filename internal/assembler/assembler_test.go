package assembler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/chat"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/contract"
	apperrors "github.com/bionic-gpt/bionic-gpt-sub002/internal/errors"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/moderation"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/store"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/tooling"
)

type stubClassifier struct {
	verdict   moderation.Verdict
	err       error
	sanitized []contract.Message
}

func (s *stubClassifier) Classify(ctx context.Context, guard chat.Model, msgs []contract.Message) (moderation.Verdict, error) {
	s.sanitized = msgs
	return s.verdict, s.err
}

func newStore(t *testing.T, modelCaps ...chat.Capability) (*store.FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.json")
	seed := store.Seed{
		Tenants: map[string]string{"alice": "team-1"},
		Conversations: map[string]chat.Conversation{
			"c1": {ID: "c1", TeamID: "team-1", UserID: "alice", PromptID: "p1"},
		},
		Prompts: map[string]chat.Prompt{
			"p1": {
				ID:                  "p1",
				Name:                "assistant",
				SystemPrompt:        "You are helpful.",
				ModelContextSize:    8192,
				MaxCompletionTokens: 1024,
				TrimRatio:           80,
				Temperature:         0.7,
				ModelID:             "m1",
			},
		},
		Models: map[string]chat.Model{
			"m1": {ID: "m1", Name: "default", BaseURL: "http://localhost:8080/v1", APIKey: "key", Capabilities: modelCaps},
			"g1": {ID: "g1", Name: "guard", BaseURL: "http://localhost:8081/v1"},
		},
		GuardModelID: "g1",
		Chats: []chat.Chat{
			{ID: "chat-1", ConversationID: "c1", Role: chat.RoleUser, Content: "hello", Status: chat.StatusPending, CreatedAt: time.Now().UTC()},
		},
	}
	require.NoError(t, store.WriteSeed(path, seed))
	return store.NewFileStore(path, nil), path
}

func readSeed(t *testing.T, path string) store.Seed {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	var seed store.Seed
	require.NoError(t, json.Unmarshal(content, &seed))
	return seed
}

func assemble(t *testing.T, st *store.FileStore, a *Assembler) (*PreparedRequest, error) {
	t.Helper()
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	return a.Assemble(ctx, tx, "alice", "chat-1")
}

func loadChats(t *testing.T, st *store.FileStore) []chat.Chat {
	t.Helper()
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	chats, err := tx.ChatHistory(ctx, "c1", 0)
	require.NoError(t, err)
	return chats
}

func TestAssembleBasicRequest(t *testing.T) {
	st, _ := newStore(t)
	prepared, err := assemble(t, st, New(&stubClassifier{}))
	require.NoError(t, err)

	assert.Equal(t, "default", prepared.Request.Model)
	assert.Equal(t, float32(0.7), prepared.Request.Temperature)
	assert.Equal(t, 1024, prepared.Request.MaxTokens)
	assert.Equal(t, "http://localhost:8080/v1", prepared.Endpoint.BaseURL)
	assert.Equal(t, "alice", prepared.OwnerUserID)
	assert.Equal(t, "chat-1", prepared.ChatID)

	require.Len(t, prepared.Request.Messages, 2)
	assert.Equal(t, string(chat.RoleSystem), prepared.Request.Messages[0].Role)
	assert.Equal(t, "hello", prepared.Request.Messages[1].Content)

	// The model has no tool_use capability, so no tools are offered.
	assert.Nil(t, prepared.Request.Tools)

	// The in-progress transition is committed.
	chats := loadChats(t, st)
	require.Len(t, chats, 1)
	assert.Equal(t, chat.StatusInProgress, chats[0].Status)
}

func TestAssembleGathersToolsForCapableModel(t *testing.T) {
	st, _ := newStore(t, chat.CapabilityToolUse)
	prepared, err := assemble(t, st, New(&stubClassifier{}))
	require.NoError(t, err)

	require.NotEmpty(t, prepared.Request.Tools)
	assert.Equal(t, tooling.ToolWeb, prepared.Request.Tools[0].Name)
}

func TestAssembleGuardedSafe(t *testing.T) {
	st, _ := newStore(t, chat.CapabilityGuarded)
	classifier := &stubClassifier{verdict: moderation.Verdict{Safe: true}}

	_, err := assemble(t, st, New(classifier))
	require.NoError(t, err)

	// The classifier sees the sanitized history, not raw tool traffic.
	require.NotEmpty(t, classifier.sanitized)
	for _, m := range classifier.sanitized {
		assert.NotEqual(t, string(chat.RoleTool), m.Role)
		assert.Empty(t, m.ToolCalls)
	}
}

func TestAssembleGuardedRejection(t *testing.T) {
	st, path := newStore(t, chat.CapabilityGuarded)
	classifier := &stubClassifier{verdict: moderation.Verdict{Safe: false, Code: chat.FlagS4}}

	_, err := assemble(t, st, New(classifier))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrModerationRejected)

	// The rejection is a committed outcome: a refusal chat replaces the
	// reply and a flag is recorded.
	chats := loadChats(t, st)
	require.Len(t, chats, 2)
	assert.Equal(t, chat.StatusInProgress, chats[0].Status)
	assert.Equal(t, chat.RoleAssistant, chats[1].Role)
	assert.Equal(t, moderation.RefusalText, chats[1].Content)
	assert.Equal(t, chat.StatusSuccess, chats[1].Status)

	seed := readSeed(t, path)
	require.Len(t, seed.Flags, 1)
	assert.Equal(t, "chat-1", seed.Flags[0].ChatID)
	assert.Equal(t, chat.FlagS4, seed.Flags[0].Code)
}

func TestAssembleGuardTransportFailure(t *testing.T) {
	st, path := newStore(t, chat.CapabilityGuarded)
	classifier := &stubClassifier{err: fmt.Errorf("guard offline: %w", apperrors.ErrModerationTransport)}

	_, err := assemble(t, st, New(classifier))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrModerationTransport)
	assert.False(t, errors.Is(err, apperrors.ErrModerationRejected))

	// The in-progress transition commits, but no refusal chat is written.
	chats := loadChats(t, st)
	require.Len(t, chats, 1)
	assert.Equal(t, chat.StatusInProgress, chats[0].Status)
	assert.Empty(t, readSeed(t, path).Flags)
}

func TestAssembleUnknownChat(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	_, err = New(&stubClassifier{}).Assemble(ctx, tx, "alice", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStorage)
}
