package engine

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/assembler"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/chat"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/contract"
	apperrors "github.com/bionic-gpt/bionic-gpt-sub002/internal/errors"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/moderation"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/sink"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/store"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/stream"
)

type scriptedProvider struct {
	responses []contract.CompletionResponse
	completeE error
	streams   []string
	requests  []contract.CompletionRequest
	deadlines []bool
}

func (p *scriptedProvider) Complete(ctx context.Context, ep contract.Endpoint, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	p.requests = append(p.requests, req)
	_, hasDeadline := ctx.Deadline()
	p.deadlines = append(p.deadlines, hasDeadline)
	if p.completeE != nil {
		return nil, p.completeE
	}
	if len(p.responses) == 0 {
		return nil, fmt.Errorf("provider script exhausted: %w", apperrors.ErrTransient)
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return &resp, nil
}

func (p *scriptedProvider) OpenStream(ctx context.Context, ep contract.Endpoint, req contract.CompletionRequest) (io.ReadCloser, error) {
	p.requests = append(p.requests, req)
	_, hasDeadline := ctx.Deadline()
	p.deadlines = append(p.deadlines, hasDeadline)
	if len(p.streams) == 0 {
		return nil, fmt.Errorf("provider script exhausted: %w", apperrors.ErrTransient)
	}
	body := p.streams[0]
	p.streams = p.streams[1:]
	return io.NopCloser(strings.NewReader(body)), nil
}

type echoDispatcher struct {
	calls int
}

func (d *echoDispatcher) Execute(ctx context.Context, calls []chat.ToolCall, tenantID, conversationID, promptID string) ([]sink.ToolResult, error) {
	d.calls++
	results := make([]sink.ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, sink.ToolResult{ID: call.ID, Result: []byte(`{"result":"ok"}`)})
	}
	return results, nil
}

type safeClassifier struct{}

func (safeClassifier) Classify(ctx context.Context, guard chat.Model, msgs []contract.Message) (moderation.Verdict, error) {
	return moderation.Verdict{Safe: true}, nil
}

func newEngineStore(t *testing.T) *store.FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.json")
	seed := store.Seed{
		Tenants: map[string]string{"alice": "team-1"},
		Conversations: map[string]chat.Conversation{
			"c1": {ID: "c1", TeamID: "team-1", UserID: "alice", PromptID: "p1"},
		},
		Prompts: map[string]chat.Prompt{
			"p1": {
				ID: "p1", Name: "assistant", SystemPrompt: "You are helpful.",
				ModelContextSize: 8192, MaxCompletionTokens: 1024, TrimRatio: 80,
				ModelID: "m1",
			},
		},
		Models: map[string]chat.Model{
			"m1": {ID: "m1", Name: "default", BaseURL: "http://localhost:8080/v1", Capabilities: []chat.Capability{chat.CapabilityToolUse}},
		},
		Chats: []chat.Chat{
			{ID: "chat-1", ConversationID: "c1", Role: chat.RoleUser, Content: "what's the weather in Oslo?", Status: chat.StatusPending, CreatedAt: time.Now().UTC()},
		},
	}
	require.NoError(t, store.WriteSeed(path, seed))
	return store.NewFileStore(path, nil)
}

func newRunner(st *store.FileStore, provider Provider, dispatcher sink.Dispatcher, cfg Config) *Runner {
	return NewRunner(st, assembler.New(safeClassifier{}), provider, sink.New(dispatcher), cfg)
}

func conversationChats(t *testing.T, st *store.FileStore) []chat.Chat {
	t.Helper()
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	chats, err := tx.ChatHistory(ctx, "c1", 0)
	require.NoError(t, err)
	return chats
}

func TestRunTurnPlainResponse(t *testing.T) {
	st := newEngineStore(t)
	provider := &scriptedProvider{responses: []contract.CompletionResponse{
		{Content: "It is sunny."},
	}}

	snapshot, err := newRunner(st, provider, nil, Config{}).RunTurn(context.Background(), "alice", "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "It is sunny.", snapshot)

	chats := conversationChats(t, st)
	require.Len(t, chats, 2)
	assert.Equal(t, chat.StatusSuccess, chats[0].Status)
	assert.Equal(t, chat.RoleAssistant, chats[1].Role)
	assert.Equal(t, "It is sunny.", chats[1].Content)

	// The tool-capable model was offered the system tools.
	require.Len(t, provider.requests, 1)
	assert.NotEmpty(t, provider.requests[0].Tools)
}

func TestRunTurnToolFeedbackLoop(t *testing.T) {
	st := newEngineStore(t)
	provider := &scriptedProvider{responses: []contract.CompletionResponse{
		{ToolCalls: []chat.ToolCall{{ID: "call_1", Function: chat.FunctionCall{Name: "web_search", Arguments: `{"query":"Oslo weather"}`}}}},
		{Content: "Oslo is 20 degrees."},
	}}
	dispatcher := &echoDispatcher{}

	snapshot, err := newRunner(st, provider, dispatcher, Config{}).RunTurn(context.Background(), "alice", "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "Oslo is 20 degrees.", snapshot)
	assert.Equal(t, 1, dispatcher.calls)

	// Cycle two's request carries the first cycle's tool exchange.
	require.Len(t, provider.requests, 2)
	second := provider.requests[1]
	var sawToolResult bool
	for _, m := range second.Messages {
		if m.Role == string(chat.RoleTool) {
			sawToolResult = true
			assert.Equal(t, "call_1", m.ToolCallID)
		}
	}
	assert.True(t, sawToolResult)

	// The interim pending tool chat flipped to success when the final
	// response landed.
	for _, c := range conversationChats(t, st) {
		assert.NotEqual(t, chat.StatusPending, c.Status)
	}
}

func TestRunTurnCycleLimit(t *testing.T) {
	st := newEngineStore(t)
	toolResp := contract.CompletionResponse{ToolCalls: []chat.ToolCall{{ID: "call_1", Function: chat.FunctionCall{Name: "web_search", Arguments: `{}`}}}}
	provider := &scriptedProvider{responses: []contract.CompletionResponse{toolResp, toolResp, toolResp}}

	_, err := newRunner(st, provider, &echoDispatcher{}, Config{MaxToolCycles: 3}).RunTurn(context.Background(), "alice", "chat-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTransient)
	assert.Len(t, provider.requests, 3)
}

func TestRunTurnProviderFailureLandsErrorStatus(t *testing.T) {
	st := newEngineStore(t)
	provider := &scriptedProvider{completeE: fmt.Errorf("connection refused: %w", apperrors.ErrTransient)}

	_, err := newRunner(st, provider, nil, Config{}).RunTurn(context.Background(), "alice", "chat-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTransient)

	chats := conversationChats(t, st)
	assert.Equal(t, chat.StatusError, chats[0].Status)
}

func TestRunTurnProviderTimeoutApplied(t *testing.T) {
	st := newEngineStore(t)
	provider := &scriptedProvider{responses: []contract.CompletionResponse{
		{Content: "quick reply"},
	}}

	_, err := newRunner(st, provider, nil, Config{ProviderTimeout: time.Minute}).RunTurn(context.Background(), "alice", "chat-1")
	require.NoError(t, err)
	require.Len(t, provider.deadlines, 1)
	assert.True(t, provider.deadlines[0])
}

func TestRunTurnNoTimeoutByDefault(t *testing.T) {
	st := newEngineStore(t)
	provider := &scriptedProvider{responses: []contract.CompletionResponse{
		{Content: "quick reply"},
	}}

	_, err := newRunner(st, provider, nil, Config{}).RunTurn(context.Background(), "alice", "chat-1")
	require.NoError(t, err)
	require.Len(t, provider.deadlines, 1)
	assert.False(t, provider.deadlines[0])
}

func TestStreamTurnProviderTimeoutApplied(t *testing.T) {
	st := newEngineStore(t)
	provider := &scriptedProvider{streams: []string{"data: [DONE]\n"}}

	out := make(chan stream.Event, 16)
	_, err := newRunner(st, provider, nil, Config{ProviderTimeout: time.Minute}).StreamTurn(context.Background(), "alice", "chat-1", out)
	require.NoError(t, err)
	require.Len(t, provider.deadlines, 1)
	assert.True(t, provider.deadlines[0])
}

func TestRunTurnUnknownSubject(t *testing.T) {
	st := newEngineStore(t)
	_, err := newRunner(st, &scriptedProvider{}, nil, Config{}).RunTurn(context.Background(), "mallory", "chat-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.ErrorContains(t, err, "mallory")
}

func TestStreamTurn(t *testing.T) {
	st := newEngineStore(t)
	body := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		`data: {"choices":[{"delta":{"content":" world"}}]}`,
		"data: [DONE]",
		"",
	}, "\n")
	provider := &scriptedProvider{streams: []string{body}}

	out := make(chan stream.Event, 16)
	snapshot, err := newRunner(st, provider, nil, Config{}).StreamTurn(context.Background(), "alice", "chat-1", out)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", snapshot)

	events := make([]stream.Event, 0, len(out))
	for ev := range out {
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, stream.EventEnd, events[2].Kind)

	chats := conversationChats(t, st)
	require.Len(t, chats, 2)
	assert.Equal(t, chat.StatusSuccess, chats[0].Status)
	assert.Equal(t, "Hello world", chats[1].Content)
}

func TestSweeperRunOnce(t *testing.T) {
	st := newEngineStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.CreateChat(ctx, chat.Chat{
		ConversationID: "c1", Role: chat.RoleTool, ToolCallID: "call_9",
		Status: chat.StatusPending, CreatedAt: time.Now().Add(-3 * time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	sweeper, err := NewSweeper(st, "*/10 * * * *", time.Hour)
	require.NoError(t, err)

	swept, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	// A second pass finds nothing left.
	swept, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	st := newEngineStore(t)
	_, err := NewSweeper(st, "not a schedule", time.Hour)
	require.Error(t, err)
}
