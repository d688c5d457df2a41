package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/chat"
)

// Seed is the full persisted state of the file store. The CLI bootstraps
// one with WriteSeed; tests construct it directly.
type Seed struct {
	// Tenants maps an authenticated subject to its team id.
	Tenants       map[string]string                `json:"tenants,omitempty"`
	Conversations map[string]chat.Conversation     `json:"conversations,omitempty"`
	Prompts       map[string]chat.Prompt           `json:"prompts,omitempty"`
	Models        map[string]chat.Model            `json:"models,omitempty"`
	GuardModelID  string                           `json:"guard_model_id,omitempty"`
	Chats         []chat.Chat                      `json:"chats,omitempty"`
	Attachments   map[string]int                   `json:"attachments,omitempty"`
	EnabledTools  map[string][]string              `json:"enabled_tools,omitempty"`
	Integrations  map[string][]chat.ToolDefinition `json:"integrations,omitempty"`
	Flags         []chat.PromptFlag                `json:"flags,omitempty"`
	Usage         []chat.TokenUsage                `json:"usage,omitempty"`
}

// WriteSeed writes a complete state file, creating parent directories.
func WriteSeed(path string, seed Seed) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	buf, err := json.MarshalIndent(seed, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store state: %w", err)
	}
	return atomic.WriteFile(path, bytes.NewReader(buf))
}

type FileLockConfig struct {
	Timeout  time.Duration
	Retry    time.Duration
	MaxRetry int
}

func DefaultFileLockConfig() FileLockConfig {
	return FileLockConfig{
		Timeout:  5 * time.Second,
		Retry:    100 * time.Millisecond,
		MaxRetry: 50,
	}
}

// FileStore is a single-file JSON store. Each Tx loads the file under an
// exclusive lock, mutates an in-memory copy, and only lands its writes on
// Commit via an atomic replace. Dropping a Tx without commit therefore
// rolls back.
type FileStore struct {
	path    string
	lockCfg FileLockConfig
	mu      sync.Mutex
}

func NewFileStore(path string, lockCfg *FileLockConfig) *FileStore {
	cfg := DefaultFileLockConfig()
	if lockCfg != nil {
		cfg = *lockCfg
	}
	return &FileStore{path: path, lockCfg: cfg}
}

func (s *FileStore) Begin(ctx context.Context) (Tx, error) {
	s.mu.Lock()

	fl := flock.New(s.path + ".lock")
	if err := s.acquire(ctx, fl); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	state, err := s.load()
	if err != nil {
		_ = fl.Unlock()
		s.mu.Unlock()
		return nil, err
	}

	return &fileTx{store: s, lock: fl, state: state}, nil
}

func (s *FileStore) acquire(ctx context.Context, fl *flock.Flock) error {
	deadline := time.Now().Add(s.lockCfg.Timeout)
	for i := 0; i < s.lockCfg.MaxRetry; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		locked, err := fl.TryLock()
		if err != nil {
			return fmt.Errorf("acquire store lock: %w", err)
		}
		if locked {
			return nil
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(s.lockCfg.Retry)
	}
	return fmt.Errorf("store lock timeout after %s", s.lockCfg.Timeout)
}

func (s *FileStore) load() (*Seed, error) {
	state := &Seed{}
	content, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}
	if len(content) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(content, state); err != nil {
		return nil, fmt.Errorf("decode store file: %w", err)
	}
	return state, nil
}

type fileTx struct {
	store  *FileStore
	lock   *flock.Flock
	state  *Seed
	tenant string
	done   bool
}

func (t *fileTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	buf, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		t.release()
		return fmt.Errorf("encode store state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.store.path), 0o755); err != nil {
		t.release()
		return fmt.Errorf("create store directory: %w", err)
	}
	err = atomic.WriteFile(t.store.path, bytes.NewReader(buf))
	t.release()
	if err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	return nil
}

func (t *fileTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}

func (t *fileTx) release() {
	_ = t.lock.Unlock()
	t.store.mu.Unlock()
	t.done = true
}

func (t *fileTx) SetSecurityContext(ctx context.Context, subject string) (string, error) {
	tenant, ok := t.state.Tenants[subject]
	if !ok {
		return "", fmt.Errorf("unknown subject %q: %w", subject, ErrUnauthorized)
	}
	t.tenant = tenant
	return tenant, nil
}

func (t *fileTx) conversation(id string) (chat.Conversation, error) {
	conv, ok := t.state.Conversations[id]
	if !ok {
		return chat.Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if t.tenant != "" && conv.TeamID != t.tenant {
		return chat.Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return conv, nil
}

func (t *fileTx) Chat(ctx context.Context, id string) (chat.Chat, error) {
	for _, c := range t.state.Chats {
		if c.ID != id {
			continue
		}
		if _, err := t.conversation(c.ConversationID); err != nil {
			return chat.Chat{}, err
		}
		return c, nil
	}
	return chat.Chat{}, fmt.Errorf("chat %s: %w", id, ErrNotFound)
}

func (t *fileTx) SetChatStatus(ctx context.Context, id string, status chat.Status) error {
	for i, c := range t.state.Chats {
		if c.ID == id {
			t.state.Chats[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("chat %s: %w", id, ErrNotFound)
}

func (t *fileTx) CreateChat(ctx context.Context, c chat.Chat) (chat.Chat, error) {
	if _, err := t.conversation(c.ConversationID); err != nil {
		return chat.Chat{}, err
	}
	if c.ID == "" {
		c.ID = ulid.Make().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	t.state.Chats = append(t.state.Chats, c)
	return c, nil
}

func (t *fileTx) ChatHistory(ctx context.Context, conversationID string, limit int) ([]chat.Chat, error) {
	if _, err := t.conversation(conversationID); err != nil {
		return nil, err
	}
	history := make([]chat.Chat, 0)
	for _, c := range t.state.Chats {
		if c.ConversationID == conversationID {
			history = append(history, c)
		}
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

func (t *fileTx) ConversationForChat(ctx context.Context, chatID string) (chat.Conversation, error) {
	c, err := t.Chat(ctx, chatID)
	if err != nil {
		return chat.Conversation{}, err
	}
	return t.conversation(c.ConversationID)
}

func (t *fileTx) PromptForConversation(ctx context.Context, conversationID string) (chat.Prompt, error) {
	conv, err := t.conversation(conversationID)
	if err != nil {
		return chat.Prompt{}, err
	}
	prompt, ok := t.state.Prompts[conv.PromptID]
	if !ok {
		return chat.Prompt{}, fmt.Errorf("prompt %s: %w", conv.PromptID, ErrNotFound)
	}
	return prompt, nil
}

func (t *fileTx) ModelForPrompt(ctx context.Context, promptID string) (chat.Model, error) {
	prompt, ok := t.state.Prompts[promptID]
	if !ok {
		return chat.Model{}, fmt.Errorf("prompt %s: %w", promptID, ErrNotFound)
	}
	model, ok := t.state.Models[prompt.ModelID]
	if !ok {
		return chat.Model{}, fmt.Errorf("model %s: %w", prompt.ModelID, ErrNotFound)
	}
	return model, nil
}

func (t *fileTx) GuardModel(ctx context.Context) (chat.Model, error) {
	if t.state.GuardModelID == "" {
		return chat.Model{}, fmt.Errorf("guard model not configured: %w", ErrNotFound)
	}
	model, ok := t.state.Models[t.state.GuardModelID]
	if !ok {
		return chat.Model{}, fmt.Errorf("guard model %s: %w", t.state.GuardModelID, ErrNotFound)
	}
	return model, nil
}

func (t *fileTx) AttachmentCount(ctx context.Context, conversationID string) (int, error) {
	if _, err := t.conversation(conversationID); err != nil {
		return 0, err
	}
	return t.state.Attachments[conversationID], nil
}

func (t *fileTx) EnabledToolNames(ctx context.Context, userID string) ([]string, error) {
	return t.state.EnabledTools[userID], nil
}

func (t *fileTx) IntegrationTools(ctx context.Context, promptID string) ([]chat.ToolDefinition, error) {
	if _, ok := t.state.Prompts[promptID]; !ok {
		return nil, fmt.Errorf("prompt %s: %w", promptID, ErrNotFound)
	}
	return t.state.Integrations[promptID], nil
}

func (t *fileTx) SweepPendingToolChats(ctx context.Context, conversationID string) (int, error) {
	if _, err := t.conversation(conversationID); err != nil {
		return 0, err
	}
	swept := 0
	for i, c := range t.state.Chats {
		if c.ConversationID == conversationID && c.Role == chat.RoleTool && c.Status == chat.StatusPending {
			t.state.Chats[i].Status = chat.StatusSuccess
			swept++
		}
	}
	return swept, nil
}

func (t *fileTx) SweepStalePendingToolChats(ctx context.Context, cutoff time.Time) (int, error) {
	swept := 0
	for i, c := range t.state.Chats {
		if c.Role == chat.RoleTool && c.Status == chat.StatusPending && c.CreatedAt.Before(cutoff) {
			t.state.Chats[i].Status = chat.StatusSuccess
			swept++
		}
	}
	return swept, nil
}

func (t *fileTx) InsertPromptFlag(ctx context.Context, flag chat.PromptFlag) error {
	if flag.ID == "" {
		flag.ID = ulid.Make().String()
	}
	if flag.CreatedAt.IsZero() {
		flag.CreatedAt = time.Now().UTC()
	}
	t.state.Flags = append(t.state.Flags, flag)
	return nil
}

func (t *fileTx) InsertTokenUsage(ctx context.Context, usage chat.TokenUsage) error {
	if usage.ID == "" {
		usage.ID = ulid.Make().String()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	t.state.Usage = append(t.state.Usage, usage)
	return nil
}
