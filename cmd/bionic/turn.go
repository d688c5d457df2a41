package main

import (
	"context"
	"encoding/json"
	"fmt"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/assembler"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/chat"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/config"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/engine"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/moderation"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/provider"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/sink"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/store"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/stream"
)

var (
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

var turnCmd = &cobra.Command{
	Use:   "turn [message]",
	Short: "Run one conversation turn",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		conversationID, _ := cmd.Flags().GetString("conversation")
		chatID, _ := cmd.Flags().GetString("chat")
		streaming, _ := cmd.Flags().GetBool("stream")

		fileStore := openStore(cfg)
		ctx := cmd.Context()

		if chatID == "" {
			if len(args) == 0 {
				return fmt.Errorf("either a message or --chat is required")
			}
			if conversationID == "" {
				return fmt.Errorf("--conversation is required when submitting a message")
			}
			created, err := submitMessage(ctx, fileStore, subject, conversationID, args[0])
			if err != nil {
				return err
			}
			chatID = created
			fmt.Println(noticeStyle.Render("chat " + chatID))
		}

		runner := buildRunner(fileStore, cfg)

		if streaming {
			events := make(chan stream.Event, cfg.Engine.StreamBufferSize)
			done := make(chan error, 1)
			go func() {
				_, err := runner.StreamTurn(ctx, subject, chatID, events)
				done <- err
			}()
			for ev := range events {
				if ev.Kind == stream.EventText {
					fmt.Print(assistantStyle.Render(renderDelta(ev.Delta)))
				}
			}
			fmt.Println()
			return <-done
		}

		snapshot, err := runner.RunTurn(ctx, subject, chatID)
		if err != nil {
			return err
		}
		fmt.Println(assistantStyle.Render(snapshot))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(turnCmd)
	turnCmd.Flags().String("subject", "local", "authenticated tenant subject")
	turnCmd.Flags().String("conversation", "", "conversation id to submit the message to")
	turnCmd.Flags().String("chat", "", "existing pending chat id to process")
	turnCmd.Flags().Bool("stream", false, "stream the response")
}

func openStore(cfg *config.Config) *store.FileStore {
	lockTimeout, _ := config.DurationOrDefault(cfg.Store.LockTimeout, config.DefaultStoreLockTimeout)
	lockRetry, _ := config.DurationOrDefault(cfg.Store.LockRetry, config.DefaultStoreLockRetry)
	return store.NewFileStore(cfg.Store.Path, &store.FileLockConfig{
		Timeout:  lockTimeout,
		Retry:    lockRetry,
		MaxRetry: cfg.Store.LockMaxRetry,
	})
}

func buildRunner(st *store.FileStore, cfg *config.Config) *engine.Runner {
	providerTimeout, _ := config.DurationOrDefault(cfg.Engine.ProviderTimeout, config.DefaultEngineProviderTimeout)
	moderationTimeout, _ := config.DurationOrDefault(cfg.Moderation.Timeout, config.DefaultModerationTimeout)

	guard := moderation.NewGuard()
	guard.Timeout = moderationTimeout

	return engine.NewRunner(
		st,
		assembler.New(guard),
		provider.New(),
		sink.New(unavailableDispatcher{}),
		engine.Config{
			MaxToolCycles:    cfg.Engine.MaxToolCycles,
			ErrorsToChat:     cfg.Engine.ErrorsToChat,
			StreamBufferSize: cfg.Engine.StreamBufferSize,
			ProviderTimeout:  providerTimeout,
		},
	)
}

func submitMessage(ctx context.Context, st *store.FileStore, subject, conversationID, message string) (string, error) {
	tx, err := st.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.SetSecurityContext(ctx, subject); err != nil {
		return "", err
	}
	created, err := tx.CreateChat(ctx, chat.Chat{
		ConversationID: conversationID,
		Role:           chat.RoleUser,
		Content:        message,
		Status:         chat.StatusPending,
	})
	if err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return created.ID, nil
}

// renderDelta extracts the text content from a raw stream payload so the
// terminal shows prose rather than JSON.
func renderDelta(delta string) string {
	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(delta), &chunk); err == nil && len(chunk.Choices) > 0 {
		return chunk.Choices[0].Delta.Content
	}
	return delta
}

// unavailableDispatcher stands in when no tool executor is wired; every
// call fails so the model can explain the situation on the next cycle.
type unavailableDispatcher struct{}

func (unavailableDispatcher) Execute(ctx context.Context, calls []chat.ToolCall, tenantID, conversationID, promptID string) ([]sink.ToolResult, error) {
	results := make([]sink.ToolResult, 0, len(calls))
	for _, call := range calls {
		msg := fmt.Sprintf("tool %s is not available in this environment", call.Function.Name)
		raw, _ := json.Marshal(map[string]string{"error": msg})
		results = append(results, sink.ToolResult{ID: call.ID, Result: raw})
	}
	return results, nil
}
