package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/chat"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write an example store file",
	Long:  `Writes a store file with one tenant, one model, one assistant prompt and an empty conversation, ready for 'bionic turn'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		baseURL, _ := cmd.Flags().GetString("base-url")
		apiKey, _ := cmd.Flags().GetString("api-key")
		model, _ := cmd.Flags().GetString("model")

		seed := store.Seed{
			Tenants: map[string]string{"local": "team-local"},
			Models: map[string]chat.Model{
				"default": {
					ID:           "default",
					Name:         model,
					BaseURL:      baseURL,
					APIKey:       apiKey,
					Capabilities: []chat.Capability{chat.CapabilityToolUse},
				},
			},
			Prompts: map[string]chat.Prompt{
				"assistant": {
					ID:                  "assistant",
					Name:                "Assistant",
					SystemPrompt:        "You are a helpful assistant.",
					ModelContextSize:    128000,
					MaxCompletionTokens: 4096,
					MaxHistoryItems:     50,
					TrimRatio:           80,
					Temperature:         0.7,
					ModelID:             "default",
				},
			},
			Conversations: map[string]chat.Conversation{
				"c1": {
					ID:       "c1",
					TeamID:   "team-local",
					UserID:   "local",
					PromptID: "assistant",
				},
			},
		}

		if err := store.WriteSeed(cfg.Store.Path, seed); err != nil {
			return err
		}
		fmt.Println("seeded", cfg.Store.Path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().String("base-url", "https://api.openai.com/v1", "model provider base url")
	seedCmd.Flags().String("api-key", "", "model provider api key")
	seedCmd.Flags().String("model", "gpt-4o-mini", "model name")
}
