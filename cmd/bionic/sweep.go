package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/config"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/engine"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Sweep orphaned pending tool chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")

		ttl, err := config.DurationOrDefault(cfg.Sweeper.TTL, config.DefaultSweeperTTL)
		if err != nil {
			return err
		}
		sweeper, err := engine.NewSweeper(openStore(cfg), cfg.Sweeper.Schedule, ttl)
		if err != nil {
			return err
		}

		if once {
			swept, err := sweeper.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println("swept", swept)
			return nil
		}
		return sweeper.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().Bool("once", false, "run a single sweep and exit")
}
