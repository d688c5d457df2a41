package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/config"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bionic",
	Short: "Bionic conversation turn engine",
	Long:  `Bionic processes conversation turns: context assembly, moderation gating, model streaming, and the tool feedback loop.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Server.LogLevel)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.bionic/config.yaml)")
	rootCmd.PersistentFlags().String("server.log_level", config.DefaultServerLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("store.path", "", "path to the store file")
}
