package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/pathutil"
)

const (
	DefaultServerLogLevel = "info"

	DefaultEngineMaxToolCycles   = 5
	DefaultEngineErrorsToChat    = true
	DefaultEngineStreamBuffer    = 64
	DefaultEngineProviderTimeout = "120s"

	DefaultStorePath         = ""
	DefaultStoreLockTimeout  = "5s"
	DefaultStoreLockRetry    = "100ms"
	DefaultStoreLockMaxRetry = 50

	DefaultModerationTimeout = "30s"

	DefaultSweeperSchedule = "*/10 * * * *"
	DefaultSweeperTTL      = "1h"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Engine     EngineConfig     `koanf:"engine"`
	Store      StoreConfig      `koanf:"store"`
	Moderation ModerationConfig `koanf:"moderation"`
	Sweeper    SweeperConfig    `koanf:"sweeper"`
}

type ServerConfig struct {
	LogLevel string `koanf:"log_level"`
}

type EngineConfig struct {
	MaxToolCycles    int    `koanf:"max_tool_cycles"`
	ErrorsToChat     bool   `koanf:"errors_to_chat"`
	StreamBufferSize int    `koanf:"stream_buffer_size"`
	ProviderTimeout  string `koanf:"provider_timeout"`
}

type StoreConfig struct {
	Path         string `koanf:"path"`
	LockTimeout  string `koanf:"lock_timeout"`
	LockRetry    string `koanf:"lock_retry"`
	LockMaxRetry int    `koanf:"lock_max_retry"`
}

type ModerationConfig struct {
	Timeout string `koanf:"timeout"`
}

type SweeperConfig struct {
	Schedule string `koanf:"schedule"`
	TTL      string `koanf:"ttl"`
}

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.log_level":          DefaultServerLogLevel,
		"engine.max_tool_cycles":    DefaultEngineMaxToolCycles,
		"engine.errors_to_chat":     DefaultEngineErrorsToChat,
		"engine.stream_buffer_size": DefaultEngineStreamBuffer,
		"engine.provider_timeout":   DefaultEngineProviderTimeout,
		"store.path":                filepath.Join(os.Getenv("HOME"), ".bionic", "store.json"),
		"store.lock_timeout":        DefaultStoreLockTimeout,
		"store.lock_retry":          DefaultStoreLockRetry,
		"store.lock_max_retry":      DefaultStoreLockMaxRetry,
		"moderation.timeout":        DefaultModerationTimeout,
		"sweeper.schedule":          DefaultSweeperSchedule,
		"sweeper.ttl":               DefaultSweeperTTL,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".bionic", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	k.Load(env.Provider("BIONIC_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "BIONIC_")), "_", ".", -1)
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	storePath, err := pathutil.Expand(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}
	cfg.Store.Path = storePath

	return &cfg, nil
}
