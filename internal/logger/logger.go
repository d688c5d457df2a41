// Package logger configures the process-wide slog handler and carries
// request-scoped ids through context.
package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Setup installs the tint handler as the default logger. Unknown level
// names fall back to info.
func Setup(level string) {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		lv = slog.LevelInfo
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lv,
		TimeFormat: time.TimeOnly,
	})))
}
