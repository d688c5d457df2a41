package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupLevels(t *testing.T) {
	ctx := context.Background()

	Setup("debug")
	assert.True(t, slog.Default().Enabled(ctx, slog.LevelDebug))

	Setup("warn")
	assert.False(t, slog.Default().Enabled(ctx, slog.LevelInfo))
	assert.True(t, slog.Default().Enabled(ctx, slog.LevelWarn))

	// Unknown names fall back to info.
	Setup("chatty")
	assert.True(t, slog.Default().Enabled(ctx, slog.LevelInfo))
	assert.False(t, slog.Default().Enabled(ctx, slog.LevelDebug))
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ConversationID(ctx))
	assert.Empty(t, TraceID(ctx))

	ctx = WithConversationID(ctx, "c1")
	ctx = WithTraceID(ctx, "t1")
	assert.Equal(t, "c1", ConversationID(ctx))
	assert.Equal(t, "t1", TraceID(ctx))
}
