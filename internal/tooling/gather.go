package tooling

import (
	"context"
	"log/slog"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/chat"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/store"
)

// GatherInput carries everything tool selection needs for one turn.
type GatherInput struct {
	Tx             store.Tx
	Registry       *Registry
	ConversationID string
	UserID         string
	Prompt         chat.Prompt
}

// Gather assembles the tool list for a tool-capable model: user-enabled
// tools plus the always-on system tools, document intelligence tools when
// the conversation has attachments, and integration/dataset tools from
// the prompt's configuration. Integration lookups are best-effort; their
// failure never aborts the turn. The result is deduplicated by name and
// nil when nothing survives.
func Gather(ctx context.Context, in GatherInput) []chat.ToolDefinition {
	registry := in.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}

	defs := make([]chat.ToolDefinition, 0, 8)

	enabled, err := in.Tx.EnabledToolNames(ctx, in.UserID)
	if err != nil {
		slog.Warn("Loading enabled tools failed", "user_id", in.UserID, "error", err)
	}
	for _, name := range enabled {
		if def, ok := registry.Get(name); ok {
			defs = append(defs, def)
		}
	}
	defs = append(defs, SystemTools()...)

	count, err := in.Tx.AttachmentCount(ctx, in.ConversationID)
	if err != nil {
		slog.Warn("Loading attachment count failed", "conversation_id", in.ConversationID, "error", err)
	}
	if count > 0 {
		defs = append(defs, DocumentTools()...)
	}

	integration, err := in.Tx.IntegrationTools(ctx, in.Prompt.ID)
	if err != nil {
		slog.Warn("Loading integration tools failed", "prompt_id", in.Prompt.ID, "error", err)
	} else {
		defs = append(defs, integration...)
	}
	for _, datasetID := range in.Prompt.DatasetIDs {
		defs = append(defs, DatasetTool(datasetID))
	}

	return Dedupe(defs)
}
