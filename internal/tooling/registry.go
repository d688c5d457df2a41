// Package tooling selects the tool definitions offered to the model for
// one turn: user-enabled and always-on system tools, document
// intelligence tools when the conversation has attachments, and
// integration tools derived from the prompt's configuration.
package tooling

import "github.com/bionic-gpt/bionic-gpt-sub002/internal/chat"

// Registry is a name-keyed catalog of known tool definitions,
// registration order preserved.
type Registry struct {
	defs  map[string]chat.ToolDefinition
	order []string
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]chat.ToolDefinition)}
}

func (r *Registry) Register(def chat.ToolDefinition) {
	if def.Name == "" {
		panic("tooling: empty tool name")
	}
	if _, exists := r.defs[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.defs[def.Name] = def
}

func (r *Registry) Get(name string) (chat.ToolDefinition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

func (r *Registry) Definitions() []chat.ToolDefinition {
	out := make([]chat.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// Dedupe collapses repeated tool names. For any repeated name only its
// last occurrence's definition survives, and the output keeps the
// ascending original-index order of the surviving entries. An empty
// result is nil, meaning "no tools" rather than an empty array.
func Dedupe(defs []chat.ToolDefinition) []chat.ToolDefinition {
	if len(defs) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(defs))
	kept := make([]chat.ToolDefinition, 0, len(defs))
	for i := len(defs) - 1; i >= 0; i-- {
		if _, dup := seen[defs[i].Name]; dup {
			continue
		}
		seen[defs[i].Name] = struct{}{}
		kept = append(kept, defs[i])
	}

	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
