package tooling

import "github.com/bionic-gpt/bionic-gpt-sub002/internal/chat"

// System tools ship with every tool-capable turn regardless of the
// user's selection.
const (
	ToolWeb = "web_search"
)

// Document intelligence tools are only offered when the conversation has
// at least one attachment.
const (
	ToolListDocuments = "list_documents"
	ToolReadDocument  = "read_document"
)

// ToolSearchContext is derived per configured dataset.
const ToolSearchContext = "search_context"

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// SystemTools returns the always-on definitions.
func SystemTools() []chat.ToolDefinition {
	return []chat.ToolDefinition{
		{
			Name:        ToolWeb,
			Description: "Search the web and return a short list of results with titles, URLs and snippets.",
			Parameters: objectSchema(map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			}, "query"),
		},
	}
}

// DocumentTools returns the document intelligence definitions.
func DocumentTools() []chat.ToolDefinition {
	return []chat.ToolDefinition{
		{
			Name:        ToolListDocuments,
			Description: "List the documents attached to this conversation.",
			Parameters:  objectSchema(map[string]any{}),
		},
		{
			Name:        ToolReadDocument,
			Description: "Read the text content of an attached document by id.",
			Parameters: objectSchema(map[string]any{
				"document_id": map[string]any{
					"type":        "string",
					"description": "The id of the document to read",
				},
			}, "document_id"),
		},
	}
}

// DatasetTool returns the context search definition for one dataset.
func DatasetTool(datasetID string) chat.ToolDefinition {
	return chat.ToolDefinition{
		Name:        ToolSearchContext,
		Description: "Search the configured datasets for passages relevant to a query.",
		Parameters: objectSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
			"dataset_id": map[string]any{
				"type":        "string",
				"description": "Restrict the search to this dataset",
				"default":     datasetID,
			},
		}, "query"),
	}
}

// DefaultRegistry holds every definition a user can individually enable.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, def := range SystemTools() {
		r.Register(def)
	}
	for _, def := range DocumentTools() {
		r.Register(def)
	}
	return r
}
