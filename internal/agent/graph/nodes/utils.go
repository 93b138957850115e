package nodes

import (
	"encoding/json"

	"github.com/agri-rag/server/internal/agent/model"
)

// Trailing message windows handed to the tool argument prompts.
const (
	searchContextWindow = 2
	exportContextWindow = 3
)

const draftErrorAnswer = "Error generating answer"

// ===== Small helpers to keep stages simple/readable =====

// toJSON renders v for a prompt, "" for empty values.
func toJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil || string(b) == "null" || string(b) == "[]" {
		return ""
	}
	return string(b)
}

// retrievedJSON renders retrieved items, "" unless retrieval found something.
func retrievedJSON(r model.Retrieval) string {
	if !r.Found() {
		return ""
	}
	return toJSON(r.Items)
}

// resultContent is the prompt text of a stored tool result.
func resultContent(r *model.ToolResult) string {
	if r == nil {
		return ""
	}
	return r.Content
}

type historyEntry struct {
	Message       string `json:"message"`
	Role          string `json:"role"`
	Answer        string `json:"answer,omitempty"`
	DataContext   string `json:"data_context,omitempty"`
	SearchResults string `json:"search_results,omitempty"`
}

// toolContext builds the recent-conversation payload for a tool prompt from
// the messages in the trailing window. Export tools also see the data the
// current draft is based on.
func toolContext(s model.ConversationState, window int, withData bool) string {
	prior := s.PriorMessages(window)
	if len(prior) == 0 {
		return ""
	}
	entries := make([]historyEntry, 0, len(prior))
	for _, m := range prior {
		e := historyEntry{Message: m.Content, Role: string(m.Role), Answer: s.DraftAnswer}
		if withData {
			e.DataContext = retrievedJSON(s.Retrieval)
			e.SearchResults = resultContent(s.WebSearch)
		}
		entries = append(entries, e)
	}
	return toJSON(entries)
}
