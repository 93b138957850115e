package parsers

import (
	"encoding/json"
	"strings"

	"github.com/agri-rag/server/internal/agent/model"
)

// CleanQuery strips code fences, labels and quotes the optimizer sometimes
// wraps around its query, and maps empty or "None" output to the sentinel.
func CleanQuery(content string) string {
	q := stripFences(content)
	if idx := strings.IndexByte(q, '\n'); idx >= 0 && strings.TrimSpace(q[idx:]) != "" {
		// keep the last non-empty line; reasoning, when leaked, comes first
		lines := strings.Split(q, "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			if l := strings.TrimSpace(lines[i]); l != "" {
				q = l
				break
			}
		}
	}
	for _, label := range []string{"optimized query:", "query:"} {
		if strings.HasPrefix(strings.ToLower(q), label) {
			q = q[len(label):]
		}
	}
	q = strings.Trim(strings.TrimSpace(q), `"'`+"`")
	if model.IsSentinelQuery(q) {
		return model.SentinelQuery
	}
	return q
}

// ParseVerdict reads a TRUE/FALSE classification answer from its first word.
// Anything that does not start with TRUE is safe.
func ParseVerdict(content string) bool {
	words := strings.Fields(stripFences(content))
	if len(words) == 0 {
		return false
	}
	return strings.EqualFold(strings.Trim(words[0], "\"'`*.,:;!"), "TRUE")
}

// ParseWebHits extracts search hits from a web search tool payload. It accepts
// a bare list or an object with a "results" list; other payloads yield nil.
func ParseWebHits(raw string) []model.WebHit {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var hits []model.WebHit
	if err := json.Unmarshal([]byte(raw), &hits); err == nil {
		return keepUseful(hits)
	}
	var wrapped struct {
		Results []model.WebHit `json:"results"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil {
		return keepUseful(wrapped.Results)
	}
	return nil
}

func keepUseful(hits []model.WebHit) []model.WebHit {
	out := hits[:0]
	for _, h := range hits {
		if h.URL == "" && h.Content == "" {
			continue
		}
		if h.SourceType == "" {
			h.SourceType = "web"
		}
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
