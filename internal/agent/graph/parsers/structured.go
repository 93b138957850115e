package parsers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	errx "github.com/agri-rag/server/internal/core/error"
	logx "github.com/agri-rag/server/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 128 * 1024 // 128KB
	maxErrSnippet = 200        // limit error snippet size
)

// ErrNoStructuredOutput means the response carried neither the expected tool
// call nor a JSON object in its content.
var ErrNoStructuredOutput = errors.New("no structured output in response")

// Validator is implemented by structured outputs that check their own fields.
type Validator interface {
	Validate() error
}

// Decode reads a structured output of type T from msg. The arguments of the
// tool call named toolName win; otherwise the first JSON object in the content
// is used.
func Decode[T any](msg *schema.Message, toolName string) (out T, err error) {
	// panic safety
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "structured_parser").Msgf("panic recovered: %v", r)
			var zero T
			out = zero
			err = errx.New(fmt.Errorf("structured parser panic"), http.StatusInternalServerError, errx.SystemErrorMessage)
		}
	}()

	raw, err := Extract(msg, toolName)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("decode %s output %q: %w", toolName, safeSnippet(raw), err)
	}
	if v, ok := any(&out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return out, fmt.Errorf("invalid %s output: %w", toolName, err)
		}
	}
	return out, nil
}

// Extract returns the raw JSON arguments for toolName, falling back to a JSON
// object embedded in the message content.
func Extract(msg *schema.Message, toolName string) (string, error) {
	if msg == nil {
		return "", ErrNoStructuredOutput
	}
	for _, tc := range msg.ToolCalls {
		if toolName == "" || tc.Function.Name == toolName {
			if args := strings.TrimSpace(tc.Function.Arguments); args != "" {
				return args, nil
			}
		}
	}
	// some providers answer a single bound tool with a differently named call
	if len(msg.ToolCalls) == 1 && strings.TrimSpace(msg.ToolCalls[0].Function.Arguments) != "" {
		logx.Debug().
			Str("component", "structured_parser").
			Str("expected", toolName).
			Str("got", msg.ToolCalls[0].Function.Name).
			Msg("tool call name mismatch; using its arguments")
		return strings.TrimSpace(msg.ToolCalls[0].Function.Arguments), nil
	}

	content := msg.Content
	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "structured_parser").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = content[:maxContentLen]
	}
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("content invalid utf8")
	}
	if obj, ok := firstJSONObject(content); ok {
		return obj, nil
	}
	return "", ErrNoStructuredOutput
}

// firstJSONObject finds the first balanced {...} block, ignoring braces inside
// JSON strings.
func firstJSONObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end, ok := closingBrace(s, start); ok {
			if candidate := s[start : end+1]; json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func closingBrace(s string, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// --- helpers ---

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
