package prompts

import (
	"context"
	"embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/*.txt
var templates embed.FS

func mustTemplate(name string) string {
	b, err := templates.ReadFile("template/" + name + ".txt")
	if err != nil {
		panic(fmt.Sprintf("prompt template %s: %v", name, err))
	}
	return string(b)
}

var (
	inputSafetySystem    = mustTemplate("input_safety")
	queryOptimizerSystem = mustTemplate("query_optimizer")
	draftSystem          = mustTemplate("draft")
	evaluationSystem     = mustTemplate("evaluation")
	hallucinationSystem  = mustTemplate("hallucination")
	outputSafetySystem   = mustTemplate("output_safety")

	toolSystems = map[string]string{
		"search": mustTemplate("tool_search"),
		"csv":    mustTemplate("tool_csv"),
		"chart":  mustTemplate("tool_chart"),
	}
)

const messageUser = `User message: "{{.Message}}"`

const answerUser = `Answer to review:
{{.Answer}}`

const draftUser = `User message: {{.Message}}
{{- if .PastContext}}
Recent turns: {{.PastContext}}
{{- end}}
{{- if .Retrieved}}
Retrieved records: {{.Retrieved}}
{{- end}}
{{- if .RetrievalFailed}}
Retrieved records: unavailable, the search index could not be reached.
{{- end}}
{{- if .WebSearch}}
Online search results: {{.WebSearch}}
{{- end}}
{{- if .CSV}}
CSV file generated: {{.CSV}}
{{- end}}
{{- if .Chart}}
Chart URL generated: {{.Chart}}
{{- end}}
{{- if .Feedback}}
Reviewer feedback on the previous attempt: {{.Feedback}}
{{- end}}`

const evaluationUser = `User message: {{.Message}}
Answer: {{.Answer}}
Retrieved records: {{if .Retrieved}}{{.Retrieved}}{{else}}none{{end}}`

const toolUser = `User message: {{.Message}}
Draft answer: {{if .Answer}}{{.Answer}}{{else}}none{{end}}
{{- if .Retrieved}}
Retrieved records: {{.Retrieved}}
{{- end}}
{{- if .WebSearch}}
Online search results: {{.WebSearch}}
{{- end}}
{{- if .PastContext}}
Recent conversation: {{.PastContext}}
{{- end}}`

const hallucinationUser = `Answer: {{.Answer}}
Retrieved records: {{if .Retrieved}}{{.Retrieved}}{{else}}none{{end}}
Online search results: {{if .WebSearch}}{{.WebSearch}}{{else}}none{{end}}`

// DraftVars feeds the drafting prompt. Empty fields are omitted.
type DraftVars struct {
	Message         string
	PastContext     string
	Retrieved       string
	RetrievalFailed bool
	WebSearch       string
	CSV             string
	Chart           string
	Feedback        string
}

// ToolVars feeds the tool argument prompts.
type ToolVars struct {
	Message     string
	Answer      string
	Retrieved   string
	WebSearch   string
	PastContext string
}

// render formats a system and user message pair through the Eino prompt
// component so prompt callbacks fire.
func render(ctx context.Context, name, system, user string, vars map[string]any) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("%s prompt render: %w", name, err)
	}
	if len(msgs) != 2 {
		return nil, fmt.Errorf("%s prompt render: unexpected %d messages", name, len(msgs))
	}
	return msgs, nil
}

func InputSafety(ctx context.Context, message string) ([]*schema.Message, error) {
	return render(ctx, "input safety", inputSafetySystem, messageUser, map[string]any{"Message": message})
}

func QueryOptimizer(ctx context.Context, message string) ([]*schema.Message, error) {
	return render(ctx, "query optimizer", queryOptimizerSystem, messageUser, map[string]any{"Message": message})
}

func Draft(ctx context.Context, v DraftVars) ([]*schema.Message, error) {
	return render(ctx, "draft", draftSystem, draftUser, map[string]any{
		"Message":         v.Message,
		"PastContext":     v.PastContext,
		"Retrieved":       v.Retrieved,
		"RetrievalFailed": v.RetrievalFailed,
		"WebSearch":       v.WebSearch,
		"CSV":             v.CSV,
		"Chart":           v.Chart,
		"Feedback":        v.Feedback,
	})
}

func Evaluation(ctx context.Context, message, answer, retrieved string) ([]*schema.Message, error) {
	return render(ctx, "evaluation", evaluationSystem, evaluationUser, map[string]any{
		"Message":   message,
		"Answer":    answer,
		"Retrieved": retrieved,
	})
}

// ToolCall renders the argument prompt for the tool capability keyword
// ("search", "csv" or "chart").
func ToolCall(ctx context.Context, keyword string, v ToolVars) ([]*schema.Message, error) {
	system, ok := toolSystems[keyword]
	if !ok {
		return nil, fmt.Errorf("no tool prompt for %q", keyword)
	}
	return render(ctx, keyword+" tool", system, toolUser, map[string]any{
		"Message":     v.Message,
		"Answer":      v.Answer,
		"Retrieved":   v.Retrieved,
		"WebSearch":   v.WebSearch,
		"PastContext": v.PastContext,
	})
}

func Hallucination(ctx context.Context, answer, retrieved, webSearch string) ([]*schema.Message, error) {
	return render(ctx, "hallucination", hallucinationSystem, hallucinationUser, map[string]any{
		"Answer":    answer,
		"Retrieved": retrieved,
		"WebSearch": webSearch,
	})
}

func OutputSafety(ctx context.Context, answer string) ([]*schema.Message, error) {
	return render(ctx, "output safety", outputSafetySystem, answerUser, map[string]any{"Answer": answer})
}
