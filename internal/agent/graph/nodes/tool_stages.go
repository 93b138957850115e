package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/agri-rag/server/internal/agent/graph/parsers"
	"github.com/agri-rag/server/internal/agent/graph/prompts"
	"github.com/agri-rag/server/internal/agent/model"
	errx "github.com/agri-rag/server/internal/core/error"
	logx "github.com/agri-rag/server/pkg/logger"
)

// Diagnostic placeholders stored when a tool stage cannot produce a result.
var (
	unavailableResult = map[model.ToolKind]string{
		model.ToolCSV:       "Error: CSV generation tool not available.",
		model.ToolChart:     "Error: Chart tool not available.",
		model.ToolWebSearch: "Error: Web search tool not available.",
	}
	failedResult = map[model.ToolKind]string{
		model.ToolCSV:       "Error generating CSV",
		model.ToolChart:     "Error generating chart",
		model.ToolWebSearch: "Error performing web search",
	}
)

// CSV exports the data behind the draft through the CSV tool.
func (st *Stages) CSV(ctx context.Context, s model.ConversationState) (model.Update, error) {
	return st.runTool(ctx, s, model.ToolCSV)
}

// Chart renders the data behind the draft through the chart tool.
func (st *Stages) Chart(ctx context.Context, s model.ConversationState) (model.Update, error) {
	return st.runTool(ctx, s, model.ToolChart)
}

// WebSearch runs an online search for the current question.
func (st *Stages) WebSearch(ctx context.Context, s model.ConversationState) (model.Update, error) {
	return st.runTool(ctx, s, model.ToolWebSearch)
}

// runTool finds the tool for kind, lets the answer model fill its arguments and
// invokes it. No failure is fatal: the stage always stores a result, which
// also lowers the tool's flag.
func (st *Stages) runTool(ctx context.Context, s model.ConversationState, kind model.ToolKind) (model.Update, error) {
	log := logx.Ctx(ctx).With().Str("tool_kind", string(kind)).Logger()

	t, err := st.Tools.Find(ctx, string(kind))
	if err != nil {
		log.Warn().Err(err).Msg("Tool not found")
		return model.Update{}.WithToolResult(kind, &model.ToolResult{Content: unavailableResult[kind], Failed: true}), nil
	}

	out, name, cost, err := st.callTool(ctx, s, kind, t)
	if err != nil {
		log.Warn().Err(err).Str("tool", name).Msg("Tool stage failed")
		u := model.Update{CostUSD: cost}
		return u.WithToolResult(kind, &model.ToolResult{Tool: name, Content: failedResult[kind], Failed: true}), nil
	}

	result := interpretToolOutput(kind, name, out)
	log.Debug().Str("tool", name).Str("result", result.Content).Int("hits", len(result.Hits)).Msg("Tool completed")
	u := model.Update{CostUSD: cost}
	return u.WithToolResult(kind, result), nil
}

func (st *Stages) callTool(ctx context.Context, s model.ConversationState, kind model.ToolKind, t tool.InvokableTool) (string, string, float64, error) {
	info, err := t.Info(ctx)
	if err != nil {
		return "", "", 0, errx.WrapToolInvocation(string(kind), fmt.Errorf("tool info: %w", err))
	}

	vars := prompts.ToolVars{
		Message: s.UserMessage(),
		Answer:  s.DraftAnswer,
	}
	if kind == model.ToolWebSearch {
		vars.PastContext = toolContext(s, searchContextWindow, false)
	} else {
		vars.Retrieved = retrievedJSON(s.Retrieval)
		vars.WebSearch = resultContent(s.WebSearch)
		vars.PastContext = toolContext(s, exportContextWindow, true)
	}
	msgs, err := prompts.ToolCall(ctx, string(kind), vars)
	if err != nil {
		return "", info.Name, 0, err
	}

	args, cost, err := st.toolArguments(ctx, info, msgs)
	if err != nil {
		return "", info.Name, cost, err
	}

	var out string
	err = st.Policy.Once().Do(ctx, info.Name, func(ctx context.Context) error {
		var err error
		out, err = t.InvokableRun(componentContext(ctx, info.Name, string(kind), components.ComponentOfTool), args)
		return err
	})
	if err != nil {
		if !errors.Is(err, errx.ErrToolInvocation) {
			err = errx.WrapToolInvocation(info.Name, err)
		}
		return "", info.Name, cost, err
	}
	return out, info.Name, cost, nil
}

// toolArguments asks the answer model for a call against the tool's schema and
// returns the JSON arguments of that call.
func (st *Stages) toolArguments(ctx context.Context, info *schema.ToolInfo, msgs []*schema.Message) (string, float64, error) {
	bound, err := st.Models.Answer.WithTools([]*schema.ToolInfo{info})
	if err != nil {
		return "", 0, errx.WrapCollaborator(st.Models.AnswerModelName, fmt.Errorf("bind %s: %w", info.Name, err))
	}

	var (
		args string
		cost float64
	)
	err = st.Policy.Do(ctx, info.Name+"_arguments", func(ctx context.Context) error {
		resp, err := bound.Generate(componentContext(ctx, info.Name, st.Models.AnswerModelName, components.ComponentOfChatModel), msgs)
		if err != nil {
			return err
		}
		cost += model.MessageCost(st.Models.AnswerModelName, resp)
		raw, err := parsers.Extract(resp, info.Name)
		if err != nil {
			return fmt.Errorf("model did not call %s: %w", info.Name, err)
		}
		args = raw
		return nil
	})
	if err != nil {
		return "", cost, errx.WrapCollaborator(st.Models.AnswerModelName, err)
	}
	return args, cost, nil
}

// interpretToolOutput shapes a raw tool response into the stored result. CSV
// keeps the file's base name, chart keeps the URL and web search keeps the raw
// payload plus any hits it could parse.
func interpretToolOutput(kind model.ToolKind, name, out string) *model.ToolResult {
	out = unquote(strings.TrimSpace(out))
	r := &model.ToolResult{Tool: name, Content: out}
	switch kind {
	case model.ToolCSV:
		r.Content = filepath.Base(out)
	case model.ToolWebSearch:
		r.Hits = parsers.ParseWebHits(out)
	}
	return r
}

// unquote unwraps a tool response that was marshalled as a JSON string.
func unquote(out string) string {
	if !strings.HasPrefix(out, `"`) {
		return out
	}
	var s string
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		return out
	}
	return strings.TrimSpace(s)
}
