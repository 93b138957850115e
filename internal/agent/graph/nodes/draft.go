package nodes

import (
	"context"
	"fmt"

	"github.com/agri-rag/server/internal/agent/graph/parsers"
	"github.com/agri-rag/server/internal/agent/graph/prompts"
	"github.com/agri-rag/server/internal/agent/model"
	logx "github.com/agri-rag/server/pkg/logger"
)

// Draft writes the answer and decides which tool, if any, runs next.
// Every pass counts as one retry and leaves a turn snapshot, including the
// degraded pass that returns the fixed error answer.
func (st *Stages) Draft(ctx context.Context, s model.ConversationState) (model.Update, error) {
	window := st.SnapshotWindow
	if window <= 0 {
		window = 3
	}

	msgs, err := prompts.Draft(ctx, prompts.DraftVars{
		Message:         s.UserMessage(),
		PastContext:     toJSON(s.RecentSnapshots(window)),
		Retrieved:       retrievedJSON(s.Retrieval),
		RetrievalFailed: s.Retrieval.Status == model.RetrievalFailed,
		WebSearch:       resultContent(s.WebSearch),
		CSV:             resultContent(s.CSV),
		Chart:           resultContent(s.Chart),
		Feedback:        s.EvaluationNote,
	})

	var (
		out  parsers.DraftOutput
		cost float64
	)
	if err == nil {
		out, cost, err = generateStructured[parsers.DraftOutput](ctx, st, st.Models.Answer, st.Models.AnswerModelName, parsers.DraftSchema, msgs)
	}
	if err != nil {
		logx.Ctx(ctx).Warn().Err(err).Int("retry_count", s.RetryCount+1).Msg("Drafting failed; using error answer")
		out = parsers.DraftOutput{Answer: draftErrorAnswer}
	}

	requested := model.ToolFlags{WebSearch: out.Search, CSV: out.CSV, Chart: out.Chart}
	flags := maskFlags(requested, s)

	logx.Ctx(ctx).Debug().
		Int("retry_count", s.RetryCount+1).
		Bool("csv", flags.CSV).
		Bool("chart", flags.Chart).
		Bool("web_search", flags.WebSearch).
		Int("requested", requested.Count()).
		Msg("Answer drafted")

	return model.Update{
		DraftAnswer:    model.Ptr(out.Answer),
		Flags:          &flags,
		IncrementRetry: true,
		AppendSnapshot: &model.TurnSnapshot{
			UserMessage:   s.UserMessage(),
			Answer:        out.Answer,
			SearchPresent: s.WebSearch != nil,
			CSVPresent:    s.CSV != nil,
			ChartPresent:  s.Chart != nil,
		},
		CostUSD: cost,
	}, nil
}

// maskFlags lowers requests for tools whose result already exists and keeps
// at most one, by dispatch priority.
func maskFlags(f model.ToolFlags, s model.ConversationState) model.ToolFlags {
	for _, k := range model.ToolPriority {
		if s.ToolResultFor(k) != nil {
			f = f.Set(k, false)
		}
	}
	return f.Highest()
}

// Evaluate scores the draft. It has no degraded path: a failure ends the turn.
func (st *Stages) Evaluate(ctx context.Context, s model.ConversationState) (model.Update, error) {
	msgs, err := prompts.Evaluation(ctx, s.UserMessage(), s.DraftAnswer, retrievedJSON(s.Retrieval))
	if err != nil {
		return model.Update{}, err
	}
	out, cost, err := generateStructured[parsers.EvaluationOutput](ctx, st, st.Models.Judge, st.Models.JudgeModelName, parsers.EvaluationSchema, msgs)
	if err != nil {
		return model.Update{}, fmt.Errorf("error evaluating answer: %w", err)
	}

	logx.Ctx(ctx).Debug().
		Float64("confidence", out.Confidence).
		Str("feedback", out.Feedback).
		Int("retry_count", s.RetryCount).
		Msg("Answer evaluated")
	return model.Update{
		Confidence:     model.Ptr(out.Confidence),
		EvaluationNote: model.Ptr(out.Feedback),
		CostUSD:        cost,
	}, nil
}

// Hallucination scores how much of the answer the sources do not support.
// Failures fall back to the configured score.
func (st *Stages) Hallucination(ctx context.Context, s model.ConversationState) (model.Update, error) {
	msgs, err := prompts.Hallucination(ctx, s.DraftAnswer, retrievedJSON(s.Retrieval), resultContent(s.WebSearch))
	var (
		out  parsers.HallucinationOutput
		cost float64
	)
	if err == nil {
		out, cost, err = generateStructured[parsers.HallucinationOutput](ctx, st, st.Models.Judge, st.Models.JudgeModelName, parsers.HallucinationSchema, msgs)
	}
	if err != nil {
		fallback := st.Pipeline.HallucinationFallback
		logx.Ctx(ctx).Warn().Err(err).Float64("hallucination_score", fallback).Msg("Hallucination check failed; using fallback score")
		return model.Update{HallucinationScore: model.Ptr(fallback), CostUSD: cost}, nil
	}

	logx.Ctx(ctx).Debug().Float64("hallucination_score", out.Score).Msg("Hallucination scored")
	return model.Update{HallucinationScore: model.Ptr(out.Score), CostUSD: cost}, nil
}
