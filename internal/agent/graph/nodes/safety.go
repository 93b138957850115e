package nodes

import (
	"context"

	"github.com/agri-rag/server/internal/agent/graph/parsers"
	"github.com/agri-rag/server/internal/agent/graph/prompts"
	"github.com/agri-rag/server/internal/agent/model"
	logx "github.com/agri-rag/server/pkg/logger"
)

// InputSafety classifies the latest user message. When the classifier is
// unavailable the configured input fail-safe decides.
func (st *Stages) InputSafety(ctx context.Context, s model.ConversationState) (model.Update, error) {
	msgs, err := prompts.InputSafety(ctx, s.UserMessage())
	if err != nil {
		return st.inputFailSafe(ctx, err, 0), nil
	}
	verdict, cost, err := generateStructured[parsers.SafetyVerdict](ctx, st, st.Models.Judge, st.Models.JudgeModelName, parsers.SafetySchema, msgs)
	if err != nil {
		return st.inputFailSafe(ctx, err, cost), nil
	}

	logx.Ctx(ctx).Debug().Bool("blocked_input", verdict.Blocked).Msg("Input safety checked")
	return model.Update{BlockedInput: model.Ptr(verdict.Blocked), CostUSD: cost}, nil
}

func (st *Stages) inputFailSafe(ctx context.Context, err error, cost float64) model.Update {
	blocked := st.Pipeline.InputSafetyFailClosed
	logx.Ctx(ctx).Warn().Err(err).Bool("blocked_input", blocked).Msg("Input safety unavailable; applying fail-safe")
	return model.Update{BlockedInput: model.Ptr(blocked), CostUSD: cost}
}

// OutputSafety classifies the final answer. When the classifier is unavailable
// the configured output fail-safe decides.
func (st *Stages) OutputSafety(ctx context.Context, s model.ConversationState) (model.Update, error) {
	msgs, err := prompts.OutputSafety(ctx, s.DraftAnswer)
	if err != nil {
		return st.outputFailSafe(ctx, err, 0), nil
	}
	content, cost, err := st.generateText(ctx, st.Models.Judge, st.Models.JudgeModelName, NodeOutputSafety, msgs)
	if err != nil {
		return st.outputFailSafe(ctx, err, cost), nil
	}

	blocked := parsers.ParseVerdict(content)
	logx.Ctx(ctx).Debug().Bool("blocked_output", blocked).Msg("Output safety checked")
	return model.Update{BlockedOutput: model.Ptr(blocked), CostUSD: cost}, nil
}

func (st *Stages) outputFailSafe(ctx context.Context, err error, cost float64) model.Update {
	blocked := st.Pipeline.OutputSafetyFailClosed
	logx.Ctx(ctx).Warn().Err(err).Bool("blocked_output", blocked).Msg("Output safety unavailable; applying fail-safe")
	return model.Update{BlockedOutput: model.Ptr(blocked), CostUSD: cost}
}
