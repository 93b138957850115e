package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	"github.com/agri-rag/server/internal/agent/model"
)

// Router picks the next node from the current state.
type Router func(s *model.ConversationState) string

// RouteAfterInputSafety ends the turn for blocked input.
func RouteAfterInputSafety(s *model.ConversationState) string {
	if s.BlockedInput {
		return compose.END
	}
	return NodeQueryOptimizer
}

// RouteAfterDraft sends the turn to the first requested tool by priority,
// otherwise to evaluation.
func RouteAfterDraft(s *model.ConversationState) string {
	for _, k := range model.ToolPriority {
		if s.Flags.Get(k) {
			return ToolNode(k)
		}
	}
	return NodeEvaluation
}

// RetryGuard bounds how many drafting passes a turn may make.
type RetryGuard struct {
	Max int
}

// Allow reports whether another drafting pass is permitted after retryCount
// passes.
func (g RetryGuard) Allow(retryCount int) bool {
	return retryCount < g.Max
}

// RetryRouter sends low-confidence answers back to drafting while the guard
// allows it.
type RetryRouter struct {
	Threshold float64
	Guard     RetryGuard
}

// NewRetryRouter builds the router from pipeline settings.
func NewRetryRouter(cfg model.PipelineConfig) RetryRouter {
	return RetryRouter{Threshold: cfg.ConfidenceThreshold, Guard: RetryGuard{Max: cfg.MaxDraftRetries}}
}

// Route implements Router.
func (r RetryRouter) Route(s *model.ConversationState) string {
	if s.Confidence < r.Threshold && r.Guard.Allow(s.RetryCount) {
		return NodeDraft
	}
	return NodeHallucination
}

// NewCondition adapts a Router to a graph branch condition.
func NewCondition(name string, route Router) compose.GraphBranchCondition[model.Hop] {
	return func(ctx context.Context, _ model.Hop) (string, error) {
		var next string
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			next = route(s)
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("%s router: %w", name, err)
		}
		return next, nil
	}
}
