package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"

	"github.com/agri-rag/server/internal/agent/model"
	logx "github.com/agri-rag/server/pkg/logger"
)

// Graph node names.
const (
	NodeTurnStart      = "turn_start"
	NodeInputSafety    = "input_safety"
	NodeQueryOptimizer = "query_optimizer"
	NodeRetriever      = "retriever"
	NodeDraft          = "draft"
	NodeEvaluation     = "evaluation"
	NodeCSVGenerator   = "csv_generator"
	NodeChartGenerator = "chart_generator"
	NodeWebSearch      = "web_search"
	NodeHallucination  = "hallucination"
	NodeOutputSafety   = "output_safety"
)

// ToolNode maps a tool capability to the node that runs it.
func ToolNode(kind model.ToolKind) string {
	switch kind {
	case model.ToolCSV:
		return NodeCSVGenerator
	case model.ToolChart:
		return NodeChartGenerator
	default:
		return NodeWebSearch
	}
}

// Stage is one unit of work. It reads a private copy of the state and returns
// the fields it wants changed.
type Stage func(ctx context.Context, s model.ConversationState) (model.Update, error)

// ToolFinder looks up a registered tool whose name contains keyword.
type ToolFinder interface {
	Find(ctx context.Context, keyword string) (tool.InvokableTool, error)
}

// Stages holds the collaborators every stage draws on.
type Stages struct {
	Models    *ChatModels
	Retriever retriever.Retriever
	Tools     ToolFinder
	Policy    CallPolicy
	Pipeline  model.PipelineConfig
	// TopK is the retrieval fan-out.
	TopK int
	// SnapshotWindow is how many turn snapshots drafting sees.
	SnapshotWindow int
}

// Validate reports missing collaborators.
func (st *Stages) Validate() error {
	if st.Models == nil || st.Models.Judge == nil || st.Models.Answer == nil {
		return fmt.Errorf("chat models are not properly initialized")
	}
	if st.Retriever == nil {
		return fmt.Errorf("retriever is nil")
	}
	if st.Tools == nil {
		return fmt.Errorf("tool registry is nil")
	}
	return nil
}

// NewStageNode adapts a Stage to a graph lambda. The state is copied out and
// the update merged back inside compose.ProcessState, so the stage itself
// never holds the shared record.
func NewStageNode(name string, stage Stage) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ model.Hop) (model.Hop, error) {
		var view model.ConversationState
		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			view = s.Snapshot()
			return nil
		}); err != nil {
			return model.Hop{}, fmt.Errorf("failed to access state: %w", err)
		}

		update, err := stage(ctx, view)
		if err != nil {
			logx.Ctx(ctx).Error().Err(err).Str("node", name).Msg("Stage failed")
			return model.Hop{}, fmt.Errorf("%s: %w", name, err)
		}

		err = compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.Apply(update)
			s.Trace = append(s.Trace, name)
			return nil
		})
		if err != nil {
			return model.Hop{}, fmt.Errorf("failed to update state: %w", err)
		}
		return model.Hop{From: name}, nil
	})
}

// NewTurnStartNode checks that the graph runs against the state prepared for
// this input and opens the hop chain.
func NewTurnStartNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.TurnInput) (model.Hop, error) {
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			if s.ThreadID != in.ThreadID {
				return fmt.Errorf("state prepared for thread %q, got %q", s.ThreadID, in.ThreadID)
			}
			if s.UserMessage() != in.Message {
				return fmt.Errorf("state does not end with the current user message")
			}
			s.Trace = append(s.Trace, NodeTurnStart)
			return nil
		})
		if err != nil {
			return model.Hop{}, err
		}
		logx.Ctx(ctx).Debug().Msg("Turn started")
		return model.Hop{From: NodeTurnStart}, nil
	})
}
