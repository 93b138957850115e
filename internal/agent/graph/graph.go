package graph

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/agri-rag/server/internal/agent/graph/conversations"
	"github.com/agri-rag/server/internal/agent/graph/nodes"
	"github.com/agri-rag/server/internal/agent/graph/observers"
	"github.com/agri-rag/server/internal/agent/model"
	errx "github.com/agri-rag/server/internal/core/error"
	logx "github.com/agri-rag/server/pkg/logger"
)

// User-facing replies for rejected turns.
const (
	InputRejection  = "Your query contains inappropriate content. Please ask agriculture-related questions only."
	OutputRejection = "I cannot provide this information as it may contain inappropriate content. Please ask agriculture-related questions only."
)

// Runner executes one conversation turn.
type Runner interface {
	Invoke(ctx context.Context, in model.TurnInput) (model.TurnResult, error)
}

// Config holds everything needed to compose the full turn graph end-to-end.
// This is a convenience layer over GraphConfig that also constructs the chat
// models and the conversation manager.
type Config struct {
	Client       *genai.Client
	JudgeModel   model.JudgeModelConfig
	AnswerModel  model.AnswerModelConfig
	Pipeline     model.PipelineConfig
	Conversation model.ConversationConfig
	Retrieval    model.RetrievalConfig
	Retriever    retriever.Retriever
	Tools        nodes.ToolFinder
	Checkpoints  model.CheckpointStore
	// Conversations is built from Checkpoints when nil.
	Conversations *conversations.Manager
	TurnLog       model.TurnLog
}

// GraphConfig holds all configuration needed to build the graph and its runner.
type GraphConfig struct {
	Stages        *nodes.Stages
	Conversations *conversations.Manager
	// TurnLog is optional.
	TurnLog model.TurnLog
}

// GraphBuilder handles the construction of the turn graph.
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.TurnInput, model.Hop]
}

type stateKey struct{}

// withTurnState hands the prepared state to the graph's local state generator.
func withTurnState(ctx context.Context, s *model.ConversationState) context.Context {
	return context.WithValue(ctx, stateKey{}, s)
}

func turnState(ctx context.Context) *model.ConversationState {
	if s, ok := ctx.Value(stateKey{}).(*model.ConversationState); ok && s != nil {
		return s
	}
	// turn_start rejects an unprepared state
	return &model.ConversationState{}
}

type graphRunner struct {
	runnable      compose.Runnable[model.TurnInput, model.Hop]
	conversations *conversations.Manager
	turnLog       model.TurnLog
	now           func() time.Time
}

// Invoke runs one turn. Nothing is persisted when the turn fails.
func (r *graphRunner) Invoke(ctx context.Context, in model.TurnInput) (model.TurnResult, error) {
	in.ThreadID = strings.TrimSpace(in.ThreadID)
	if in.ThreadID == "" {
		return model.TurnResult{}, errx.New(fmt.Errorf("empty thread id"), http.StatusBadRequest, "thread id is required")
	}
	if strings.TrimSpace(in.Message) == "" {
		return model.TurnResult{ThreadID: in.ThreadID}, errx.New(fmt.Errorf("empty message"), http.StatusBadRequest, "message is required")
	}

	turnID := uuid.NewString()
	log := logx.Ctx(ctx).With().Str("thread_id", in.ThreadID).Str("turn_id", turnID).Logger()
	ctx = logx.WithContext(ctx, log)

	state, release, err := r.conversations.Begin(ctx, in, turnID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to start turn")
		return model.TurnResult{ThreadID: in.ThreadID, TurnID: turnID}, err
	}
	defer release()

	if _, err := r.runnable.Invoke(withTurnState(ctx, state), in, compose.WithCallbacks(observers.NewAllCallbacks())); err != nil {
		log.Error().Err(err).Strs("trace", state.Trace).Msg("Turn failed")
		return model.TurnResult{ThreadID: in.ThreadID, TurnID: turnID}, err
	}

	result := state.Result()
	result.Answer = replyText(result)
	if err := r.conversations.Commit(ctx, state, result.Answer); err != nil {
		log.Error().Err(err).Msg("Failed to persist turn")
		return result, err
	}

	if r.turnLog != nil && !result.Blocked() {
		rec := model.TurnRecord{
			Timestamp:          r.now().UTC(),
			TurnID:             turnID,
			ThreadID:           in.ThreadID,
			UserMessage:        in.Message,
			Answer:             result.Answer,
			HallucinationScore: result.HallucinationScore,
		}
		if err := r.turnLog.Append(ctx, rec); err != nil {
			log.Warn().Err(err).Msg("Failed to write turn log")
		}
	}

	log.Info().
		Bool("blocked", result.Blocked()).
		Int("retry_count", result.RetryCount).
		Float64("confidence", result.Confidence).
		Float64("cost_usd", result.CostUSD).
		Strs("trace", result.Trace).
		Msg("Turn completed")
	return result, nil
}

func replyText(r model.TurnResult) string {
	switch {
	case r.BlockedInput:
		return InputRejection
	case r.BlockedOutput:
		return OutputRejection
	default:
		return r.Answer
	}
}

// Reply runs a turn and renders it for chat: the answer, a rejection message
// or "Error: <message>".
func Reply(ctx context.Context, r Runner, in model.TurnInput) string {
	res, err := r.Invoke(ctx, in)
	if err != nil {
		return "Error: " + err.Error()
	}
	return res.Answer
}

// BuildResponseGraph composes the chat models and the conversation manager,
// builds the graph, and returns a Runner.
func BuildResponseGraph(ctx context.Context, cfg Config) (Runner, error) {
	manager := cfg.Conversations
	if manager == nil {
		if cfg.Checkpoints == nil {
			return nil, fmt.Errorf("checkpoint store is nil")
		}
		manager = conversations.NewManager(cfg.Checkpoints, cfg.Conversation)
	}

	cms, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		Client:       cfg.Client,
		JudgeConfig:  &cfg.JudgeModel,
		AnswerConfig: &cfg.AnswerModel,
	})
	if err != nil {
		return nil, err
	}

	policy := nodes.DefaultCallPolicy()
	policy.Timeout = cfg.Pipeline.CallTimeout
	policy.Retries = cfg.Pipeline.CallRetries

	runner, err := BuildRunner(ctx, &GraphConfig{
		Stages: &nodes.Stages{
			Models:         cms,
			Retriever:      cfg.Retriever,
			Tools:          cfg.Tools,
			Policy:         policy,
			Pipeline:       cfg.Pipeline,
			TopK:           cfg.Retrieval.TopK,
			SnapshotWindow: cfg.Conversation.SnapshotWindow,
		},
		Conversations: manager,
		TurnLog:       cfg.TurnLog,
	})
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Response graph built successfully")
	return runner, nil
}

// BuildRunner compiles the graph and wraps it with conversation handling.
func BuildRunner(ctx context.Context, config *GraphConfig) (Runner, error) {
	if config == nil || config.Conversations == nil {
		return nil, fmt.Errorf("conversation manager is nil")
	}
	runnable, err := BuildGraph(ctx, config)
	if err != nil {
		return nil, err
	}
	return &graphRunner{
		runnable:      runnable,
		conversations: config.Conversations,
		turnLog:       config.TurnLog,
		now:           time.Now,
	}, nil
}

// BuildGraph constructs and returns the compiled turn graph.
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.TurnInput, model.Hop], error) {
	if config == nil || config.Stages == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if err := config.Stages.Validate(); err != nil {
		return nil, err
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.TurnInput, model.Hop](
			compose.WithGenLocalState(turnState),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}
	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph.
func (b *GraphBuilder) addNodes() error {
	if err := b.graph.AddLambdaNode(nodes.NodeTurnStart, nodes.NewTurnStartNode(), compose.WithNodeName(nodes.NodeTurnStart)); err != nil {
		return fmt.Errorf("error adding %s node: %w", nodes.NodeTurnStart, err)
	}
	for _, n := range stageNodes(b.config.Stages) {
		if err := b.graph.AddLambdaNode(n.name, nodes.NewStageNode(n.name, n.stage), compose.WithNodeName(n.name)); err != nil {
			logx.Error().Err(err).Str("node", n.name).Msg("Error adding node")
			return fmt.Errorf("error adding %s node: %w", n.name, err)
		}
	}
	return nil
}

// addEdges creates the unconditional connections between nodes.
func (b *GraphBuilder) addEdges() error {
	for _, e := range edges {
		if err := b.graph.AddEdge(e[0], e[1]); err != nil {
			logx.Error().Err(err).Str("from", e[0]).Str("to", e[1]).Msg("Error adding edge")
			return fmt.Errorf("error adding edge %s -> %s: %w", e[0], e[1], err)
		}
	}
	return nil
}

// addBranches creates the conditional routing branches.
func (b *GraphBuilder) addBranches() error {
	for _, br := range branches(b.config.Stages.Pipeline) {
		targets := make(map[string]bool, len(br.targets))
		for _, t := range br.targets {
			targets[t] = true
		}
		branch := compose.NewGraphBranch(nodes.NewCondition(br.name, br.route), targets)
		if err := b.graph.AddBranch(br.from, branch); err != nil {
			logx.Error().Err(err).Str("branch", br.name).Msg("Error adding branch")
			return fmt.Errorf("error adding %s branch: %w", br.name, err)
		}
	}
	return nil
}

// compile finalizes and compiles the graph.
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.TurnInput, model.Hop], error) {
	runnable, err := b.graph.Compile(ctx,
		compose.WithGraphName("agri_rag_turn"),
		compose.WithMaxRunSteps(MaxRunSteps(b.config.Stages.Pipeline)),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}

// MaxRunSteps bounds a single run. Each drafting pass may add a tool node, a
// draft and an evaluation on top of the fixed chain.
func MaxRunSteps(cfg model.PipelineConfig) int {
	if cfg.MaxRunSteps > 0 {
		return cfg.MaxRunSteps
	}
	steps := 10 + (cfg.MaxDraftRetries+1+len(model.ToolPriority))*3
	if steps < 20 {
		steps = 20
	}
	return steps
}
