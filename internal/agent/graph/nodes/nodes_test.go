package nodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agri-rag/server/internal/agent/graph/parsers"
	"github.com/agri-rag/server/internal/agent/graph/testutil"
	"github.com/agri-rag/server/internal/agent/model"
	errx "github.com/agri-rag/server/internal/core/error"
)

const (
	optimizerMarker    = "search queries over an agriculture statistics index"
	outputSafetyMarker = "You review answers before they are shown"
)

func newStages(judge, answer *testutil.ChatModel, r *testutil.Retriever, tools testutil.Tools) *Stages {
	if r == nil {
		r = &testutil.Retriever{}
	}
	return &Stages{
		Models: &ChatModels{
			Judge:           judge,
			Answer:          answer,
			JudgeModelName:  "gemini-2.5-flash-lite",
			AnswerModelName: "gemini-2.5-flash",
		},
		Retriever:      r,
		Tools:          tools,
		Policy:         CallPolicy{Timeout: time.Second, Retries: 0},
		Pipeline:       model.DefaultPipelineConfig(),
		SnapshotWindow: 3,
	}
}

func turnState(msg string) model.ConversationState {
	return *model.NewTurnState(nil, model.TurnInput{ThreadID: "t1", Message: msg}, "turn-1")
}

func TestInputSafety(t *testing.T) {
	ctx := context.Background()

	t.Run("verdict", func(t *testing.T) {
		judge := testutil.NewChatModel().OnTool(parsers.ToolSubmitSafety, testutil.ToolCall(parsers.ToolSubmitSafety, `{"safety_flag_messages": true}`))
		u, err := newStages(judge, testutil.NewChatModel(), nil, nil).InputSafety(ctx, turnState("bad"))
		require.NoError(t, err)
		require.NotNil(t, u.BlockedInput)
		assert.True(t, *u.BlockedInput)
	})

	t.Run("failure applies fail-closed default", func(t *testing.T) {
		judge := testutil.NewChatModel().OnTool(parsers.ToolSubmitSafety, testutil.Fail(errors.New("boom")))
		u, err := newStages(judge, testutil.NewChatModel(), nil, nil).InputSafety(ctx, turnState("hi"))
		require.NoError(t, err)
		assert.True(t, *u.BlockedInput)
	})

	t.Run("failure with fail-open", func(t *testing.T) {
		judge := testutil.NewChatModel().OnTool(parsers.ToolSubmitSafety, testutil.Fail(errors.New("boom")))
		st := newStages(judge, testutil.NewChatModel(), nil, nil)
		st.Pipeline.InputSafetyFailClosed = false
		u, err := st.InputSafety(ctx, turnState("hi"))
		require.NoError(t, err)
		assert.False(t, *u.BlockedInput)
	})
}

func TestOutputSafety(t *testing.T) {
	ctx := context.Background()
	s := turnState("hi")
	s.DraftAnswer = "Paddy grows well in Kedah."

	judge := testutil.NewChatModel().OnText(outputSafetyMarker, testutil.Text("FALSE"))
	u, err := newStages(judge, testutil.NewChatModel(), nil, nil).OutputSafety(ctx, s)
	require.NoError(t, err)
	assert.False(t, *u.BlockedOutput)

	judge = testutil.NewChatModel().OnText(outputSafetyMarker, testutil.Fail(errors.New("down")))
	u, err = newStages(judge, testutil.NewChatModel(), nil, nil).OutputSafety(ctx, s)
	require.NoError(t, err)
	assert.False(t, *u.BlockedOutput, "output check fails open by default")
}

func TestQueryOptimizer(t *testing.T) {
	ctx := context.Background()

	judge := testutil.NewChatModel().OnText(optimizerMarker, testutil.Text("```\nQuery: state:Kedah crop_type:paddy\n```"))
	u, err := newStages(judge, testutil.NewChatModel(), nil, nil).QueryOptimizer(ctx, turnState("paddy in Kedah"))
	require.NoError(t, err)
	assert.Equal(t, "state:Kedah crop_type:paddy", *u.OptimizedQuery)

	judge = testutil.NewChatModel().OnText(optimizerMarker, testutil.Fail(errors.New("down")))
	u, err = newStages(judge, testutil.NewChatModel(), nil, nil).QueryOptimizer(ctx, turnState("paddy in Kedah"))
	require.NoError(t, err)
	assert.Equal(t, model.SentinelQuery, *u.OptimizedQuery)
}

func TestRetrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("sentinel skips search", func(t *testing.T) {
		r := &testutil.Retriever{Docs: []*schema.Document{testutil.Doc("1", "x", 0.9)}}
		s := turnState("hello")
		s.OptimizedQuery = "None"
		u, err := newStages(testutil.NewChatModel(), testutil.NewChatModel(), r, nil).Retrieve(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, model.RetrievalEmpty, u.Retrieval.Status)
		assert.Empty(t, r.Queries())
	})

	t.Run("found", func(t *testing.T) {
		r := &testutil.Retriever{Docs: []*schema.Document{
			testutil.Doc("1", "state: Kedah, crop_type: paddy", 0.91),
			testutil.Doc("2", "state: Perak, crop_type: paddy", 0.83),
		}}
		s := turnState("paddy")
		s.OptimizedQuery = "crop_type:paddy"
		u, err := newStages(testutil.NewChatModel(), testutil.NewChatModel(), r, nil).Retrieve(ctx, s)
		require.NoError(t, err)
		require.True(t, u.Retrieval.Found())
		assert.Len(t, u.Retrieval.Items, 2)
		assert.InDelta(t, 0.91, u.Retrieval.Items[0].Score, 1e-9)
		assert.Equal(t, []string{"crop_type:paddy"}, r.Queries())
		assert.Equal(t, []int{DefaultTopK}, r.TopKs())
	})

	t.Run("empty", func(t *testing.T) {
		s := turnState("paddy")
		s.OptimizedQuery = "crop_type:paddy"
		u, err := newStages(testutil.NewChatModel(), testutil.NewChatModel(), &testutil.Retriever{}, nil).Retrieve(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, model.RetrievalEmpty, u.Retrieval.Status)
	})

	t.Run("failure is distinct from empty", func(t *testing.T) {
		s := turnState("paddy")
		s.OptimizedQuery = "crop_type:paddy"
		r := &testutil.Retriever{Err: errors.New("connection refused")}
		u, err := newStages(testutil.NewChatModel(), testutil.NewChatModel(), r, nil).Retrieve(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, model.RetrievalFailed, u.Retrieval.Status)
		assert.Contains(t, u.Retrieval.Err, "connection refused")
	})
}

func TestDraft(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps only the highest priority flag", func(t *testing.T) {
		answer := testutil.NewChatModel().OnTool(parsers.ToolSubmitDraft, testutil.ToolCall(parsers.ToolSubmitDraft,
			`{"answer":"Here is the data.","csv_export_required":true,"chart_image_required":true,"online_search_required":true}`))
		s := turnState("export and chart paddy")
		u, err := newStages(testutil.NewChatModel(), answer, nil, nil).Draft(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, "Here is the data.", *u.DraftAnswer)
		assert.Equal(t, model.ToolFlags{CSV: true}, *u.Flags)
		assert.True(t, u.IncrementRetry)
		require.NotNil(t, u.AppendSnapshot)
		assert.Equal(t, "export and chart paddy", u.AppendSnapshot.UserMessage)
	})

	t.Run("masks flags whose result exists", func(t *testing.T) {
		answer := testutil.NewChatModel().OnTool(parsers.ToolSubmitDraft, testutil.ToolCall(parsers.ToolSubmitDraft,
			`{"answer":"Done.","csv_export_required":true,"chart_image_required":true}`))
		s := turnState("export and chart paddy")
		s.CSV = &model.ToolResult{Content: "paddy_20250101_120000.csv"}
		u, err := newStages(testutil.NewChatModel(), answer, nil, nil).Draft(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, model.ToolFlags{Chart: true}, *u.Flags)
		assert.True(t, u.AppendSnapshot.CSVPresent)
	})

	t.Run("failure yields error answer and still counts", func(t *testing.T) {
		answer := testutil.NewChatModel().OnTool(parsers.ToolSubmitDraft, testutil.Fail(errors.New("quota")))
		u, err := newStages(testutil.NewChatModel(), answer, nil, nil).Draft(ctx, turnState("hi"))
		require.NoError(t, err)
		assert.Equal(t, draftErrorAnswer, *u.DraftAnswer)
		assert.Equal(t, model.ToolFlags{}, *u.Flags)
		assert.True(t, u.IncrementRetry)
		assert.NotNil(t, u.AppendSnapshot)
	})
}

func TestEvaluateIsFatal(t *testing.T) {
	ctx := context.Background()
	s := turnState("hi")
	s.DraftAnswer = "answer"

	judge := testutil.NewChatModel().OnTool(parsers.ToolSubmitEvaluation, testutil.ToolCall(parsers.ToolSubmitEvaluation, `{"confidence_score":0.8,"feedback":"None"}`))
	u, err := newStages(judge, testutil.NewChatModel(), nil, nil).Evaluate(ctx, s)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, *u.Confidence, 1e-9)
	assert.Equal(t, "", *u.EvaluationNote)

	judge = testutil.NewChatModel().OnTool(parsers.ToolSubmitEvaluation, testutil.Fail(errors.New("down")))
	_, err = newStages(judge, testutil.NewChatModel(), nil, nil).Evaluate(ctx, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, errx.ErrCollaborator)
}

func TestHallucinationFallback(t *testing.T) {
	ctx := context.Background()
	s := turnState("hi")
	s.DraftAnswer = "answer"

	judge := testutil.NewChatModel().OnTool(parsers.ToolSubmitHallucination, testutil.ToolCall(parsers.ToolSubmitHallucination, `{"hallucination_score":0.25}`))
	u, err := newStages(judge, testutil.NewChatModel(), nil, nil).Hallucination(ctx, s)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, *u.HallucinationScore, 1e-9)

	judge = testutil.NewChatModel().OnTool(parsers.ToolSubmitHallucination, testutil.Fail(errors.New("down")))
	st := newStages(judge, testutil.NewChatModel(), nil, nil)
	st.Pipeline.HallucinationFallback = 0.5
	u, err = st.Hallucination(ctx, s)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, *u.HallucinationScore, 1e-9)
}

func TestToolStages(t *testing.T) {
	ctx := context.Background()
	s := turnState("export paddy")
	s.DraftAnswer = "| state | production |"
	s.Flags = model.ToolFlags{CSV: true}

	t.Run("csv stores the file name", func(t *testing.T) {
		csv := &testutil.Tool{Name: "generate_csv", Output: "/data/out/paddy_20250101_120000.csv"}
		answer := testutil.NewChatModel().OnTool("generate_csv", testutil.ToolCall("generate_csv", `{"input":"rows"}`))
		u, err := newStages(testutil.NewChatModel(), answer, nil, testutil.Tools{csv}).CSV(ctx, s)
		require.NoError(t, err)
		require.NotNil(t, u.CSV)
		assert.Equal(t, "paddy_20250101_120000.csv", u.CSV.Content)
		assert.False(t, u.CSV.Failed)
		assert.Equal(t, []string{`{"input":"rows"}`}, csv.Arguments())
	})

	t.Run("missing tool stores placeholder", func(t *testing.T) {
		u, err := newStages(testutil.NewChatModel(), testutil.NewChatModel(), nil, testutil.Tools{}).Chart(ctx, s)
		require.NoError(t, err)
		require.NotNil(t, u.Chart)
		assert.Equal(t, "Error: Chart tool not available.", u.Chart.Content)
		assert.True(t, u.Chart.Failed)
	})

	t.Run("tool failure stores placeholder", func(t *testing.T) {
		search := &testutil.Tool{Name: "tavily_search", Err: errors.New("rate limited")}
		answer := testutil.NewChatModel().OnTool("tavily_search", testutil.ToolCall("tavily_search", `{"input":"paddy"}`))
		u, err := newStages(testutil.NewChatModel(), answer, nil, testutil.Tools{search}).WebSearch(ctx, s)
		require.NoError(t, err)
		require.NotNil(t, u.WebSearch)
		assert.Equal(t, "Error performing web search", u.WebSearch.Content)
		assert.True(t, u.WebSearch.Failed)
	})

	t.Run("web search keeps hits", func(t *testing.T) {
		search := &testutil.Tool{Name: "tavily_search", Output: `{"results":[{"title":"Paddy","url":"https://example.org/paddy","content":"Kedah leads."}]}`}
		answer := testutil.NewChatModel().OnTool("tavily_search", testutil.ToolCall("tavily_search", `{"input":"paddy"}`))
		u, err := newStages(testutil.NewChatModel(), answer, nil, testutil.Tools{search}).WebSearch(ctx, s)
		require.NoError(t, err)
		require.Len(t, u.WebSearch.Hits, 1)
		assert.Equal(t, "https://example.org/paddy", u.WebSearch.Hits[0].URL)
	})

	t.Run("model without a tool call fails the stage", func(t *testing.T) {
		csv := &testutil.Tool{Name: "generate_csv", Output: "x.csv"}
		answer := testutil.NewChatModel().OnTool("generate_csv", testutil.Text("I cannot do that"))
		u, err := newStages(testutil.NewChatModel(), answer, nil, testutil.Tools{csv}).CSV(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, "Error generating CSV", u.CSV.Content)
		assert.Empty(t, csv.Arguments())
	})
}

func TestRouters(t *testing.T) {
	assert.Equal(t, compose.END, RouteAfterInputSafety(&model.ConversationState{BlockedInput: true}))
	assert.Equal(t, NodeQueryOptimizer, RouteAfterInputSafety(&model.ConversationState{}))

	tests := []struct {
		flags model.ToolFlags
		want  string
	}{
		{model.ToolFlags{}, NodeEvaluation},
		{model.ToolFlags{WebSearch: true}, NodeWebSearch},
		{model.ToolFlags{Chart: true, WebSearch: true}, NodeChartGenerator},
		{model.ToolFlags{CSV: true, Chart: true}, NodeCSVGenerator},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RouteAfterDraft(&model.ConversationState{Flags: tt.flags}))
	}

	r := NewRetryRouter(model.DefaultPipelineConfig())
	assert.Equal(t, NodeDraft, r.Route(&model.ConversationState{Confidence: 0.3, RetryCount: 1}))
	assert.Equal(t, NodeHallucination, r.Route(&model.ConversationState{Confidence: 0.3, RetryCount: 2}))
	assert.Equal(t, NodeHallucination, r.Route(&model.ConversationState{Confidence: 0.6, RetryCount: 1}))
}

func TestCallPolicyRetries(t *testing.T) {
	p := CallPolicy{Timeout: time.Second, Retries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	attempts := 0
	err := p.Do(context.Background(), "flaky", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = p.Once().Do(context.Background(), "once", func(context.Context) error {
		attempts++
		return errors.New("fails")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestCallPolicyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := CallPolicy{Timeout: time.Second, Retries: 5, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	attempts := 0
	err := p.Do(ctx, "cancelled", func(context.Context) error {
		attempts++
		cancel()
		return errors.New("interrupted")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
