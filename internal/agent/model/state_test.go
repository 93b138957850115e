package model

import (
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSentinelQuery(t *testing.T) {
	for _, q := range []string{"none", "None", ` "NONE" `, "`none`", "null", ""} {
		assert.True(t, IsSentinelQuery(q), q)
	}
	for _, q := range []string{"paddy production Kedah 2022", "none of the states"} {
		assert.False(t, IsSentinelQuery(q), q)
	}
}

func TestNewRetrieval(t *testing.T) {
	empty := NewRetrieval(nil)
	assert.Equal(t, RetrievalEmpty, empty.Status)
	assert.False(t, empty.Found())

	found := NewRetrieval([]RetrievedItem{{ID: "1", Text: "Kedah paddy 2022", Score: 0.9}})
	assert.Equal(t, RetrievalFound, found.Status)
	assert.True(t, found.Found())

	assert.False(t, Retrieval{Status: RetrievalFailed, Err: "timeout"}.Found())
}

func TestToolFlags(t *testing.T) {
	all := ToolFlags{WebSearch: true, CSV: true, Chart: true}
	assert.Equal(t, 3, all.Count())
	assert.Equal(t, ToolFlags{CSV: true}, all.Highest())
	assert.Equal(t, ToolFlags{Chart: true}, ToolFlags{WebSearch: true, Chart: true}.Highest())
	assert.Equal(t, ToolFlags{}, ToolFlags{}.Highest())

	f := ToolFlags{}.Set(ToolWebSearch, true)
	assert.True(t, f.Get(ToolWebSearch))
	assert.False(t, f.Get(ToolCSV))
	assert.Equal(t, 1, f.Count())
	assert.False(t, f.Get(ToolKind("fax")))
}

func TestNewTurnState(t *testing.T) {
	fresh := NewTurnState(nil, TurnInput{ThreadID: "t1", Message: "hi"}, "turn-1")
	assert.Equal(t, 1, fresh.TurnCount)
	assert.Equal(t, RetrievalNotAttempted, fresh.Retrieval.Status)
	assert.Equal(t, "hi", fresh.UserMessage())
	assert.Nil(t, fresh.PriorMessages(3))

	cp := &Checkpoint{
		ThreadID:  "t1",
		TurnCount: 2,
		Messages: []*schema.Message{
			schema.UserMessage("rubber in Johor?"),
			schema.AssistantMessage("Johor produced 100k tonnes.", nil),
		},
		TurnHistory: []TurnSnapshot{{UserMessage: "rubber in Johor?", Answer: "Johor produced 100k tonnes."}},
	}
	s := NewTurnState(cp, TurnInput{ThreadID: "t1", Message: "and Pahang?"}, "turn-3")
	assert.Equal(t, 3, s.TurnCount)
	require.Len(t, s.Messages, 3)
	assert.Equal(t, "and Pahang?", s.UserMessage())
	assert.Len(t, s.PriorMessages(3), 2)
	assert.Len(t, s.PriorMessages(2), 1)
	assert.Nil(t, s.PriorMessages(1))
	assert.Len(t, s.RecentSnapshots(3), 1)
	assert.Nil(t, s.RecentSnapshots(0))

	// the checkpoint is not aliased
	s.Messages[0] = schema.UserMessage("changed")
	assert.Equal(t, "rubber in Johor?", cp.Messages[0].Content)
}

func TestApply(t *testing.T) {
	s := NewTurnState(nil, TurnInput{ThreadID: "t1", Message: "export paddy data"}, "turn-1")

	s.Apply(Update{
		DraftAnswer:    Ptr("draft"),
		Flags:          &ToolFlags{CSV: true},
		IncrementRetry: true,
		AppendSnapshot: &TurnSnapshot{UserMessage: "export paddy data", Answer: "draft"},
		CostUSD:        0.01,
	})
	assert.True(t, s.HasDraft())
	assert.True(t, s.Flags.CSV)
	assert.Equal(t, 1, s.RetryCount)
	assert.Len(t, s.TurnHistory, 1)

	s.Apply(Update{}.WithToolResult(ToolCSV, &ToolResult{Tool: "generate_csv", Content: "paddy.csv"}))
	assert.False(t, s.Flags.CSV)
	require.NotNil(t, s.ToolResultFor(ToolCSV))
	assert.Equal(t, "paddy.csv", s.ToolResultFor(ToolCSV).Content)
	assert.Nil(t, s.ToolResultFor(ToolChart))

	s.Apply(Update{Confidence: Ptr(1.4), HallucinationScore: Ptr(-0.2), CostUSD: 0.02})
	assert.Equal(t, 1.0, s.Confidence)
	assert.True(t, s.Evaluated)
	require.NotNil(t, s.HallucinationScore)
	assert.Equal(t, 0.0, *s.HallucinationScore)
	assert.InDelta(t, 0.03, s.TotalCostUSD, 1e-9)

	s.Apply(Update{BlockedOutput: Ptr(true)})
	assert.True(t, s.BlockedOutput)
	assert.Equal(t, "draft", s.DraftAnswer)
}

func TestSnapshot_DeepCopy(t *testing.T) {
	s := NewTurnState(nil, TurnInput{ThreadID: "t1", Message: "hi"}, "turn-1")
	s.Apply(Update{
		Retrieval: &Retrieval{Status: RetrievalFound, Items: []RetrievedItem{{Text: "a", Metadata: map[string]any{"state": "Kedah"}}}},
		WebSearch: &ToolResult{Hits: []WebHit{{Title: "DOSM"}}},
	})

	c := s.Snapshot()
	c.Messages[0].Content = "changed"
	c.Retrieval.Items[0].Metadata["state"] = "Perlis"
	c.WebSearch.Hits[0].Title = "other"
	c.Trace = append(c.Trace, "x")

	assert.Equal(t, "hi", s.Messages[0].Content)
	assert.Equal(t, "Kedah", s.Retrieval.Items[0].Metadata["state"])
	assert.Equal(t, "DOSM", s.WebSearch.Hits[0].Title)
	assert.Empty(t, s.Trace)
}

func TestCheckpoint(t *testing.T) {
	s := NewTurnState(nil, TurnInput{ThreadID: "t1", Message: "q1"}, "turn-1")
	for i := 0; i < 3; i++ {
		s.Messages = append(s.Messages, schema.AssistantMessage("a", nil), schema.UserMessage("q"))
		s.TurnHistory = append(s.TurnHistory, TurnSnapshot{Answer: "a"})
	}
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("MYT", 8*3600))

	cp := s.Checkpoint(4, now)
	assert.Equal(t, "t1", cp.ThreadID)
	assert.Equal(t, 1, cp.TurnCount)
	assert.Len(t, cp.Messages, 4)
	assert.Len(t, cp.TurnHistory, 3)
	assert.Equal(t, time.UTC, cp.UpdatedAt.Location())

	assert.Len(t, s.Checkpoint(0, now).Messages, 7)
}

func TestMessageCost(t *testing.T) {
	msg := &schema.Message{ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{
		PromptTokens:     1_000_000,
		CompletionTokens: 100_000,
	}}}
	assert.InDelta(t, 0.30+0.25, MessageCost("gemini-2.5-flash", msg), 1e-9)
	assert.Zero(t, MessageCost("unknown-model", msg))
	assert.Zero(t, MessageCost("gemini-2.5-flash", &schema.Message{}))
	assert.Zero(t, MessageCost("gemini-2.5-flash", nil))
}
