package parsers

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agri-rag/server/internal/agent/model"
)

func toolCallMessage(name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       "call_1",
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}},
	}
}

func TestDecodeFromToolCall(t *testing.T) {
	msg := toolCallMessage(ToolSubmitDraft, `{"answer":" Johor produced 50300 tons. ","csv_export_required":true,"chart_image_required":false,"online_search_required":false}`)

	out, err := Decode[DraftOutput](msg, ToolSubmitDraft)
	require.NoError(t, err)
	assert.Equal(t, "Johor produced 50300 tons.", out.Answer)
	assert.True(t, out.CSV)
	assert.False(t, out.Chart)
}

func TestDecodeFromContentFallback(t *testing.T) {
	msg := schema.AssistantMessage("Here you go:\n```json\n{\"confidence_score\": 0.75, \"feedback\": \"None\"}\n```", nil)

	out, err := Decode[EvaluationOutput](msg, ToolSubmitEvaluation)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, out.Confidence, 1e-9)
	assert.Empty(t, out.Feedback)
}

func TestDecodeSkipsBracesInStrings(t *testing.T) {
	msg := schema.AssistantMessage(`noise {not json} then {"hallucination_score": 0.1, "note": "a } brace"}`, nil)

	out, err := Decode[HallucinationOutput](msg, ToolSubmitHallucination)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, out.Score, 1e-9)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  *schema.Message
	}{
		{"nil message", nil},
		{"plain text", schema.AssistantMessage("I think it is fine.", nil)},
		{"empty answer", toolCallMessage(ToolSubmitDraft, `{"answer":"   "}`)},
		{"confidence out of scale", toolCallMessage(ToolSubmitEvaluation, `{"confidence_score": 7, "feedback": ""}`)},
		{"wrong types", toolCallMessage(ToolSubmitEvaluation, `{"confidence_score": "high"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			switch tt.name {
			case "confidence out of scale", "wrong types":
				_, err := Decode[EvaluationOutput](tt.msg, ToolSubmitEvaluation)
				assert.Error(t, err)
			default:
				_, err := Decode[DraftOutput](tt.msg, ToolSubmitDraft)
				assert.Error(t, err)
			}
		})
	}
}

func TestExtractSingleMismatchedToolCall(t *testing.T) {
	raw, err := Extract(toolCallMessage("submit", `{"safety_flag_messages":true}`), ToolSubmitSafety)
	require.NoError(t, err)
	assert.JSONEq(t, `{"safety_flag_messages":true}`, raw)
}

func TestCleanQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"state:Johor crop_type:paddy", "state:Johor crop_type:paddy"},
		{"  \"state:Kedah data_year:2020\"  ", "state:Kedah data_year:2020"},
		{"```\nstate:Perak crop_type:corn\n```", "state:Perak crop_type:corn"},
		{"Optimized query: crop_type:durian", "crop_type:durian"},
		{"Thinking about fields...\n\nstate:Sabah", "state:Sabah"},
		{"None", model.SentinelQuery},
		{"\"none\"", model.SentinelQuery},
		{"", model.SentinelQuery},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanQuery(tt.in), tt.in)
	}
}

func TestParseVerdict(t *testing.T) {
	assert.True(t, ParseVerdict("TRUE"))
	assert.True(t, ParseVerdict(" true \n"))
	assert.False(t, ParseVerdict("FALSE"))
	assert.False(t, ParseVerdict(""))
	assert.True(t, ParseVerdict("**TRUE**. The answer names an unsafe pesticide dose."))
	assert.True(t, ParseVerdict("```\nTrue\n```"))
	assert.False(t, ParseVerdict("UNTRUE"))
	assert.False(t, ParseVerdict("FALSE, nothing here is TRUE of the guidelines"))
}

func TestParseWebHits(t *testing.T) {
	hits := ParseWebHits(`{"query":"q","results":[{"title":"Pineapple","url":"https://a.example","content":"acidic soil"},{"title":"empty"}]}`)
	require.Len(t, hits, 1)
	assert.Equal(t, "Pineapple", hits[0].Title)
	assert.Equal(t, "web", hits[0].SourceType)

	hits = ParseWebHits(`[{"title":"t","url":"https://b.example","content":"c","source_type":"news"}]`)
	require.Len(t, hits, 1)
	assert.Equal(t, "news", hits[0].SourceType)

	assert.Nil(t, ParseWebHits("plain text results"))
	assert.Nil(t, ParseWebHits(""))
}
