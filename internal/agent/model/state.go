package model

import (
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

// SentinelQuery is emitted by the query optimizer when the message cannot be
// answered from the crop statistics index.
const SentinelQuery = "none"

// IsSentinelQuery reports whether q means "do not search". The optimizer model
// tends to answer "None" or quote it, so the comparison is relaxed.
func IsSentinelQuery(q string) bool {
	q = strings.Trim(strings.TrimSpace(q), `"'`+"`")
	return q == "" || strings.EqualFold(q, SentinelQuery) || strings.EqualFold(q, "null")
}

// RetrievalStatus tags the outcome of the retrieval stage.
type RetrievalStatus string

const (
	RetrievalNotAttempted RetrievalStatus = "not_attempted"
	RetrievalEmpty        RetrievalStatus = "empty"
	RetrievalFailed       RetrievalStatus = "failed"
	RetrievalFound        RetrievalStatus = "found"
)

// RetrievedItem is one ranked hit from the vector index.
type RetrievedItem struct {
	ID       string         `json:"id,omitempty"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Retrieval keeps "searched and found nothing" apart from "search failed".
type Retrieval struct {
	Status RetrievalStatus `json:"status"`
	Items  []RetrievedItem `json:"items,omitempty"`
	Err    string          `json:"error,omitempty"`
}

// Found reports whether retrieval produced at least one item.
func (r Retrieval) Found() bool {
	return r.Status == RetrievalFound && len(r.Items) > 0
}

// NewRetrieval tags items as Found or Empty.
func NewRetrieval(items []RetrievedItem) Retrieval {
	if len(items) == 0 {
		return Retrieval{Status: RetrievalEmpty}
	}
	return Retrieval{Status: RetrievalFound, Items: items}
}

// ToolKind names a tool capability. The value is also the keyword the tool
// registry matches against registered tool names.
type ToolKind string

const (
	ToolCSV       ToolKind = "csv"
	ToolChart     ToolKind = "chart"
	ToolWebSearch ToolKind = "search"
)

// ToolPriority is the dispatch order applied when drafting asks for tools.
var ToolPriority = []ToolKind{ToolCSV, ToolChart, ToolWebSearch}

// ToolFlags are the drafting stage's tool requests.
type ToolFlags struct {
	WebSearch bool `json:"online_search_required"`
	CSV       bool `json:"csv_export_required"`
	Chart     bool `json:"chart_image_required"`
}

// Get returns the flag for kind.
func (f ToolFlags) Get(kind ToolKind) bool {
	switch kind {
	case ToolCSV:
		return f.CSV
	case ToolChart:
		return f.Chart
	case ToolWebSearch:
		return f.WebSearch
	}
	return false
}

// Set returns a copy of f with the flag for kind set to v.
func (f ToolFlags) Set(kind ToolKind, v bool) ToolFlags {
	switch kind {
	case ToolCSV:
		f.CSV = v
	case ToolChart:
		f.Chart = v
	case ToolWebSearch:
		f.WebSearch = v
	}
	return f
}

// Count returns how many flags are raised.
func (f ToolFlags) Count() int {
	n := 0
	for _, k := range ToolPriority {
		if f.Get(k) {
			n++
		}
	}
	return n
}

// Highest keeps only the highest-priority raised flag.
func (f ToolFlags) Highest() ToolFlags {
	for _, k := range ToolPriority {
		if f.Get(k) {
			return ToolFlags{}.Set(k, true)
		}
	}
	return ToolFlags{}
}

// ToolResult is what a tool stage stored for the turn. Failed results carry a
// diagnostic placeholder in Content and still count as present.
type ToolResult struct {
	Tool    string   `json:"tool,omitempty"`
	Content string   `json:"content"`
	Hits    []WebHit `json:"hits,omitempty"`
	Failed  bool     `json:"failed,omitempty"`
}

// TurnSnapshot summarises one drafting pass for later passes and turns.
type TurnSnapshot struct {
	UserMessage   string `json:"user_message"`
	Answer        string `json:"answer"`
	SearchPresent bool   `json:"search_results_present"`
	CSVPresent    bool   `json:"csv_results_present"`
	ChartPresent  bool   `json:"chart_results_present"`
}

// ConversationState is the per-turn record threaded through the graph.
// Concurrency model:
//   - The runner builds one instance per turn and registers it as graph local
//     state via compose.WithGenLocalState.
//   - Stages never touch it. The node wrapper hands each stage a Snapshot and
//     merges the returned Update with Apply inside compose.ProcessState, which
//     serializes access.
//   - Once Invoke returns the runner is the only owner again.
type ConversationState struct {
	ThreadID  string
	TurnID    string
	TurnCount int

	// Messages is append-only. While a turn runs, the last entry is the
	// current user message.
	Messages []*schema.Message

	DraftAnswer    string
	OptimizedQuery string
	Retrieval      Retrieval
	EvaluationNote string
	Confidence     float64
	Evaluated      bool
	RetryCount     int

	Flags     ToolFlags
	WebSearch *ToolResult
	CSV       *ToolResult
	Chart     *ToolResult

	BlockedInput       bool
	BlockedOutput      bool
	HallucinationScore *float64

	TurnHistory []TurnSnapshot

	TotalCostUSD float64
	// Trace lists executed node names in order.
	Trace []string
}

// NewTurnState starts a turn from the thread's checkpoint. Only the message
// log, the turn history and the turn counter survive from earlier turns.
func NewTurnState(cp *Checkpoint, in TurnInput, turnID string) *ConversationState {
	s := &ConversationState{
		ThreadID:  in.ThreadID,
		TurnID:    turnID,
		Retrieval: Retrieval{Status: RetrievalNotAttempted},
	}
	if cp != nil {
		s.TurnCount = cp.TurnCount
		s.Messages = append(s.Messages, cp.Messages...)
		s.TurnHistory = append(s.TurnHistory, cp.TurnHistory...)
	}
	s.TurnCount++
	s.Messages = append(s.Messages, schema.UserMessage(in.Message))
	return s
}

// UserMessage returns the latest user message text.
func (s *ConversationState) UserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if m := s.Messages[i]; m != nil && m.Role == schema.User {
			return m.Content
		}
	}
	return ""
}

// HasDraft reports whether drafting has produced an answer this turn.
func (s *ConversationState) HasDraft() bool {
	return s.DraftAnswer != ""
}

// ToolResultFor returns the stored result for kind, nil when the tool has not run.
func (s *ConversationState) ToolResultFor(kind ToolKind) *ToolResult {
	switch kind {
	case ToolCSV:
		return s.CSV
	case ToolChart:
		return s.Chart
	case ToolWebSearch:
		return s.WebSearch
	}
	return nil
}

// RecentSnapshots returns up to the last n turn snapshots.
func (s *ConversationState) RecentSnapshots(n int) []TurnSnapshot {
	if n <= 0 || len(s.TurnHistory) == 0 {
		return nil
	}
	start := max(0, len(s.TurnHistory)-n)
	out := make([]TurnSnapshot, len(s.TurnHistory)-start)
	copy(out, s.TurnHistory[start:])
	return out
}

// PriorMessages returns the messages inside a trailing window of size window,
// excluding the current user message.
func (s *ConversationState) PriorMessages(window int) []*schema.Message {
	if window <= 1 || len(s.Messages) < 2 {
		return nil
	}
	start := max(0, len(s.Messages)-window)
	return s.Messages[start : len(s.Messages)-1]
}

// Snapshot returns a deep copy safe to hand to a stage.
func (s *ConversationState) Snapshot() ConversationState {
	c := *s
	c.Messages = make([]*schema.Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m == nil {
			continue
		}
		mc := *m
		c.Messages = append(c.Messages, &mc)
	}
	c.Retrieval.Items = cloneItems(s.Retrieval.Items)
	c.WebSearch = cloneResult(s.WebSearch)
	c.CSV = cloneResult(s.CSV)
	c.Chart = cloneResult(s.Chart)
	if s.HallucinationScore != nil {
		v := *s.HallucinationScore
		c.HallucinationScore = &v
	}
	c.TurnHistory = append([]TurnSnapshot(nil), s.TurnHistory...)
	c.Trace = append([]string(nil), s.Trace...)
	return c
}

// Apply merges a stage's partial update. Storing a tool result also lowers
// that tool's flag.
func (s *ConversationState) Apply(u Update) {
	if u.BlockedInput != nil {
		s.BlockedInput = *u.BlockedInput
	}
	if u.OptimizedQuery != nil {
		s.OptimizedQuery = *u.OptimizedQuery
	}
	if u.Retrieval != nil {
		s.Retrieval = *u.Retrieval
	}
	if u.DraftAnswer != nil {
		s.DraftAnswer = *u.DraftAnswer
	}
	if u.Flags != nil {
		s.Flags = *u.Flags
	}
	if u.IncrementRetry {
		s.RetryCount++
	}
	if u.AppendSnapshot != nil {
		s.TurnHistory = append(s.TurnHistory, *u.AppendSnapshot)
	}
	if u.Confidence != nil {
		s.Confidence = clamp01(*u.Confidence)
		s.Evaluated = true
	}
	if u.EvaluationNote != nil {
		s.EvaluationNote = *u.EvaluationNote
	}
	if u.WebSearch != nil {
		s.WebSearch = u.WebSearch
		s.Flags.WebSearch = false
	}
	if u.CSV != nil {
		s.CSV = u.CSV
		s.Flags.CSV = false
	}
	if u.Chart != nil {
		s.Chart = u.Chart
		s.Flags.Chart = false
	}
	if u.HallucinationScore != nil {
		v := clamp01(*u.HallucinationScore)
		s.HallucinationScore = &v
	}
	if u.BlockedOutput != nil {
		s.BlockedOutput = *u.BlockedOutput
	}
	s.TotalCostUSD += u.CostUSD
}

// Checkpoint projects the state onto what persists for the thread. keep > 0
// bounds the stored message log and turn history to their most recent entries.
func (s *ConversationState) Checkpoint(keep int, now time.Time) *Checkpoint {
	msgs := s.Messages
	hist := s.TurnHistory
	if keep > 0 {
		if len(msgs) > keep {
			msgs = msgs[len(msgs)-keep:]
		}
		if len(hist) > keep {
			hist = hist[len(hist)-keep:]
		}
	}
	return &Checkpoint{
		ThreadID:    s.ThreadID,
		TurnCount:   s.TurnCount,
		Messages:    append([]*schema.Message(nil), msgs...),
		TurnHistory: append([]TurnSnapshot(nil), hist...),
		UpdatedAt:   now.UTC(),
	}
}

// Update is a stage's partial state update. Nil fields are left untouched.
type Update struct {
	BlockedInput   *bool
	OptimizedQuery *string
	Retrieval      *Retrieval

	DraftAnswer    *string
	Flags          *ToolFlags
	IncrementRetry bool
	AppendSnapshot *TurnSnapshot

	Confidence     *float64
	EvaluationNote *string

	WebSearch *ToolResult
	CSV       *ToolResult
	Chart     *ToolResult

	HallucinationScore *float64
	BlockedOutput      *bool

	CostUSD float64
}

// WithToolResult sets the result field that belongs to kind.
func (u Update) WithToolResult(kind ToolKind, r *ToolResult) Update {
	switch kind {
	case ToolCSV:
		u.CSV = r
	case ToolChart:
		u.Chart = r
	case ToolWebSearch:
		u.WebSearch = r
	}
	return u
}

// Ptr returns a pointer to v, for building Updates.
func Ptr[T any](v T) *T {
	return &v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func cloneItems(items []RetrievedItem) []RetrievedItem {
	if items == nil {
		return nil
	}
	out := make([]RetrievedItem, len(items))
	for i, it := range items {
		out[i] = it
		if it.Metadata != nil {
			md := make(map[string]any, len(it.Metadata))
			for k, v := range it.Metadata {
				md[k] = v
			}
			out[i].Metadata = md
		}
	}
	return out
}

func cloneResult(r *ToolResult) *ToolResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Hits = append([]WebHit(nil), r.Hits...)
	return &c
}
