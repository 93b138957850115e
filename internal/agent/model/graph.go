package model

// TurnInput is one user message addressed to a conversation thread.
type TurnInput struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// Hop is the value passed along graph edges. All data lives in the graph
// local state, so a hop only records which node produced it.
type Hop struct {
	From string
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	ThreadID           string          `json:"thread_id"`
	TurnID             string          `json:"turn_id"`
	Answer             string          `json:"answer"`
	BlockedInput       bool            `json:"blocked_input"`
	BlockedOutput      bool            `json:"blocked_output"`
	HallucinationScore *float64        `json:"hallucination_score,omitempty"`
	Confidence         float64         `json:"confidence"`
	RetryCount         int             `json:"retry_count"`
	Retrieval          RetrievalStatus `json:"retrieval"`
	CSVFile            string          `json:"csv_file,omitempty"`
	ChartURL           string          `json:"chart_url,omitempty"`
	CostUSD            float64         `json:"cost_usd"`
	Trace              []string        `json:"trace,omitempty"`
}

// Blocked reports whether either safety check rejected the turn.
func (r TurnResult) Blocked() bool {
	return r.BlockedInput || r.BlockedOutput
}

// Result builds the caller-facing result from the final state.
func (s *ConversationState) Result() TurnResult {
	r := TurnResult{
		ThreadID:           s.ThreadID,
		TurnID:             s.TurnID,
		Answer:             s.DraftAnswer,
		BlockedInput:       s.BlockedInput,
		BlockedOutput:      s.BlockedOutput,
		HallucinationScore: s.HallucinationScore,
		Confidence:         s.Confidence,
		RetryCount:         s.RetryCount,
		Retrieval:          s.Retrieval.Status,
		CostUSD:            s.TotalCostUSD,
		Trace:              append([]string(nil), s.Trace...),
	}
	if s.CSV != nil && !s.CSV.Failed {
		r.CSVFile = s.CSV.Content
	}
	if s.Chart != nil && !s.Chart.Failed {
		r.ChartURL = s.Chart.Content
	}
	return r
}
