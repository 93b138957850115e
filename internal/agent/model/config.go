package model

import "time"

// ================ Config ================
type ConversationConfig struct {
	TTL time.Duration `envconfig:"CONVERSATION_TTL" default:"24h"`
	// HistoryKeep > 0 caps the persisted message log and turn history. The
	// default 0 persists the full log; prompts read their own trailing windows.
	HistoryKeep int `envconfig:"CONVERSATION_HISTORY_KEEP" default:"0"`
	// SnapshotWindow is how many turn snapshots drafting sees.
	SnapshotWindow int `envconfig:"CONVERSATION_SNAPSHOT_WINDOW" default:"3"`
}

// JudgeModelConfig drives the classification stages: safety checks, query
// optimization, evaluation and hallucination scoring.
type JudgeModelConfig struct {
	Model       string  `envconfig:"JUDGE_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"JUDGE_MAX_TOKENS" default:"1024"`
	Temperature float32 `envconfig:"JUDGE_TEMPERATURE" default:"0"`
}

// AnswerModelConfig drives drafting and tool argument generation.
type AnswerModelConfig struct {
	Model          string  `envconfig:"ANSWER_MODEL" default:"gemini-2.5-flash"`
	MaxTokens      int     `envconfig:"ANSWER_MAX_TOKENS" default:"4096"`
	Temperature    float32 `envconfig:"ANSWER_TEMPERATURE" default:"0.2"`
	ThinkingBudget int32   `envconfig:"ANSWER_THINKING_BUDGET" default:"1024"`
}

type EmbeddingConfig struct {
	Model      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	Dimensions int32  `envconfig:"EMBEDDING_DIMENSIONS" default:"0"`
}

type RetrievalConfig struct {
	TopK           int     `envconfig:"RETRIEVAL_TOP_K" default:"13"`
	ScoreThreshold float64 `envconfig:"RETRIEVAL_SCORE_THRESHOLD" default:"0"`
	TextField      string  `envconfig:"RETRIEVAL_TEXT_FIELD" default:"text"`
}

// PipelineConfig holds the routing thresholds and the per-stage fail-safe policy.
type PipelineConfig struct {
	ConfidenceThreshold float64       `envconfig:"PIPELINE_CONFIDENCE_THRESHOLD" default:"0.6"`
	MaxDraftRetries     int           `envconfig:"PIPELINE_MAX_DRAFT_RETRIES" default:"2"`
	MaxRunSteps         int           `envconfig:"PIPELINE_MAX_RUN_STEPS" default:"0"`
	CallTimeout         time.Duration `envconfig:"PIPELINE_CALL_TIMEOUT" default:"60s"`
	CallRetries         uint64        `envconfig:"PIPELINE_CALL_RETRIES" default:"2"`

	InputSafetyFailClosed  bool    `envconfig:"PIPELINE_INPUT_SAFETY_FAIL_CLOSED" default:"true"`
	OutputSafetyFailClosed bool    `envconfig:"PIPELINE_OUTPUT_SAFETY_FAIL_CLOSED" default:"false"`
	HallucinationFallback  float64 `envconfig:"PIPELINE_HALLUCINATION_FALLBACK" default:"0"`
}

// DefaultPipelineConfig mirrors the envconfig defaults for callers that build
// the graph without the environment (tests, embedding).
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ConfidenceThreshold:   0.6,
		MaxDraftRetries:       2,
		CallTimeout:           60 * time.Second,
		CallRetries:           2,
		InputSafetyFailClosed: true,
	}
}

type ToolsConfig struct {
	CSVOutputDir string `envconfig:"TOOLS_CSV_OUTPUT_DIR" default:"./database/user-database"`
	ChartBaseURL string `envconfig:"TOOLS_CHART_BASE_URL" default:"https://quickchart.io/chart"`
	// SearchCommand launches an external MCP server that provides web search,
	// e.g. "npx -y mcp-remote https://mcp.tavily.com/mcp/?tavilyApiKey=...".
	SearchCommand string `envconfig:"TOOLS_SEARCH_COMMAND"`
	// LocalCommand runs the CSV and chart tools as a stdio subprocess instead
	// of in-process.
	LocalCommand string `envconfig:"TOOLS_LOCAL_COMMAND"`
}

type TurnLogConfig struct {
	Path     string `envconfig:"TURN_LOG_PATH" default:"eval/query_answer_result.jsonl"`
	Truncate bool   `envconfig:"TURN_LOG_TRUNCATE" default:"true"`
}
