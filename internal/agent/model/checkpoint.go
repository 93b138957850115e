package model

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
)

// Checkpoint is the persistent part of a thread's conversation state.
type Checkpoint struct {
	ThreadID    string            `json:"thread_id"`
	TurnCount   int               `json:"turn_count"`
	Messages    []*schema.Message `json:"messages"`
	TurnHistory []TurnSnapshot    `json:"turn_history"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type CheckpointStore interface {
	// Load returns the thread's checkpoint, or nil when the thread is new.
	Load(ctx context.Context, threadID string) (*Checkpoint, error)

	// Save replaces the thread's checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error

	// Delete forgets the thread.
	Delete(ctx context.Context, threadID string) error
}

// TurnRecord is one line of the session evaluation log.
type TurnRecord struct {
	Timestamp          time.Time `json:"timestamp"`
	TurnID             string    `json:"turn_id"`
	ThreadID           string    `json:"thread_id"`
	UserMessage        string    `json:"user_message"`
	Answer             string    `json:"answer"`
	HallucinationScore *float64  `json:"hallucination_score"`
}

type TurnLog interface {
	Append(ctx context.Context, rec TurnRecord) error
}
