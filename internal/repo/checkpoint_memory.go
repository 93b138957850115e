package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agri-rag/server/internal/agent/model"
)

// MemoryCheckpointStore keeps checkpoints in process. It is used when no
// Redis URL is configured. Checkpoints are stored serialized, so callers never
// share slices with the store.
type MemoryCheckpointStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{data: make(map[string][]byte)}
}

func (m *MemoryCheckpointStore) Load(_ context.Context, threadID string) (*model.Checkpoint, error) {
	m.mu.RLock()
	b, ok := m.data[threadID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var cp model.Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

func (m *MemoryCheckpointStore) Save(_ context.Context, cp *model.Checkpoint) error {
	if cp == nil || cp.ThreadID == "" {
		return fmt.Errorf("checkpoint without thread id")
	}
	b, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	m.mu.Lock()
	m.data[cp.ThreadID] = b
	m.mu.Unlock()
	return nil
}

func (m *MemoryCheckpointStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	delete(m.data, threadID)
	m.mu.Unlock()
	return nil
}

var _ model.CheckpointStore = (*MemoryCheckpointStore)(nil)
