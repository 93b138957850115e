package conversations

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/agri-rag/server/internal/agent/model"
	logx "github.com/agri-rag/server/pkg/logger"
)

// Manager owns thread checkpoints. It serializes turns per thread, so a turn
// always starts from the checkpoint the previous turn committed.
type Manager struct {
	store       model.CheckpointStore
	historyKeep int
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	sem  chan struct{}
	refs int
}

func NewManager(store model.CheckpointStore, config model.ConversationConfig) *Manager {
	return &Manager{
		store:       store,
		historyKeep: config.HistoryKeep,
		now:         time.Now,
		locks:       make(map[string]*threadLock),
	}
}

// Begin locks the thread and prepares the turn state from its checkpoint.
// The returned release func must be called once the turn is over.
func (m *Manager) Begin(ctx context.Context, in model.TurnInput, turnID string) (*model.ConversationState, func(), error) {
	release, err := m.lock(ctx, in.ThreadID)
	if err != nil {
		return nil, nil, err
	}

	cp, err := m.store.Load(ctx, in.ThreadID)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("load checkpoint: %w", err)
	}
	s := model.NewTurnState(cp, in, turnID)
	logx.Ctx(ctx).Debug().
		Int("turn_count", s.TurnCount).
		Int("history", len(s.Messages)-1).
		Msg("Conversation loaded")
	return s, release, nil
}

// Commit appends the reply and persists the thread's checkpoint.
func (m *Manager) Commit(ctx context.Context, s *model.ConversationState, reply string) error {
	s.Messages = append(s.Messages, schema.AssistantMessage(reply, nil))
	if err := m.store.Save(ctx, s.Checkpoint(m.historyKeep, m.now())); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Reset forgets the thread.
func (m *Manager) Reset(ctx context.Context, threadID string) error {
	release, err := m.lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer release()
	return m.store.Delete(ctx, threadID)
}

// History returns the persisted messages of a thread.
func (m *Manager) History(ctx context.Context, threadID string) ([]*schema.Message, error) {
	cp, err := m.store.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return []*schema.Message{}, nil
	}
	return cp.Messages, nil
}

func (m *Manager) lock(ctx context.Context, threadID string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[threadID]
	if !ok {
		l = &threadLock{sem: make(chan struct{}, 1)}
		m.locks[threadID] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		m.unref(threadID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			m.unref(threadID, l)
		})
	}, nil
}

func (m *Manager) unref(threadID string, l *threadLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, threadID)
	}
}
