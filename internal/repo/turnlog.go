package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agri-rag/server/internal/agent/model"
	logx "github.com/agri-rag/server/pkg/logger"
)

// JSONLTurnLog appends one JSON object per answered turn.
type JSONLTurnLog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenJSONLTurnLog opens path for appending, creating parent directories.
// With truncate set the file starts empty, giving one log per session.
func OpenJSONLTurnLog(path string, truncate bool) (*JSONLTurnLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create turn log dir: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open turn log: %w", err)
	}
	logx.Debug().Str("path", path).Bool("truncate", truncate).Msg("Turn log opened")
	return &JSONLTurnLog{f: f}, nil
}

func (l *JSONLTurnLog) Append(_ context.Context, rec model.TurnRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal turn record: %w", err)
	}
	b = append(b, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(b); err != nil {
		return fmt.Errorf("write turn record: %w", err)
	}
	return nil
}

func (l *JSONLTurnLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

var _ model.TurnLog = (*JSONLTurnLog)(nil)
