package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"VolumeSentinel/internal/config"
	"VolumeSentinel/internal/model"
)

// Query selects stored log records. Zero fields do not filter.
type Query struct {
	Contract string
	Since    time.Time
	Limit    int
}

func (q Query) matches(r model.LogRecord) bool {
	if q.Contract != "" && r.Contract != q.Contract {
		return false
	}
	if !q.Since.IsZero() && r.Timestamp.Before(q.Since) {
		return false
	}
	return true
}

// Recorder persists log records so they can be queried and pruned by age.
type Recorder interface {
	Append(ctx context.Context, rec model.LogRecord) error
	// Prune deletes records older than cutoff and returns how many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	// Recent returns matching records, newest first.
	Recent(ctx context.Context, q Query) ([]model.LogRecord, error)
	Close() error
}

// Open creates the record store selected in the logging configuration.
func Open(cfg *config.Config) (Recorder, error) {
	switch cfg.Logging.Store {
	case "sqlite":
		if err := ensureDir(cfg.Logging.StorePath); err != nil {
			return nil, err
		}
		return NewSQLiteRecorder(cfg.Logging.StorePath)
	case "bolt":
		if err := ensureDir(cfg.Logging.StorePath); err != nil {
			return nil, err
		}
		return NewBoltRecorder(cfg.Logging.StorePath)
	case "redis":
		return NewRedisRecorder(cfg.Redis)
	case "none", "":
		return NewNoopRecorder(), nil
	default:
		return nil, fmt.Errorf("unknown log store %q", cfg.Logging.Store)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	return nil
}
