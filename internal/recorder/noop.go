package recorder

import (
	"context"
	"time"

	"VolumeSentinel/internal/model"
)

// NoopRecorder is a no-op implementation used when no record store is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) Append(_ context.Context, _ model.LogRecord) error { return nil }
func (n *NoopRecorder) Prune(_ context.Context, _ time.Time) (int, error) { return 0, nil }
func (n *NoopRecorder) Recent(_ context.Context, _ Query) ([]model.LogRecord, error) {
	return nil, nil
}
func (n *NoopRecorder) Close() error { return nil }
