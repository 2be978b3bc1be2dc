package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"VolumeSentinel/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const writeTimeout = 2 * time.Second

// Writer turns zerolog JSON events into stored log records. It must not be
// handed to a recorder that logs through the same logger.
type Writer struct {
	rec Recorder
	min zerolog.Level
}

// NewWriter creates a Writer storing events at or above min.
func NewWriter(rec Recorder, min zerolog.Level) *Writer {
	return &Writer{rec: rec, min: min}
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel implements zerolog.LevelWriter.
func (w *Writer) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level != zerolog.NoLevel && level < w.min {
		return len(p), nil
	}
	rec := decodeEvent(p)
	if level != zerolog.NoLevel {
		rec.Level = level.String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := w.rec.Append(ctx, rec); err != nil {
		return len(p), fmt.Errorf("store log record: %w", err)
	}
	return len(p), nil
}

func decodeEvent(p []byte) model.LogRecord {
	rec := model.LogRecord{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Raw:       strings.TrimSpace(string(p)),
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(p, &fields); err != nil {
		rec.Message = rec.Raw
		return rec
	}
	str := func(key string) string {
		s, _ := fields[key].(string)
		return s
	}
	rec.Level = str(zerolog.LevelFieldName)
	rec.Message = str(zerolog.MessageFieldName)
	rec.Contract = str("contract")
	rec.Component = str("component")
	if ts := str(zerolog.TimestampFieldName); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Timestamp = t
		}
	}
	return rec
}
