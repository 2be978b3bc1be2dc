package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"VolumeSentinel/internal/model"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const bucketLogRecords = "log_records"

// BoltRecorder stores log records in a bbolt file. Keys sort by timestamp so
// pruning and recent-first scans walk the bucket in order.
type BoltRecorder struct {
	db *bbolt.DB
}

// NewBoltRecorder opens (or creates) the bolt database.
func NewBoltRecorder(path string) (*BoltRecorder, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketLogRecords))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltRecorder{db: db}, nil
}

// tsPrefix is a fixed-width, lexically ordered timestamp.
func tsPrefix(t time.Time) []byte {
	return []byte(fmt.Sprintf("%020d", t.UnixNano()))
}

func recordKey(rec model.LogRecord) []byte {
	return append(append(tsPrefix(rec.Timestamp), '|'), rec.ID...)
}

func (r *BoltRecorder) Append(ctx context.Context, rec model.LogRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketLogRecords))
		if bucket == nil {
			return fmt.Errorf("log record bucket missing")
		}
		return bucket.Put(recordKey(rec), data)
	})
}

func (r *BoltRecorder) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	limit := tsPrefix(cutoff)
	deleted := 0
	err := r.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketLogRecords))
		if bucket == nil {
			return nil
		}
		// Collect first: deleting under a live cursor skips entries.
		var stale [][]byte
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k[:len(limit)], limit) < 0; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

func (r *BoltRecorder) Recent(ctx context.Context, q Query) ([]model.LogRecord, error) {
	var out []model.LogRecord
	err := r.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketLogRecords))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec model.LogRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode log record %s: %w", k, err)
			}
			if !q.Since.IsZero() && rec.Timestamp.Before(q.Since) {
				break
			}
			if !q.matches(rec) {
				continue
			}
			out = append(out, rec)
			if q.Limit > 0 && len(out) >= q.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (r *BoltRecorder) Close() error {
	return r.db.Close()
}
