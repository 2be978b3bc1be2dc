package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"VolumeSentinel/internal/model"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists log records to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets `sentinel logs` read while the daemon writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS log_records (
			id        TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			level     TEXT,
			contract  TEXT,
			component TEXT,
			message   TEXT,
			raw       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_log_records_ts ON log_records(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_log_records_contract ON log_records(contract, timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) Append(ctx context.Context, rec model.LogRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO log_records (id, timestamp, level, contract, component, message, raw)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UnixNano(), rec.Level, rec.Contract, rec.Component, rec.Message, rec.Raw,
	)
	if err != nil {
		return fmt.Errorf("insert log record: %w", err)
	}
	return nil
}

func (r *SQLiteRecorder) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, `DELETE FROM log_records WHERE timestamp < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune log records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune log records: %w", err)
	}
	return int(n), nil
}

func (r *SQLiteRecorder) Recent(ctx context.Context, q Query) ([]model.LogRecord, error) {
	query := `SELECT id, timestamp, level, contract, component, message, raw FROM log_records WHERE timestamp >= ?`
	args := []interface{}{q.Since.UnixNano()}
	if q.Since.IsZero() {
		args[0] = int64(0)
	}
	if q.Contract != "" {
		query += ` AND contract = ?`
		args = append(args, q.Contract)
	}
	query += ` ORDER BY timestamp DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query log records: %w", err)
	}
	defer rows.Close()

	var out []model.LogRecord
	for rows.Next() {
		var rec model.LogRecord
		var ts int64
		var level, contract, component, message, raw sql.NullString
		if err := rows.Scan(&rec.ID, &ts, &level, &contract, &component, &message, &raw); err != nil {
			return nil, fmt.Errorf("scan log record: %w", err)
		}
		rec.Timestamp = time.Unix(0, ts)
		rec.Level, rec.Contract, rec.Component = level.String, contract.String, component.String
		rec.Message, rec.Raw = message.String, raw.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
