package statesink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteSink persists records to SQLite. Suitable for single-process
// production use.
type SQLiteSink struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteSink creates a SQLite sink. The path is a file path
// (e.g. "./runs.db") or ":memory:" for testing.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL improves concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS run_state (
			run_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			output BLOB,
			path BLOB NOT NULL,
			PRIMARY KEY (run_id, sequence)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_run_state_run_id
		ON run_state(run_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// Write implements Sink.
func (s *SQLiteSink) Write(ctx context.Context, rec Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}

	output, err := json.Marshal(rec.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	path, err := json.Marshal(rec.Path)
	if err != nil {
		return fmt.Errorf("marshal path: %w", err)
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_state (run_id, sequence, node_id, timestamp, output, path)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, sequence) DO UPDATE SET
			node_id = excluded.node_id,
			timestamp = excluded.timestamp,
			output = excluded.output,
			path = excluded.path
	`, rec.RunID, rec.Sequence, rec.NodeID, ts.Format(time.RFC3339Nano), output, path)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Records returns all records for a run ordered by sequence.
func (s *SQLiteSink) Records(ctx context.Context, runID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrSinkClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, node_id, timestamp, output, path
		FROM run_state
		WHERE run_id = ?
		ORDER BY sequence
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec      Record
			ts       string
			output   []byte
			pathBlob []byte
		)
		rec.RunID = runID
		if err := rows.Scan(&rec.Sequence, &rec.NodeID, &ts, &output, &pathBlob); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		if len(output) > 0 {
			if err := json.Unmarshal(output, &rec.Output); err != nil {
				return nil, fmt.Errorf("unmarshal output: %w", err)
			}
		}
		if err := json.Unmarshal(pathBlob, &rec.Path); err != nil {
			return nil, fmt.Errorf("unmarshal path: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteRun removes all records for a run.
func (s *SQLiteSink) DeleteRun(ctx context.Context, runID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_state WHERE run_id = ?`, runID)
	return err
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
