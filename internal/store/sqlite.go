package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jzx17/godispatch/pkg/bench"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id                  TEXT PRIMARY KEY,
    batch_id            TEXT NOT NULL,
    kind                TEXT NOT NULL,
    workers             INTEGER NOT NULL,
    total_tasks         INTEGER NOT NULL,
    elapsed_seconds     REAL NOT NULL,
    throughput          REAL NOT NULL,
    avg_latency_seconds REAL NOT NULL,
    speedup             REAL NOT NULL,
    created_at          DATETIME NOT NULL
)`

const createBatchIndex = `CREATE INDEX IF NOT EXISTS runs_batch_id ON runs (batch_id)`

const selectRun = `SELECT id, batch_id, kind, workers, total_tasks, elapsed_seconds,
	throughput, avg_latency_seconds, speedup, created_at FROM runs`

// DefaultListLimit caps ListRuns when a non-positive limit is given
const DefaultListLimit = 50

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	for _, stmt := range []struct{ name, sql string }{
		{"set WAL mode", "PRAGMA journal_mode=WAL"},
		{"set busy timeout", "PRAGMA busy_timeout = 5000"},
		{"create runs table", createRunsTable},
		{"create batch index", createBatchIndex},
	} {
		if _, err := db.Exec(stmt.sql); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", stmt.name, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveLine inserts one report line under batchID
func (s *SQLiteStore) SaveLine(ctx context.Context, batchID, kind string, line bench.Line) (Run, error) {
	r := Run{
		ID:                NewID(),
		BatchID:           batchID,
		Kind:              kind,
		Workers:           line.Workers,
		Tasks:             line.Tasks,
		ElapsedSeconds:    line.Elapsed.Seconds(),
		Throughput:        line.Throughput,
		AvgLatencySeconds: line.AvgLatency.Seconds(),
		Speedup:           line.Speedup,
		CreatedAt:         time.Now().UTC().Truncate(time.Second),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (
			id, batch_id, kind, workers, total_tasks, elapsed_seconds,
			throughput, avg_latency_seconds, speedup, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.BatchID, r.Kind, r.Workers, r.Tasks, r.ElapsedSeconds,
		r.Throughput, r.AvgLatencySeconds, r.Speedup, r.CreatedAt,
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, selectRun+` ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return scanRuns(rows)
}

// Batch returns the runs of one scaling sequence in the order they were saved
func (s *SQLiteStore) Batch(ctx context.Context, batchID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, selectRun+` WHERE batch_id = ? ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs, nil
}

// Baseline returns the first run saved in batchID
func (s *SQLiteStore) Baseline(ctx context.Context, batchID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, selectRun+` WHERE batch_id = ? ORDER BY id ASC LIMIT 1`, batchID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get baseline: %w", err)
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	err := row.Scan(
		&r.ID, &r.BatchID, &r.Kind, &r.Workers, &r.Tasks, &r.ElapsedSeconds,
		&r.Throughput, &r.AvgLatencySeconds, &r.Speedup, &r.CreatedAt,
	)
	return r, err
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
