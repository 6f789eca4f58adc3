// Package history keeps finished migration runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"skyport/internal/domain"
	"skyport/internal/infra/tracer"
)

// DefaultListLimit applies when List is called with limit <= 0.
const DefaultListLimit = 50

// SQLiteStore implements domain.RunStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ domain.RunStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration. Use ":memory:" for a throwaway store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, storeError("NewSQLiteStore", fmt.Errorf("open history db: %w", err))
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, storeError("NewSQLiteStore", fmt.Errorf("set WAL mode: %w", err))
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, storeError("NewSQLiteStore", fmt.Errorf("migrate history db: %w", err))
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id            TEXT PRIMARY KEY,
			process_id    TEXT NOT NULL,
			username      TEXT NOT NULL DEFAULT '',
			phase         TEXT NOT NULL,
			posts_created INTEGER NOT NULL DEFAULT 0,
			warnings      INTEGER NOT NULL DEFAULT 0,
			settings      TEXT NOT NULL DEFAULT '{}',
			final         TEXT NOT NULL DEFAULT '{}',
			started_at    TEXT NOT NULL,
			ended_at      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_ended_at ON runs (ended_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save inserts or replaces a run record.
func (s *SQLiteStore) Save(ctx context.Context, rec *domain.RunRecord) error {
	ctx, span := tracer.StartSpan(ctx, "history.save",
		trace.WithAttributes(tracer.StringAttr("history.run_id", rec.ID)),
	)
	defer span.End()

	settingsJSON, err := json.Marshal(rec.Settings)
	if err != nil {
		return s.fail(span, "Save", fmt.Errorf("marshal settings: %w", err))
	}
	finalJSON, err := json.Marshal(rec.Final)
	if err != nil {
		return s.fail(span, "Save", fmt.Errorf("marshal final state: %w", err))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, process_id, username, phase, posts_created, warnings, settings, final, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProcessID, rec.Settings.Username, string(rec.Final.Phase),
		rec.Final.PostsCreated, rec.Final.WarningCount(),
		string(settingsJSON), string(finalJSON),
		formatTime(rec.StartedAt), formatTime(rec.EndedAt),
	)
	if err != nil {
		return s.fail(span, "Save", err)
	}
	tracer.SetOK(span)
	return nil
}

// Get returns one run by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, process_id, settings, final, started_at, ended_at FROM runs WHERE id = ?", id,
	)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewSubSystemError("history", "Store.Get", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, storeError("Get", err)
	}
	return rec, nil
}

// List returns the most recent runs first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, process_id, settings, final, started_at, ended_at FROM runs ORDER BY started_at DESC, id DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, storeError("List", err)
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, storeError("List", err)
		}
		runs = append(runs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("List", err)
	}
	return runs, nil
}

// Prune deletes runs that ended before cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, span := tracer.StartSpan(ctx, "history.prune")
	defer span.End()

	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE ended_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, s.fail(span, "Prune", err)
	}
	n, _ := res.RowsAffected()
	span.SetAttributes(tracer.IntAttr("history.pruned", int(n)))
	tracer.SetOK(span)
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*domain.RunRecord, error) {
	var rec domain.RunRecord
	var settingsStr, finalStr, startedStr, endedStr string
	if err := sc.Scan(&rec.ID, &rec.ProcessID, &settingsStr, &finalStr, &startedStr, &endedStr); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(settingsStr), &rec.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := json.Unmarshal([]byte(finalStr), &rec.Final); err != nil {
		return nil, fmt.Errorf("unmarshal final state: %w", err)
	}
	if rec.Final.Warnings == nil {
		rec.Final.Warnings = []domain.MigrationWarning{}
	}
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
	rec.EndedAt, _ = time.Parse(time.RFC3339Nano, endedStr)
	return &rec, nil
}

// formatTime stores UTC with a fixed-width fraction so string order matches time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func (s *SQLiteStore) fail(span trace.Span, op string, err error) error {
	de := storeError(op, err)
	tracer.RecordError(span, de)
	return de
}

func storeError(op string, err error) error {
	return domain.NewSubSystemError("history", "Store."+op, fmt.Errorf("%w: %v", domain.ErrHistoryStore, err), "")
}
