// Package state persists run records, hosted deck ids and the presentation
// catalog in a local SQLite database.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/raphaelgruber/insightdeck/internal/models"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// FormatHosted and FormatMarkdown are the presentation formats.
const (
	FormatMarkdown = "markdown"
	FormatHosted   = "hosted"
)

// Store is the SQLite-backed state store. Safe for concurrent use.
type Store struct {
	conn    *sql.DB
	now     func() time.Time
	lockTTL time.Duration
}

// Open opens (or creates) the state database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{conn: conn, now: time.Now, lockTTL: RunLockTTL}, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// SaveRun inserts or replaces a run record.
func (s *Store) SaveRun(ctx context.Context, rec models.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO runs (id, project_key, status, started_at, record)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			record = excluded.record`,
		rec.ID, rec.ProjectKey, string(rec.Status), rec.StartedAt.UTC().Format(time.RFC3339Nano), string(data))
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	return nil
}

// GetRun returns the run with the given id.
func (s *Store) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	var raw string
	err := s.conn.QueryRowContext(ctx, "SELECT record FROM runs WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return decodeRun(raw)
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.QueryContext(ctx,
		"SELECT record FROM runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.RunRecord{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec, err := decodeRun(raw)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *rec)
	}
	return runs, rows.Err()
}

// LastFinishedRun returns the most recent terminal run, or nil if none.
func (s *Store) LastFinishedRun(ctx context.Context) (*models.RunRecord, error) {
	var raw string
	err := s.conn.QueryRowContext(ctx, `
		SELECT record FROM runs
		WHERE status IN ('success', 'partial', 'failed')
		ORDER BY started_at DESC LIMIT 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last run: %w", err)
	}
	return decodeRun(raw)
}

// MarkStaleRuns fails every run still marked pending or running, except the
// run guarded by a live run lock, which may belong to another process.
func (s *Store) MarkStaleRuns(ctx context.Context, reason string) (int, error) {
	live, err := s.LiveRunLock(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := s.conn.QueryContext(ctx,
		"SELECT record FROM runs WHERE status IN ('pending', 'running')")
	if err != nil {
		return 0, fmt.Errorf("find stale runs: %w", err)
	}
	var stale []models.RunRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan run: %w", err)
		}
		rec, err := decodeRun(raw)
		if err != nil {
			rows.Close()
			return 0, err
		}
		if live != nil && rec.ID == live.RunID {
			continue
		}
		stale = append(stale, *rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := s.now().UTC()
	for _, rec := range stale {
		rec.Status = models.RunFailed
		rec.Error = reason
		rec.FinishedAt = &now
		for i := range rec.Stages {
			if rec.Stages[i].StartedAt != nil && !rec.Stages[i].Completed {
				rec.FailedStage = rec.Stages[i].Stage
			}
		}
		if err := s.SaveRun(ctx, rec); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

func decodeRun(raw string) (*models.RunRecord, error) {
	var rec models.RunRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &rec, nil
}
