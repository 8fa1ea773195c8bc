// Package ledger persists the reports of administrative job runs in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("job run not found")

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Run is one recorded job execution.
type Run struct {
	ID         string          `json:"id"`
	Job        string          `json:"job"`
	Source     string          `json:"source"`
	DryRun     bool            `json:"dryRun"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	DurationMs int64           `json:"durationMs"`
	Report     json.RawMessage `json:"report,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Ledger is the SQLite-backed run history.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the ledger at path and applies pending migrations.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("job ledger opened", slog.String("path", path))
	return &Ledger{db: db, logger: logger}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record inserts a finished run.
func (l *Ledger) Record(ctx context.Context, run *Run) error {
	source := run.Source
	if source == "" {
		source = "cli"
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, job, source, dry_run, status, started_at, finished_at, duration_ms, report, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Job, source, run.DryRun, run.Status,
		formatTime(run.StartedAt), formatTime(run.FinishedAt), run.DurationMs,
		nullString(string(run.Report)), nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("record job run %s: %w", run.ID, err)
	}
	return nil
}

// Get returns one run by ID.
func (l *Ledger) Get(ctx context.Context, runID string) (*Run, error) {
	row := l.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// Recent returns up to limit runs, newest first. An empty job matches every job.
func (l *Ledger) Recent(ctx context.Context, job string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if job == "" {
		rows, err = l.db.QueryContext(ctx, selectRuns+` ORDER BY started_at DESC, id LIMIT ?`, limit)
	} else {
		rows, err = l.db.QueryContext(ctx, selectRuns+` WHERE job = ? ORDER BY started_at DESC, id LIMIT ?`, job, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const selectRuns = `SELECT id, job, source, dry_run, status, started_at, finished_at, duration_ms, report, error FROM job_runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run                 Run
		started, finished   string
		report, errorString sql.NullString
	)
	if err := s.Scan(&run.ID, &run.Job, &run.Source, &run.DryRun, &run.Status,
		&started, &finished, &run.DurationMs, &report, &errorString); err != nil {
		return nil, err
	}

	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	if report.Valid {
		run.Report = json.RawMessage(report.String)
	}
	run.Error = errorString.String
	return &run, nil
}

// timeLayout is fixed width so started_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
