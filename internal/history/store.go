package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages the run ledger backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const runColumns = "id, run_id, input_path, output_path, encoder, fingerprint, resume_decision, status, detail, workers, chunks_total, chunks_done, chunks_failed, attempts, frames_total, output_size, started_at, finished_at"

// ErrNotFound is returned when a run id has no row.
var ErrNotFound = errors.New("run not found")

// Open creates or connects to the ledger at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Begin inserts a running row and returns its id.
func (s *Store) Begin(ctx context.Context, run Run) (int64, error) {
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	var id int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (run_id, input_path, output_path, encoder, fingerprint, resume_decision, status, workers, chunks_total, frames_total, started_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Input, run.Output, run.Encoder, run.Fingerprint, run.ResumeDecision,
			StatusRunning, run.Workers, run.Counts.ChunksTotal, run.Counts.FramesTotal,
			started.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// Finish records the outcome of a run.
func (s *Store) Finish(ctx context.Context, id int64, status Status, detail string, counts Counts, outputSize int64) error {
	finished := time.Now().UTC().Format(time.RFC3339Nano)
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, detail = ?, chunks_total = ?, chunks_done = ?, chunks_failed = ?,
             attempts = ?, frames_total = ?, output_size = ?, finished_at = ? WHERE id = ?`,
			status, detail, counts.ChunksTotal, counts.ChunksDone, counts.ChunksFailed,
			counts.Attempts, counts.FramesTotal, outputSize, finished, id,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update run %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// Get returns one run by row id.
func (s *Store) Get(ctx context.Context, id int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return run, err
}

// List returns the most recent runs, newest first. A limit of 0 or less
// returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run         Run
		statusStr   string
		startedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.RunID,
		&run.Input,
		&run.Output,
		&run.Encoder,
		&run.Fingerprint,
		&run.ResumeDecision,
		&statusStr,
		&run.Detail,
		&run.Workers,
		&run.Counts.ChunksTotal,
		&run.Counts.ChunksDone,
		&run.Counts.ChunksFailed,
		&run.Counts.Attempts,
		&run.Counts.FramesTotal,
		&run.OutputSize,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	status, ok := ParseStatus(statusStr)
	if !ok {
		return nil, fmt.Errorf("run %d has unknown status %q", run.ID, statusStr)
	}
	run.Status = status
	started, err := time.Parse(time.RFC3339Nano, startedRaw)
	if err != nil {
		return nil, fmt.Errorf("run %d started_at: %w", run.ID, err)
	}
	run.StartedAt = started
	if finishedRaw.Valid && finishedRaw.String != "" {
		finished, err := time.Parse(time.RFC3339Nano, finishedRaw.String)
		if err != nil {
			return nil, fmt.Errorf("run %d finished_at: %w", run.ID, err)
		}
		run.FinishedAt = &finished
	}
	return &run, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := range busyRetryAttempts {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}
