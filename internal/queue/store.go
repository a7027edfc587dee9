package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"veil/internal/config"
)

// Store manages queue persistence backed by SQLite.
type Store struct {
	db          *sql.DB
	path        string
	maxAttempts int
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the queue database under the cache dir.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.CacheDir, "queue.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	maxAttempts := cfg.Workflow.JobMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	store := &Store{db: db, path: dbPath, maxAttempts: maxAttempts}
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

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Enqueue inserts a new queued job and returns it.
func (s *Store) Enqueue(ctx context.Context, jobType JobType, payload string, priority Priority) (*Job, error) {
	if _, err := ParseType(string(jobType)); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Priority:    priority,
		Payload:     payload,
		Status:      StatusQueued,
		MaxAttempts: s.maxAttempts,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.execWithoutResultRetry(ctx,
		`INSERT INTO jobs (id, type, priority, payload, status, attempts, max_attempts, next_run_at, error_message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?, '', ?, ?)`,
		job.ID, string(job.Type), job.Priority.Rank(), job.Payload, string(job.Status),
		job.MaxAttempts, job.NextRunAt.UnixMilli(), job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// Claim atomically moves the highest-priority due job from queued to
// running. Returns nil when nothing is claimable. The conditional update
// guarantees a job is never claimed by two workers.
func (s *Store) Claim(ctx context.Context) (*Job, error) {
	ctx = ensureContext(ctx)
	for {
		row := s.db.QueryRowContext(ctx,
			`SELECT id FROM jobs
			 WHERE status = ? AND next_run_at <= ?
			 ORDER BY priority DESC, created_at ASC
			 LIMIT 1`,
			string(StatusQueued), time.Now().UnixMilli(),
		)
		var id string
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("select claimable job: %w", err)
		}

		res, err := s.execWithRetry(ctx,
			`UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ?
			 WHERE id = ? AND status = ?`,
			string(StatusRunning), time.Now().UnixMilli(), id, string(StatusQueued),
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim job rows: %w", err)
		}
		if affected == 0 {
			// Lost the race; try the next candidate.
			continue
		}
		return s.GetJob(ctx, id)
	}
}

// MarkCompleted transitions a running job to completed.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	return s.execWithoutResultRetry(ctx,
		"UPDATE jobs SET status = ?, error_message = '', updated_at = ? WHERE id = ?",
		string(StatusCompleted), time.Now().UnixMilli(), id,
	)
}

// MarkFailed records a failure. Jobs with remaining attempts requeue with
// exponential backoff; exhausted jobs become terminal failures.
func (s *Store) MarkFailed(ctx context.Context, job *Job, message string) error {
	now := time.Now().UTC()
	if job.Attempts < job.MaxAttempts {
		backoff := retryBackoff(job.Attempts)
		return s.execWithoutResultRetry(ctx,
			"UPDATE jobs SET status = ?, error_message = ?, next_run_at = ?, updated_at = ? WHERE id = ?",
			string(StatusQueued), message, now.Add(backoff).UnixMilli(), now.UnixMilli(), job.ID,
		)
	}
	return s.execWithoutResultRetry(ctx,
		"UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?",
		string(StatusFailed), message, now.UnixMilli(), job.ID,
	)
}

func retryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := time.Duration(1<<uint(attempt-1)) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	return backoff
}

// GetJob loads one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		jobSelectColumns+" WHERE id = ?", id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s not found", id)
		}
		return nil, err
	}
	return job, nil
}

// List returns jobs ordered newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status Status) ([]*Job, error) {
	query := jobSelectColumns
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats counts jobs by lifecycle state.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT status, COUNT(1) FROM jobs GROUP BY status")
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("scan stats row: %w", err)
		}
		switch Status(status) {
		case StatusQueued:
			stats.Pending = count
		case StatusRunning:
			stats.Processing = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// Clear removes jobs in terminal states. With all set, every job goes.
func (s *Store) Clear(ctx context.Context, all bool) (int64, error) {
	query := "DELETE FROM jobs WHERE status IN (?, ?)"
	args := []any{string(StatusCompleted), string(StatusFailed)}
	if all {
		query = "DELETE FROM jobs"
		args = nil
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return res.RowsAffected()
}

const jobSelectColumns = `SELECT id, type, priority, payload, status, attempts, max_attempts, next_run_at, error_message, created_at, updated_at FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job          Job
		jobType      string
		priorityRank int
		status       string
		nextRunAt    int64
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(&job.ID, &jobType, &priorityRank, &job.Payload, &status,
		&job.Attempts, &job.MaxAttempts, &nextRunAt, &job.ErrorMessage,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	job.Type = JobType(jobType)
	job.Priority = priorityFromRank(priorityRank)
	job.Status = Status(status)
	job.NextRunAt = time.UnixMilli(nextRunAt).UTC()
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &job, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
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
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
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
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}
