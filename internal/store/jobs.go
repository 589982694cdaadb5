package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	dexerrors "github.com/quillstack/docdex/internal/errors"
)

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job types.
const (
	JobTypeReindex = "reindex"
)

// Job is a persisted unit-of-work record. Failed jobs keep their error
// string so a crash can be diagnosed after the fact.
type Job struct {
	ID             string
	CollectionID   string
	Type           string
	Status         string
	StartedAt      time.Time
	CompletedAt    time.Time
	Total          int
	Processed      int
	CurrentItem    string
	Error          string
	ConfigSnapshot string
}

// Active reports whether the job is still in flight.
func (j *Job) Active() bool {
	return j.Status == JobPending || j.Status == JobRunning
}

// Progress returns completion as a fraction in [0, 1].
func (j *Job) Progress() float64 {
	if j.Total <= 0 {
		return 0
	}
	p := float64(j.Processed) / float64(j.Total)
	if p > 1 {
		p = 1
	}
	return p
}

// JobStore persists job records in the application database.
type JobStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJobStore opens (or creates) the job database at path. An empty
// path opens an in-memory store for tests.
func NewJobStore(path string) (*JobStore, error) {
	dsn := path
	if path == "" {
		dsn = ":memory:"
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, dexerrors.New(dexerrors.ErrCodeFilePermission,
			fmt.Sprintf("create directory for %s: %v", path, err), err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open job database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			collection_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			total INTEGER NOT NULL DEFAULT 0,
			processed INTEGER NOT NULL DEFAULT 0,
			current_item TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			config_snapshot TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_active
			ON jobs(type) WHERE status IN ('pending', 'running');
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	return &JobStore{db: db}, nil
}

// Close closes the database.
func (s *JobStore) Close() error { return s.db.Close() }

// Create inserts a new pending job and returns it. At most one job of
// a given type may be pending or running; a partial unique index makes
// the check-and-insert atomic even across processes.
func (s *JobStore) Create(ctx context.Context, jobType, collectionID, configSnapshot string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &Job{
		ID:             uuid.NewString(),
		CollectionID:   collectionID,
		Type:           jobType,
		Status:         JobPending,
		StartedAt:      time.Now().UTC(),
		ConfigSnapshot: configSnapshot,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, collection_id, type, status, started_at, config_snapshot)
		VALUES (?, ?, ?, ?, ?, ?)
	`, job.ID, job.CollectionID, job.Type, job.Status,
		job.StartedAt.Format(time.RFC3339), job.ConfigSnapshot)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, s.activeConflict(ctx, jobType)
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// activeConflict builds the conflict error naming the job that holds
// the active slot.
func (s *JobStore) activeConflict(ctx context.Context, jobType string) error {
	active, err := s.ActiveJob(ctx, jobType)
	if err != nil || active == nil {
		return dexerrors.Conflict(dexerrors.ErrCodeReindexActive,
			fmt.Sprintf("a %s job is already active", jobType))
	}
	return dexerrors.Conflict(dexerrors.ErrCodeReindexActive,
		fmt.Sprintf("%s job %s is already %s", jobType, active.ID, active.Status)).
		WithDetail("job_id", active.ID)
}

// Get returns a job by id.
func (s *JobStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, collection_id, type, status, started_at, completed_at,
		       total, processed, current_item, error, config_snapshot
		FROM jobs WHERE id = ?
	`, id)
	return scanJob(row, id)
}

func scanJob(row *sql.Row, id string) (*Job, error) {
	var j Job
	var startedAt string
	var completedAt sql.NullString
	err := row.Scan(&j.ID, &j.CollectionID, &j.Type, &j.Status, &startedAt,
		&completedAt, &j.Total, &j.Processed, &j.CurrentItem, &j.Error, &j.ConfigSnapshot)
	if err == sql.ErrNoRows {
		return nil, dexerrors.NotFound(dexerrors.ErrCodeJobNotFound, "job", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if completedAt.Valid {
		j.CompletedAt, _ = time.Parse(time.RFC3339, completedAt.String)
	}
	return &j, nil
}

// ActiveJob returns the in-flight job of the given type, if any.
func (s *JobStore) ActiveJob(ctx context.Context, jobType string) (*Job, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE type = ? AND status IN (?, ?)
		ORDER BY started_at DESC LIMIT 1
	`, jobType, JobPending, JobRunning).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active job: %w", err)
	}
	return s.Get(ctx, id)
}

// List returns the most recent jobs, newest first.
func (s *JobStore) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM jobs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// MarkRunning transitions a job to running.
func (s *JobStore) MarkRunning(ctx context.Context, id string, total int) error {
	return s.update(ctx, id, `UPDATE jobs SET status = ?, total = ? WHERE id = ?`,
		JobRunning, total, id)
}

// UpdateProgress records job progress and the item being processed.
func (s *JobStore) UpdateProgress(ctx context.Context, id string, processed int, currentItem string) error {
	return s.update(ctx, id, `UPDATE jobs SET processed = ?, current_item = ? WHERE id = ?`,
		processed, currentItem, id)
}

// Complete marks a job completed.
func (s *JobStore) Complete(ctx context.Context, id string) error {
	return s.finish(ctx, id, JobCompleted, "")
}

// Fail marks a job failed with its error string; the record persists
// for post-mortem inspection.
func (s *JobStore) Fail(ctx context.Context, id string, errMsg string) error {
	return s.finish(ctx, id, JobFailed, errMsg)
}

// Cancel marks a job cancelled.
func (s *JobStore) Cancel(ctx context.Context, id string) error {
	return s.finish(ctx, id, JobCancelled, "")
}

func (s *JobStore) finish(ctx context.Context, id, status, errMsg string) error {
	return s.update(ctx, id, `
		UPDATE jobs SET status = ?, error = ?, completed_at = ?, current_item = '' WHERE id = ?
	`, status, errMsg, time.Now().UTC().Format(time.RFC3339), id)
}

func (s *JobStore) update(ctx context.Context, id, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dexerrors.NotFound(dexerrors.ErrCodeJobNotFound, "job", id)
	}
	return nil
}
