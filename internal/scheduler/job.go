package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"postagent-go/internal/apperr"
)

// ErrJobNotFound is returned when no job matches an id or name.
var ErrJobNotFound = fmt.Errorf("%w: job not found", apperr.ErrNotFound)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDead      JobStatus = "dead"
)

// Job is a recurring task. Name is unique, so registering the same job twice
// updates it in place.
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Schedule   string          `json:"schedule"`
	Payload    json.RawMessage `json:"payload"`
	Status     JobStatus       `json:"status"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	NextRun    time.Time       `json:"next_run"`
	LastRun    *time.Time      `json:"last_run,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// JobStore defines the interface for job persistence operations
type JobStore interface {
	// UpsertJob creates the job or, when one with the same name exists,
	// replaces its type, schedule and payload and makes it schedulable again.
	UpsertJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by ID
	GetJob(ctx context.Context, id string) (*Job, error)

	// GetJobByName retrieves a job by name
	GetJobByName(ctx context.Context, name string) (*Job, error)

	// UpdateJob updates an existing job
	UpdateJob(ctx context.Context, job *Job) error

	// ListJobs returns all jobs matching the given criteria
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)

	// DeleteJob deletes a job by ID
	DeleteJob(ctx context.Context, id string) error
}

// JobFilter defines criteria for listing jobs
type JobFilter struct {
	Type     string      `json:"type,omitempty"`
	Statuses []JobStatus `json:"statuses,omitempty"`
	// DueBy selects jobs whose next run is at or before it.
	DueBy time.Time `json:"due_by,omitempty"`
	Limit int       `json:"limit,omitempty"`
}

// SQLiteJobStore implements JobStore on the migrated jobs table.
type SQLiteJobStore struct {
	db *sql.DB
}

// NewSQLiteJobStore creates a new SQLite-backed job store
func NewSQLiteJobStore(db *sql.DB) *SQLiteJobStore {
	return &SQLiteJobStore{db: db}
}

const jobColumns = `id, name, type, schedule, payload, status, retry_count,
	last_error, next_run, last_run, created_at, updated_at`

// UpsertJob implements JobStore
func (s *SQLiteJobStore) UpsertJob(ctx context.Context, job *Job) error {
	if job.Name == "" || job.Type == "" {
		return fmt.Errorf("%w: job name and type are required", apperr.ErrValidation)
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = JobStatusScheduled
	}
	if len(job.Payload) == 0 {
		job.Payload = json.RawMessage("{}")
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	query := `
	INSERT INTO jobs (` + jobColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		type = excluded.type,
		schedule = excluded.schedule,
		payload = excluded.payload,
		status = excluded.status,
		retry_count = 0,
		last_error = '',
		next_run = excluded.next_run
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.Name, job.Type, job.Schedule, string(job.Payload),
		job.Status, job.RetryCount, job.LastError, job.NextRun.UTC(), nullTime(job.LastRun),
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert job %s: %v", apperr.ErrIO, job.Name, err)
	}

	// The conflict path keeps the existing id.
	stored, err := s.GetJobByName(ctx, job.Name)
	if err != nil {
		return err
	}
	*job = *stored
	return nil
}

// GetJob implements JobStore
func (s *SQLiteJobStore) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.queryJob(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
}

// GetJobByName implements JobStore
func (s *SQLiteJobStore) GetJobByName(ctx context.Context, name string) (*Job, error) {
	return s.queryJob(ctx, `SELECT `+jobColumns+` FROM jobs WHERE name = ?`, name)
}

// UpdateJob implements JobStore
func (s *SQLiteJobStore) UpdateJob(ctx context.Context, job *Job) error {
	job.UpdatedAt = time.Now().UTC()
	if len(job.Payload) == 0 {
		job.Payload = json.RawMessage("{}")
	}

	query := `
	UPDATE jobs SET
		type = ?, schedule = ?, payload = ?,
		status = ?, retry_count = ?, last_error = ?,
		next_run = ?, last_run = ?
	WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		job.Type, job.Schedule, string(job.Payload),
		job.Status, job.RetryCount, job.LastError,
		job.NextRun.UTC(), nullTime(job.LastRun),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: update job: %v", apperr.ErrIO, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: get rows affected: %v", apperr.ErrIO, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	return nil
}

// ListJobs implements JobStore
func (s *SQLiteJobStore) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	var conditions []string
	var args []interface{}

	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, filter.Type)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)",
			strings.Join(placeholders, ",")))
	}
	if !filter.DueBy.IsZero() {
		conditions = append(conditions, "next_run <= ?")
		args = append(args, filter.DueBy.UTC())
	}

	query := "SELECT " + jobColumns + " FROM jobs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY next_run ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query jobs: %v", apperr.ErrIO, err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rows: %v", apperr.ErrIO, err)
	}
	return jobs, nil
}

// DeleteJob implements JobStore
func (s *SQLiteJobStore) DeleteJob(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete job: %v", apperr.ErrIO, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: get rows affected: %v", apperr.ErrIO, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob scans a row into a Job struct
func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var payload string
	var lastRun sql.NullTime
	err := row.Scan(
		&job.ID, &job.Name, &job.Type, &job.Schedule,
		&payload, &job.Status, &job.RetryCount, &job.LastError,
		&job.NextRun, &lastRun, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Payload = json.RawMessage(payload)
	if lastRun.Valid {
		t := lastRun.Time
		job.LastRun = &t
	}
	return &job, nil
}

// queryJob executes a query that returns a single job
func (s *SQLiteJobStore) queryJob(ctx context.Context, query string, args ...interface{}) (*Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("%w: query job: %v", apperr.ErrIO, err)
	}
	return job, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
