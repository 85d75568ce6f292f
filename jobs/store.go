package jobs

import (
	"database/sql"
	"time"

	"github.com/assessly/codermill/errors"
)

// Store handles persistence of background jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new background job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(job *Job) error {
	query := `
		INSERT INTO background_jobs (
			id, handler_name, source, state,
			progress, is_paused, pause_reason,
			payload, return_value, failure_reason,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	handlerName := sql.NullString{String: job.HandlerName, Valid: job.HandlerName != ""}
	payload := sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0}
	pauseReason := sql.NullString{String: job.PauseReason, Valid: job.PauseReason != ""}

	_, err := s.db.Exec(query,
		job.ID,
		handlerName,
		job.Source,
		job.State,
		job.Progress,
		job.IsPaused,
		pauseReason,
		payload,
		sql.NullString{},
		sql.NullString{},
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM background_jobs WHERE id = ?`

	var job Job
	err := ScanJobFromRow(s.db.QueryRow(query, id), &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}

	return &job, nil
}

// UpdateJob updates an existing job in the database
func (s *Store) UpdateJob(job *Job) error {
	query := `
		UPDATE background_jobs
		SET handler_name = ?,
		    payload = ?,
		    state = ?,
		    progress = ?,
		    is_paused = ?,
		    pause_reason = ?,
		    return_value = ?,
		    failure_reason = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?
	`

	handlerName := sql.NullString{String: job.HandlerName, Valid: job.HandlerName != ""}
	payload := sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0}
	pauseReason := sql.NullString{String: job.PauseReason, Valid: job.PauseReason != ""}
	returnValue := sql.NullString{String: string(job.ReturnValue), Valid: len(job.ReturnValue) > 0}
	failureReason := sql.NullString{String: job.FailureReason, Valid: job.FailureReason != ""}

	_, err := s.db.Exec(query,
		handlerName,
		payload,
		job.State,
		job.Progress,
		job.IsPaused,
		pauseReason,
		returnValue,
		failureReason,
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
		job.ID,
	)

	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}

	return nil
}

// ListJobs returns jobs newest first, optionally filtered by state
func (s *Store) ListJobs(state *State, limit int) ([]*Job, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + StandardJobSelectColumns() + ` FROM background_jobs`
	if state != nil {
		query = baseQuery + ` WHERE state = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{*state, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// NextWaitingJob returns the oldest waiting job, or nil when the queue is
// drained. Jobs carrying the application-level pause flag are skipped so
// a resume is required before they dispatch again.
func (s *Store) NextWaitingJob() (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM background_jobs
		WHERE state = 'waiting' AND is_paused = 0
		ORDER BY created_at ASC
		LIMIT 1`

	var job Job
	err := ScanJobFromRow(s.db.QueryRow(query), &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get next waiting job")
	}

	return &job, nil
}

// ListUnfinishedJobs returns all jobs that are waiting, delayed, active
// or paused
func (s *Store) ListUnfinishedJobs(limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM background_jobs
		WHERE state IN ('waiting', 'delayed', 'active', 'paused')
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list unfinished jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "unfinished jobs")
}

// scanJobs is a helper that scans multiple jobs from query rows
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := ScanJobFromRows(rows, &job); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return jobs, nil
}

// DeleteJob removes a job from the database
func (s *Store) DeleteJob(id string) error {
	query := `DELETE FROM background_jobs WHERE id = ?`

	result, err := s.db.Exec(query, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}

	if rows == 0 {
		return errors.NewNotFoundError("job not found: %s", id)
	}

	return nil
}

// CleanupOldJobs removes completed/failed jobs older than the specified
// duration
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	query := `
		DELETE FROM background_jobs
		WHERE state IN ('completed', 'failed')
		  AND updated_at < ?
	`

	result, err := s.db.Exec(query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// FindActiveJobBySource finds an unfinished job for the given source and
// handler name. Returns nil if none exists, which is not an error.
func (s *Store) FindActiveJobBySource(source string, handlerName string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM background_jobs
		WHERE source = ?
		  AND handler_name = ?
		  AND state IN ('waiting', 'delayed', 'active', 'paused')
		ORDER BY created_at DESC
		LIMIT 1`

	var job Job
	err := ScanJobFromRow(s.db.QueryRow(query, source, handlerName), &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find active job by source")
	}

	return &job, nil
}
