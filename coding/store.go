package coding

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/assessly/codermill/errors"
)

// Store handles persistence of responses, coders and coding jobs.
type Store struct {
	db *sql.DB
}

// NewStore creates a coding store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for transaction management.
func (s *Store) DB() *sql.DB {
	return s.db
}

const responseColumns = `id, unit_name, variable_id, value, person_login, person_code, person_group, booklet_name`

// FindResponsesForVariables returns all responses of the workspace
// matching any of the given variable references.
func (s *Store) FindResponsesForVariables(ctx context.Context, workspaceID int64, variables []VariableReference) ([]ResponseRecord, error) {
	if len(variables) == 0 {
		return nil, nil
	}

	conditions := make([]string, 0, len(variables))
	args := []interface{}{workspaceID}
	for _, v := range variables {
		conditions = append(conditions, "(unit_name = ? AND variable_id = ?)")
		args = append(args, v.UnitName, v.VariableID)
	}

	query := `SELECT ` + responseColumns + ` FROM responses
		WHERE workspace_id = ? AND (` + strings.Join(conditions, " OR ") + `)
		ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query responses for variables")
	}
	defer rows.Close()

	return scanResponses(rows)
}

func scanResponses(rows *sql.Rows) ([]ResponseRecord, error) {
	var responses []ResponseRecord
	for rows.Next() {
		var r ResponseRecord
		var value sql.NullString
		if err := rows.Scan(&r.ID, &r.UnitName, &r.VariableID, &value,
			&r.PersonLogin, &r.PersonCode, &r.PersonGroup, &r.BookletName); err != nil {
			return nil, errors.Wrap(err, "failed to scan response")
		}
		if value.Valid {
			r.Value = value.String
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating responses")
	}
	return responses, nil
}

// GetResponseMatchingMode returns the persisted workspace matching
// setting, falling back to the given default when the workspace has no
// explicit setting.
func (s *Store) GetResponseMatchingMode(ctx context.Context, workspaceID int64, fallback string) (MatchingMode, error) {
	var setting string
	err := s.db.QueryRowContext(ctx,
		`SELECT response_matching_mode FROM workspace_settings WHERE workspace_id = ?`,
		workspaceID).Scan(&setting)
	if errors.Is(err, sql.ErrNoRows) {
		return ParseMatchingMode(fallback), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get response matching mode")
	}
	return ParseMatchingMode(setting), nil
}

// FindCodersByIDs resolves coder ids within a workspace. A missing id
// is an invalid request: distribution must not silently drop coders.
func (s *Store) FindCodersByIDs(ctx context.Context, workspaceID int64, ids []int64) ([]Coder, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []interface{}{workspaceID}
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, username FROM coders WHERE workspace_id = ? AND id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query coders")
	}
	defer rows.Close()

	var coders []Coder
	for rows.Next() {
		var c Coder
		if err := rows.Scan(&c.ID, &c.Name, &c.Username); err != nil {
			return nil, errors.Wrap(err, "failed to scan coder")
		}
		coders = append(coders, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating coders")
	}

	if len(coders) != len(ids) {
		return nil, errors.NewInvalidRequestError("unknown coder ids: requested %d, found %d", len(ids), len(coders))
	}
	return coders, nil
}

// AssignedResponseIDs returns the ids of responses already referenced by
// coding-job units of this workspace. Used to detect partial re-use of
// an item's cases by prior distribution runs.
func (s *Store) AssignedResponseIDs(ctx context.Context, workspaceID int64) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT u.response_id
		FROM coding_job_units u
		JOIN coding_jobs j ON j.id = u.coding_job_id
		WHERE j.workspace_id = ?`, workspaceID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query assigned response ids")
	}
	defer rows.Close()

	assigned := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan assigned response id")
		}
		assigned[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating assigned response ids")
	}
	return assigned, nil
}

// GetCodingJob retrieves a coding job by id
func (s *Store) GetCodingJob(ctx context.Context, jobID string) (*CodingJob, error) {
	var job CodingJob
	var variables string
	var bundleID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, status, coder_id, variables, bundle_id, case_ordering_mode, created_at, updated_at
		FROM coding_jobs WHERE id = ?`, jobID).
		Scan(&job.ID, &job.WorkspaceID, &job.Name, &job.Status, &job.CoderID,
			&variables, &bundleID, &job.CaseOrderingMode, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("coding job not found: %s", jobID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get coding job")
	}
	job.Variables = parseVariableList(variables)
	if bundleID.Valid {
		job.BundleID = &bundleID.Int64
	}
	return &job, nil
}

// ListCodingJobs returns all coding jobs of a workspace, newest first.
func (s *Store) ListCodingJobs(ctx context.Context, workspaceID int64) ([]*CodingJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, name, status, coder_id, variables, bundle_id, case_ordering_mode, created_at, updated_at
		FROM coding_jobs WHERE workspace_id = ? ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list coding jobs")
	}
	defer rows.Close()

	var jobs []*CodingJob
	for rows.Next() {
		var job CodingJob
		var variables string
		var bundleID sql.NullInt64
		if err := rows.Scan(&job.ID, &job.WorkspaceID, &job.Name, &job.Status, &job.CoderID,
			&variables, &bundleID, &job.CaseOrderingMode, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan coding job")
		}
		job.Variables = parseVariableList(variables)
		if bundleID.Valid {
			job.BundleID = &bundleID.Int64
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating coding jobs")
	}
	return jobs, nil
}

// SaveUnitProgress records a coder's save-progress action on one unit.
func (s *Store) SaveUnitProgress(ctx context.Context, jobID string, responseID int64, code, score *int, isOpen bool, notes string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE coding_job_units
		SET code = ?, score = ?, is_open = ?, notes = ?
		WHERE coding_job_id = ? AND response_id = ?`,
		code, score, isOpen, notes, jobID, responseID)
	if err != nil {
		return errors.Wrap(err, "failed to save unit progress")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("coding job unit not found: job %s response %d", jobID, responseID)
	}
	return nil
}

// JobProgress returns the completion percentage of a coding job: the
// share of its units no longer open, as 0..100.
func (s *Store) JobProgress(ctx context.Context, jobID string) (int, error) {
	var total, closed int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_open = 0 THEN 1 ELSE 0 END), 0)
		FROM coding_job_units WHERE coding_job_id = ?`, jobID).Scan(&total, &closed)
	if err != nil {
		return 0, errors.Wrap(err, "failed to compute job progress")
	}
	if total == 0 {
		return 0, nil
	}
	return closed * 100 / total, nil
}

// UpdateJobStatusFromProgress advances a job to completed when all units
// are closed, or (re)opens it otherwise. Explicitly paused or cancelled
// jobs are left alone.
func (s *Store) UpdateJobStatusFromProgress(ctx context.Context, jobID string) (CodingJobStatus, error) {
	job, err := s.GetCodingJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status == CodingJobPaused || job.Status == CodingJobCancelled {
		return job.Status, nil
	}

	progress, err := s.JobProgress(ctx, jobID)
	if err != nil {
		return "", err
	}

	status := CodingJobOpen
	if progress == 100 {
		status = CodingJobCompleted
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE coding_jobs SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, jobID); err != nil {
		return "", errors.Wrap(err, "failed to update coding job status")
	}
	return status, nil
}

// DeleteCodingJob removes a coding job; its units go with it via
// foreign-key cascade.
func (s *Store) DeleteCodingJob(ctx context.Context, jobID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM coding_jobs WHERE id = ?`, jobID)
	if err != nil {
		return errors.Wrap(err, "failed to delete coding job")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("coding job not found: %s", jobID)
	}
	return nil
}

// parseVariableList decodes the comma-joined "unit:variable" pairs the
// jobs table stores.
func parseVariableList(s string) []VariableReference {
	if s == "" {
		return nil
	}
	var vars []VariableReference
	for _, token := range strings.Split(s, ",") {
		parts := strings.SplitN(token, ":", 2)
		if len(parts) != 2 {
			continue
		}
		vars = append(vars, VariableReference{UnitName: parts[0], VariableID: parts[1]})
	}
	return vars
}

// formatVariableList is the inverse of parseVariableList.
func formatVariableList(vars []VariableReference) string {
	tokens := make([]string, 0, len(vars))
	for _, v := range vars {
		tokens = append(tokens, fmt.Sprintf("%s:%s", v.UnitName, v.VariableID))
	}
	return strings.Join(tokens, ",")
}
