package coding

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/assessly/codermill/cache"
	"github.com/assessly/codermill/errors"
)

var jobNameSanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// Materializer turns an allocation plan into persisted coding jobs and
// coding-job units. All writes for one plan run inside a single
// transaction: partial failure rolls back the whole request rather than
// leaving some coders assigned and others not.
type Materializer struct {
	db    *sql.DB
	cache *cache.Cache
}

// NewMaterializer creates a materializer. The cache may be nil; when
// set, dependent workspace entries are invalidated after commit.
func NewMaterializer(db *sql.DB, c *cache.Cache) *Materializer {
	return &Materializer{db: db, cache: c}
}

// Materialize persists the plan for the given coders and returns the
// created jobs. Coders or items with no assigned cases produce no job.
func (m *Materializer) Materialize(ctx context.Context, workspaceID int64, plan *AllocationPlan, coders []Coder, req DistributionRequest) ([]CodingJob, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin distribution transaction")
	}

	jobs, err := m.materializeTx(ctx, tx, workspaceID, plan, coders, req)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit distribution transaction")
	}

	if m.cache != nil {
		m.cache.Delete(cache.IncompleteVariablesKey(workspaceID))
		m.cache.Delete(cache.StatisticsKey(workspaceID))
	}

	return jobs, nil
}

func (m *Materializer) materializeTx(ctx context.Context, tx *sql.Tx, workspaceID int64, plan *AllocationPlan, coders []Coder, req DistributionRequest) ([]CodingJob, error) {
	codersByID := make(map[int64]Coder, len(coders))
	for _, c := range coders {
		codersByID[c.ID] = c
	}

	now := time.Now()
	var jobs []CodingJob

	for _, item := range plan.Items {
		for _, coder := range coders {
			caseCount := item.Workload[coder.ID]
			responses := item.Assignments[coder.ID]
			if caseCount == 0 || len(responses) == 0 {
				continue
			}

			job := CodingJob{
				ID:               uuid.NewString(),
				WorkspaceID:      workspaceID,
				Name:             JobName(coder.Name, item.ItemLabel, caseCount),
				Status:           CodingJobPending,
				CoderID:          coder.ID,
				BundleID:         item.BundleID,
				CaseOrderingMode: req.CaseOrderingMode,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if item.BundleID == nil {
				job.Variables = variablesOf(responses)
			}

			if err := insertJob(ctx, tx, &job); err != nil {
				return nil, err
			}
			if err := insertUnits(ctx, tx, job.ID, responses); err != nil {
				return nil, err
			}
			jobs = append(jobs, job)
		}
	}

	return jobs, nil
}

func insertJob(ctx context.Context, tx *sql.Tx, job *CodingJob) error {
	var bundleID sql.NullInt64
	if job.BundleID != nil {
		bundleID = sql.NullInt64{Int64: *job.BundleID, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO coding_jobs (id, workspace_id, name, status, coder_id, variables, bundle_id, case_ordering_mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.WorkspaceID, job.Name, job.Status, job.CoderID,
		formatVariableList(job.Variables), bundleID, job.CaseOrderingMode,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		err = errors.Wrap(err, "failed to insert coding job")
		err = errors.WithDetail(err, fmt.Sprintf("Job name: %s", job.Name))
		return err
	}
	return nil
}

// insertUnits bulk-inserts the coding-job units of one job. Units start
// open with no code or score.
func insertUnits(ctx context.Context, tx *sql.Tx, jobID string, responses []ResponseRecord) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO coding_job_units (coding_job_id, response_id, unit_name, variable_id, person_login, person_code, person_group, booklet_name, is_open)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare unit insert")
	}
	defer stmt.Close()

	for _, r := range responses {
		if _, err := stmt.ExecContext(ctx, jobID, r.ID, r.UnitName, r.VariableID,
			r.PersonLogin, r.PersonCode, r.PersonGroup, r.BookletName); err != nil {
			err = errors.Wrap(err, "failed to insert coding job unit")
			err = errors.WithDetail(err, fmt.Sprintf("Response ID: %d", r.ID))
			return err
		}
	}
	return nil
}

// JobName builds the deterministic name of a coding job from the
// sanitized coder name, the item identity and the case count, so that
// reruns stay traceable.
func JobName(coderName, itemLabel string, caseCount int) string {
	sanitize := func(s string) string {
		return strings.Trim(jobNameSanitizeRe.ReplaceAllString(s, "_"), "_")
	}
	return fmt.Sprintf("%s_%s_%d", sanitize(coderName), sanitize(itemLabel), caseCount)
}

// variablesOf collects the distinct variable references present in the
// responses, in first-seen order.
func variablesOf(responses []ResponseRecord) []VariableReference {
	seen := make(map[VariableReference]bool)
	var vars []VariableReference
	for _, r := range responses {
		ref := VariableReference{UnitName: r.UnitName, VariableID: r.VariableID}
		if !seen[ref] {
			seen[ref] = true
			vars = append(vars, ref)
		}
	}
	return vars
}
