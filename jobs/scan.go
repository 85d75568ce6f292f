package jobs

import (
	"database/sql"
)

// JobScanArgs holds the nullable column targets needed when scanning a
// job row. Follows the same pattern as the coding store's response scan.
type JobScanArgs struct {
	HandlerName   sql.NullString
	Payload       sql.NullString
	PauseReason   sql.NullString
	ReturnValue   sql.NullString
	FailureReason sql.NullString
	StartedAt     sql.NullTime
	CompletedAt   sql.NullTime
}

// GetJobScanArgs returns a JobScanArgs struct ready for scanning
func GetJobScanArgs() *JobScanArgs {
	return &JobScanArgs{}
}

// GetJobScanTargets returns scan destinations for the job and scan args,
// in the order produced by StandardJobSelectColumns
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&args.HandlerName,
		&job.Source,
		&job.State,
		&job.Progress,
		&job.IsPaused,
		&args.PauseReason,
		&args.Payload,
		&args.ReturnValue,
		&args.FailureReason,
		&job.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&job.UpdatedAt,
	}
}

// ProcessJobScanArgs copies the scanned nullable columns into the job.
func ProcessJobScanArgs(job *Job, args *JobScanArgs) {
	if args.HandlerName.Valid {
		job.HandlerName = args.HandlerName.String
	}
	if args.Payload.Valid {
		job.Payload = []byte(args.Payload.String)
	}
	if args.PauseReason.Valid {
		job.PauseReason = args.PauseReason.String
	}
	if args.ReturnValue.Valid {
		job.ReturnValue = []byte(args.ReturnValue.String)
	}
	if args.FailureReason.Valid {
		job.FailureReason = args.FailureReason.String
	}
	if args.StartedAt.Valid {
		job.StartedAt = &args.StartedAt.Time
	}
	if args.CompletedAt.Valid {
		job.CompletedAt = &args.CompletedAt.Time
	}
}

// ScanJobFromRow scans a single job from a sql.Row
func ScanJobFromRow(row *sql.Row, job *Job) error {
	args := GetJobScanArgs()
	targets := GetJobScanTargets(job, args)

	if err := row.Scan(targets...); err != nil {
		return err
	}

	ProcessJobScanArgs(job, args)
	return nil
}

// ScanJobFromRows scans a single job from sql.Rows (for use in loops)
func ScanJobFromRows(rows *sql.Rows, job *Job) error {
	args := GetJobScanArgs()
	targets := GetJobScanTargets(job, args)

	if err := rows.Scan(targets...); err != nil {
		return err
	}

	ProcessJobScanArgs(job, args)
	return nil
}

// StandardJobSelectColumns returns the standard column list for job
// SELECT queries
func StandardJobSelectColumns() string {
	return `id, handler_name, source, state,
		progress, is_paused, pause_reason,
		payload, return_value, failure_reason,
		created_at, started_at, completed_at, updated_at`
}
