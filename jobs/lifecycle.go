package jobs

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/assessly/codermill/errors"
)

// ControlResult is the structured outcome of a job control action.
// A missing or ineligible job is a failed result, never an error; errors
// are reserved for storage problems.
type ControlResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	JobID   string `json:"jobId,omitempty"`
}

// JobStatus is the operator-facing view of a job.
type JobStatus struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Manager is the pause/resume/cancel/restart/delete state machine
// layered on the job queue.
type Manager struct {
	queue  *Queue
	logger *zap.SugaredLogger
}

// NewManager creates a lifecycle manager on top of a queue.
func NewManager(queue *Queue, logger *zap.SugaredLogger) *Manager {
	return &Manager{queue: queue, logger: logger}
}

// Pause sets the application-level pause flag on a job. Allowed only
// while the job is active, waiting or delayed; the queue-native state is
// untouched so an in-flight chunk can finish its transaction before the
// handler stops.
func (m *Manager) Pause(jobID string) (*ControlResult, error) {
	job, res, err := m.lookup(jobID)
	if job == nil {
		return res, err
	}

	switch job.State {
	case StateActive, StateWaiting, StateDelayed:
	default:
		return &ControlResult{
			Success: false,
			Message: fmt.Sprintf("Job %s cannot be paused from state %s", jobID, job.State),
		}, nil
	}

	if job.IsPaused {
		return &ControlResult{Success: true, Message: fmt.Sprintf("Job %s is already paused", jobID)}, nil
	}

	if err := m.queue.RequestPause(jobID, "user_requested"); err != nil {
		return nil, err
	}

	m.logger.Infow("Job paused", "job_id", jobID, "state", job.State)
	return &ControlResult{Success: true, Message: fmt.Sprintf("Job %s paused", jobID)}, nil
}

// Resume clears the pause flag. Allowed only if the job is currently
// paused.
func (m *Manager) Resume(jobID string) (*ControlResult, error) {
	job, res, err := m.lookup(jobID)
	if job == nil {
		return res, err
	}

	if !job.IsPaused && job.State != StatePaused {
		return &ControlResult{
			Success: false,
			Message: fmt.Sprintf("Job %s is not paused", jobID),
		}, nil
	}

	if err := m.queue.ResumeJob(jobID); err != nil {
		return nil, err
	}

	m.logger.Infow("Job resumed", "job_id", jobID)
	return &ControlResult{Success: true, Message: fmt.Sprintf("Job %s resumed", jobID)}, nil
}

// Cancel removes a job that has not started running. An active job
// cannot be cancelled: its current chunk holds an open transaction that
// must not be interrupted from outside. Terminal jobs cannot be
// cancelled either; delete them instead.
func (m *Manager) Cancel(jobID string) (*ControlResult, error) {
	job, res, err := m.lookup(jobID)
	if job == nil {
		return res, err
	}

	eligible := job.State == StateWaiting || job.State == StateDelayed || job.State == StatePaused ||
		(job.IsPaused && job.State == StateActive)
	if job.State == StateActive && !job.IsPaused {
		return &ControlResult{
			Success: false,
			Message: fmt.Sprintf("Job %s is processing and cannot be cancelled; pause it first", jobID),
		}, nil
	}
	if !eligible {
		return &ControlResult{
			Success: false,
			Message: fmt.Sprintf("Job %s cannot be cancelled from state %s", jobID, job.State),
		}, nil
	}

	if err := m.queue.CancelJob(jobID); err != nil {
		if errors.IsNotFoundError(err) {
			return &ControlResult{Success: false, Message: fmt.Sprintf("Job %s not found", jobID)}, nil
		}
		return nil, err
	}

	m.logger.Infow("Job cancelled", "job_id", jobID, "state", job.State)
	return &ControlResult{Success: true, Message: fmt.Sprintf("Job %s cancelled", jobID)}, nil
}

// Restart re-enqueues a failed job as a brand-new job with the same
// payload and deletes the old record. Returns the new job id. Allowed
// only from the failed state.
func (m *Manager) Restart(jobID string) (*ControlResult, error) {
	job, res, err := m.lookup(jobID)
	if job == nil {
		return res, err
	}

	if job.State != StateFailed {
		return &ControlResult{
			Success: false,
			Message: fmt.Sprintf("Job %s cannot be restarted from state %s", jobID, job.State),
		}, nil
	}

	replacement, err := NewJob(job.HandlerName, job.Source, job.Payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build replacement job")
	}

	if err := m.queue.Enqueue(replacement); err != nil {
		return nil, err
	}

	if err := m.queue.DeleteJob(jobID); err != nil {
		m.logger.Warnw("Failed to delete job after restart", "job_id", jobID, "error", err)
	}

	m.logger.Infow("Job restarted", "old_job_id", jobID, "new_job_id", replacement.ID)
	return &ControlResult{
		Success: true,
		Message: fmt.Sprintf("Job %s restarted as %s", jobID, replacement.ID),
		JobID:   replacement.ID,
	}, nil
}

// Delete removes the job record outright, whatever its state.
func (m *Manager) Delete(jobID string) (*ControlResult, error) {
	if err := m.queue.DeleteJob(jobID); err != nil {
		if errors.IsNotFoundError(err) {
			return &ControlResult{Success: false, Message: fmt.Sprintf("Job %s not found", jobID)}, nil
		}
		return nil, err
	}

	m.logger.Infow("Job deleted", "job_id", jobID)
	return &ControlResult{Success: true, Message: fmt.Sprintf("Job %s deleted", jobID)}, nil
}

// GetJobStatus returns the operator-facing status of a job. The result
// document is the raw return value; the error field carries the failure
// reason for failed jobs. Like the control actions, an unknown job id
// yields a structured not_found status rather than an error.
func (m *Manager) GetJobStatus(jobID string) (*JobStatus, error) {
	job, err := m.queue.GetJob(jobID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return &JobStatus{
				Status: StatusNotFound,
				Error:  fmt.Sprintf("Job %s not found", jobID),
			}, nil
		}
		return nil, errors.Wrapf(err, "failed to get status of job %s", jobID)
	}

	status := &JobStatus{
		Status:   job.SurfaceStatus(),
		Progress: job.Progress,
		Error:    job.FailureReason,
	}
	if len(job.ReturnValue) > 0 {
		status.Result = job.ReturnValue
	}
	return status, nil
}

// lookup fetches a job, translating not-found into a structured failed
// result.
func (m *Manager) lookup(jobID string) (*Job, *ControlResult, error) {
	job, err := m.queue.GetJob(jobID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return nil, &ControlResult{Success: false, Message: fmt.Sprintf("Job %s not found", jobID)}, nil
		}
		return nil, nil, err
	}
	return job, nil, nil
}
