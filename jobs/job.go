// Package jobs provides the persistent background job queue that drives
// long-running automatic coding runs.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/assessly/codermill/errors"
)

// State represents the queue-native state of a background job.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// IsValidState returns true if the string is a valid job State.
func IsValidState(s string) bool {
	switch State(s) {
	case StateWaiting, StateDelayed, StateActive, StatePaused,
		StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// Surface statuses reported to operators. Queue-internal states collapse:
// waiting and delayed are both "pending", active is "processing".
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"

	// StatusNotFound is reported by status queries for an unknown job id
	StatusNotFound = "not_found"
)

// Job represents a background operation executed by the worker pool.
//
// Pause is a dual signal: the queue-native StatePaused stops dispatch,
// while the application-level IsPaused flag is observed by running
// handlers as a cancellation request. Operator pause sets only IsPaused
// so an in-flight chunk can finish its transaction cleanly.
type Job struct {
	ID            string          `json:"id"`
	HandlerName   string          `json:"handler_name"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Source        string          `json:"source"`
	State         State           `json:"state"`
	Progress      int             `json:"progress"` // 0-100
	IsPaused      bool            `json:"is_paused,omitempty"`
	PauseReason   string          `json:"pause_reason,omitempty"`
	ReturnValue   json.RawMessage `json:"return_value,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewJob creates a new waiting job with a random id.
//
// Example:
//
//	payload, _ := json.Marshal(batch.Payload{WorkspaceID: 1, PersonIDs: ids})
//	job, _ := jobs.NewJob("coding.batch", "workspace:1", payload)
func NewJob(handlerName string, source string, payload json.RawMessage) (*Job, error) {
	if handlerName == "" {
		return nil, errors.New("handlerName cannot be empty")
	}

	now := time.Now()
	return &Job{
		ID:          uuid.NewString(),
		HandlerName: handlerName,
		Payload:     payload,
		Source:      source,
		State:       StateWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// SurfaceStatus maps the job's queue state to the operator-facing status.
// The application-level pause flag wins over the queue state so a paused
// job reads as paused even while its current chunk drains.
func (j *Job) SurfaceStatus() string {
	if j.IsPaused && j.State != StateCompleted && j.State != StateFailed {
		return StatusPaused
	}
	switch j.State {
	case StateWaiting, StateDelayed:
		return StatusPending
	case StateActive:
		return StatusProcessing
	default:
		return string(j.State)
	}
}

// IsTerminal returns true once the job can no longer run.
func (j *Job) IsTerminal() bool {
	return j.State == StateCompleted || j.State == StateFailed
}

// Start marks the job as active
func (j *Job) Start() {
	now := time.Now()
	j.State = StateActive
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Pause moves the job to the queue-native paused state
func (j *Job) Pause(reason string) {
	j.State = StatePaused
	j.IsPaused = true
	j.PauseReason = reason
	j.UpdatedAt = time.Now()
}

// RequestPause sets only the application-level pause flag; the queue
// state is untouched so an active handler can observe it and stop at the
// next chunk boundary.
func (j *Job) RequestPause(reason string) {
	j.IsPaused = true
	j.PauseReason = reason
	j.UpdatedAt = time.Now()
}

// Resume clears the pause flag and requeues the job if it was parked in
// the queue-native paused state.
func (j *Job) Resume() {
	j.IsPaused = false
	j.PauseReason = ""
	if j.State == StatePaused {
		j.State = StateWaiting
	}
	j.UpdatedAt = time.Now()
}

// Complete marks the job as completed with an optional result document
func (j *Job) Complete(returnValue json.RawMessage) {
	now := time.Now()
	j.State = StateCompleted
	j.Progress = 100
	j.ReturnValue = returnValue
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as failed with an error message
func (j *Job) Fail(err error) {
	now := time.Now()
	j.State = StateFailed
	j.FailureReason = err.Error()
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// UpdateProgress clamps and records the job's progress percentage
func (j *Job) UpdateProgress(progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
}
