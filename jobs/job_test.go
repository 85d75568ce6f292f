package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobRequiresHandlerName(t *testing.T) {
	_, err := NewJob("", "workspace:1", nil)
	require.Error(t, err)

	job, err := NewJob("coding.batch", "workspace:1", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StateWaiting, job.State)
}

func TestSurfaceStatus(t *testing.T) {
	job := &Job{State: StateWaiting}
	assert.Equal(t, StatusPending, job.SurfaceStatus())

	job.State = StateDelayed
	assert.Equal(t, StatusPending, job.SurfaceStatus())

	job.State = StateActive
	assert.Equal(t, StatusProcessing, job.SurfaceStatus())

	// The pause flag wins over a non-terminal state
	job.RequestPause("user_requested")
	assert.Equal(t, StatusPaused, job.SurfaceStatus())

	// But never over a terminal one
	job.Complete(nil)
	assert.Equal(t, StatusCompleted, job.SurfaceStatus())

	job = &Job{State: StateFailed, IsPaused: true}
	assert.Equal(t, StatusFailed, job.SurfaceStatus())
}

func TestResumeRequeuesParkedJob(t *testing.T) {
	job := &Job{State: StateActive}
	job.Pause("dispatch_gate")
	assert.Equal(t, StatePaused, job.State)
	assert.True(t, job.IsPaused)

	job.Resume()
	assert.Equal(t, StateWaiting, job.State, "A parked job goes back to waiting")
	assert.False(t, job.IsPaused)
	assert.Empty(t, job.PauseReason)

	// Resume after an operator pause leaves an active job active
	job.Start()
	job.RequestPause("user_requested")
	job.Resume()
	assert.Equal(t, StateActive, job.State)
}

func TestUpdateProgressClamps(t *testing.T) {
	job := &Job{}
	job.UpdateProgress(-5)
	assert.Equal(t, 0, job.Progress)
	job.UpdateProgress(250)
	assert.Equal(t, 100, job.Progress)
	job.UpdateProgress(55)
	assert.Equal(t, 55, job.Progress)
}

func TestIsValidState(t *testing.T) {
	for _, s := range []string{"waiting", "delayed", "active", "paused", "completed", "failed"} {
		assert.True(t, IsValidState(s), s)
	}
	assert.False(t, IsValidState("cancelled"))
	assert.False(t, IsValidState(""))
}
