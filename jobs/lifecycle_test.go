package jobs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	codermilltest "github.com/assessly/codermill/internal/testing"
)

func newTestManager(t *testing.T) (*Manager, *Queue) {
	t.Helper()
	queue := NewQueue(codermilltest.CreateTestDB(t))
	return NewManager(queue, zap.NewNop().Sugar()), queue
}

func TestManagerPauseWaitingJob(t *testing.T) {
	manager, queue := newTestManager(t)

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, queue.Enqueue(job))

	res, err := manager.Pause(job.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	fetched, err := queue.GetJob(job.ID)
	require.NoError(t, err)
	assert.True(t, fetched.IsPaused)
	assert.Equal(t, "user_requested", fetched.PauseReason)
	assert.Equal(t, StateWaiting, fetched.State, "Pause leaves the queue state untouched")
	assert.Equal(t, StatusPaused, fetched.SurfaceStatus())

	// Pausing again is a no-op success
	res, err = manager.Pause(job.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "already paused")
}

func TestManagerPauseTerminalJobRefused(t *testing.T) {
	manager, queue := newTestManager(t)

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, queue.Enqueue(job))
	require.NoError(t, queue.CompleteJob(job.ID, nil))

	res, err := manager.Pause(job.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestManagerResume(t *testing.T) {
	manager, queue := newTestManager(t)

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, queue.Enqueue(job))

	_, err := manager.Pause(job.ID)
	require.NoError(t, err)

	res, err := manager.Resume(job.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	fetched, err := queue.GetJob(job.ID)
	require.NoError(t, err)
	assert.False(t, fetched.IsPaused)
	assert.Empty(t, fetched.PauseReason)

	// Resuming a job that is not paused is a structured refusal
	res, err = manager.Resume(job.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestManagerCancelWaitingJob(t *testing.T) {
	manager, queue := newTestManager(t)

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, queue.Enqueue(job))

	res, err := manager.Cancel(job.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = queue.GetJob(job.ID)
	require.Error(t, err)
}

func TestManagerCancelActiveJobRefused(t *testing.T) {
	manager, queue := newTestManager(t)

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, queue.Enqueue(job))

	active, err := queue.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, active)

	res, err := manager.Cancel(job.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "pause it first")

	// Once pause is requested, cancel becomes eligible
	_, err = manager.Pause(job.ID)
	require.NoError(t, err)

	res, err = manager.Cancel(job.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestManagerRestartFailedJob(t *testing.T) {
	manager, queue := newTestManager(t)

	job := mustNewJob(t, "coding.batch", "workspace:1")
	require.NoError(t, queue.Enqueue(job))
	require.NoError(t, queue.FailJob(job.ID, assert.AnError))

	res, err := manager.Restart(job.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotEmpty(t, res.JobID)
	assert.NotEqual(t, job.ID, res.JobID, "Restart creates a brand-new job")

	// The replacement carries the original payload and is dispatchable
	replacement, err := queue.GetJob(res.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, replacement.State)
	assert.Equal(t, "workspace:1", replacement.Source)
	assert.JSONEq(t, string(job.Payload), string(replacement.Payload))

	// The failed record is gone
	_, err = queue.GetJob(job.ID)
	require.Error(t, err)
}

func TestManagerRestartNonFailedJobRefused(t *testing.T) {
	manager, queue := newTestManager(t)

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, queue.Enqueue(job))

	res, err := manager.Restart(job.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestManagerDelete(t *testing.T) {
	manager, queue := newTestManager(t)

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, queue.Enqueue(job))
	require.NoError(t, queue.CompleteJob(job.ID, nil))

	res, err := manager.Delete(job.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	// Missing jobs are a structured failure, not an error
	res, err = manager.Delete(job.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not found")
}

func TestManagerControlMissingJob(t *testing.T) {
	manager, _ := newTestManager(t)

	for name, action := range map[string]func(string) (*ControlResult, error){
		"pause":   manager.Pause,
		"resume":  manager.Resume,
		"cancel":  manager.Cancel,
		"restart": manager.Restart,
	} {
		res, err := action("missing")
		require.NoError(t, err, "%s of a missing job should not error", name)
		require.NotNil(t, res)
		assert.False(t, res.Success, "%s of a missing job should fail", name)
	}
}

func TestManagerGetJobStatus(t *testing.T) {
	manager, queue := newTestManager(t)

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, queue.Enqueue(job))

	status, err := manager.GetJobStatus(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status.Status)
	assert.Equal(t, 0, status.Progress)

	require.NoError(t, queue.CompleteJob(job.ID, json.RawMessage(`{"totalResponses":9}`)))

	status, err = manager.GetJobStatus(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.NotNil(t, status.Result)

	// A missing job is a structured status, not an error
	status, err = manager.GetJobStatus("missing")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, status.Status)
	assert.Contains(t, status.Error, "not found")
}
