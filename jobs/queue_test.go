package jobs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	codermilltest "github.com/assessly/codermill/internal/testing"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return NewQueue(codermilltest.CreateTestDB(t))
}

func TestQueueEnqueueDequeue(t *testing.T) {
	queue := newTestQueue(t)

	job := mustNewJob(t, "coding.batch", "workspace:1")
	require.NoError(t, queue.Enqueue(job))

	dequeued, err := queue.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, dequeued)
	assert.Equal(t, job.ID, dequeued.ID)
	assert.Equal(t, StateActive, dequeued.State)
	require.NotNil(t, dequeued.StartedAt)

	// Queue is now drained
	next, err := queue.Dequeue()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestQueueDequeueSkipsPausedJobs(t *testing.T) {
	queue := newTestQueue(t)

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, queue.Enqueue(job))
	require.NoError(t, queue.RequestPause(job.ID, "user_requested"))

	next, err := queue.Dequeue()
	require.NoError(t, err)
	assert.Nil(t, next, "A pause-flagged waiting job must not dispatch")

	require.NoError(t, queue.ResumeJob(job.ID))

	next, err = queue.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, job.ID, next.ID)
}

func TestQueueResumeRequiresPaused(t *testing.T) {
	queue := newTestQueue(t)

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, queue.Enqueue(job))

	err := queue.ResumeJob(job.ID)
	require.Error(t, err, "Resuming a job that is not paused should fail")
}

func TestQueueCompleteAndFail(t *testing.T) {
	queue := newTestQueue(t)

	good := mustNewJob(t, "coding.batch", "")
	require.NoError(t, queue.Enqueue(good))
	require.NoError(t, queue.CompleteJob(good.ID, json.RawMessage(`{"totalResponses":3}`)))

	fetched, err := queue.GetJob(good.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, fetched.State)
	assert.Equal(t, 100, fetched.Progress)
	assert.JSONEq(t, `{"totalResponses":3}`, string(fetched.ReturnValue))

	bad := mustNewJob(t, "coding.batch", "")
	require.NoError(t, queue.Enqueue(bad))
	require.NoError(t, queue.FailJob(bad.ID, assert.AnError))

	fetched, err = queue.GetJob(bad.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, fetched.State)
	assert.NotEmpty(t, fetched.FailureReason)
}

func TestQueueCancelRemovesJob(t *testing.T) {
	queue := newTestQueue(t)

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, queue.Enqueue(job))
	require.NoError(t, queue.CancelJob(job.ID))

	_, err := queue.GetJob(job.ID)
	require.Error(t, err, "A cancelled job leaves no record behind")
}

func TestQueueSubscribeReceivesUpdates(t *testing.T) {
	queue := newTestQueue(t)

	ch := queue.Subscribe()
	defer queue.Unsubscribe(ch)

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, queue.Enqueue(job))

	select {
	case update := <-ch:
		assert.Equal(t, job.ID, update.ID)
	default:
		t.Fatal("Expected an enqueue notification")
	}
}

func TestQueueStats(t *testing.T) {
	queue := newTestQueue(t)

	waiting := mustNewJob(t, "coding.batch", "a")
	require.NoError(t, queue.Enqueue(waiting))

	failed := mustNewJob(t, "coding.batch", "b")
	require.NoError(t, queue.Enqueue(failed))
	require.NoError(t, queue.FailJob(failed.ID, assert.AnError))

	stats, err := queue.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, stats.Total)
}
