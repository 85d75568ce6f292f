package jobs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	codermilltest "github.com/assessly/codermill/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(codermilltest.CreateTestDB(t))
}

func mustNewJob(t *testing.T, handlerName, source string) *Job {
	t.Helper()
	job, err := NewJob(handlerName, source, json.RawMessage(`{"workspace_id":1}`))
	require.NoError(t, err)
	return job
}

func TestStoreCreateAndGetJob(t *testing.T) {
	store := newTestStore(t)

	job := mustNewJob(t, "coding.batch", "workspace:1")
	require.NoError(t, store.CreateJob(job))

	fetched, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, fetched.ID)
	assert.Equal(t, "coding.batch", fetched.HandlerName)
	assert.Equal(t, "workspace:1", fetched.Source)
	assert.Equal(t, StateWaiting, fetched.State)
	assert.Equal(t, 0, fetched.Progress)
	assert.False(t, fetched.IsPaused)
	assert.JSONEq(t, `{"workspace_id":1}`, string(fetched.Payload))
}

func TestStoreGetJobNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetJob("missing")
	require.Error(t, err)
}

func TestStoreUpdateJob(t *testing.T) {
	store := newTestStore(t)

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, store.CreateJob(job))

	job.Start()
	job.UpdateProgress(40)
	require.NoError(t, store.UpdateJob(job))

	fetched, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, fetched.State)
	assert.Equal(t, 40, fetched.Progress)
	require.NotNil(t, fetched.StartedAt)

	job.Complete(json.RawMessage(`{"totalResponses":7}`))
	require.NoError(t, store.UpdateJob(job))

	fetched, err = store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, fetched.State)
	assert.Equal(t, 100, fetched.Progress)
	require.NotNil(t, fetched.CompletedAt)
	assert.JSONEq(t, `{"totalResponses":7}`, string(fetched.ReturnValue))
}

func TestStoreNextWaitingJobSkipsPaused(t *testing.T) {
	store := newTestStore(t)

	first := mustNewJob(t, "coding.batch", "a")
	first.RequestPause("user_requested")
	require.NoError(t, store.CreateJob(first))

	second := mustNewJob(t, "coding.batch", "b")
	require.NoError(t, store.CreateJob(second))

	next, err := store.NextWaitingJob()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, second.ID, next.ID, "Paused jobs must not be dispatched")
}

func TestStoreNextWaitingJobEmpty(t *testing.T) {
	store := newTestStore(t)

	next, err := store.NextWaitingJob()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestStoreListJobsFiltered(t *testing.T) {
	store := newTestStore(t)

	waiting := mustNewJob(t, "coding.batch", "a")
	require.NoError(t, store.CreateJob(waiting))

	failed := mustNewJob(t, "coding.batch", "b")
	failed.Fail(assert.AnError)
	require.NoError(t, store.CreateJob(failed))

	state := StateFailed
	jobs, err := store.ListJobs(&state, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, failed.ID, jobs[0].ID)

	all, err := store.ListJobs(nil, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStoreDeleteJob(t *testing.T) {
	store := newTestStore(t)

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, store.CreateJob(job))
	require.NoError(t, store.DeleteJob(job.ID))

	_, err := store.GetJob(job.ID)
	require.Error(t, err)

	err = store.DeleteJob(job.ID)
	require.Error(t, err, "Deleting a missing job should report not found")
}

func TestStoreFindActiveJobBySource(t *testing.T) {
	store := newTestStore(t)

	done := mustNewJob(t, "coding.batch", "workspace:1")
	done.Complete(nil)
	require.NoError(t, store.CreateJob(done))

	running := mustNewJob(t, "coding.batch", "workspace:1")
	running.Start()
	require.NoError(t, store.CreateJob(running))

	found, err := store.FindActiveJobBySource("workspace:1", "coding.batch")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, running.ID, found.ID)

	none, err := store.FindActiveJobBySource("workspace:2", "coding.batch")
	require.NoError(t, err)
	assert.Nil(t, none, "Terminal and unrelated jobs must not match")
}
