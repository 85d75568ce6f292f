package batch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	codermilltest "github.com/assessly/codermill/internal/testing"
	"github.com/assessly/codermill/jobs"
)

func newBatchJob(t *testing.T, payload Payload) *jobs.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	job, err := jobs.NewJob(HandlerName, "workspace:1", raw)
	require.NoError(t, err)
	return job
}

func TestHandlerExecuteCodesWorkspace(t *testing.T) {
	conn := codermilltest.CreateTestDB(t)
	personID := seedWorkspace(t, conn, 1)
	pipeline, _ := newTestPipeline(t, conn)
	queue := jobs.NewQueue(conn)
	handler := NewHandler(queue, pipeline, zap.NewNop().Sugar(), 0)

	assert.Equal(t, HandlerName, handler.Name())

	job := newBatchJob(t, Payload{WorkspaceID: 1, PersonIDs: []int64{personID}})
	require.NoError(t, queue.Enqueue(job))

	require.NoError(t, handler.Execute(context.Background(), job))
	assert.Equal(t, 100, job.Progress)

	var result Result
	require.NoError(t, json.Unmarshal(job.ReturnValue, &result))
	assert.Equal(t, 3, result.TotalResponses)
	assert.Equal(t, 1, result.StatusCounts[StatusCodingComplete])
}

func TestHandlerExecuteResolvesGroups(t *testing.T) {
	conn := codermilltest.CreateTestDB(t)
	personID := seedWorkspace(t, conn, 1)
	pipeline, _ := newTestPipeline(t, conn)
	queue := jobs.NewQueue(conn)
	handler := NewHandler(queue, pipeline, zap.NewNop().Sugar(), 0)

	// The person is named both explicitly and via its group; it must be
	// coded exactly once
	job := newBatchJob(t, Payload{
		WorkspaceID: 1,
		PersonIDs:   []int64{personID},
		GroupNames:  []string{"groupA"},
	})
	require.NoError(t, queue.Enqueue(job))
	require.NoError(t, handler.Execute(context.Background(), job))

	var result Result
	require.NoError(t, json.Unmarshal(job.ReturnValue, &result))
	assert.Equal(t, 3, result.TotalResponses)
}

func TestHandlerExecuteNoPersons(t *testing.T) {
	conn := codermilltest.CreateTestDB(t)
	pipeline, _ := newTestPipeline(t, conn)
	queue := jobs.NewQueue(conn)
	handler := NewHandler(queue, pipeline, zap.NewNop().Sugar(), 0)

	job := newBatchJob(t, Payload{WorkspaceID: 1, GroupNames: []string{"empty"}})
	require.NoError(t, queue.Enqueue(job))

	err := handler.Execute(context.Background(), job)
	require.Error(t, err, "A run with no persons is an invalid request")
}

func TestHandlerExecuteStopsWhenPaused(t *testing.T) {
	conn := codermilltest.CreateTestDB(t)
	personID := seedWorkspace(t, conn, 1)
	pipeline, _ := newTestPipeline(t, conn)
	queue := jobs.NewQueue(conn)
	handler := NewHandler(queue, pipeline, zap.NewNop().Sugar(), 0)

	job := newBatchJob(t, Payload{WorkspaceID: 1, PersonIDs: []int64{personID}})
	require.NoError(t, queue.Enqueue(job))
	require.NoError(t, queue.RequestPause(job.ID, "user_requested"))

	require.NoError(t, handler.Execute(context.Background(), job))
	assert.Equal(t, 0, job.Progress, "A paused run keeps its last checkpoint")

	var result Result
	require.NoError(t, json.Unmarshal(job.ReturnValue, &result))
	assert.Equal(t, 0, result.TotalResponses, "A paused job must not code anything")

	var coded int
	require.NoError(t, conn.QueryRow(
		`SELECT COUNT(*) FROM responses WHERE status != 'VALUE_CHANGED'`).Scan(&coded))
	assert.Equal(t, 0, coded)
}

func TestHandlerExecuteStopsOnContextCancel(t *testing.T) {
	conn := codermilltest.CreateTestDB(t)
	personID := seedWorkspace(t, conn, 1)
	pipeline, _ := newTestPipeline(t, conn)
	queue := jobs.NewQueue(conn)
	handler := NewHandler(queue, pipeline, zap.NewNop().Sugar(), 0)

	job := newBatchJob(t, Payload{WorkspaceID: 1, PersonIDs: []int64{personID}})
	require.NoError(t, queue.Enqueue(job))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := handler.Execute(ctx, job)
	require.Error(t, err, "A shutdown must surface so the worker can requeue the job")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, job.Progress, "A cut-short run must not report completion")

	var result Result
	require.NoError(t, json.Unmarshal(job.ReturnValue, &result))
	assert.Equal(t, 0, result.TotalResponses)
}

func TestHandlerExecuteBadPayload(t *testing.T) {
	conn := codermilltest.CreateTestDB(t)
	pipeline, _ := newTestPipeline(t, conn)
	queue := jobs.NewQueue(conn)
	handler := NewHandler(queue, pipeline, zap.NewNop().Sugar(), 0)

	job, err := jobs.NewJob(HandlerName, "", json.RawMessage(`{not json`))
	require.NoError(t, err)

	require.Error(t, handler.Execute(context.Background(), job))
}

func TestChunkInt64s(t *testing.T) {
	chunks := chunkInt64s([]int64{1, 2, 3, 4, 5}, 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int64{1, 2}, chunks[0])
	assert.Equal(t, []int64{5}, chunks[2])

	assert.Nil(t, chunkInt64s(nil, 2))
}
