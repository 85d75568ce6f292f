package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	codermilltest "github.com/assessly/codermill/internal/testing"
)

func newTestPool(t *testing.T, handlers ...JobHandler) *WorkerPool {
	t.Helper()

	cfg := WorkerPoolConfig{
		Workers:           1,
		PollInterval:      10 * time.Millisecond,
		DispatchPerSecond: 0,
	}
	pool := NewWorkerPool(context.Background(), codermilltest.CreateTestDB(t), cfg, zap.NewNop().Sugar())
	for _, h := range handlers {
		pool.Registry().Register(h)
	}
	return pool
}

func TestWorkerPoolProcessesJob(t *testing.T) {
	handler := &stubHandler{name: "coding.batch"}
	pool := newTestPool(t, handler)

	job := mustNewJob(t, "coding.batch", "workspace:1")
	job.ReturnValue = json.RawMessage(`{"totalResponses":0}`)
	require.NoError(t, pool.Queue().Enqueue(job))

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		current, err := pool.Queue().GetJob(job.ID)
		return err == nil && current.State == StateCompleted
	}, 2*time.Second, 10*time.Millisecond, "Job should run to completion")

	assert.Equal(t, 1, handler.calls)
}

func TestWorkerPoolFailsJobOnHandlerError(t *testing.T) {
	handler := &stubHandler{name: "coding.batch", err: assert.AnError}
	pool := newTestPool(t, handler)

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, pool.Queue().Enqueue(job))

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		current, err := pool.Queue().GetJob(job.ID)
		return err == nil && current.State == StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	current, err := pool.Queue().GetJob(job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, current.FailureReason)
}

func TestWorkerPoolRecoversOrphanedJobs(t *testing.T) {
	handler := &stubHandler{name: "coding.batch"}
	pool := newTestPool(t, handler)

	// Simulate a crash: a job left active with no worker attached
	orphan := mustNewJob(t, "coding.batch", "")
	orphan.Start()
	orphan.UpdateProgress(40)
	require.NoError(t, pool.Queue().Store().CreateJob(orphan))

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		current, err := pool.Queue().GetJob(orphan.ID)
		return err == nil && current.State == StateCompleted
	}, 2*time.Second, 10*time.Millisecond, "Orphaned jobs should be requeued and run")
}

func TestWorkerPoolLeavesPausedJobUncompleted(t *testing.T) {
	pool := newTestPool(t)

	// A handler that pauses its own job mid-run, the way the batch
	// handler exits when it observes an operator pause
	queue := pool.Queue()
	pool.Registry().Register(&funcHandler{name: "coding.batch", fn: func(ctx context.Context, job *Job) error {
		return queue.RequestPause(job.ID, "user_requested")
	}})

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, queue.Enqueue(job))

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		current, err := queue.GetJob(job.ID)
		return err == nil && current.IsPaused
	}, 2*time.Second, 10*time.Millisecond)

	// Give the worker a chance to (incorrectly) complete it
	time.Sleep(50 * time.Millisecond)
	current, err := queue.GetJob(job.ID)
	require.NoError(t, err)
	assert.NotEqual(t, StateCompleted, current.State,
		"A job paused mid-run must not be marked completed")
}

func TestWorkerPoolRequeuesShutdownInterruptedJob(t *testing.T) {
	pool := newTestPool(t)
	queue := pool.Queue()

	// A handler that, like the batch handler, surfaces a shutdown as the
	// context error once it observes cancellation
	started := make(chan struct{}, 1)
	pool.Registry().Register(&funcHandler{name: "coding.batch", fn: func(ctx context.Context, job *Job) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}})

	job := mustNewJob(t, "coding.batch", "workspace:1")
	require.NoError(t, queue.Enqueue(job))

	pool.Start()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}
	pool.Stop()

	current, err := queue.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, current.State,
		"A shutdown-interrupted job must be requeued, not finished")
	assert.Empty(t, current.FailureReason)
}

type funcHandler struct {
	name string
	fn   func(ctx context.Context, job *Job) error
}

func (h *funcHandler) Execute(ctx context.Context, job *Job) error { return h.fn(ctx, job) }
func (h *funcHandler) Name() string                                { return h.name }
