package jobs

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/assessly/codermill/db"
	"github.com/assessly/codermill/errors"
)

const (
	// MaxOrphanedJobsToRecover limits how many orphaned jobs are requeued
	// on startup after a crash
	MaxOrphanedJobsToRecover = 1000
)

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers           int           `json:"workers"`             // Number of concurrent workers
	PollInterval      time.Duration `json:"poll_interval"`       // How often to check for new jobs
	DispatchPerSecond float64       `json:"dispatch_per_second"` // Dispatch rate gate; 0 disables
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:           1,
		PollInterval:      5 * time.Second,
		DispatchPerSecond: 2.0,
	}
}

// WorkerPool manages a pool of workers that process background jobs.
// Dispatch is throttled by a token-bucket limiter so a flood of enqueued
// batch runs does not saturate the database.
type WorkerPool struct {
	queue     *Queue
	executor  JobExecutor
	limiter   *rate.Limiter
	config    WorkerPoolConfig
	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	mu        sync.Mutex
}

// NewWorkerPool creates a worker pool with an empty handler registry.
// Callers must register handlers via Registry() before calling Start().
func NewWorkerPool(ctx context.Context, database *sql.DB, cfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithRegistry(ctx, database, cfg, logger, NewHandlerRegistry())
}

// NewWorkerPoolWithRegistry creates a worker pool with a custom handler
// registry. Cancelling the parent context shuts the workers down; jobs
// caught mid-execution are requeued with their progress intact.
func NewWorkerPoolWithRegistry(ctx context.Context, database *sql.DB, cfg WorkerPoolConfig, logger *zap.SugaredLogger, registry *HandlerRegistry) *WorkerPool {
	workerCtx, cancel := context.WithCancel(ctx)

	var limiter *rate.Limiter
	if cfg.DispatchPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.DispatchPerSecond), 1)
	}

	return &WorkerPool{
		queue:     NewQueue(database),
		executor:  NewRegistryExecutor(registry),
		limiter:   limiter,
		config:    cfg,
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		logger:    logger.Named("worker"),
	}
}

// Registry returns the handler registry for registering job handlers
// before Start().
func (wp *WorkerPool) Registry() *HandlerRegistry {
	if exec, ok := wp.executor.(*RegistryExecutor); ok {
		return exec.registry
	}
	return nil
}

// Queue returns the job queue (useful for enqueuing jobs)
func (wp *WorkerPool) Queue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured
func (wp *WorkerPool) Workers() int {
	return wp.config.Workers
}

// Start begins processing jobs. Jobs orphaned in the active state by a
// previous crash are requeued first.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	// A pool stopped once can be started again; recreate the context
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
	default:
	}
	wp.mu.Unlock()

	if err := wp.recoverOrphanedJobs(); err != nil {
		wp.logger.Warnw("Failed to recover orphaned jobs", "error", err)
	}

	for i := 0; i < wp.config.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop gracefully stops the worker pool, waiting up to 30 seconds for
// in-flight jobs to checkpoint and exit.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped, all workers exited cleanly")
	case <-time.After(30 * time.Second):
		wp.logger.Warnw("Worker pool stop timed out, workers may still be checkpointing")
	}
}

// recoverOrphanedJobs finds jobs stuck in the active state after an
// ungraceful shutdown and requeues them.
func (wp *WorkerPool) recoverOrphanedJobs() error {
	activeState := StateActive
	orphaned, err := wp.queue.store.ListJobs(&activeState, MaxOrphanedJobsToRecover)
	if err != nil {
		return errors.Wrap(err, "failed to list active jobs")
	}

	if len(orphaned) == 0 {
		return nil
	}

	wp.logger.Infow("Requeueing jobs orphaned by previous shutdown", "count", len(orphaned))

	for _, job := range orphaned {
		job.State = StateWaiting
		job.FailureReason = ""
		job.UpdatedAt = time.Now()
		if err := wp.queue.UpdateJob(job); err != nil {
			wp.logger.Warnw("Failed to requeue orphaned job", "job_id", job.ID, "error", err)
		}
	}

	return nil
}

// worker polls the queue on a fixed interval
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	interval := wp.config.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.processNextJob(); err != nil {
				select {
				case <-wp.ctx.Done():
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) || db.IsDatabaseClosed(err) {
					// Database closed during shutdown
					return
				}
				wp.logger.Errorw("Worker error processing job", "worker_id", id, "error", err)
			}
		}
	}
}

// processNextJob dequeues and executes a single job
func (wp *WorkerPool) processNextJob() error {
	select {
	case <-wp.ctx.Done():
		return nil
	default:
	}

	// Dispatch gate: when the token bucket is empty, leave the job in
	// the queue until the next poll
	if wp.limiter != nil && !wp.limiter.Allow() {
		return nil
	}

	job, err := wp.queue.Dequeue()
	if err != nil {
		return errors.Wrap(err, "failed to dequeue job")
	}
	if job == nil {
		return nil
	}

	wp.logger.Infow("Job started", "job_id", job.ID, "handler", job.HandlerName, "source", job.Source)

	if err := wp.executor.Execute(wp.ctx, job); err != nil {
		select {
		case <-wp.ctx.Done():
			// Shutdown caught the job mid-flight; requeue with its
			// progress intact rather than failing it
			job.State = StateWaiting
			job.UpdatedAt = time.Now()
			if updateErr := wp.queue.UpdateJob(job); updateErr != nil {
				wp.logger.Errorw("Failed to requeue interrupted job", "job_id", job.ID, "error", updateErr)
			}
			return nil
		default:
			wp.logger.Errorw("Job failed", "job_id", job.ID, "handler", job.HandlerName, "error", err)
			return wp.queue.FailJob(job.ID, err)
		}
	}

	// Paused mid-run: the handler drained its current chunk and exited.
	// Leave the job where the pause put it instead of completing it.
	current, err := wp.queue.GetJob(job.ID)
	if err == nil && current.IsPaused {
		return nil
	}

	wp.logger.Infow("Job completed", "job_id", job.ID, "handler", job.HandlerName)
	return wp.queue.CompleteJob(job.ID, job.ReturnValue)
}
