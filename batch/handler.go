package batch

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/assessly/codermill/errors"
	"github.com/assessly/codermill/jobs"
)

// HandlerName identifies batch coding jobs in the queue.
const HandlerName = "coding.batch"

// DefaultChunkSize is how many persons one pipeline run covers.
const DefaultChunkSize = 100

// Payload is the job payload for a batch coding run.
type Payload struct {
	WorkspaceID int64    `json:"workspace_id"`
	PersonIDs   []int64  `json:"person_ids,omitempty"`
	GroupNames  []string `json:"group_names,omitempty"`
}

// Handler executes batch coding jobs: it resolves the payload to person
// ids, chunks them, and runs the pipeline once per chunk, reporting
// merged progress on the job.
type Handler struct {
	queue     *jobs.Queue
	pipeline  *Pipeline
	store     *Store
	logger    *zap.SugaredLogger
	chunkSize int
}

// NewHandler creates a batch coding job handler.
func NewHandler(queue *jobs.Queue, pipeline *Pipeline, logger *zap.SugaredLogger, chunkSize int) *Handler {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Handler{
		queue:     queue,
		pipeline:  pipeline,
		store:     pipeline.store,
		logger:    logger,
		chunkSize: chunkSize,
	}
}

// Name implements jobs.JobHandler.
func (h *Handler) Name() string {
	return HandlerName
}

// Execute implements jobs.JobHandler. Cancellation is cooperative: the
// pipeline polls the predicate between stages, and the handler checks it
// again between chunks, so a pause or shutdown stops the run at the next
// boundary with everything committed so far kept. A shutdown is returned
// as an error so the worker requeues the job rather than completing it.
func (h *Handler) Execute(ctx context.Context, job *jobs.Job) error {
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errors.Wrap(err, "failed to decode batch coding payload")
	}

	personIDs, err := h.resolvePersons(ctx, payload)
	if err != nil {
		return err
	}
	if len(personIDs) == 0 {
		return errors.NewInvalidRequestError("batch coding job has no persons to code")
	}

	cancelled := h.cancellationPredicate(ctx, job.ID)

	total := NewResult()
	chunks := chunkInt64s(personIDs, h.chunkSize)
	stopped := false
	for i, chunk := range chunks {
		if cancelled() {
			h.logger.Infow("Batch coding run stopped",
				"job_id", job.ID, "chunks_done", i, "chunks_total", len(chunks))
			stopped = true
			break
		}

		chunkIdx := i
		chunkResult := h.pipeline.Run(ctx, payload.WorkspaceID, chunk, cancelled, func(stagePct int) {
			// Overall progress interpolates the stage checkpoint into
			// this chunk's share of the run
			overall := (chunkIdx*100 + stagePct) / len(chunks)
			job.UpdateProgress(overall)
			if err := h.queue.UpdateJob(job); err != nil {
				h.logger.Warnw("Failed to report job progress", "job_id", job.ID, "error", err)
			}
		})
		total.Merge(chunkResult)
	}

	returnValue, err := json.Marshal(total)
	if err != nil {
		return errors.Wrap(err, "failed to encode batch coding result")
	}
	job.ReturnValue = returnValue

	// A cut-short run keeps its last checkpoint: full progress on a
	// partial result would read as a finished job
	if stopped {
		if err := ctx.Err(); err != nil {
			// Shutdown rather than pause: surface it so the worker
			// requeues the job instead of completing it
			return errors.Wrap(err, "batch coding run interrupted")
		}
		return nil
	}

	job.UpdateProgress(100)

	h.logger.Infow("Batch coding run finished",
		"job_id", job.ID,
		"workspace_id", payload.WorkspaceID,
		"persons", len(personIDs),
		"responses", total.TotalResponses)

	return nil
}

// resolvePersons merges explicit person ids with group membership.
func (h *Handler) resolvePersons(ctx context.Context, payload Payload) ([]int64, error) {
	seen := make(map[int64]bool)
	var ids []int64
	for _, id := range payload.PersonIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	if len(payload.GroupNames) > 0 {
		groupIDs, err := h.store.PersonIDsByGroups(ctx, payload.WorkspaceID, payload.GroupNames)
		if err != nil {
			return nil, err
		}
		for _, id := range groupIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	return ids, nil
}

// cancellationPredicate treats context cancellation, the queue-native
// paused state and the application-level pause flag all as stop signals.
func (h *Handler) cancellationPredicate(ctx context.Context, jobID string) func() bool {
	return func() bool {
		select {
		case <-ctx.Done():
			return true
		default:
		}

		current, err := h.queue.GetJob(jobID)
		if err != nil {
			// Job deleted out from under us
			return true
		}
		return current.IsPaused || current.State == jobs.StatePaused
	}
}

func chunkInt64s(ids []int64, size int) [][]int64 {
	var chunks [][]int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
