package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/phenoscope-backend/internal/apperr"
	"github.com/yungbote/phenoscope-backend/internal/logger"
	"github.com/yungbote/phenoscope-backend/internal/repos"
	"github.com/yungbote/phenoscope-backend/internal/types"
)

// ErrJobNotFound is returned when a job id does not match any row.
var ErrJobNotFound = errors.New("job not found")

// RunFunc executes one claimed job. It reports through the Execution handle;
// a returned error is a safety net for pipelines that did not call Fail
// themselves.
type RunFunc func(ex *Execution) error

// Coordinator owns the bounded job queue and the fixed worker pool. Enqueue
// never blocks: a full queue is reported immediately as capacity_exceeded so
// callers can shed load instead of piling up goroutines.
type Coordinator struct {
	log      *logger.Logger
	repo     repos.AssocJobRepo
	notify   Notifier
	run      RunFunc
	queue    chan *types.AssocJob
	deadline time.Duration

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc

	wg sync.WaitGroup
}

func NewCoordinator(baseLog *logger.Logger, repo repos.AssocJobRepo, notify Notifier, run RunFunc, queueCapacity int, deadline time.Duration) *Coordinator {
	if queueCapacity < 1 {
		queueCapacity = 1
	}
	if notify == nil {
		notify = NoopNotifier{}
	}
	return &Coordinator{
		log:      baseLog.With("component", "JobCoordinator"),
		repo:     repo,
		notify:   notify,
		run:      run,
		queue:    make(chan *types.AssocJob, queueCapacity),
		deadline: deadline,
		cancels:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled and the
// queue has drained; Wait blocks until then.
func (c *Coordinator) Start(ctx context.Context, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	c.log.Info("Starting worker pool", "concurrency", concurrency, "queue_capacity", cap(c.queue))
	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		c.wg.Add(1)
		go c.runLoop(ctx, workerID)
	}
}

// Wait blocks until every worker has stopped.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Enqueue hands a queued job to the pool. The job row must already exist.
func (c *Coordinator) Enqueue(job *types.AssocJob) error {
	select {
	case c.queue <- job:
		c.notify.JobQueued(job)
		return nil
	default:
		return apperr.New(apperr.KindCapacityExceeded, "job queue full (capacity %d)", cap(c.queue))
	}
}

// QueueDepth reports how many jobs are waiting for a worker.
func (c *Coordinator) QueueDepth() int {
	return len(c.queue)
}

// Cancel flips a job to cancelled. If the job is still queued the status
// write alone retires it (the worker skips rows that are no longer queued);
// if it is running the registered CancelFunc tears down its context.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID) (*types.AssocJob, error) {
	job, err := c.repo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageError, err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if types.TerminalStatus(job.Status) {
		return job, nil
	}

	now := time.Now()
	ok, err := c.repo.UpdateFieldsUnlessStatus(ctx, nil, id, terminalStatuses, map[string]interface{}{
		"status":      types.JobStatusCancelled,
		"error":       "job cancelled",
		"error_kind":  string(apperr.KindCancelled),
		"finished_at": now,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageError, err)
	}

	c.mu.Lock()
	cancel := c.cancels[id]
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if ok {
		job.Status = types.JobStatusCancelled
		job.Error = "job cancelled"
		job.ErrorKind = string(apperr.KindCancelled)
		job.FinishedAt = &now
		c.notify.JobCancelled(job)
	}
	return job, nil
}

func (c *Coordinator) runLoop(ctx context.Context, workerID int) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("Worker stopped", "worker_id", workerID)
			return
		case job := <-c.queue:
			c.execute(ctx, workerID, job)
		}
	}
}

func (c *Coordinator) execute(ctx context.Context, workerID int, job *types.AssocJob) {
	jobCtx, cancel := context.WithDeadline(ctx, time.Now().Add(c.deadline))
	defer cancel()

	c.mu.Lock()
	c.cancels[job.ID] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.cancels, job.ID)
		c.mu.Unlock()
	}()

	now := time.Now()
	deadline := now.Add(c.deadline)
	claimed, err := c.repo.UpdateFieldsUnlessStatus(jobCtx, nil, job.ID, terminalStatuses, map[string]interface{}{
		"status":       types.JobStatusRunning,
		"stage":        "claimed",
		"started_at":   now,
		"deadline":     deadline,
		"heartbeat_at": now,
	})
	if err != nil {
		c.log.Warn("Failed to claim job", "worker_id", workerID, "job_id", job.ID, "error", err)
		return
	}
	if !claimed {
		// Cancelled while queued.
		c.log.Info("Skipping retired job", "worker_id", workerID, "job_id", job.ID)
		return
	}
	job.Status = types.JobStatusRunning
	job.StartedAt = &now
	job.Deadline = &deadline

	ex := NewExecution(jobCtx, job, c.repo, c.notify)

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Job panicked",
				"worker_id", workerID,
				"job_id", job.ID,
				"panic", r,
			)
			ex.Fail("panic", apperr.New(apperr.KindNumericInstability, "panic during computation: %v", r))
		}
	}()

	if runErr := c.run(ex); runErr != nil {
		ex.Fail("run", runErr)
	}
}
