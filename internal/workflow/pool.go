// -----------------------------------------------------------------------
// Worker pool - fixed-size workers over a bounded in-memory FIFO.
// Capacity is reserved before a job is created, so an accepted
// submission is always runnable.
// -----------------------------------------------------------------------

package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/common"
	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
)

// overflowRetryAfter is the Retry-After hint handed to clients when the
// queue is full
const overflowRetryAfter = 5 * time.Second

// Pool runs the stage runtime across a fixed set of workers
type Pool struct {
	store   interfaces.JobStore
	runtime *Runtime
	logger  arbor.ILogger

	queue chan string
	slots chan struct{}

	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewPool creates a worker pool with the given worker count and queue
// capacity
func NewPool(store interfaces.JobStore, runtime *Runtime, workers, queueSize int, logger arbor.ILogger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		store:   store,
		runtime: runtime,
		logger:  logger,
		queue:   make(chan string, queueSize),
		slots:   make(chan struct{}, queueSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	p.logger.Info().
		Int("workers", p.workers).
		Int("queue_size", cap(p.queue)).
		Msg("Starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		workerID := i
		common.SafeGo(p.logger, "worker", func() {
			defer p.wg.Done()
			p.worker(workerID)
		})
	}
}

// Stop stops intake and waits for in-flight jobs to finish
func (p *Pool) Stop() {
	p.logger.Info().Msg("Stopping worker pool")
	p.cancel()
	p.wg.Wait()
	p.logger.Info().Msg("Worker pool stopped")
}

// Depth returns the number of queued jobs awaiting a worker
func (p *Pool) Depth() int {
	return len(p.queue)
}

// Submit reserves queue capacity, creates the job and enqueues it.
// A full queue is rejected with ServiceBusy before anything persists.
func (p *Pool) Submit(ctx context.Context, projectID string, initial models.InitialState) (string, error) {
	select {
	case p.slots <- struct{}{}:
	default:
		p.logger.Warn().
			Str("project_id", projectID).
			Int("queue_depth", len(p.queue)).
			Msg("Submission rejected, queue full")
		return "", common.NewBusyError(overflowRetryAfter)
	}

	jobID, err := p.store.CreateJob(ctx, projectID, initial)
	if err != nil {
		<-p.slots
		return "", err
	}

	if err := p.store.Transition(ctx, jobID, models.JobStatusPending, models.JobStatusQueued, nil); err != nil {
		<-p.slots
		return "", err
	}

	// Reserved capacity guarantees this send never blocks
	p.queue <- jobID

	p.logger.Info().
		Str("job_id", jobID).
		Str("project_id", projectID).
		Int("queue_depth", len(p.queue)).
		Msg("Job enqueued")

	return jobID, nil
}

func (p *Pool) worker(workerID int) {
	p.logger.Debug().Int("worker_id", workerID).Msg("Worker started")

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug().Int("worker_id", workerID).Msg("Worker stopping")
			return
		case jobID := <-p.queue:
			<-p.slots
			p.logger.Debug().
				Int("worker_id", workerID).
				Str("job_id", jobID).
				Msg("Worker picked up job")
			p.runtime.Execute(p.ctx, jobID)
		}
	}
}
