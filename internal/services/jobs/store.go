// -----------------------------------------------------------------------
// Job store - atomic per-job state machine over durable local storage.
// The only source of truth for job status; stages never infer status
// from side effects.
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/clients"
	"github.com/ternarybob/scribo/internal/common"
	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
)

// ErrJobTerminal is returned for mutations against a terminal job
var ErrJobTerminal = errors.New("job is terminal")

// streamBuffer bounds each subscriber channel. A slow consumer misses
// intermediate snapshots but still observes a monotonic sequence and
// always receives the terminal one.
const streamBuffer = 64

// Store implements interfaces.JobStore. Mutations are serialized through
// one mutex: load, validate the transition, persist, then broadcast the
// new snapshot to stream subscribers and the event bus.
type Store struct {
	storage   interfaces.JobStorage
	events    interfaces.EventService
	telemetry interfaces.TelemetryService
	graph     *clients.GraphClient // Optional terminal-snapshot mirror
	logger    arbor.ILogger

	mu          sync.Mutex
	subscribers map[string][]chan models.Job
	cancels     map[string]chan struct{}
}

// NewStore creates a job store. graph may be nil; terminal snapshots are
// then not mirrored.
func NewStore(storage interfaces.JobStorage, events interfaces.EventService, telemetry interfaces.TelemetryService, graph *clients.GraphClient, logger arbor.ILogger) *Store {
	return &Store{
		storage:     storage,
		events:      events,
		telemetry:   telemetry,
		graph:       graph,
		logger:      logger,
		subscribers: make(map[string][]chan models.Job),
		cancels:     make(map[string]chan struct{}),
	}
}

// Compile-time assertion
var _ interfaces.JobStore = (*Store)(nil)

// CreateJob writes a PENDING job and returns its id. The write is
// durable before the id is handed out.
func (s *Store) CreateJob(ctx context.Context, projectID string, initial models.InitialState) (string, error) {
	job := models.NewJob(projectID, initial)

	if err := s.storage.SaveJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("project_id", projectID).
		Msg("Job created")

	return job.ID, nil
}

// Transition compare-and-swaps the job status, applying the patch
func (s *Store) Transition(ctx context.Context, jobID string, from, to models.JobStatus, patch *interfaces.JobPatch) error {
	return s.mutate(ctx, jobID, func(job *models.Job) error {
		if job.Status != from {
			return fmt.Errorf("job %s is %s, expected %s", jobID, job.Status, from)
		}

		var err error
		switch to {
		case models.JobStatusQueued:
			err = job.MarkQueued()
		case models.JobStatusRunning:
			err = job.MarkStarted()
		case models.JobStatusSucceeded:
			err = job.MarkSucceeded(nil)
		case models.JobStatusFailed:
			err = job.MarkFailed(job.Error)
		case models.JobStatusCancelled:
			err = job.MarkCancelled()
		default:
			err = fmt.Errorf("unknown target status %s", to)
		}
		if err != nil {
			return err
		}

		if patch != nil {
			if patch.CurrentStage != "" {
				job.CurrentStage = patch.CurrentStage
			}
			if patch.Progress != nil {
				job.SetProgress(job.CurrentStage, *patch.Progress)
			}
		}
		return nil
	})
}

// SetProgress updates progress and current stage of a RUNNING job
func (s *Store) SetProgress(ctx context.Context, jobID, stage string, pct float64) error {
	return s.mutate(ctx, jobID, func(job *models.Job) error {
		if job.Status != models.JobStatusRunning {
			return fmt.Errorf("job %s is %s, progress requires RUNNING", jobID, job.Status)
		}
		job.SetProgress(stage, pct)
		return nil
	})
}

// Heartbeat stamps worker liveness on a RUNNING job. Heartbeats are
// persisted but not broadcast; streams only carry state changes.
func (s *Store) Heartbeat(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusRunning {
		return nil
	}
	job.Heartbeat()
	return s.storage.SaveJob(ctx, job)
}

// SetResult transitions RUNNING → SUCCEEDED with the result blob
func (s *Store) SetResult(ctx context.Context, jobID string, result *models.JobResult) error {
	return s.mutate(ctx, jobID, func(job *models.Job) error {
		if job.Status != models.JobStatusRunning {
			return fmt.Errorf("job %s is %s, result requires RUNNING", jobID, job.Status)
		}
		return job.MarkSucceeded(result)
	})
}

// SetError transitions any non-terminal status → FAILED
func (s *Store) SetError(ctx context.Context, jobID, message string) error {
	return s.mutate(ctx, jobID, func(job *models.Job) error {
		if job.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrJobTerminal, jobID)
		}
		return job.MarkFailed(message)
	})
}

// SetCancelled transitions any non-terminal status → CANCELLED
func (s *Store) SetCancelled(ctx context.Context, jobID string) error {
	return s.mutate(ctx, jobID, func(job *models.Job) error {
		if job.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrJobTerminal, jobID)
		}
		return job.MarkCancelled()
	})
}

// RequestCancel records the cancellation intent and signals the cancel
// channel. The running stage observes it at its next suspension point.
func (s *Store) RequestCancel(ctx context.Context, jobID string) error {
	err := s.mutate(ctx, jobID, func(job *models.Job) error {
		if job.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrJobTerminal, jobID)
		}
		job.CancelRequested = true
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	ch, ok := s.cancels[jobID]
	if !ok {
		ch = make(chan struct{})
		s.cancels[jobID] = ch
	}
	select {
	case <-ch:
		// already closed
	default:
		close(ch)
	}
	s.mu.Unlock()

	s.logger.Info().Str("job_id", jobID).Msg("Job cancellation requested")
	return nil
}

// CancelRequested reports whether cancellation intent is set
func (s *Store) CancelRequested(jobID string) bool {
	job, err := s.storage.GetJob(context.Background(), jobID)
	if err != nil {
		return false
	}
	return job.CancelRequested
}

// CancelChannel returns a channel closed once cancellation is requested
func (s *Store) CancelChannel(jobID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.cancels[jobID]
	if !ok {
		ch = make(chan struct{})
		s.cancels[jobID] = ch
	}
	return ch
}

// Read returns a point-in-time snapshot of the job
func (s *Store) Read(ctx context.Context, jobID string) (*models.Job, error) {
	return s.storage.GetJob(ctx, jobID)
}

// StreamUpdates subscribes to a job's snapshot stream. The current
// snapshot is replayed immediately; the channel closes after a terminal
// snapshot is delivered. Subscribers joining after terminal get exactly
// the stored snapshot.
func (s *Store) StreamUpdates(ctx context.Context, jobID string) (<-chan models.Job, func(), error) {
	// Read and register under the store mutex so the replayed snapshot
	// cannot be older than a concurrently broadcast one.
	s.mu.Lock()
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}

	ch := make(chan models.Job, streamBuffer)

	if job.IsTerminal() {
		s.mu.Unlock()
		ch <- *job
		close(ch)
		return ch, func() {}, nil
	}

	s.subscribers[jobID] = append(s.subscribers[jobID], ch)
	ch <- *job
	s.mu.Unlock()

	cancel := func() { s.unsubscribe(jobID, ch) }
	return ch, cancel, nil
}

// LatestJobForProject returns the most recently created job for a project
func (s *Store) LatestJobForProject(ctx context.Context, projectID string) (*models.Job, error) {
	jobsForProject, err := s.storage.ListJobs(ctx, &interfaces.JobListOptions{ProjectID: projectID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(jobsForProject) == 0 {
		return nil, nil
	}
	return jobsForProject[0], nil
}

// CountJobsForProject returns how many jobs a project has submitted
func (s *Store) CountJobsForProject(ctx context.Context, projectID string) (int, error) {
	jobsForProject, err := s.storage.ListJobs(ctx, &interfaces.JobListOptions{ProjectID: projectID})
	if err != nil {
		return 0, err
	}
	return len(jobsForProject), nil
}

// ListByStatus returns jobs currently in the given status
func (s *Store) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	return s.storage.ListJobs(ctx, &interfaces.JobListOptions{Status: status})
}

// mutate loads the job, applies fn, persists and broadcasts. The store
// mutex serializes the read-modify-write so CAS checks hold.
func (s *Store) mutate(ctx context.Context, jobID string, fn func(*models.Job) error) error {
	s.mu.Lock()
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	if err := fn(job); err != nil {
		s.mu.Unlock()
		return err
	}

	if err := s.storage.SaveJob(ctx, job); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to persist job %s: %w", jobID, err)
	}

	snapshot := *job
	terminal := job.IsTerminal()

	var subs []chan models.Job
	if chans, ok := s.subscribers[jobID]; ok {
		subs = append(subs, chans...)
		if terminal {
			delete(s.subscribers, jobID)
		}
	}
	if terminal {
		delete(s.cancels, jobID)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		if terminal {
			deliverTerminal(ch, snapshot)
			continue
		}
		select {
		case ch <- snapshot:
		default:
			// Slow consumer; drop the intermediate snapshot
		}
	}

	if s.events != nil {
		s.events.Publish(ctx, interfaces.Event{
			Type: interfaces.EventJobStatusChanged,
			Payload: map[string]interface{}{
				"job_id":       snapshot.ID,
				"project_id":   snapshot.ProjectID,
				"status":       string(snapshot.Status),
				"progress_pct": snapshot.Progress,
				"stage":        snapshot.CurrentStage,
			},
		})
	}

	if terminal {
		s.mirrorTerminal(snapshot)
	}

	return nil
}

// deliverTerminal forces the terminal snapshot into a subscriber channel,
// shedding the oldest buffered frame while the consumer is behind, then
// closes the channel so the consumer always ends on the terminal frame.
func deliverTerminal(ch chan models.Job, snapshot models.Job) {
	for {
		select {
		case ch <- snapshot:
			close(ch)
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// mirrorTerminal writes the terminal snapshot to the graph store jobs
// collection, best-effort with telemetry on failure.
func (s *Store) mirrorTerminal(snapshot models.Job) {
	if s.graph == nil {
		return
	}

	common.SafeGo(s.logger, "job-mirror", func() {
		ctx := context.Background()
		if err := s.graph.PutDocument(ctx, "jobs", snapshot.ID, &snapshot); err != nil {
			if s.telemetry != nil {
				s.telemetry.Record("job_mirror_failed", map[string]interface{}{
					"job_id": snapshot.ID,
					"error":  err.Error(),
				})
			}
			s.logger.Warn().Err(err).Str("job_id", snapshot.ID).Msg("Failed to mirror terminal job snapshot")
		}
	})
}

func (s *Store) unsubscribe(jobID string, ch chan models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chans := s.subscribers[jobID]
	for i, c := range chans {
		if c == ch {
			s.subscribers[jobID] = append(chans[:i], chans[i+1:]...)
			return
		}
	}
}
