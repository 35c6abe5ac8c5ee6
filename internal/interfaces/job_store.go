package interfaces

import (
	"context"

	"github.com/ternarybob/scribo/internal/models"
)

// JobPatch carries the optional field updates applied alongside a status
// transition. Nil fields are left untouched.
type JobPatch struct {
	CurrentStage string
	Progress     *float64
}

// JobStore is the atomic per-job state machine and the only source of
// truth for job status. Every mutation is durable before it returns and
// published to stream subscribers afterwards.
type JobStore interface {
	// CreateJob writes a PENDING job and returns its id
	CreateJob(ctx context.Context, projectID string, initial models.InitialState) (string, error)

	// Transition compare-and-swaps the status from→to, applying the patch.
	// Fails when the current status does not match from.
	Transition(ctx context.Context, jobID string, from, to models.JobStatus, patch *JobPatch) error

	// SetProgress updates progress and the current stage of a RUNNING job
	SetProgress(ctx context.Context, jobID, stage string, pct float64) error

	// Heartbeat stamps worker liveness on a RUNNING job without touching
	// progress
	Heartbeat(ctx context.Context, jobID string) error

	// SetResult transitions RUNNING → SUCCEEDED with the result blob
	SetResult(ctx context.Context, jobID string, result *models.JobResult) error

	// SetError transitions any non-terminal status → FAILED
	SetError(ctx context.Context, jobID, message string) error

	// SetCancelled transitions any non-terminal status → CANCELLED
	SetCancelled(ctx context.Context, jobID string) error

	// RequestCancel records the client cancellation intent. The running
	// stage observes it at its next suspension point.
	RequestCancel(ctx context.Context, jobID string) error

	// CancelRequested reports whether cancellation intent is set
	CancelRequested(jobID string) bool

	// CancelChannel returns a channel closed when cancellation is
	// requested for the job
	CancelChannel(jobID string) <-chan struct{}

	// Read returns a point-in-time snapshot of the job
	Read(ctx context.Context, jobID string) (*models.Job, error)

	// StreamUpdates yields snapshots at each state change until terminal.
	// The returned cancel func releases the subscription.
	StreamUpdates(ctx context.Context, jobID string) (<-chan models.Job, func(), error)

	// LatestJobForProject returns the most recently created job for a
	// project, or nil when the project has none
	LatestJobForProject(ctx context.Context, projectID string) (*models.Job, error)

	// CountJobsForProject returns how many jobs a project has submitted
	CountJobsForProject(ctx context.Context, projectID string) (int, error)

	// ListByStatus returns jobs currently in the given status
	ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
}
