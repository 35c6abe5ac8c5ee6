package interfaces

import (
	"context"

	"github.com/ternarybob/scribo/internal/models"
)

// JobStorage persists workflow jobs. Writes are durable before they
// return; consumers may poll a job the moment its id is handed out.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// JobListOptions filters and pages a job listing. The zero value lists
// everything, newest first.
type JobListOptions struct {
	ProjectID string
	Status    models.JobStatus
	Limit     int
	Offset    int
}

// IngestionStorage persists the user-facing ingestion progress handles
type IngestionStorage interface {
	SaveIngestion(ctx context.Context, ingestion *models.Ingestion) error
	GetIngestion(ctx context.Context, ingestionID string) (*models.Ingestion, error)
	ListIngestions(ctx context.Context, projectID string) ([]*models.Ingestion, error)
}

// StorageManager provides access to the typed local stores
type StorageManager interface {
	JobStorage() JobStorage
	IngestionStorage() IngestionStorage

	// RunGC triggers one value-log garbage collection pass
	RunGC() error

	Close() error
}
