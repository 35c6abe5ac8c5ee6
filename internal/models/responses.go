package models

import (
	"time"
)

// SubmitResponse acknowledges an accepted workflow submission
type SubmitResponse struct {
	JobID       string `json:"job_id"`
	IngestionID string `json:"ingestion_id,omitempty"`
}

// JobStatusResponse is the poll view of a job. It never carries the result.
type JobStatusResponse struct {
	JobID        string     `json:"job_id"`
	Status       JobStatus  `json:"status"`
	ProgressPct  float64    `json:"progress_pct"`
	CurrentStage string     `json:"current_stage,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Error        string     `json:"error,omitempty"`
}

// NewJobStatusResponse builds the status view from a job snapshot
func NewJobStatusResponse(job *Job) JobStatusResponse {
	return JobStatusResponse{
		JobID:        job.ID,
		Status:       job.Status,
		ProgressPct:  job.Progress,
		CurrentStage: job.CurrentStage,
		StartedAt:    job.StartedAt,
		UpdatedAt:    job.UpdatedAt,
		Error:        job.Error,
	}
}

// NewResultEnvelope normalizes a job result for serving. The triples array
// is always present, empty when no claims were produced; this holds even if
// a stage left the result partially populated.
func NewResultEnvelope(job *Job) *JobResult {
	result := job.Result
	if result == nil {
		result = NewJobResult()
	}
	result.Normalize()
	return result
}

// ProjectHubView partitions projects into active and archived for the hub.
// Active means a job within the activity window or currently processing.
type ProjectHubView struct {
	Active   []ProjectSummary `json:"active"`
	Archived []ProjectSummary `json:"archived"`
}

// ProjectSummary is the hub listing row
type ProjectSummary struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	RigorLevel    RigorLevel `json:"rigor_level"`
	Tags          []string   `json:"tags,omitempty"`
	Status        string     `json:"status"` // Derived from the latest job
	SeedFileCount int        `json:"seed_file_count"`
	LastJobAt     *time.Time `json:"last_job_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HealthResponse is the component liveness summary
type HealthResponse struct {
	Status     string            `json:"status"` // "ok" or "degraded"
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}
