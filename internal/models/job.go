// -----------------------------------------------------------------------
// Job - persistent workflow job state with a DAG of status transitions
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/scribo/internal/common"
)

// InitialState is the request payload plus the project-context snapshot
// captured at submission. In-flight jobs are unaffected by later project
// edits; replays read this snapshot, never the live project.
type InitialState struct {
	Text            string     `json:"text,omitempty"`
	PDFPath         string     `json:"pdf_path,omitempty"`
	UploadPath      string     `json:"upload_path,omitempty"` // Spooled multipart upload
	UploadFilename  string     `json:"upload_filename,omitempty"`
	UploadHash      string     `json:"upload_hash,omitempty"`
	HasUpload       bool       `json:"has_upload"`
	IngestionID     string     `json:"ingestion_id,omitempty"` // Progress handle created at upload time
	RigorLevel      RigorLevel `json:"rigor_level"`
	DeadlineMinutes int        `json:"deadline_minutes,omitempty"`
	ProjectContext  Project    `json:"project_context"`
	SubmittedAt     time.Time  `json:"submitted_at"`
}

// ExtractedJSON is the canonical claim envelope. Triples is always present
// in serialized results, empty when no claims were produced.
type ExtractedJSON struct {
	Triples []Claim `json:"triples"`
}

// JobResult is populated only on SUCCEEDED
type JobResult struct {
	ExtractedJSON    ExtractedJSON     `json:"extracted_json"`
	ArtifactManifest *ArtifactManifest `json:"artifact_manifest,omitempty"`
}

// NewJobResult returns a result envelope with the triples array initialized
func NewJobResult() *JobResult {
	return &JobResult{ExtractedJSON: ExtractedJSON{Triples: []Claim{}}}
}

// Normalize guarantees the stable result shape regardless of stage output
func (r *JobResult) Normalize() {
	if r.ExtractedJSON.Triples == nil {
		r.ExtractedJSON.Triples = []Claim{}
	}
}

// Job is one workflow execution. Once terminal its fields are immutable.
type Job struct {
	ID           string       `json:"id"`
	ProjectID    string       `json:"project_id"`
	IngestionID  string       `json:"ingestion_id,omitempty"`
	Status       JobStatus    `json:"status"`
	CurrentStage string       `json:"current_stage,omitempty"`
	Progress     float64      `json:"progress_pct"`
	InitialState InitialState `json:"initial_state"`
	Result       *JobResult   `json:"result,omitempty"`
	Error        string       `json:"error,omitempty"`

	// CancelRequested is the client cancellation intent, read by the
	// running stage at each suspension point.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewJob creates a PENDING job with the given initial state
func NewJob(projectID string, initial InitialState) *Job {
	now := time.Now().UTC()
	if initial.SubmittedAt.IsZero() {
		initial.SubmittedAt = now
	}
	return &Job{
		ID:           common.NewJobID(),
		ProjectID:    projectID,
		IngestionID:  initial.IngestionID,
		Status:       JobStatusPending,
		Progress:     0,
		InitialState: initial,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Validate checks structural integrity after deserialization
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.ProjectID == "" {
		return fmt.Errorf("job project ID is required")
	}
	if j.Status == "" {
		return fmt.Errorf("job status is required")
	}
	return nil
}

// IsTerminal returns true once the job can no longer change state
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Deadline resolves the job's overall deadline from its submission
func (j *Job) Deadline(fallback time.Duration) time.Duration {
	if j.InitialState.DeadlineMinutes > 0 {
		return time.Duration(j.InitialState.DeadlineMinutes) * time.Minute
	}
	return fallback
}

// MarkQueued transitions PENDING → QUEUED
func (j *Job) MarkQueued() error {
	return j.transition(JobStatusQueued, func(now time.Time) {})
}

// MarkStarted transitions QUEUED → RUNNING and stamps StartedAt
func (j *Job) MarkStarted() error {
	return j.transition(JobStatusRunning, func(now time.Time) {
		j.StartedAt = &now
		j.LastHeartbeat = &now
	})
}

// MarkSucceeded transitions RUNNING → SUCCEEDED with the result payload
func (j *Job) MarkSucceeded(result *JobResult) error {
	if result == nil {
		result = NewJobResult()
	}
	result.Normalize()
	return j.transition(JobStatusSucceeded, func(now time.Time) {
		j.Result = result
		j.Progress = 100
		j.FinishedAt = &now
	})
}

// MarkFailed transitions any non-terminal status → FAILED
func (j *Job) MarkFailed(message string) error {
	return j.transition(JobStatusFailed, func(now time.Time) {
		j.Error = message
		j.FinishedAt = &now
	})
}

// MarkCancelled transitions any non-terminal status → CANCELLED
func (j *Job) MarkCancelled() error {
	return j.transition(JobStatusCancelled, func(now time.Time) {
		j.Error = "cancelled"
		j.FinishedAt = &now
	})
}

func (j *Job) transition(next JobStatus, apply func(now time.Time)) error {
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("invalid job transition %s → %s for %s", j.Status, next, j.ID)
	}
	now := time.Now().UTC()
	j.Status = next
	apply(now)
	j.UpdatedAt = now
	return nil
}

// SetProgress updates progress and the current stage. Progress never
// decreases within a status.
func (j *Job) SetProgress(stage string, pct float64) {
	if pct < j.Progress {
		pct = j.Progress
	}
	if pct > 100 {
		pct = 100
	}
	now := time.Now().UTC()
	j.CurrentStage = stage
	j.Progress = pct
	j.LastHeartbeat = &now
	j.UpdatedAt = now
}

// Heartbeat stamps worker liveness without touching progress
func (j *Job) Heartbeat() {
	now := time.Now().UTC()
	j.LastHeartbeat = &now
	j.UpdatedAt = now
}

// ToJSON serializes the job to its stable JSON shape
func (j *Job) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

// JobFromJSON deserializes a job
func JobFromJSON(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &j, nil
}
