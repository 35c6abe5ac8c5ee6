package models

import (
	"time"

	"github.com/ternarybob/scribo/internal/common"
)

// FirstGlance is the optional quick summary produced by the extractor
type FirstGlance struct {
	Pages           int     `json:"pages"`
	TablesDetected  int     `json:"tables_detected"`
	FiguresDetected int     `json:"figures_detected"`
	TextDensity     float64 `json:"text_density"` // 0..1
}

// Ingestion is the user-facing progress handle for one uploaded document.
// It can outlive the job id assignment and maps internal stage names to
// the coarse states consoles display.
type Ingestion struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Filename    string          `json:"filename"`
	ContentHash string          `json:"content_hash"`
	State       IngestionState  `json:"state"`
	Progress    float64         `json:"progress_pct"` // 0..100
	FirstGlance *FirstGlance    `json:"first_glance,omitempty"`
	Confidence  ConfidenceLabel `json:"confidence,omitempty"`
	Error       string          `json:"error,omitempty"`
	JobID       string          `json:"job_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewIngestion creates a Queued ingestion for an uploaded document
func NewIngestion(projectID, filename, contentHash string) *Ingestion {
	now := time.Now().UTC()
	return &Ingestion{
		ID:          common.NewIngestionID(),
		ProjectID:   projectID,
		Filename:    filename,
		ContentHash: contentHash,
		State:       IngestionQueued,
		Progress:    0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SetState moves the ingestion to a new user-facing state
func (i *Ingestion) SetState(state IngestionState, progress float64) {
	i.State = state
	if progress > i.Progress {
		i.Progress = progress
	}
	if i.Progress > 100 {
		i.Progress = 100
	}
	i.UpdatedAt = time.Now().UTC()
}

// AttachJob associates the backing job once it is created
func (i *Ingestion) AttachJob(jobID string) {
	i.JobID = jobID
	i.UpdatedAt = time.Now().UTC()
}

// SetFirstGlance records the extractor's quick summary
func (i *Ingestion) SetFirstGlance(glance FirstGlance, confidence ConfidenceLabel) {
	i.FirstGlance = &glance
	i.Confidence = confidence
	i.UpdatedAt = time.Now().UTC()
}

// MarkCompleted finishes the ingestion successfully
func (i *Ingestion) MarkCompleted() {
	i.State = IngestionCompleted
	i.Progress = 100
	i.UpdatedAt = time.Now().UTC()
}

// MarkFailed finishes the ingestion with an error message
func (i *Ingestion) MarkFailed(message string) {
	i.State = IngestionFailed
	i.Error = message
	i.UpdatedAt = time.Now().UTC()
}
