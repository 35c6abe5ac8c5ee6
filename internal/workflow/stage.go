// -----------------------------------------------------------------------
// Stage contract - the fixed pipeline sequence, per-stage progress
// windows and the shared execution context stages run under.
// -----------------------------------------------------------------------

package workflow

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/clients"
	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
)

// Stage names in execution order. IngestStage runs only when the
// submission carried a document.
const (
	IngestStage       = "ingest_pdf"
	CartographerStage = "cartographer"
	VerifierStage     = "verifier"
	CriticStage       = "critic"
	DrafterStage      = "drafter"
	SaverStage        = "saver"
)

// Window is a stage's slice of the 0-100 job progress range
type Window struct {
	Lo float64
	Hi float64
}

// Pct maps stage-local sub-progress (0..1) onto the job range
func (w Window) Pct(sub float64) float64 {
	if sub < 0 {
		sub = 0
	}
	if sub > 1 {
		sub = 1
	}
	return w.Lo + (w.Hi-w.Lo)*sub
}

// stageWindows fixes each stage's progress band. When ingest is skipped
// the job jumps straight to the cartographer band; progress stays
// monotonic either way.
var stageWindows = map[string]Window{
	IngestStage:       {0, 20},
	CartographerStage: {20, 50},
	VerifierStage:     {50, 70},
	CriticStage:       {70, 80},
	DrafterStage:      {80, 92},
	SaverStage:        {92, 100},
}

// WindowFor returns the progress window for a stage name
func WindowFor(stage string) Window {
	if w, ok := stageWindows[stage]; ok {
		return w
	}
	return Window{0, 100}
}

// State is the mutable bag handed from stage to stage within one job.
// Each stage reads what its predecessors wrote and appends its own
// output; nothing here is shared across jobs.
type State struct {
	IngestionID string

	// Ingest output
	Markdown    string
	PageMap     []interfaces.PageSpan
	Images      []interfaces.ImageRef
	FirstGlance *models.FirstGlance
	DocHash     string

	// Cartographer through critic
	Claims []*models.Claim

	// Drafter output
	Blocks []*models.ManuscriptBlock

	// Saver output
	Manifest *models.ArtifactManifest
}

// ClaimsByStatus returns the claims currently in the given status
func (s *State) ClaimsByStatus(status models.ClaimStatus) []*models.Claim {
	var out []*models.Claim
	for _, claim := range s.Claims {
		if claim.Status == status {
			out = append(out, claim)
		}
	}
	return out
}

// StageContext is everything one stage execution sees
type StageContext struct {
	JobID   string
	Project models.Project
	Rigor   models.RigorLevel
	Initial models.InitialState
	State   *State
	Clients *clients.Bundle
	Policy  models.TonePolicy
	Logger  arbor.ILogger

	// Progress reports stage-local sub-progress in 0..1. Writes are
	// coalesced by the runtime; stage boundaries always persist.
	Progress func(sub float64)
}

// Stage is one specialist in the pipeline
type Stage interface {
	Name() string
	Run(ctx context.Context, sc *StageContext) error
}

// StageError wraps a stage failure, preserving the transport
// classification of the cause. Its message is "<stage>: <cause>".
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Class returns the transport classification of the underlying cause
func (e *StageError) Class() clients.ErrorClass {
	return clients.ClassOf(e.Err)
}
