package models

import (
	"time"

	"github.com/ternarybob/scribo/internal/common"
)

// BlockStats summarizes one manuscript block inside a manifest
type BlockStats struct {
	BlockID       string   `json:"block_id"`
	WordCount     int      `json:"word_count"`
	CitationCount int      `json:"citation_count"`
	ToneFlags     []string `json:"tone_flags,omitempty"`
	ClaimKeys     []string `json:"claim_keys"`
}

// TableStats summarizes one extracted table inside a manifest
type TableStats struct {
	TableID        string   `json:"table_id"`
	Page           int      `json:"page"`
	PrecisionFlags []string `json:"precision_flags,omitempty"`
	UnitsVerified  bool     `json:"units_verified"`
}

// VisualRef points at one figure or image referenced by the manuscript
type VisualRef struct {
	Label string `json:"label"`
	Page  int    `json:"page"`
	Kind  string `json:"kind"` // "figure" or "table_image"
}

// ManifestTotals aggregates the manifest counters
type ManifestTotals struct {
	Blocks         int `json:"blocks"`
	Tables         int `json:"tables"`
	Visuals        int `json:"visuals"`
	Claims         int `json:"claims"`
	AcceptedClaims int `json:"accepted_claims"`
	FlaggedClaims  int `json:"flagged_claims"`
	Words          int `json:"words"`
	Citations      int `json:"citations"`
}

// ArtifactManifest is the terminal per-job summary of produced blocks,
// tables and figures. It is owned by the job and indexed under the project.
type ArtifactManifest struct {
	ID         string         `json:"id"`
	JobID      string         `json:"job_id"`
	ProjectID  string         `json:"project_id"`
	Blocks     []BlockStats   `json:"blocks"`
	Tables     []TableStats   `json:"tables"`
	Visuals    []VisualRef    `json:"visuals"`
	Totals     ManifestTotals `json:"totals"`
	RigorLevel RigorLevel     `json:"rigor_level"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewArtifactManifest creates an empty manifest for a job
func NewArtifactManifest(jobID, projectID string, rigor RigorLevel) *ArtifactManifest {
	return &ArtifactManifest{
		ID:         common.NewManifestID(),
		JobID:      jobID,
		ProjectID:  projectID,
		Blocks:     []BlockStats{},
		Tables:     []TableStats{},
		Visuals:    []VisualRef{},
		RigorLevel: rigor,
		CreatedAt:  time.Now().UTC(),
	}
}

// AddBlock appends block stats and updates the totals
func (m *ArtifactManifest) AddBlock(stats BlockStats) {
	m.Blocks = append(m.Blocks, stats)
	m.Totals.Blocks++
	m.Totals.Words += stats.WordCount
	m.Totals.Citations += stats.CitationCount
}

// AddTable appends table stats and updates the totals
func (m *ArtifactManifest) AddTable(stats TableStats) {
	m.Tables = append(m.Tables, stats)
	m.Totals.Tables++
}

// AddVisual appends a visual reference and updates the totals
func (m *ArtifactManifest) AddVisual(ref VisualRef) {
	m.Visuals = append(m.Visuals, ref)
	m.Totals.Visuals++
}

// SetClaimTotals records the claim counters at manifest write time
func (m *ArtifactManifest) SetClaimTotals(total, accepted, flagged int) {
	m.Totals.Claims = total
	m.Totals.AcceptedClaims = accepted
	m.Totals.FlaggedClaims = flagged
}
