// -----------------------------------------------------------------------
// saver stage - persists blocks and builds the artifact manifest.
// Manifest persistence is best-effort: its failure is telemetry, not a
// job failure. Everything before it still fails the job.
// -----------------------------------------------------------------------

package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
	"github.com/ternarybob/scribo/internal/workflow"
)

var (
	tableLabelRe = regexp.MustCompile(`(?mi)^\s*(table\s+\d+)`)
	pageBreakRe  = regexp.MustCompile(`(?m)^## Page \d+`)
)

// Saver finalizes a job's artifacts
type Saver struct {
	artifactRoot string
	telemetry    interfaces.TelemetryService
}

// NewSaver creates the saver stage
func NewSaver(artifactRoot string, telemetry interfaces.TelemetryService) *Saver {
	return &Saver{artifactRoot: artifactRoot, telemetry: telemetry}
}

func (s *Saver) Name() string { return workflow.SaverStage }

func (s *Saver) Run(ctx context.Context, sc *workflow.StageContext) error {
	manifest := models.NewArtifactManifest(sc.JobID, sc.Project.ID, sc.Rigor)

	for i, block := range sc.State.Blocks {
		if err := sc.Clients.Graph.PutDocument(ctx, "manuscript_blocks", block.ID, block); err != nil {
			return fmt.Errorf("failed to persist manuscript block: %w", err)
		}

		manifest.AddBlock(models.BlockStats{
			BlockID:       block.ID,
			WordCount:     block.WordCount(),
			CitationCount: len(block.CitationKeys),
			ToneFlags:     block.ToneFlags,
			ClaimKeys:     block.ClaimKeys,
		})

		sc.Progress(0.7 * float64(i+1) / float64(len(sc.State.Blocks)+1))
	}

	for _, image := range sc.State.Images {
		manifest.AddVisual(models.VisualRef{
			Label: image.Label,
			Page:  image.Page,
			Kind:  "figure",
		})
	}

	for _, table := range detectTables(sc.State.Markdown, sc.State.PageMap, sc.Policy.Precision) {
		manifest.AddTable(table)
	}

	accepted, flagged := 0, 0
	for _, claim := range sc.State.Claims {
		switch claim.Status {
		case models.ClaimAccepted:
			accepted++
		case models.ClaimFlagged:
			flagged++
		}
	}
	manifest.SetClaimTotals(len(sc.State.Claims), accepted, flagged)

	sc.Progress(0.8)

	// The manifest is part of the in-memory result whether or not the
	// copies below land
	sc.State.Manifest = manifest

	if err := sc.Clients.Graph.PutDocument(ctx, "artifact_manifests", manifest.ID, manifest); err != nil {
		s.reportManifestFailure(sc, "graph", err)
	}
	if err := s.writeManifestFile(manifest); err != nil {
		s.reportManifestFailure(sc, "filesystem", err)
	}

	sc.Logger.Info().
		Int("blocks", manifest.Totals.Blocks).
		Int("tables", manifest.Totals.Tables).
		Int("visuals", manifest.Totals.Visuals).
		Int("claims", manifest.Totals.Claims).
		Msg("Artifacts saved")

	return nil
}

// detectTables locates table captions in the extracted markdown and audits
// the region under each one. A region runs to the next caption or page
// heading so one table's numbers do not bleed into the next.
func detectTables(markdown string, pages []interfaces.PageSpan, precision models.PrecisionPolicy) []models.TableStats {
	captions := tableLabelRe.FindAllStringSubmatchIndex(markdown, -1)
	if len(captions) == 0 {
		return nil
	}

	tables := make([]models.TableStats, 0, len(captions))
	for i, loc := range captions {
		start := loc[3]
		end := len(markdown)
		if i+1 < len(captions) {
			end = captions[i+1][0]
		}
		if brk := pageBreakRe.FindStringIndex(markdown[start:end]); brk != nil {
			end = start + brk[0]
		}

		label := strings.ToLower(markdown[loc[2]:loc[3]])
		flags, unitsVerified := precision.AuditTable(markdown[start:end])
		tables = append(tables, models.TableStats{
			TableID:        strings.Join(strings.Fields(label), "_"),
			Page:           pageForOffset(pages, loc[2]),
			PrecisionFlags: flags,
			UnitsVerified:  unitsVerified,
		})
	}
	return tables
}

// pageForOffset maps a markdown offset back to its source page
func pageForOffset(pages []interfaces.PageSpan, offset int) int {
	for _, span := range pages {
		if offset >= span.Start && offset < span.End {
			return span.Page
		}
	}
	return 0
}

func (s *Saver) writeManifestFile(manifest *models.ArtifactManifest) error {
	dir := filepath.Join(s.artifactRoot, manifest.ProjectID, manifest.JobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "artifact_manifest.json"), data, 0644)
}

func (s *Saver) reportManifestFailure(sc *workflow.StageContext, target string, err error) {
	sc.Logger.Warn().
		Err(err).
		Str("target", target).
		Msg("Manifest persistence failed, continuing")

	if s.telemetry != nil {
		s.telemetry.Record("artifact_manifest_failed", map[string]interface{}{
			"job_id": sc.JobID,
			"target": target,
			"error":  err.Error(),
		})
	}
}
