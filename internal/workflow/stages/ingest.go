// -----------------------------------------------------------------------
// ingest_pdf stage - turns the uploaded document into markdown with a
// page map and stamps the first-glance summary onto the ingestion.
// -----------------------------------------------------------------------

package stages

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
	"github.com/ternarybob/scribo/internal/workflow"
)

// Ingest runs the external extractor over the submitted document
type Ingest struct {
	extractor  interfaces.PDFExtractor
	ingestions interfaces.IngestionStorage
}

// NewIngest creates the ingest stage. ingestions may be nil when the
// submission path never creates ingestion records.
func NewIngest(extractor interfaces.PDFExtractor, ingestions interfaces.IngestionStorage) *Ingest {
	return &Ingest{extractor: extractor, ingestions: ingestions}
}

func (s *Ingest) Name() string { return workflow.IngestStage }

func (s *Ingest) Run(ctx context.Context, sc *workflow.StageContext) error {
	path := sc.Initial.UploadPath
	if path == "" {
		path = sc.Initial.PDFPath
	}
	if path == "" {
		return fmt.Errorf("no document to ingest")
	}

	pdf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read document %s: %w", path, err)
	}

	docHash := sc.Initial.UploadHash
	if docHash == "" {
		sum := sha256.Sum256(pdf)
		docHash = hex.EncodeToString(sum[:])
	}

	sc.Progress(0.1)

	result, err := s.extractor.Extract(ctx, pdf)
	if err != nil {
		return err
	}

	sc.State.Markdown = result.Markdown
	sc.State.PageMap = result.PageMap
	sc.State.Images = result.Images
	sc.State.FirstGlance = &result.FirstGlance
	sc.State.DocHash = docHash

	s.stampFirstGlance(ctx, sc.State.IngestionID, result.FirstGlance, result.Confidence)
	sc.Progress(1)

	sc.Logger.Info().
		Int("pages", result.FirstGlance.Pages).
		Int("tables", result.FirstGlance.TablesDetected).
		Int("figures", result.FirstGlance.FiguresDetected).
		Str("confidence", string(result.Confidence)).
		Msg("Document extracted")

	return nil
}

// stampFirstGlance records the extractor summary on the ingestion
func (s *Ingest) stampFirstGlance(ctx context.Context, ingestionID string, glance models.FirstGlance, confidence models.ConfidenceLabel) {
	if ingestionID == "" || s.ingestions == nil {
		return
	}
	ingestion, err := s.ingestions.GetIngestion(ctx, ingestionID)
	if err != nil {
		return
	}
	ingestion.SetFirstGlance(glance, confidence)
	s.ingestions.SaveIngestion(ctx, ingestion)
}
