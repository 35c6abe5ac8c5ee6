// -----------------------------------------------------------------------
// PDF extraction service - converts uploaded documents into markdown
// with a page map and a first-glance summary.
// Uses pdfcpu for Go-native PDF processing
// -----------------------------------------------------------------------

package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
)

var (
	tableCaptionRe  = regexp.MustCompile(`(?mi)^\s*table\s+\d+`)
	figureCaptionRe = regexp.MustCompile(`(?mi)^\s*(figure|fig\.)\s+\d+`)
)

// minPageChars is the character count below which a page counts as
// effectively empty for the text density estimate
const minPageChars = 200

// Extractor implements interfaces.PDFExtractor using pdfcpu
type Extractor struct {
	logger  arbor.ILogger
	tempDir string
}

// Compile-time interface assertion
var _ interfaces.PDFExtractor = (*Extractor)(nil)

// NewExtractor creates a PDF extractor service
func NewExtractor(logger arbor.ILogger) *Extractor {
	tempDir := filepath.Join(os.TempDir(), "scribo-pdf")
	os.MkdirAll(tempDir, 0755)

	return &Extractor{
		logger:  logger,
		tempDir: tempDir,
	}
}

// Extract converts PDF bytes into markdown with page spans, an image
// list and a first-glance summary. Encrypted documents are rejected.
func (e *Extractor) Extract(ctx context.Context, pdf []byte) (*interfaces.ExtractResult, error) {
	if len(pdf) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp(e.tempDir, "extract_")
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	tempFile := filepath.Join(workDir, "input.pdf")
	if err := os.WriteFile(tempFile, pdf, 0644); err != nil {
		return nil, fmt.Errorf("failed to write temp PDF file: %w", err)
	}

	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}
	if pdfCtx.Encrypt != nil {
		return nil, fmt.Errorf("document is encrypted")
	}
	pageCount := pdfCtx.PageCount

	pageTexts := e.extractPageTexts(tempFile, workDir, pageCount)
	images := e.extractImages(tempFile, workDir)

	markdown, pageMap := assembleMarkdown(pageTexts, pageCount)
	glance, confidence := firstGlance(pageTexts, pageCount)
	glance.FiguresDetected += len(images)

	e.logger.Debug().
		Int("pages", pageCount).
		Int("images", len(images)).
		Int("markdown_len", len(markdown)).
		Str("confidence", string(confidence)).
		Msg("PDF extraction completed")

	return &interfaces.ExtractResult{
		Markdown:    markdown,
		PageMap:     pageMap,
		Images:      images,
		FirstGlance: glance,
		Confidence:  confidence,
	}, nil
}

// extractPageTexts runs pdfcpu content extraction and maps the output
// files back to page numbers. Extraction failure yields empty pages
// rather than an error; the density estimate reflects the loss.
func (e *Extractor) extractPageTexts(tempFile, workDir string, pageCount int) map[int]string {
	pageTexts := make(map[int]string)

	outDir := filepath.Join(workDir, "pages")
	os.MkdirAll(outDir, 0755)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to extract PDF content")
		return pageTexts
	}

	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err != nil {
			if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err != nil {
				continue
			}
		}
		if pageNum >= 1 && pageNum <= pageCount {
			pageTexts[pageNum] = string(content)
		}
	}

	return pageTexts
}

// extractImages pulls embedded images out for the figure inventory.
// Failure is tolerated; figures then rely on caption detection alone.
func (e *Extractor) extractImages(tempFile, workDir string) []interfaces.ImageRef {
	outDir := filepath.Join(workDir, "images")
	os.MkdirAll(outDir, 0755)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractImagesFile(tempFile, outDir, nil, conf); err != nil {
		e.logger.Debug().Err(err).Msg("No images extracted from PDF")
		return nil
	}

	var images []interfaces.ImageRef
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		var pageNum int
		// pdfcpu names extracted images <basename>_<page>_<resource>.<ext>
		fmt.Sscanf(strings.TrimPrefix(file.Name(), "input_"), "%d_", &pageNum)
		images = append(images, interfaces.ImageRef{
			Page:  pageNum,
			Label: file.Name(),
		})
	}
	return images
}

// assembleMarkdown joins page texts under page headings and records the
// character span each page occupies in the result.
func assembleMarkdown(pageTexts map[int]string, pageCount int) (string, []interfaces.PageSpan) {
	var builder strings.Builder
	pageMap := make([]interfaces.PageSpan, 0, pageCount)

	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(fmt.Sprintf("## Page %d\n\n", pageNum))

		start := builder.Len()
		builder.WriteString(strings.TrimSpace(pageTexts[pageNum]))
		pageMap = append(pageMap, interfaces.PageSpan{
			Page:  pageNum,
			Start: start,
			End:   builder.Len(),
		})
	}

	return builder.String(), pageMap
}

// firstGlance derives the quick summary and its confidence grade. Text
// density is the fraction of pages carrying a useful amount of text.
func firstGlance(pageTexts map[int]string, pageCount int) (models.FirstGlance, models.ConfidenceLabel) {
	glance := models.FirstGlance{Pages: pageCount}

	populated := 0
	for _, text := range pageTexts {
		if len(strings.TrimSpace(text)) >= minPageChars {
			populated++
		}
		glance.TablesDetected += len(tableCaptionRe.FindAllString(text, -1))
		glance.FiguresDetected += len(figureCaptionRe.FindAllString(text, -1))
	}

	if pageCount > 0 {
		glance.TextDensity = float64(populated) / float64(pageCount)
	}

	confidence := models.ConfidenceLow
	switch {
	case glance.TextDensity >= 0.8:
		confidence = models.ConfidenceHigh
	case glance.TextDensity >= 0.4:
		confidence = models.ConfidenceMedium
	}

	return glance, confidence
}
