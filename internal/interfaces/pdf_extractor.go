package interfaces

import (
	"context"

	"github.com/ternarybob/scribo/internal/models"
)

// PageSpan maps one page to its character range in the extracted markdown
type PageSpan struct {
	Page  int `json:"page"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// ImageRef points at one image extracted from a document. Images are not
// promised to remain addressable after the extraction stage; downstream
// consumers re-derive what they need.
type ImageRef struct {
	Page  int    `json:"page"`
	Label string `json:"label"`
	Path  string `json:"path,omitempty"`
}

// ExtractResult is everything the extractor hands the pipeline
type ExtractResult struct {
	Markdown    string
	PageMap     []PageSpan
	Images      []ImageRef
	FirstGlance models.FirstGlance
	Confidence  models.ConfidenceLabel
}

// PDFExtractor converts uploaded PDF bytes into markdown, a page map and
// an image list
type PDFExtractor interface {
	Extract(ctx context.Context, pdf []byte) (*ExtractResult, error)
}
