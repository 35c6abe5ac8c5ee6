// -----------------------------------------------------------------------
// cartographer stage - extracts subject/predicate/object claims from
// the document through the logic server, window by window.
// -----------------------------------------------------------------------

package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/scribo/internal/clients"
	"github.com/ternarybob/scribo/internal/models"
	"github.com/ternarybob/scribo/internal/workflow"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// triplesSchemaRegex constrains the logic server to a JSON object with
// a triples array
const triplesSchemaRegex = `(?s)^\s*\{.*"triples"\s*:\s*\[.*\]\s*.*\}\s*$`

// maxWindowChars bounds one prompt's document window
const maxWindowChars = 6000

// tripleEnvelope is the schema the logic server must satisfy
type tripleEnvelope struct {
	Triples []tripleDTO `json:"triples"`
}

type tripleDTO struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence,omitempty"`
	Page       int     `json:"page,omitempty"`
}

// Cartographer proposes claims from document windows
type Cartographer struct{}

func NewCartographer() *Cartographer { return &Cartographer{} }

func (s *Cartographer) Name() string { return workflow.CartographerStage }

func (s *Cartographer) Run(ctx context.Context, sc *workflow.StageContext) error {
	source := sc.State.Markdown
	if source == "" {
		source = sc.Initial.Text
	}
	if strings.TrimSpace(source) == "" {
		return fmt.Errorf("nothing to map: submission carried no text or document")
	}

	windows := headingWindows(source, maxWindowChars)
	seen := make(map[string]*models.Claim)

	for i, window := range windows {
		var envelope tripleEnvelope
		req := clients.GenerateRequest{
			System:      "You map research documents into subject/predicate/object claims. Respond with JSON only.",
			Prompt:      s.buildPrompt(sc, window),
			SchemaRegex: triplesSchemaRegex,
			Temperature: 0.2,
		}
		if err := sc.Clients.Logic.GenerateJSON(ctx, req, &envelope); err != nil {
			return err
		}

		for _, dto := range envelope.Triples {
			claim, err := models.NewClaim(sc.Project.ID, sc.JobID, dto.Subject, dto.Predicate, dto.Object, dto.Confidence, models.SourcePointer{
				DocHash: sc.State.DocHash,
				Page:    dto.Page,
				Snippet: dto.Evidence,
			})
			if err != nil {
				sc.Logger.Warn().Err(err).Msg("Skipping malformed triple")
				continue
			}
			claim.Evidence = dto.Evidence

			// Same identity tuple from different windows collapses into
			// one claim, keeping the higher confidence
			if existing, ok := seen[claim.Key]; ok {
				if claim.Confidence > existing.Confidence {
					existing.Confidence = claim.Confidence
					existing.Evidence = claim.Evidence
					existing.Source = claim.Source
				}
				continue
			}
			seen[claim.Key] = claim
			sc.State.Claims = append(sc.State.Claims, claim)
		}

		sc.Progress(float64(i+1) / float64(len(windows)))
	}

	for _, claim := range sc.State.Claims {
		if err := sc.Clients.Graph.PutDocument(ctx, "claims", claim.Key, claim); err != nil {
			return fmt.Errorf("failed to persist claim: %w", err)
		}
	}

	sc.Logger.Info().
		Int("windows", len(windows)).
		Int("claims", len(sc.State.Claims)).
		Msg("Claims proposed")

	return nil
}

func (s *Cartographer) buildPrompt(sc *workflow.StageContext, window string) string {
	var b strings.Builder
	b.WriteString("Thesis: " + sc.Project.Thesis + "\n")
	b.WriteString("Research questions:\n")
	for _, q := range sc.Project.ResearchQuestions {
		b.WriteString("- " + q + "\n")
	}
	if len(sc.Project.AntiScope) > 0 {
		b.WriteString("Out of scope:\n")
		for _, a := range sc.Project.AntiScope {
			b.WriteString("- " + a + "\n")
		}
	}
	b.WriteString("Rigor: " + string(sc.Rigor) + "\n\n")
	b.WriteString("Extract factual claims from this document section as JSON ")
	b.WriteString(`{"triples": [{"subject", "predicate", "object", "confidence", "evidence", "page"}]}:`)
	b.WriteString("\n\n" + window)
	return b.String()
}

// headingWindows splits markdown into heading-delimited sections capped
// at maxChars, using the goldmark AST so code blocks and tables are
// never split mid-construct.
func headingWindows(source string, maxChars int) []string {
	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader([]byte(source)))

	var sections []string
	var current strings.Builder

	flush := func() {
		if strings.TrimSpace(current.String()) != "" {
			sections = append(sections, current.String())
		}
		current.Reset()
	}

	for node := root.FirstChild(); node != nil; node = node.NextSibling() {
		segment := blockText(node, []byte(source))
		if _, isHeading := node.(*ast.Heading); isHeading && current.Len() > 0 {
			flush()
		}
		if current.Len() > 0 && current.Len()+len(segment) > maxChars {
			flush()
		}
		current.WriteString(segment)
		current.WriteString("\n\n")
	}
	flush()

	// Oversized single sections are split on the hard cap
	var windows []string
	for _, section := range sections {
		for len(section) > maxChars {
			windows = append(windows, section[:maxChars])
			section = section[maxChars:]
		}
		if strings.TrimSpace(section) != "" {
			windows = append(windows, section)
		}
	}
	if len(windows) == 0 {
		windows = []string{source}
	}
	return windows
}

// blockText returns the source text spanned by a top-level block node
func blockText(node ast.Node, source []byte) string {
	lines := node.Lines()
	if lines == nil || lines.Len() == 0 {
		var b strings.Builder
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			b.WriteString(blockText(child, source))
		}
		return b.String()
	}
	start := lines.At(0).Start
	stop := lines.At(lines.Len() - 1).Stop
	if start < 0 || stop > len(source) || start > stop {
		return ""
	}
	return string(source[start:stop])
}
