// -----------------------------------------------------------------------
// Manuscript render service - assembles accepted manuscript blocks into
// a markdown document and converts it to a PDF preview.
// -----------------------------------------------------------------------

package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// Service renders manuscript previews
type Service struct {
	logger arbor.ILogger
}

// NewService creates a render service
func NewService(logger arbor.ILogger) *Service {
	return &Service{logger: logger}
}

// ManuscriptPreview assembles the project's blocks into a PDF. Blocks
// are rendered in creation order; superseded blocks are skipped.
func (s *Service) ManuscriptPreview(project *models.Project, blocks []*models.ManuscriptBlock) ([]byte, error) {
	markdown := BuildManuscriptMarkdown(project, blocks)
	return s.MarkdownToPDF(markdown)
}

// BuildManuscriptMarkdown produces the preview document source. Tone
// flags appear as review notes under their block.
func BuildManuscriptMarkdown(project *models.Project, blocks []*models.ManuscriptBlock) string {
	var b strings.Builder

	b.WriteString("# " + project.Title + "\n\n")
	if project.Thesis != "" {
		b.WriteString("*" + project.Thesis + "*\n\n")
	}

	rendered := 0
	for _, block := range blocks {
		if block.Status == models.BlockSuperseded {
			continue
		}
		b.WriteString(block.Text)
		b.WriteString("\n\n")
		for _, flag := range block.ToneFlags {
			b.WriteString(fmt.Sprintf("> Review note: %s\n", flag))
		}
		if len(block.ToneFlags) > 0 {
			b.WriteString("\n")
		}
		rendered++
	}

	if rendered == 0 {
		b.WriteString("*No manuscript blocks drafted yet.*\n")
	}

	return b.String()
}

// MarkdownToPDF converts markdown to PDF bytes
func (s *Service) MarkdownToPDF(markdown string) ([]byte, error) {
	s.logger.Debug().
		Int("markdown_len", len(markdown)).
		Msg("Rendering markdown to PDF")

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	pdf.SetFont("Times", "", 11)

	md := goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Strikethrough),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)

	source := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(source))

	r := &renderer{pdf: pdf, source: source, font: "Times", size: 11}
	if err := ast.Walk(doc, r.walk); err != nil {
		s.logger.Error().Err(err).Msg("Failed to render PDF")
		return nil, fmt.Errorf("failed to render PDF: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF output: %w", err)
	}

	s.logger.Debug().Int("pdf_size", buf.Len()).Msg("PDF rendered")
	return buf.Bytes(), nil
}

type renderer struct {
	pdf    *fpdf.Fpdf
	source []byte
	font   string
	size   float64
	bold   bool
	italic bool
	depth  int // list nesting
}

func (r *renderer) resetFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.pdf.SetFont(r.font, style, r.size)
}

func (r *renderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if entering {
			r.pdf.Ln(5)
			size := 16.0 - float64(node.Level)*1.5
			if size < 11 {
				size = 11
			}
			r.pdf.SetFont(r.font, "B", size)
		} else {
			r.pdf.Ln(7)
			r.resetFont()
		}
	case *ast.Paragraph:
		if !entering {
			r.pdf.Ln(7)
		}
	case *ast.Text:
		if entering {
			r.pdf.Write(5, string(node.Text(r.source)))
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.resetFont()
	case *ast.Blockquote:
		if entering {
			r.pdf.SetTextColor(90, 90, 90)
			r.pdf.SetX(22)
		} else {
			r.pdf.SetTextColor(0, 0, 0)
			r.pdf.Ln(2)
		}
	case *ast.CodeSpan:
		if entering {
			r.pdf.SetFont("Courier", "", r.size-1)
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					r.pdf.Write(5, string(t.Segment.Value(r.source)))
				}
			}
			r.resetFont()
		}
		return ast.WalkSkipChildren, nil
	case *ast.FencedCodeBlock:
		if entering {
			r.codeBlock(node.Lines())
			return ast.WalkSkipChildren, nil
		}
	case *ast.List:
		if entering {
			r.depth++
		} else {
			r.depth--
			if r.depth == 0 {
				r.pdf.Ln(2)
			}
		}
	case *ast.ListItem:
		if entering {
			r.pdf.Ln(5)
			r.pdf.SetX(15 + float64(r.depth)*5)
			r.pdf.Write(5, "- ")
		}
	case *ast.ThematicBreak:
		if entering {
			r.pdf.Ln(3)
			r.pdf.Line(20, r.pdf.GetY(), 190, r.pdf.GetY())
			r.pdf.Ln(3)
		}
	case *extast.Table:
		if entering {
			r.table(node)
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

func (r *renderer) codeBlock(lines *text.Segments) {
	r.pdf.Ln(2)
	r.pdf.SetFont("Courier", "", 9)
	r.pdf.SetFillColor(245, 245, 245)
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		r.pdf.MultiCell(0, 5, string(seg.Value(r.source)), "", "L", true)
	}
	r.pdf.SetFillColor(255, 255, 255)
	r.resetFont()
	r.pdf.Ln(2)
}

// table renders with equal column widths. Manuscript tables are small;
// proportional layout is not worth the complexity here.
func (r *renderer) table(n *extast.Table) {
	var rows [][]string
	var collect func(node ast.Node)
	collect = func(node ast.Node) {
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			switch row := child.(type) {
			case *extast.TableRow:
				rows = append(rows, r.cells(row))
			case *extast.TableHeader:
				collect(row)
			}
		}
	}
	collect(n)

	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	colWidth := 180.0 / float64(len(rows[0]))
	r.pdf.Ln(2)
	for i, row := range rows {
		if i == 0 {
			r.pdf.SetFont(r.font, "B", 9)
			r.pdf.SetFillColor(230, 230, 230)
		} else {
			r.pdf.SetFont(r.font, "", 9)
			r.pdf.SetFillColor(255, 255, 255)
		}
		for _, cell := range row {
			r.pdf.CellFormat(colWidth, 6, cell, "1", 0, "L", i == 0, 0, "")
		}
		r.pdf.Ln(-1)
	}
	r.pdf.Ln(3)
	r.resetFont()
}

func (r *renderer) cells(row ast.Node) []string {
	var out []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if _, ok := cell.(*extast.TableCell); ok {
			out = append(out, string(cell.Text(r.source)))
		}
	}
	return out
}
