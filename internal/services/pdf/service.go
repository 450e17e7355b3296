package pdf

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/ternarybob/aestimo/internal/interfaces"
)

// A4 portrait geometry. The bottom margin leaves room for the page footer.
const (
	fontFamily   = "Arial"
	pageMargin   = 12.0
	bottomMargin = 16.0
	printWidth   = 210.0 - 2*pageMargin
	pageBottom   = 297.0 - bottomMargin

	bodyFontPt = 9.5
	lineHeight = 5.0
	blockGap   = 2.0

	tableFontPt  = 8.0
	tableLineHt  = 4.2
	cellPad      = 1.4
	minColWidth  = 11.0
	maxCellLines = 6
)

// Service renders evaluation reports as PDF documents.
type Service struct {
	logger arbor.ILogger
}

var _ interfaces.PDFService = (*Service)(nil)

// NewService creates a new PDF service
func NewService(logger arbor.ILogger) *Service {
	return &Service{logger: logger}
}

// ConvertMarkdownToPDF lays out report markdown as an A4 document. The
// supported grammar is what report generation emits: headings, paragraphs,
// bold and italic runs, bullet lists, and pipe tables. The title feeds
// document metadata only; the visible title is the markdown's own heading.
func (s *Service) ConvertMarkdownToPDF(markdown, title string) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle(title, true)
	doc.SetMargins(pageMargin, pageMargin, pageMargin)
	doc.SetAutoPageBreak(true, bottomMargin)
	doc.AliasNbPages("")
	doc.SetFooterFunc(func() {
		doc.SetY(-11)
		doc.SetFont(fontFamily, "I", 7.5)
		doc.SetTextColor(120, 120, 120)
		doc.CellFormat(0, 5, fmt.Sprintf("Page %d of {nb}", doc.PageNo()), "", 0, "C", false, 0, "")
		doc.SetTextColor(0, 0, 0)
	})
	doc.AddPage()
	doc.SetFont(fontFamily, "", bodyFontPt)

	source := []byte(markdown)
	parsed := goldmark.New(goldmark.WithExtensions(extension.Table)).
		Parser().Parse(text.NewReader(source))

	w := &reportWriter{
		doc:    doc,
		source: source,
		// Core fonts are cp1252; vendor names and evidence snippets may not be.
		tr: doc.UnicodeTranslatorFromDescriptor(""),
	}
	if err := ast.Walk(parsed, w.visit); err != nil {
		s.logger.Error().Err(err).Msg("Report layout failed")
		return nil, fmt.Errorf("failed to lay out report: %w", err)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		s.logger.Error().Err(err).Msg("PDF encoding failed")
		return nil, fmt.Errorf("failed to encode PDF: %w", err)
	}

	s.logger.Debug().Str("title", title).Int("bytes", buf.Len()).Msg("Report PDF rendered")
	return buf.Bytes(), nil
}

// reportWriter walks the markdown AST and drives fpdf. Inline style is kept
// as state because goldmark delivers emphasis as enter/leave pairs.
type reportWriter struct {
	doc    *fpdf.Fpdf
	source []byte
	tr     func(string) string
	bold   bool
	italic bool
	depth  int
}

func (w *reportWriter) visit(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		w.heading(node, entering)
	case *ast.Paragraph:
		if !entering && w.depth == 0 {
			w.doc.Ln(lineHeight + blockGap)
		}
	case *ast.Text:
		if entering {
			w.doc.Write(lineHeight, w.tr(string(node.Segment.Value(w.source))))
			if node.SoftLineBreak() || node.HardLineBreak() {
				w.doc.Write(lineHeight, " ")
			}
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			w.bold = entering
		} else {
			w.italic = entering
		}
		w.applyFont()
	case *ast.List:
		if entering {
			w.depth++
		} else if w.depth--; w.depth == 0 {
			w.doc.Ln(lineHeight + blockGap)
		}
	case *ast.ListItem:
		if entering {
			w.doc.Ln(lineHeight)
			w.doc.SetX(pageMargin + 2 + 4*float64(w.depth-1))
			w.doc.Write(lineHeight, w.tr("• "))
		}
	case *extast.Table:
		if entering {
			w.table(node)
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

func (w *reportWriter) applyFont() {
	style := ""
	if w.bold {
		style += "B"
	}
	if w.italic {
		style += "I"
	}
	w.doc.SetFont(fontFamily, style, bodyFontPt)
}

func (w *reportWriter) heading(n *ast.Heading, entering bool) {
	if entering {
		w.doc.Ln(blockGap * 2)
		pt := 9.5
		switch n.Level {
		case 1:
			pt = 15
		case 2:
			pt = 12
		case 3:
			pt = 10.5
		}
		w.doc.SetFont(fontFamily, "B", pt)
		return
	}
	w.doc.Ln(lineHeight + blockGap)
	if n.Level == 1 {
		y := w.doc.GetY()
		w.doc.SetDrawColor(90, 90, 90)
		w.doc.Line(pageMargin, y, pageMargin+printWidth, y)
		w.doc.SetDrawColor(0, 0, 0)
		w.doc.Ln(blockGap)
	}
	w.applyFont()
}

// table renders ranking and breakdown tables: every column sized from its
// widest cell, the whole grid scaled to the printable width, long cells
// wrapped inside bordered rows.
func (w *reportWriter) table(node *extast.Table) {
	var rows [][]string
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.(type) {
		case *extast.TableHeader, *extast.TableRow:
			rows = append(rows, w.rowCells(child))
		}
	}
	if len(rows) == 0 {
		return
	}

	widths := w.columnWidths(rows)
	for i, row := range rows {
		w.renderRow(row, widths, i == 0)
	}
	w.doc.Ln(blockGap + 1)
	w.applyFont()
}

// rowCells flattens a header or body row into its cell texts. The header
// holds its cells directly or wraps them in a nested row depending on the
// goldmark version, so descend through either shape.
func (w *reportWriter) rowCells(row ast.Node) []string {
	var cells []string
	for c := row.FirstChild(); c != nil; c = c.NextSibling() {
		switch cell := c.(type) {
		case *extast.TableCell:
			cells = append(cells, string(cell.Text(w.source)))
		case *extast.TableRow:
			cells = append(cells, w.rowCells(cell)...)
		}
	}
	return cells
}

func (w *reportWriter) columnWidths(rows [][]string) []float64 {
	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	widths := make([]float64, cols)

	// Measure with the bold variant so header text never decides the wrap.
	w.doc.SetFont(fontFamily, "B", tableFontPt)
	for _, row := range rows {
		for i, cell := range row {
			if need := w.doc.GetStringWidth(w.tr(cell)) + 2*cellPad + 1; need > widths[i] {
				widths[i] = need
			}
		}
	}

	total := 0.0
	for i := range widths {
		if widths[i] < minColWidth {
			widths[i] = minColWidth
		}
		if widths[i] > printWidth/2 {
			widths[i] = printWidth / 2
		}
		total += widths[i]
	}
	scale := printWidth / total
	for i := range widths {
		widths[i] *= scale
	}
	return widths
}

func (w *reportWriter) renderRow(cells []string, widths []float64, header bool) {
	style := ""
	if header {
		style = "B"
		w.doc.SetFillColor(228, 231, 235)
	}
	w.doc.SetFont(fontFamily, style, tableFontPt)

	lines := make([][][]byte, len(widths))
	height := tableLineHt + 2*cellPad
	for i := range widths {
		cell := ""
		if i < len(cells) {
			cell = w.tr(cells[i])
		}
		split := w.doc.SplitLines([]byte(cell), widths[i]-2*cellPad)
		if len(split) > maxCellLines {
			split = split[:maxCellLines]
		}
		lines[i] = split
		if need := float64(len(split))*tableLineHt + 2*cellPad; need > height {
			height = need
		}
	}

	x0, y0 := w.doc.GetXY()
	if y0+height > pageBottom {
		w.doc.AddPage()
		x0, y0 = w.doc.GetXY()
	}

	x := x0
	for i, cellLines := range lines {
		if header {
			w.doc.Rect(x, y0, widths[i], height, "FD")
		} else {
			w.doc.Rect(x, y0, widths[i], height, "D")
		}
		y := y0 + cellPad
		for _, line := range cellLines {
			w.doc.SetXY(x+cellPad, y)
			w.doc.CellFormat(widths[i]-2*cellPad, tableLineHt, string(line), "", 0, "L", false, 0, "")
			y += tableLineHt
		}
		x += widths[i]
	}
	w.doc.SetXY(x0, y0+height)
}
