package documents

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
)

// Loader extracts page text from uploaded documents. PDF documents keep
// their page structure; all other formats load as a single page.
type Loader struct {
	logger  arbor.ILogger
	tempDir string
}

// NewLoader creates a document loader with a scratch directory for PDF processing
func NewLoader(logger arbor.ILogger) *Loader {
	tempDir := filepath.Join(os.TempDir(), "aestimo-pdf")
	os.MkdirAll(tempDir, 0755)

	return &Loader{
		logger:  logger,
		tempDir: tempDir,
	}
}

// Load reads the file at path and returns its text split into pages.
// The format is the lowercase file extension including the dot.
func (l *Loader) Load(path string, format string) ([]string, error) {
	switch format {
	case ".pdf":
		return l.loadPDF(path)
	case ".docx":
		return l.loadDOCX(path)
	case ".html", ".htm":
		return l.loadHTML(path)
	case ".txt", ".md":
		return l.loadPlainText(path)
	default:
		return nil, fmt.Errorf("unsupported document format: %s", format)
	}
}

// loadPlainText reads the whole file as a single page
func (l *Loader) loadPlainText(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	text := strings.TrimSpace(string(content))
	if text == "" {
		return nil, fmt.Errorf("document contains no text")
	}
	return []string{text}, nil
}

// loadHTML strips non-content elements and converts the remainder to markdown
func (l *Loader) loadHTML(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	for _, selector := range []string{"script", "style", "nav", "header", "footer", "noscript", "iframe"} {
		doc.Find(selector).Remove()
	}

	html, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(html) == "" {
		// Fall back to the whole document when there is no body element
		html, err = doc.Html()
		if err != nil {
			return nil, fmt.Errorf("failed to extract HTML content: %w", err)
		}
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return nil, fmt.Errorf("failed to convert HTML to markdown: %w", err)
	}

	text := strings.TrimSpace(markdown)
	if text == "" {
		return nil, fmt.Errorf("document contains no text")
	}

	return []string{text}, nil
}

// docx XML elements carrying text content
type docxDocument struct {
	Body docxBody `xml:"body"`
}

type docxBody struct {
	Paragraphs []docxParagraph `xml:"p"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Texts []string `xml:"t"`
}

// loadDOCX extracts paragraph text from the main document part
func (l *Loader) loadDOCX(path string) ([]string, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open docx archive: %w", err)
	}
	defer reader.Close()

	var documentXML []byte
	for _, file := range reader.File {
		if file.Name == "word/document.xml" {
			rc, err := file.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open document part: %w", err)
			}
			documentXML, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read document part: %w", err)
			}
			break
		}
	}
	if documentXML == nil {
		return nil, fmt.Errorf("docx archive has no word/document.xml")
	}

	var doc docxDocument
	if err := xml.Unmarshal(documentXML, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document XML: %w", err)
	}

	var builder strings.Builder
	for _, para := range doc.Body.Paragraphs {
		var line strings.Builder
		for _, run := range para.Runs {
			for _, t := range run.Texts {
				line.WriteString(t)
			}
		}
		if line.Len() > 0 {
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(line.String())
		}
	}

	text := strings.TrimSpace(builder.String())
	if text == "" {
		return nil, fmt.Errorf("document contains no text")
	}

	return []string{text}, nil
}

// loadPDF extracts text per page using pdfcpu content extraction
func (l *Loader) loadPDF(path string) ([]string, error) {
	conf := model.NewDefaultConfiguration()

	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}
	pageCount := pdfCtx.PageCount
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	outDir, err := os.MkdirTemp(l.tempDir, "pages_")
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(path, outDir, nil, conf); err != nil {
		return nil, fmt.Errorf("failed to extract PDF content: %w", err)
	}

	pageTexts := make(map[int]string)
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		pageNum := parsePageNumber(file.Name())
		if pageNum == 0 {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		pageTexts[pageNum] = extractTextFromContentStream(string(content))
	}

	pages := make([]string, 0, pageCount)
	hasText := false
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		text := strings.TrimSpace(pageTexts[pageNum])
		if text != "" {
			hasText = true
		}
		pages = append(pages, text)
	}

	if !hasText {
		return nil, fmt.Errorf("no text could be extracted from PDF")
	}

	return pages, nil
}

// pageNumberRegex matches the page number in pdfcpu extraction filenames,
// which vary between "page_N" and "<name>_Content_page_N" across versions
var pageNumberRegex = regexp.MustCompile(`page_(\d+)`)

func parsePageNumber(filename string) int {
	matches := pageNumberRegex.FindStringSubmatch(filename)
	if len(matches) < 2 {
		return 0
	}
	n, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return n
}

// textShowRegex matches the Tj, ' and TJ text-showing operators in a
// decoded PDF content stream
var textShowRegex = regexp.MustCompile(`\((?:[^()\\]|\\.)*\)\s*(?:Tj|')|\[(?:[^\[\]\\]|\\.)*\]\s*TJ`)

// pdfStringRegex matches individual parenthesized string literals
var pdfStringRegex = regexp.MustCompile(`\((?:[^()\\]|\\.)*\)`)

// extractTextFromContentStream pulls the string operands of text-showing
// operators out of a decoded content stream. Fonts with custom glyph
// encodings are not decoded; their text comes through as-is.
func extractTextFromContentStream(content string) string {
	var builder strings.Builder

	for _, op := range textShowRegex.FindAllString(content, -1) {
		for _, literal := range pdfStringRegex.FindAllString(op, -1) {
			text := unescapePDFString(literal[1 : len(literal)-1])
			if text != "" {
				builder.WriteString(text)
			}
		}
		builder.WriteString(" ")
	}

	return strings.TrimSpace(builder.String())
}

// unescapePDFString resolves backslash escapes in a PDF string literal
func unescapePDFString(s string) string {
	var builder strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			builder.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			break
		}
		switch s[i] {
		case 'n':
			builder.WriteByte('\n')
		case 'r':
			builder.WriteByte('\r')
		case 't':
			builder.WriteByte('\t')
		case 'b':
			builder.WriteByte('\b')
		case 'f':
			builder.WriteByte('\f')
		case '(', ')', '\\':
			builder.WriteByte(s[i])
		case '0', '1', '2', '3', '4', '5', '6', '7':
			// Octal escape, up to three digits
			end := i + 1
			for end < len(s) && end < i+3 && s[end] >= '0' && s[end] <= '7' {
				end++
			}
			if v, err := strconv.ParseUint(s[i:end], 8, 16); err == nil && v > 0 && v < 256 {
				builder.WriteByte(byte(v))
			}
			i = end - 1
		default:
			builder.WriteByte(s[i])
		}
	}
	return builder.String()
}
