package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/models"
)

var (
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	hyphenBreak = regexp.MustCompile(`-[ \t]*\n[ \t]*`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
	bulletRunes = regexp.MustCompile(`[•·◦]+[ \t]*`)
)

// Service splits document text into ordered, bounded chunks for embedding.
// Paragraphs below the minimum size are merged forward; paragraphs above the
// maximum are split at word boundaries with a fixed overlap between the
// resulting chunks.
type Service struct {
	maxSize int
	minSize int
	overlap int
	logger  arbor.ILogger
}

// NewService creates a chunker from the processing configuration
func NewService(cfg *common.ProcessingConfig, logger arbor.ILogger) *Service {
	s := &Service{
		maxSize: cfg.MaxChunkSize,
		minSize: cfg.MinChunkSize,
		overlap: cfg.ChunkOverlap,
		logger:  logger,
	}
	if s.maxSize <= 0 {
		s.maxSize = 4096
	}
	if s.minSize <= 0 || s.minSize > s.maxSize {
		s.minSize = s.maxSize / 2
	}
	if s.overlap < 0 || s.overlap >= s.maxSize {
		s.overlap = s.maxSize / 16
	}
	return s
}

// CleanText normalizes extracted document text: whitespace runs collapse to a
// single space, hyphenated line breaks are repaired ("develop-\nment" becomes
// "development"), stray bullet characters are removed, and at most two
// consecutive newlines survive.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = spaceRuns.ReplaceAllString(text, " ")
	text = hyphenBreak.ReplaceAllString(text, "")
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	text = bulletRunes.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// Normalize cleans each page and joins the non-empty results with a blank
// line, producing the text the chunk offsets refer to.
func Normalize(pages []string) string {
	text, _ := normalizePages(pages)
	return text
}

// pageSpan records where a source page landed in the normalized text
type pageSpan struct {
	page  int // 1-based page number
	start int
	end   int
}

func normalizePages(pages []string) (string, []pageSpan) {
	var b strings.Builder
	spans := make([]pageSpan, 0, len(pages))
	for i, page := range pages {
		cleaned := CleanText(page)
		if cleaned == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		start := b.Len()
		b.WriteString(cleaned)
		spans = append(spans, pageSpan{page: i + 1, start: start, end: b.Len()})
	}
	return b.String(), spans
}

// span is a half-open [start, end) region of the normalized text
type span struct {
	start int
	end   int
}

func (sp span) size() int { return sp.end - sp.start }

// Chunk splits a document into ordered chunks carrying source metadata and
// character offsets into the normalized text. Whitespace-only documents
// produce no chunks; text within the maximum size produces exactly one.
func (s *Service) Chunk(doc *models.Document) []models.Chunk {
	text, pages := normalizePages(doc.Pages)
	if text == "" {
		return nil
	}

	var spans []span
	if len(text) <= s.maxSize {
		spans = []span{{start: 0, end: len(text)}}
	} else {
		segments := s.mergeSmallForward(paragraphSpans(text))
		for _, seg := range segments {
			if seg.size() <= s.maxSize {
				spans = append(spans, seg)
				continue
			}
			spans = append(spans, s.splitSpan(text, seg)...)
		}
	}

	paged := doc.Format == "pdf" && len(pages) > 0
	chunks := make([]models.Chunk, 0, len(spans))
	for _, sp := range spans {
		sp = trimSpan(text, sp)
		if sp.size() == 0 {
			continue
		}
		idx := len(chunks)
		chunk := models.Chunk{
			ID:         fmt.Sprintf("%s_chunk_%d", doc.ID, idx),
			DocumentID: doc.ID,
			SessionID:  doc.SessionID,
			Source:     doc.SourceLabel(),
			Kind:       doc.Kind,
			Index:      idx,
			Text:       text[sp.start:sp.end],
			CharStart:  sp.start,
			CharEnd:    sp.end,
		}
		if paged {
			chunk.Page = pageForOffset(pages, sp.start)
		}
		chunks = append(chunks, chunk)
	}

	s.logger.Debug().
		Str("document_id", doc.ID).
		Int("chunks", len(chunks)).
		Int("chars", len(text)).
		Msg("Chunked document")

	return chunks
}

// paragraphSpans segments the normalized text on blank lines, skipping
// whitespace-only regions
func paragraphSpans(text string) []span {
	var spans []span
	offset := 0
	for _, part := range strings.Split(text, "\n\n") {
		sp := trimSpan(text, span{start: offset, end: offset + len(part)})
		if sp.size() > 0 {
			spans = append(spans, sp)
		}
		offset += len(part) + 2
	}
	return spans
}

// mergeSmallForward extends segments below the minimum size through their
// successors while the combined span stays within the maximum. Interior
// separators become part of the merged chunk, so offsets stay contiguous.
func (s *Service) mergeSmallForward(segments []span) []span {
	if len(segments) == 0 {
		return nil
	}
	merged := make([]span, 0, len(segments))
	i := 0
	for i < len(segments) {
		cur := segments[i]
		j := i + 1
		for cur.size() < s.minSize && j < len(segments) && segments[j].end-cur.start <= s.maxSize {
			cur.end = segments[j].end
			j++
		}
		merged = append(merged, cur)
		i = j
	}
	return merged
}

// splitSpan slides a window of at most maxSize over an oversized segment,
// cutting at the last word boundary inside the window and restarting each
// following chunk overlap characters back so context survives the cut.
func (s *Service) splitSpan(text string, seg span) []span {
	var spans []span
	start := seg.start
	for {
		if seg.end-start <= s.maxSize {
			spans = append(spans, span{start: start, end: seg.end})
			return spans
		}

		end := start + s.maxSize
		if cut := lastBoundary(text[start:end]); cut > 0 {
			end = start + cut
		}
		spans = append(spans, span{start: start, end: end})

		next := end - s.overlap
		if next <= start {
			next = end
		}
		// Start the next chunk at a word boundary within the overlap region
		for next < end && !isSpace(text[next-1]) {
			next++
		}
		start = next
	}
}

// lastBoundary returns the index of the last whitespace rune in the slice,
// or 0 when the slice is a single unbroken word
func lastBoundary(text string) int {
	for i := len(text) - 1; i > 0; i-- {
		if isSpace(text[i]) {
			return i
		}
	}
	return 0
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t'
}

// trimSpan narrows a span until it starts and ends on non-whitespace,
// keeping chunk text identical to text[CharStart:CharEnd]
func trimSpan(text string, sp span) span {
	for sp.start < sp.end && isSpace(text[sp.start]) {
		sp.start++
	}
	for sp.end > sp.start && isSpace(text[sp.end-1]) {
		sp.end--
	}
	return sp
}

// pageForOffset finds the 1-based page containing the offset; offsets in
// the separator between pages attribute to the following page
func pageForOffset(pages []pageSpan, offset int) int {
	for _, p := range pages {
		if offset < p.end {
			return p.page
		}
	}
	if len(pages) > 0 {
		return pages[len(pages)-1].page
	}
	return 0
}
