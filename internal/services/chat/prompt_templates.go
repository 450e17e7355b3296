package chat

import (
	"fmt"
	"strings"

	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/aestimo/internal/services/vectorindex"
)

// previewChars bounds the source preview returned with each answer
const previewChars = 200

// chatSystemPrompt instructs the model to cite the originating document for
// every fact by its label and to admit when the context has no answer.
const chatSystemPrompt = "You are an RFP analysis assistant. " +
	"You have access to both the RFP and multiple vendor responses. " +
	"When answering, clearly state which document each fact comes from, using the label [RFP] or [VendorA], etc. " +
	"If the context lacks information, say 'Not found in the provided documents.'"

// buildContext formats retrieved chunks as labeled context blocks, closest
// match first
func buildContext(matches []vectorindex.Match) string {
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, fmt.Sprintf("(%s - Chunk %d)\n%s", m.Chunk.Source, m.Chunk.Index, m.Chunk.Text))
	}
	return strings.Join(blocks, "\n\n")
}

// buildUserMessage combines the retrieved context and the question into the
// final user turn
func buildUserMessage(query, context string) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s\nAnswer:", context, query)
}

// toSources converts search matches to the citation list returned to clients
func toSources(matches []vectorindex.Match) []interfaces.ChatSource {
	sources := make([]interfaces.ChatSource, 0, len(matches))
	for _, m := range matches {
		sources = append(sources, interfaces.ChatSource{
			Label:    m.Chunk.Source,
			Page:     m.Chunk.Page,
			Distance: m.Distance,
			Preview:  previewText(m.Chunk.Text),
		})
	}
	return sources
}

// previewText truncates chunk text for display without splitting a rune
func previewText(text string) string {
	runes := []rune(text)
	if len(runes) <= previewChars {
		return text
	}
	return string(runes[:previewChars]) + "..."
}
