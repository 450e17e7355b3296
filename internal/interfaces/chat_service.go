package interfaces

import (
	"context"
)

// ChatRequest represents a question against the uploaded corpus
type ChatRequest struct {
	// User's question
	Query string `json:"query"`
}

// ChatSource identifies a retrieved context chunk backing an answer
type ChatSource struct {
	// Label is the citation label: "RFP" or the vendor name
	Label string `json:"label"`

	// Page number within the source document (0 = unknown)
	Page int `json:"page,omitempty"`

	// Distance is the squared L2 distance of the chunk to the query (smaller = closer)
	Distance float64 `json:"distance"`

	// Preview is the first part of the chunk text shown in the UI
	Preview string `json:"preview"`
}

// ChatResponse represents the answer to a chat request
type ChatResponse struct {
	// Generated answer in markdown
	Answer string `json:"answer"`

	// Answer rendered to HTML for the bundled UI
	AnswerHTML string `json:"answer_html"`

	// Retrieved context chunks used for the answer, closest first
	Sources []ChatSource `json:"sources"`
}

// ChatService answers free-text questions about a session's documents
type ChatService interface {
	// Chat embeds the query, retrieves context from the session index, and
	// generates an answer with citations
	Chat(ctx context.Context, sessionID string, req *ChatRequest) (*ChatResponse, error)

	// HealthCheck verifies the chat service is operational
	HealthCheck(ctx context.Context) error
}
