package interfaces

import (
	"context"
)

// LLMMode represents the operational mode of the LLM service
type LLMMode string

const (
	// LLMModeCloud indicates the service uses cloud-based LLM APIs
	LLMModeCloud LLMMode = "cloud"

	// LLMModeOffline indicates the service uses local/offline LLM models
	LLMModeOffline LLMMode = "offline"
)

// Message represents a single message in a chat conversation
type Message struct {
	// Role identifies the message sender: "user", "assistant", or "system"
	Role string

	// Content contains the text content of the message
	Content string
}

// ChatOptions tunes a single completion call. Zero values fall back to the
// provider's configured defaults.
type ChatOptions struct {
	Temperature float32
	MaxTokens   int
}

// LLMService defines the interface for language model operations including
// embeddings generation and chat completions.
type LLMService interface {
	// Embed generates an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for a batch of texts in order.
	// All vectors share the service's configured dimensionality.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Chat generates a completion response based on the conversation history.
	// The messages slice should contain the full conversation context including
	// system prompts, user messages, and previous assistant responses.
	Chat(ctx context.Context, messages []Message) (string, error)

	// ChatWithOptions generates a completion with per-call temperature and
	// token limits.
	ChatWithOptions(ctx context.Context, messages []Message, opts ChatOptions) (string, error)

	// HealthCheck verifies the LLM service is operational and can handle requests.
	HealthCheck(ctx context.Context) error

	// GetMode returns the current operational mode of the LLM service.
	GetMode() LLMMode

	// Close releases resources and performs cleanup operations.
	Close() error
}
