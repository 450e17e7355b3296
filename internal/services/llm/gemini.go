package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/ternarybob/aestimo/internal/common"
)

// getGeminiClient returns a Gemini client, creating one if necessary.
func (s *Service) getGeminiClient(ctx context.Context) (*genai.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.geminiClient != nil {
		return s.geminiClient, nil
	}

	apiKey, err := common.ResolveAPIKey(ctx, s.kvStorage, "gemini_api_key", s.geminiConfig.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve Gemini API key: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	s.geminiClient = client
	return client, nil
}

// generateEmbeddings performs a single EmbedContent call for the given
// texts and validates the shape of the result. One vector is returned
// per input text, each with the configured output dimensionality.
func (s *Service) generateEmbeddings(ctx context.Context, client *genai.Client, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	outputDim := int32(s.processingConfig.EmbedDimension)
	embeddingConfig := &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	}

	result, err := client.Models.EmbedContent(ctx, s.processingConfig.EmbedModel, contents, embeddingConfig)
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	if result == nil || len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned from API")
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), len(result.Embeddings))
	}

	vectors := make([][]float32, 0, len(result.Embeddings))
	for i, embedding := range result.Embeddings {
		if embedding == nil || len(embedding.Values) == 0 {
			return nil, fmt.Errorf("empty embedding returned for text %d", i)
		}
		if len(embedding.Values) != s.processingConfig.EmbedDimension {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.processingConfig.EmbedDimension, len(embedding.Values))
		}
		vectors = append(vectors, embedding.Values)
	}

	return vectors, nil
}
