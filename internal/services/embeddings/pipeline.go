package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/aestimo/internal/models"
)

// Service turns document chunks into embedded chunks through the hosted
// embedding API. Chunks are sent in bounded batches; a batch that fails
// after the API client's own retries fails the whole run and names the
// offending batch, so the caller can report exactly what went wrong.
type Service struct {
	llmService   interfaces.LLMService
	eventService interfaces.EventService
	batchSize    int
	logger       arbor.ILogger
}

// NewService creates an embedding pipeline over the LLM service
func NewService(
	llmService interfaces.LLMService,
	eventService interfaces.EventService,
	cfg *common.ProcessingConfig,
	logger arbor.ILogger,
) *Service {
	batchSize := cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Service{
		llmService:   llmService,
		eventService: eventService,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// EmbedChunks embeds every chunk in order and pairs each with its vector.
// Progress is published per batch so the UI can follow long runs.
func (s *Service) EmbedChunks(ctx context.Context, sessionID string, chunks []models.Chunk) ([]models.EmbeddedChunk, error) {
	if len(chunks) == 0 {
		return []models.EmbeddedChunk{}, nil
	}

	batches := (len(chunks) + s.batchSize - 1) / s.batchSize
	embedded := make([]models.EmbeddedChunk, 0, len(chunks))
	start := time.Now()

	for b := 0; b < batches; b++ {
		lo := b * s.batchSize
		hi := lo + s.batchSize
		if hi > len(chunks) {
			hi = len(chunks)
		}

		texts := make([]string, 0, hi-lo)
		for _, chunk := range chunks[lo:hi] {
			texts = append(texts, chunk.Text)
		}

		vectors, err := s.llmService.EmbedBatch(ctx, texts)
		if err != nil {
			s.logger.Error().
				Int("batch", b+1).
				Int("batches", batches).
				Int("batch_size", len(texts)).
				Err(err).
				Msg("Embedding batch failed")
			return nil, common.NewExternalServiceError("embedding",
				fmt.Errorf("batch %d of %d: %w", b+1, batches, err))
		}
		if len(vectors) != len(texts) {
			return nil, common.NewExternalServiceError("embedding",
				fmt.Errorf("batch %d of %d: expected %d vectors, got %d", b+1, batches, len(texts), len(vectors)))
		}

		for i, chunk := range chunks[lo:hi] {
			embedded = append(embedded, models.EmbeddedChunk{Chunk: chunk, Vector: vectors[i]})
		}

		s.publishProgress(ctx, sessionID, hi, len(chunks))
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Int("chunks", len(chunks)).
		Int("batches", batches).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("Embedded session chunks")

	return embedded, nil
}

// EmbedQuery embeds a single query string for index search
func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vector, err := s.llmService.Embed(ctx, query)
	if err != nil {
		return nil, common.NewExternalServiceError("embedding", err)
	}
	return vector, nil
}

// EmbedTexts embeds standalone texts (requirement queries) in one batch,
// order preserved
func (s *Service) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vectors, err := s.llmService.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, common.NewExternalServiceError("embedding", err)
	}
	if len(vectors) != len(texts) {
		return nil, common.NewExternalServiceError("embedding",
			fmt.Errorf("expected %d vectors, got %d", len(texts), len(vectors)))
	}
	return vectors, nil
}

func (s *Service) publishProgress(ctx context.Context, sessionID string, current, total int) {
	if s.eventService == nil {
		return
	}
	s.eventService.Publish(ctx, interfaces.Event{
		Type: interfaces.EventProcessingProgress,
		Payload: map[string]interface{}{
			"session_id": sessionID,
			"stage":      "embedding",
			"current":    current,
			"total":      total,
			"timestamp":  time.Now(),
		},
	})
}
