package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/interfaces"
)

// Service implements the LLMService interface. Embeddings go through
// Google Gemini, completions through Anthropic Claude. Clients are
// created lazily on first use so the server can start, and documents
// can be uploaded, before any API key is configured.
type Service struct {
	geminiConfig     *common.GeminiConfig
	claudeConfig     *common.ClaudeConfig
	processingConfig *common.ProcessingConfig
	kvStorage        interfaces.KeyValueStorage
	logger           arbor.ILogger

	mu           sync.Mutex
	geminiClient *genai.Client
	claudeClient anthropic.Client
	claudeAPIKey string

	geminiTimeout time.Duration
	claudeTimeout time.Duration
	embedLimiter  *rate.Limiter
}

// NewService creates a new LLM service instance.
//
// Initialization parses timeouts and the embedding rate limit but does
// not touch the network. API keys are resolved lazily with KV-first
// resolution order: environment, KV store, config fallback.
func NewService(config *common.Config, kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) (*Service, error) {
	geminiTimeout, err := time.ParseDuration(config.Gemini.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid gemini timeout duration '%s': %w", config.Gemini.Timeout, err)
	}

	claudeTimeout, err := time.ParseDuration(config.Claude.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid claude timeout duration '%s': %w", config.Claude.Timeout, err)
	}

	var limiter *rate.Limiter
	if config.Gemini.RateLimit != "" {
		interval, err := time.ParseDuration(config.Gemini.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("invalid gemini rate_limit duration '%s': %w", config.Gemini.RateLimit, err)
		}
		if interval > 0 {
			limiter = rate.NewLimiter(rate.Every(interval), 1)
		}
	}

	service := &Service{
		geminiConfig:     &config.Gemini,
		claudeConfig:     &config.Claude,
		processingConfig: &config.Processing,
		kvStorage:        kvStorage,
		logger:           logger,
		geminiTimeout:    geminiTimeout,
		claudeTimeout:    claudeTimeout,
		embedLimiter:     limiter,
	}

	logger.Debug().
		Str("embed_model", config.Processing.EmbedModel).
		Int("embed_dimension", config.Processing.EmbedDimension).
		Str("chat_model", config.Claude.Model).
		Str("gemini_timeout", geminiTimeout.String()).
		Str("claude_timeout", claudeTimeout.String()).
		Msg("LLM service initialized")

	return service, nil
}

// Embed generates an embedding vector for a single text. Used for
// query-time embedding; document chunks go through EmbedBatch.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty for embedding generation")
	}

	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embedding vectors for a slice of texts in a
// single API call. Failed calls are retried with exponential backoff;
// rate limit errors honor the API-suggested delay where one is present.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty for embedding generation")
	}

	client, err := s.getGeminiClient(ctx)
	if err != nil {
		return nil, err
	}

	if s.embedLimiter != nil {
		if err := s.embedLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.geminiTimeout)
	defer cancel()

	startTime := time.Now()

	var vectors [][]float32
	var apiErr error
	retryConfig := NewEmbedRetryConfig()

	for attempt := 0; attempt <= retryConfig.MaxRetries; attempt++ {
		vectors, apiErr = s.generateEmbeddings(timeoutCtx, client, texts)
		if apiErr == nil {
			break
		}

		if attempt == retryConfig.MaxRetries {
			break
		}

		backoff := retryConfig.CalculateBackoff(attempt, ExtractRetryDelay(apiErr))

		s.logger.Warn().
			Int("attempt", attempt+1).
			Int("batch_size", len(texts)).
			Str("backoff", backoff.String()).
			Err(apiErr).
			Msg("Retrying embedding batch")

		select {
		case <-timeoutCtx.Done():
			return nil, timeoutCtx.Err()
		case <-time.After(backoff):
		}
	}

	if apiErr != nil {
		return nil, fmt.Errorf("embedding generation failed after %d retries: %w", retryConfig.MaxRetries, apiErr)
	}

	s.logger.Debug().
		Int("batch_size", len(texts)).
		Int64("duration_ms", time.Since(startTime).Milliseconds()).
		Msg("Embedding batch completed")

	return vectors, nil
}

// Chat generates a completion using the configured model defaults.
func (s *Service) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	return s.ChatWithOptions(ctx, messages, interfaces.ChatOptions{
		Temperature: s.claudeConfig.Temperature,
		MaxTokens:   s.claudeConfig.MaxTokens,
	})
}

// ChatWithOptions generates a completion with explicit sampling options.
// The temperature is always sent, so callers that need deterministic
// output pass zero and get zero rather than the provider default.
func (s *Service) ChatWithOptions(ctx context.Context, messages []interfaces.Message, opts interfaces.ChatOptions) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("messages cannot be empty for chat completion")
	}

	client, err := s.getClaudeClient(ctx)
	if err != nil {
		return "", err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.claudeTimeout)
	defer cancel()

	startTime := time.Now()
	s.logger.Debug().
		Int("message_count", len(messages)).
		Msg("Starting chat completion")

	response, err := s.generateClaudeCompletion(timeoutCtx, client, messages, opts)
	if err != nil {
		s.logger.Error().
			Err(err).
			Int("message_count", len(messages)).
			Msg("Chat completion failed")
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	s.logger.Debug().
		Int("message_count", len(messages)).
		Int("response_length", len(response)).
		Int64("duration_ms", time.Since(startTime).Milliseconds()).
		Msg("Chat completion completed")

	return response, nil
}

// HealthCheck verifies both providers are reachable and responding.
func (s *Service) HealthCheck(ctx context.Context) error {
	s.logger.Debug().Msg("Running LLM service health check")

	if err := s.performEmbeddingHealthCheck(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Embedding model health check failed")
		return fmt.Errorf("embedding model health check failed: %w", err)
	}

	if err := s.performChatHealthCheck(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Chat model health check failed")
		return fmt.Errorf("chat model health check failed: %w", err)
	}

	s.logger.Info().
		Str("embed_model", s.processingConfig.EmbedModel).
		Str("chat_model", s.claudeConfig.Model).
		Msg("LLM service health check passed")

	return nil
}

// performEmbeddingHealthCheck exercises the embedding model with a lightweight probe.
func (s *Service) performEmbeddingHealthCheck(ctx context.Context) error {
	healthCheckCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	embedding, err := s.Embed(healthCheckCtx, "health check probe")
	if err != nil {
		return fmt.Errorf("embedding probe failed: %w", err)
	}

	if len(embedding) == 0 {
		return fmt.Errorf("embedding probe returned empty vector")
	}

	s.logger.Debug().
		Int("embedding_dim", len(embedding)).
		Msg("Embedding model health check passed")

	return nil
}

// performChatHealthCheck exercises the chat model with a minimal probe.
func (s *Service) performChatHealthCheck(ctx context.Context) error {
	healthCheckCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	response, err := s.Chat(healthCheckCtx, []interfaces.Message{
		{Role: "user", Content: "ping"},
	})
	if err != nil {
		return fmt.Errorf("chat probe failed: %w", err)
	}

	if len(strings.TrimSpace(response)) == 0 {
		return fmt.Errorf("chat probe returned empty response")
	}

	s.logger.Debug().
		Int("response_length", len(response)).
		Msg("Chat model health check passed")

	return nil
}

// GetMode returns the current operational mode of the LLM service.
func (s *Service) GetMode() interfaces.LLMMode {
	return interfaces.LLMModeCloud
}

// Close releases client references.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.geminiClient = nil
	s.claudeClient = anthropic.Client{}
	s.claudeAPIKey = ""

	s.logger.Debug().Msg("LLM service closed")
	return nil
}
