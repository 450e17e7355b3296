package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/aestimo/internal/services/embeddings"
	"github.com/ternarybob/aestimo/internal/services/sessions"
	"github.com/ternarybob/aestimo/internal/services/vectorindex"
)

// Service answers questions about a session's RFP and vendor documents. Each
// query is embedded, matched against the session's vector index, and answered
// by the completion model with the retrieved chunks as context.
type Service struct {
	llmService     interfaces.LLMService
	embedder       *embeddings.Service
	sessionService *sessions.Service
	config         *common.ChatConfig
	markdown       goldmark.Markdown
	logger         arbor.ILogger
}

// NewService creates a new chat service
func NewService(
	llmService interfaces.LLMService,
	embedder *embeddings.Service,
	sessionService *sessions.Service,
	config *common.ChatConfig,
	logger arbor.ILogger,
) *Service {
	return &Service{
		llmService:     llmService,
		embedder:       embedder,
		sessionService: sessionService,
		config:         config,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		logger: logger,
	}
}

// Chat embeds the query, retrieves the closest chunks from the session index,
// and generates a cited answer. Sessions that have not been processed get a
// NotReadyError before any model call.
func (s *Service) Chat(ctx context.Context, sessionID string, req *interfaces.ChatRequest) (*interfaces.ChatResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, common.NewValidationError("query is required")
	}

	session, err := s.sessionService.Get(ctx, sessionID)
	if err != nil || !session.Processed {
		return nil, common.NewNotReadyError("chatbot not ready; process documents first")
	}

	index, err := s.loadIndex(sessionID)
	if err != nil {
		return nil, err
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := index.Search(vector, s.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("index search failed: %w", err)
	}

	messages := []interfaces.Message{
		{Role: "system", Content: chatSystemPrompt},
		{Role: "user", Content: buildUserMessage(query, buildContext(matches))},
	}

	start := time.Now()
	answer, err := s.llmService.ChatWithOptions(ctx, messages, interfaces.ChatOptions{
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
	})
	if err != nil {
		return nil, common.NewExternalServiceError("chat", err)
	}

	s.sessionService.Touch(ctx, session)

	s.logger.Info().
		Str("session_id", sessionID).
		Int("sources", len(matches)).
		Int("answer_chars", len(answer)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("Chat answer generated")

	return &interfaces.ChatResponse{
		Answer:     answer,
		AnswerHTML: s.renderHTML(answer),
		Sources:    toSources(matches),
	}, nil
}

// HealthCheck verifies the chat service is operational
func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.llmService.HealthCheck(ctx); err != nil {
		return fmt.Errorf("LLM service unhealthy: %w", err)
	}
	return nil
}

// loadIndex reads the session's index snapshot from disk. Index files are
// small enough that reloading per query beats carrying cache invalidation
// across reprocessing and retention cleanup.
func (s *Service) loadIndex(sessionID string) (*vectorindex.Index, error) {
	path := s.sessionService.IndexPath(sessionID)
	index, err := vectorindex.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, common.NewNotReadyError("the session index is missing; process documents again")
		}
		return nil, fmt.Errorf("failed to load session index: %w", err)
	}
	return index, nil
}

// renderHTML converts the markdown answer to HTML for the bundled UI. A
// conversion failure degrades to an empty string rather than failing the chat.
func (s *Service) renderHTML(answer string) string {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(answer), &buf); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to render answer HTML")
		return ""
	}
	return buf.String()
}
