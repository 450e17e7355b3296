package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/aestimo/internal/models"
	"github.com/ternarybob/aestimo/internal/services/criteria"
	"github.com/ternarybob/aestimo/internal/services/llm"
)

// maxContextChars bounds how much RFP text goes into one extraction prompt.
// Chunks past the bound are dropped with a warning rather than failing the run.
const maxContextChars = 100000

// Service extracts evaluation requirements from RFP chunks with one LLM
// call. Model output must decode into the requirement schema; malformed
// output gets a single corrective retry, after which the run fails with
// no partial requirement set.
type Service struct {
	llmService interfaces.LLMService
	rubric     *criteria.Set
	modelName  string
	validate   *validator.Validate
	logger     arbor.ILogger
}

// NewService creates a requirement extractor
func NewService(llmService interfaces.LLMService, rubric *criteria.Set, modelName string, logger arbor.ILogger) *Service {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Service{
		llmService: llmService,
		rubric:     rubric,
		modelName:  modelName,
		validate:   validator.New(),
		logger:     logger,
	}
}

// requirementItem is the schema each extracted requirement must satisfy
type requirementItem struct {
	Text      string `json:"text" validate:"required,min=3"`
	Category  string `json:"category" validate:"required"`
	Mandatory bool   `json:"mandatory"`
}

type requirementPayload struct {
	Requirements []requirementItem `json:"requirements" validate:"required,min=1,dive"`
}

// Extract prompts the model with the session's RFP chunks and returns the
// parsed requirement set. Requirement ids are assigned sequentially
// (REQ-001, REQ-002, ...) in order of appearance.
func (s *Service) Extract(ctx context.Context, sessionID string, chunks []models.Chunk) (*models.RequirementSet, error) {
	if len(chunks) == 0 {
		return nil, common.NewValidationError("no RFP content available for requirement extraction")
	}

	prompt := s.buildPrompt(chunks)

	output, err := s.llmService.Chat(ctx, []interfaces.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, common.NewExternalServiceError("extraction", err)
	}

	payload, parseErr := s.parse(output)
	if parseErr != nil {
		s.logger.Warn().
			Str("session_id", sessionID).
			Err(parseErr).
			Msg("Extraction output malformed, retrying with corrective prompt")

		output, err = s.llmService.Chat(ctx, []interfaces.Message{
			{Role: "user", Content: prompt},
			{Role: "assistant", Content: output},
			{Role: "user", Content: correctivePrompt(parseErr)},
		})
		if err != nil {
			return nil, common.NewExternalServiceError("extraction", err)
		}

		payload, parseErr = s.parse(output)
		if parseErr != nil {
			return nil, common.NewExternalServiceError("extraction",
				fmt.Errorf("extraction failed: model output unparsable after corrective retry: %w", parseErr))
		}
	}

	set := &models.RequirementSet{
		SessionID:    sessionID,
		Requirements: make([]models.Requirement, 0, len(payload.Requirements)),
		Model:        s.modelName,
		ExtractedAt:  time.Now(),
	}

	for i, item := range payload.Requirements {
		category, known := s.rubric.Canonical(item.Category)
		if !known {
			category = s.rubric.Fallback()
			s.logger.Debug().
				Str("category", item.Category).
				Str("assigned", category).
				Msg("Requirement category outside rubric")
		}
		set.Requirements = append(set.Requirements, models.Requirement{
			ID:        fmt.Sprintf("REQ-%03d", i+1),
			Text:      strings.TrimSpace(item.Text),
			Category:  category,
			Mandatory: item.Mandatory,
		})
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Int("requirements", len(set.Requirements)).
		Int("mandatory", set.MandatoryCount()).
		Msg("Extracted requirements from RFP")

	return set, nil
}

func (s *Service) buildPrompt(chunks []models.Chunk) string {
	var context strings.Builder
	included := 0
	for _, chunk := range chunks {
		if context.Len()+len(chunk.Text) > maxContextChars {
			s.logger.Warn().
				Int("included", included).
				Int("total", len(chunks)).
				Msg("RFP exceeds extraction context window, trailing chunks dropped")
			break
		}
		if context.Len() > 0 {
			context.WriteString("\n\n---\n\n")
		}
		context.WriteString(chunk.Text)
		included++
	}

	return fmt.Sprintf(`You are an expert in analyzing government and corporate RFPs. Your task is to extract all explicit and implied requirements from the RFP excerpts below.

Instructions:
1. Extract each distinct requirement as its own entry, phrased as a complete statement.
2. Classify each requirement into exactly one category: %s.
3. Set "mandatory" to true for requirements expressed with "must", "shall", "required" or equivalent binding language; false for desirable or optional items.

Return ONLY valid JSON in this exact format:
{
  "requirements": [
    {"text": "The system must support 99.9%% uptime", "category": "technical", "mandatory": true}
  ]
}

RFP excerpts:
%s`, strings.Join(s.rubric.Names(), ", "), context.String())
}

func correctivePrompt(parseErr error) string {
	return fmt.Sprintf(`Your previous response could not be used: %v.

Respond again with ONLY the JSON object in the required format. No commentary, no code fences, no text outside the JSON.`, parseErr)
}

// parse strips code fences, decodes the JSON payload and validates it
// against the requirement schema
func (s *Service) parse(output string) (*requirementPayload, error) {
	cleaned := llm.ExtractJSON(output)
	if cleaned == "" {
		return nil, fmt.Errorf("response contains no JSON object")
	}

	var payload requirementPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := s.validate.Struct(&payload); err != nil {
		return nil, fmt.Errorf("response does not match the requirement schema: %w", err)
	}
	return &payload, nil
}
