package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/aestimo/internal/models"
	"github.com/ternarybob/aestimo/internal/services/llm"
	"github.com/ternarybob/aestimo/internal/services/vectorindex"
)

const (
	// maxEvidenceChars bounds each retrieved excerpt in the judgment prompt
	maxEvidenceChars = 2000

	// maxCapabilityChars bounds the vendor text sent for capability analysis
	maxCapabilityChars = 16000
)

// judgmentPayload is the schema a compliance judgment must satisfy.
// Score and confidence are pointers so a response that omits them fails
// validation instead of silently judging zero.
type judgmentPayload struct {
	Score      *float64 `json:"score" validate:"required,min=0,max=1"`
	Confidence *float64 `json:"confidence" validate:"required,min=0,max=1"`
	Evidence   []string `json:"evidence"`
	Gaps       []string `json:"gaps"`
}

// judge asks the model to assess one vendor against one requirement given
// the retrieved evidence. Failures (transport or malformed output) retry
// up to the configured count; persistent failure produces an unscored
// judgment that contributes zero to the total.
func (s *Service) judge(ctx context.Context, vendor string, req models.Requirement, matches []vectorindex.Match) models.ComplianceJudgment {
	prompt := buildJudgmentPrompt(vendor, req, matches)

	var lastErr error
retry:
	for attempt := 0; attempt <= s.config.JudgmentRetries; attempt++ {
		if attempt > 0 {
			backoff := s.retryBackoff * time.Duration(1<<(attempt-1))
			if apiDelay := llm.ExtractRetryDelay(lastErr); apiDelay > 0 {
				backoff = apiDelay
			}
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retry
			case <-time.After(backoff):
			}
		}

		output, err := s.llmService.Chat(ctx, []interfaces.Message{
			{Role: "user", Content: prompt},
		})
		if err != nil {
			lastErr = err
			s.logger.Warn().
				Str("vendor", vendor).
				Str("requirement", req.ID).
				Int("attempt", attempt+1).
				Err(err).
				Msg("Judgment call failed")
			continue
		}

		payload, err := s.parseJudgment(output)
		if err != nil {
			lastErr = err
			s.logger.Warn().
				Str("vendor", vendor).
				Str("requirement", req.ID).
				Int("attempt", attempt+1).
				Err(err).
				Msg("Judgment output malformed")
			continue
		}

		return models.ComplianceJudgment{
			RequirementID: req.ID,
			Vendor:        vendor,
			Score:         *payload.Score,
			Confidence:    *payload.Confidence,
			Evidence:      payload.Evidence,
			Gaps:          payload.Gaps,
		}
	}

	s.logger.Error().
		Str("vendor", vendor).
		Str("requirement", req.ID).
		Err(lastErr).
		Msg("Judgment unscored after retries")

	return models.ComplianceJudgment{
		RequirementID: req.ID,
		Vendor:        vendor,
		Unscored:      true,
		Gaps:          []string{"Evaluation unavailable: the judgment call failed after retries"},
	}
}

func (s *Service) parseJudgment(output string) (*judgmentPayload, error) {
	cleaned := llm.ExtractJSON(output)
	if cleaned == "" {
		return nil, fmt.Errorf("response contains no JSON object")
	}

	var payload judgmentPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := s.validate.Struct(&payload); err != nil {
		return nil, fmt.Errorf("response does not match the judgment schema: %w", err)
	}
	return &payload, nil
}

func buildJudgmentPrompt(vendor string, req models.Requirement, matches []vectorindex.Match) string {
	var evidence strings.Builder
	for i, m := range matches {
		text := m.Chunk.Text
		if len(text) > maxEvidenceChars {
			text = text[:maxEvidenceChars]
		}
		fmt.Fprintf(&evidence, "[%d] %s\n\n", i+1, text)
	}

	kind := "desirable"
	if req.Mandatory {
		kind = "mandatory"
	}

	return fmt.Sprintf(`You are an expert RFP evaluator. Judge how well the vendor's response satisfies one RFP requirement, using only the evidence excerpts below.

Requirement (%s, category: %s):
%s

Evidence from %s's response, most relevant first:
%s
Score 0.0 (no compliance) to 1.0 (fully satisfied). Quote the strongest supporting passages in "evidence" and list what is missing or unclear in "gaps".

Return ONLY valid JSON in this exact format:
{"score": 0.0, "confidence": 0.0, "evidence": ["quoted passage"], "gaps": ["missing item"]}`,
		kind, req.Category, req.Text, vendor, evidence.String())
}

// capabilityPayload is the schema for vendor capability analysis
type capabilityPayload struct {
	Capabilities    []string `json:"capabilities"`
	Commitments     []string `json:"commitments"`
	Differentiators []string `json:"differentiators"`
	Summary         string   `json:"summary"`
}

// analyzeCapabilities asks the model what the vendor claims to offer.
// The result feeds the confidence heuristics and the vendor summary; a
// failure here degrades to a nil analysis rather than failing the vendor.
func (s *Service) analyzeCapabilities(ctx context.Context, vendor string, index *vectorindex.Index) *models.CapabilityAnalysis {
	chunks := index.Chunks(func(c *models.Chunk) bool {
		return c.Kind == models.DocumentKindVendor && c.Source == vendor
	})
	if len(chunks) == 0 {
		return nil
	}

	var text strings.Builder
	for _, chunk := range chunks {
		if text.Len()+len(chunk.Text) > maxCapabilityChars {
			break
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(chunk.Text)
	}

	prompt := fmt.Sprintf(`You are an expert in analyzing vendor proposals in response to RFPs.

Extract all capabilities, commitments/deliverables, and unique differentiators that the vendor claims, and summarize the proposal in 2-3 sentences.

Return ONLY valid JSON in this exact format:
{"capabilities": [], "commitments": [], "differentiators": [], "summary": ""}

Vendor content:
%s`, text.String())

	output, err := s.llmService.Chat(ctx, []interfaces.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		s.logger.Warn().Str("vendor", vendor).Err(err).Msg("Capability analysis failed")
		return nil
	}

	cleaned := llm.ExtractJSON(output)
	if cleaned == "" {
		s.logger.Warn().Str("vendor", vendor).Msg("Capability analysis returned no JSON")
		return nil
	}

	var payload capabilityPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		s.logger.Warn().Str("vendor", vendor).Err(err).Msg("Capability analysis output malformed")
		return nil
	}

	return &models.CapabilityAnalysis{
		Capabilities:    payload.Capabilities,
		Commitments:     payload.Commitments,
		Differentiators: payload.Differentiators,
		Summary:         payload.Summary,
	}
}
