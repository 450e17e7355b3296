package scoring

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/aestimo/internal/models"
	"github.com/ternarybob/aestimo/internal/services/criteria"
	"github.com/ternarybob/aestimo/internal/services/embeddings"
	"github.com/ternarybob/aestimo/internal/services/vectorindex"
)

const (
	// strengths and weaknesses lists are capped so the UI stays readable
	maxStrengths  = 5
	maxWeaknesses = 5
)

// Service evaluates vendors against the extracted requirement set. Each
// (vendor, requirement) pair gets evidence retrieved from the session
// index and a model judgment; judgments aggregate into a weighted total
// per vendor. Per-pair failures degrade to unscored judgments rather
// than aborting the vendor.
type Service struct {
	llmService   interfaces.LLMService
	embedder     *embeddings.Service
	rubric       *criteria.Set
	config       *common.ScoringConfig
	modelName    string
	eventService interfaces.EventService
	validate     *validator.Validate
	logger       arbor.ILogger

	// backoff between judgment retries, shrunk in tests
	retryBackoff time.Duration
}

// NewService creates a compliance scorer
func NewService(
	llmService interfaces.LLMService,
	embedder *embeddings.Service,
	rubric *criteria.Set,
	config *common.ScoringConfig,
	modelName string,
	eventService interfaces.EventService,
	logger arbor.ILogger,
) *Service {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Service{
		llmService:   llmService,
		embedder:     embedder,
		rubric:       rubric,
		config:       config,
		modelName:    modelName,
		eventService: eventService,
		validate:     validator.New(),
		logger:       logger,
		retryBackoff: 500 * time.Millisecond,
	}
}

// DeriveWeights distributes each category's rubric weight evenly across
// the requirements in that category, multiplies mandatory requirements by
// the configured factor, and normalizes so the weights sum to 1.0. The
// result is deterministic given the requirement set.
func (s *Service) DeriveWeights(requirements []models.Requirement) []models.Requirement {
	if len(requirements) == 0 {
		return requirements
	}

	counts := make(map[string]int)
	for _, r := range requirements {
		counts[r.Category]++
	}

	weighted := make([]models.Requirement, len(requirements))
	total := 0.0
	for i, r := range requirements {
		w := s.rubric.Weight(r.Category) / float64(counts[r.Category])
		if r.Mandatory {
			w *= s.config.MandatoryMultiplier
		}
		r.Weight = w
		weighted[i] = r
		total += w
	}

	for i := range weighted {
		weighted[i].Weight /= total
	}
	return weighted
}

// ScoreVendors evaluates every vendor and assembles the scoring summary.
// Requirement weights must already be derived.
func (s *Service) ScoreVendors(
	ctx context.Context,
	sessionID string,
	set *models.RequirementSet,
	index *vectorindex.Index,
	vendors []string,
) (*models.ScoringSummary, error) {
	if len(set.Requirements) == 0 {
		return nil, common.NewValidationError("no requirements to score against")
	}
	if len(vendors) == 0 {
		return nil, common.NewValidationError("no vendor responses to score")
	}

	// Requirement query vectors are shared across vendors
	texts := make([]string, len(set.Requirements))
	for i, r := range set.Requirements {
		texts[i] = r.Text
	}
	queryVectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}

	weights := make(map[string]float64, len(s.rubric.Categories))
	for _, c := range s.rubric.Categories {
		weights[c.Name] = c.Weight
	}

	summary := &models.ScoringSummary{
		SessionID: sessionID,
		Vendors:   make(map[string]*models.VendorScoreSummary, len(vendors)),
		EvaluationMetadata: models.EvaluationMetadata{
			RequirementCount: len(set.Requirements),
			MandatoryCount:   set.MandatoryCount(),
			VendorCount:      len(vendors),
			CategoryWeights:  weights,
			Model:            s.modelName,
			EvaluatedAt:      time.Now(),
		},
	}

	totalPairs := len(vendors) * len(set.Requirements)
	done := 0
	for _, vendor := range vendors {
		vendorSummary := s.scoreVendor(ctx, sessionID, vendor, set.Requirements, queryVectors, index, &done, totalPairs)
		summary.Vendors[vendor] = vendorSummary

		s.logger.Info().
			Str("session_id", sessionID).
			Str("vendor", vendor).
			Float64("total_score", vendorSummary.TotalScore).
			Bool("compliant", vendorSummary.Compliant).
			Msg("Scored vendor")
	}

	return summary, nil
}

// scoreVendor judges one vendor against every requirement and aggregates
func (s *Service) scoreVendor(
	ctx context.Context,
	sessionID string,
	vendor string,
	requirements []models.Requirement,
	queryVectors [][]float32,
	index *vectorindex.Index,
	done *int,
	totalPairs int,
) *models.VendorScoreSummary {
	breakdown := make([]models.RequirementScore, 0, len(requirements))
	missingMandatory := 0

	for i, req := range requirements {
		matches, err := index.SearchWhere(queryVectors[i], s.config.EvidenceTopK, func(c *models.Chunk) bool {
			return c.Kind == models.DocumentKindVendor && c.Source == vendor
		})
		if err != nil {
			// Dimension mismatch means the index and query vectors disagree;
			// treat the pair as unevaluable rather than killing the run
			s.logger.Error().Str("vendor", vendor).Str("requirement", req.ID).Err(err).Msg("Evidence retrieval failed")
			matches = nil
		}

		var judgment models.ComplianceJudgment
		if len(matches) == 0 {
			// Nothing retrievable at all: score zero without an LLM call
			judgment = models.ComplianceJudgment{
				RequirementID: req.ID,
				Vendor:        vendor,
				Score:         0,
				Confidence:    1,
				Gaps:          []string{"No relevant evidence found in the vendor response"},
			}
		} else {
			judgment = s.judge(ctx, vendor, req, matches)
		}

		if req.Mandatory && !judgment.Unscored && judgment.Score < s.config.MinMandatoryScore {
			missingMandatory++
		}

		breakdown = append(breakdown, models.RequirementScore{
			RequirementID: req.ID,
			Text:          req.Text,
			Category:      req.Category,
			Mandatory:     req.Mandatory,
			Weight:        req.Weight,
			Score:         judgment.Score,
			Confidence:    judgment.Confidence,
			Evidence:      judgment.Evidence,
			Gaps:          judgment.Gaps,
			Unscored:      judgment.Unscored,
		})

		*done++
		s.publishProgress(ctx, sessionID, vendor, *done, totalPairs)
	}

	capabilities := s.analyzeCapabilities(ctx, vendor, index)

	vendorSummary := s.aggregate(vendor, requirements, breakdown, capabilities)
	if missingMandatory > 0 {
		vendorSummary.Compliant = false
		vendorSummary.TotalScore = 0.0
		vendorSummary.Confidence = 0.95
		vendorSummary.DisqualificationReason = fmt.Sprintf("Missing %d mandatory requirements", missingMandatory)
	}
	return vendorSummary
}

// aggregate folds per-requirement scores into the vendor summary
func (s *Service) aggregate(
	vendor string,
	requirements []models.Requirement,
	breakdown []models.RequirementScore,
	capabilities *models.CapabilityAnalysis,
) *models.VendorScoreSummary {
	total := 0.0
	categoryWeighted := make(map[string]float64)
	categoryWeightSum := make(map[string]float64)
	confidenceSum := 0.0
	scored := 0

	for _, row := range breakdown {
		total += row.Weight * row.Score
		categoryWeighted[row.Category] += row.Weight * row.Score
		categoryWeightSum[row.Category] += row.Weight
		if !row.Unscored {
			confidenceSum += row.Confidence
			scored++
		}
	}

	categoryScores := make(map[string]float64, len(categoryWeighted))
	for category, weighted := range categoryWeighted {
		if categoryWeightSum[category] > 0 {
			categoryScores[category] = weighted / categoryWeightSum[category]
		}
	}

	baseConfidence := 0.5
	if scored > 0 {
		baseConfidence = confidenceSum / float64(scored)
	}

	return &models.VendorScoreSummary{
		Vendor:         vendor,
		TotalScore:     total,
		Confidence:     s.adjustConfidence(baseConfidence, capabilities, len(requirements)),
		CategoryScores: categoryScores,
		Strengths:      selectStrengths(breakdown, s.config.StrengthThreshold),
		Weaknesses:     selectWeaknesses(breakdown, s.config.WeaknessThreshold),
		Breakdown:      breakdown,
		Compliant:      true,
		Capabilities:   capabilities,
		GeneratedAt:    time.Now(),
	}
}

// adjustConfidence applies the data-availability heuristics: sparse
// capability evidence lowers confidence, a rich response raises it, a
// thin requirement set lowers it, and the result never exceeds 0.95.
func (s *Service) adjustConfidence(confidence float64, capabilities *models.CapabilityAnalysis, requirementCount int) float64 {
	if capabilities != nil {
		switch n := len(capabilities.Capabilities); {
		case n < 5:
			confidence *= 0.7
		case n > 20:
			confidence = min(confidence*1.1, 1.0)
		}
	}
	if requirementCount < 3 {
		confidence *= 0.8
	}
	return min(confidence, 0.95)
}

// selectStrengths returns the texts of the highest-scoring requirements
// at or above the threshold, best first
func selectStrengths(breakdown []models.RequirementScore, threshold float64) []string {
	rows := make([]models.RequirementScore, 0, len(breakdown))
	for _, row := range breakdown {
		if !row.Unscored && row.Score >= threshold {
			rows = append(rows, row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Score > rows[j].Score })
	if len(rows) > maxStrengths {
		rows = rows[:maxStrengths]
	}

	strengths := make([]string, len(rows))
	for i, row := range rows {
		strengths[i] = row.Text
	}
	return strengths
}

// selectWeaknesses returns the texts of the lowest-scoring requirements
// below the threshold, worst first. Unscored rows are excluded: a failed
// judgment says nothing about the vendor.
func selectWeaknesses(breakdown []models.RequirementScore, threshold float64) []string {
	rows := make([]models.RequirementScore, 0, len(breakdown))
	for _, row := range breakdown {
		if !row.Unscored && row.Score < threshold {
			rows = append(rows, row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Score < rows[j].Score })
	if len(rows) > maxWeaknesses {
		rows = rows[:maxWeaknesses]
	}

	weaknesses := make([]string, len(rows))
	for i, row := range rows {
		weaknesses[i] = row.Text
	}
	return weaknesses
}

func (s *Service) publishProgress(ctx context.Context, sessionID, vendor string, current, total int) {
	if s.eventService == nil {
		return
	}
	s.eventService.Publish(ctx, interfaces.Event{
		Type: interfaces.EventProcessingProgress,
		Payload: map[string]interface{}{
			"session_id": sessionID,
			"stage":      "scoring",
			"vendor":     vendor,
			"current":    current,
			"total":      total,
			"timestamp":  time.Now(),
		},
	})
}
