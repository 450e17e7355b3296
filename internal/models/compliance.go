package models

import (
	"sort"
	"time"
)

// ComplianceJudgment is the LLM's assessment of one vendor against one requirement
type ComplianceJudgment struct {
	RequirementID string `json:"requirement_id"`
	Vendor        string `json:"vendor"`

	// Score is the raw compliance score in [0,1]
	Score float64 `json:"score"`

	// Confidence is the model's self-reported confidence in [0,1]
	Confidence float64 `json:"confidence"`

	// Evidence quotes from the vendor response supporting the score
	Evidence []string `json:"evidence,omitempty"`

	// Gaps describe what the vendor response is missing
	Gaps []string `json:"gaps,omitempty"`

	// Unscored marks judgments whose LLM calls failed after retries;
	// they contribute zero to the weighted total
	Unscored bool `json:"unscored,omitempty"`
}

// RequirementScore is one row of a vendor's per-requirement breakdown
type RequirementScore struct {
	RequirementID string   `json:"requirement_id"`
	Text          string   `json:"text"`
	Category      string   `json:"category"`
	Mandatory     bool     `json:"mandatory"`
	Weight        float64  `json:"weight"`
	Score         float64  `json:"score"`
	Confidence    float64  `json:"confidence"`
	Evidence      []string `json:"evidence,omitempty"`
	Gaps          []string `json:"gaps,omitempty"`
	Unscored      bool     `json:"unscored,omitempty"`
}

// CapabilityAnalysis summarizes what a vendor claims to offer, derived from
// their response chunks during scoring
type CapabilityAnalysis struct {
	Capabilities    []string `json:"capabilities"`
	Commitments     []string `json:"commitments,omitempty"`
	Differentiators []string `json:"differentiators,omitempty"`
	Summary         string   `json:"summary,omitempty"`
}

// VendorScoreSummary is the complete evaluation result for one vendor
type VendorScoreSummary struct {
	Vendor string `json:"vendor"`

	// TotalScore is the weighted compliance score in [0,1];
	// 0.0 for non-compliant vendors
	TotalScore float64 `json:"total_score"`

	// Confidence in [0,1] after the capability and coverage heuristics
	Confidence float64 `json:"confidence"`

	// CategoryScores maps category name to its weighted average score
	CategoryScores map[string]float64 `json:"category_scores"`

	// Strengths and weaknesses are requirement texts selected by score thresholds
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`

	// Breakdown lists per-requirement scores in requirement order
	Breakdown []RequirementScore `json:"breakdown"`

	// Compliant is false when a mandatory requirement scored below the
	// configured minimum or had no retrievable evidence
	Compliant bool `json:"compliant"`

	// DisqualificationReason explains a false Compliant flag
	DisqualificationReason string `json:"disqualification_reason,omitempty"`

	// Capabilities extracted from the vendor's response
	Capabilities *CapabilityAnalysis `json:"capabilities,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// EvaluationMetadata records how a scoring run was produced
type EvaluationMetadata struct {
	RequirementCount int                `json:"requirement_count"`
	MandatoryCount   int                `json:"mandatory_count"`
	VendorCount      int                `json:"vendor_count"`
	CategoryWeights  map[string]float64 `json:"category_weights"`
	Model            string             `json:"model"`
	EvaluatedAt      time.Time          `json:"evaluated_at"`
}

// ScoringSummary is the persisted output of a full scoring run
type ScoringSummary struct {
	SessionID          string                         `json:"session_id"`
	Vendors            map[string]*VendorScoreSummary `json:"vendors"`
	EvaluationMetadata EvaluationMetadata             `json:"evaluation_metadata"`
}

// NonCompliantVendors returns the names of disqualified vendors, sorted by name
func (s *ScoringSummary) NonCompliantVendors() []string {
	names := []string{}
	for name, summary := range s.Vendors {
		if !summary.Compliant {
			names = append(names, name)
		}
	}
	// Deterministic order for API responses
	sort.Strings(names)
	return names
}
