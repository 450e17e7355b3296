package reports

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aestimo/internal/models"
	"github.com/ternarybob/aestimo/internal/services/pdf"
)

func sampleSummary() *models.ScoringSummary {
	return &models.ScoringSummary{
		SessionID: "ses_report",
		Vendors: map[string]*models.VendorScoreSummary{
			"BudgetCo": {
				Vendor:                 "BudgetCo",
				TotalScore:             0.0,
				Confidence:             0.95,
				Compliant:              false,
				DisqualificationReason: "Missing 1 mandatory requirements",
				CategoryScores:         map[string]float64{"technical": 0.06},
				Weaknesses:             []string{"The system must guarantee 99.9% uptime."},
				Breakdown: []models.RequirementScore{
					{
						RequirementID: "REQ-001",
						Text:          "The system must guarantee 99.9% uptime.",
						Category:      "technical",
						Mandatory:     true,
						Weight:        0.6,
						Score:         0.1,
						Confidence:    0.9,
					},
					{
						RequirementID: "REQ-002",
						Text:          "The vendor should offer a mobile app | with offline mode.",
						Category:      "technical",
						Weight:        0.4,
						Unscored:      true,
					},
				},
			},
			"Acme": {
				Vendor:         "Acme",
				TotalScore:     0.89,
				Confidence:     0.7,
				Compliant:      true,
				CategoryScores: map[string]float64{"technical": 0.89, "support": 0.8},
				Strengths:      []string{"The system must guarantee 99.9% uptime."},
				Breakdown: []models.RequirementScore{
					{
						RequirementID: "REQ-001",
						Text:          "The system must guarantee 99.9% uptime.",
						Category:      "technical",
						Mandatory:     true,
						Weight:        0.6,
						Score:         0.95,
						Confidence:    0.9,
					},
				},
				Capabilities: &models.CapabilityAnalysis{
					Capabilities: []string{"24/7 support", "cloud hosting"},
					Commitments:  []string{"99.95% uptime SLA"},
					Summary:      "Established provider with strong SLAs.",
				},
			},
		},
		EvaluationMetadata: models.EvaluationMetadata{
			RequirementCount: 2,
			MandatoryCount:   1,
			VendorCount:      2,
			Model:            "claude-haiku-3-5-20241022",
			EvaluatedAt:      time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		},
	}
}

func TestBuildMarkdown_Layout(t *testing.T) {
	markdown := BuildMarkdown(sampleSummary())

	assert.True(t, strings.HasPrefix(markdown, "# RFP Compliance Evaluation Report"))
	assert.Contains(t, markdown, "Generated: 2026-03-14 09:30 UTC")
	assert.Contains(t, markdown, "Requirements evaluated: 2 (1 mandatory)")
	assert.Contains(t, markdown, "Non-compliant vendors: BudgetCo")

	// Compliant vendor ranks above the disqualified one
	assert.Contains(t, markdown, "| 1 | Acme | 89.0% | 70.0% | Yes |")
	assert.Contains(t, markdown, "| 2 | BudgetCo | 0.0% | 95.0% | No |")
	assert.Less(t, strings.Index(markdown, "## Acme"), strings.Index(markdown, "## BudgetCo"))

	assert.Contains(t, markdown, "**Disqualified:** Missing 1 mandatory requirements")
	assert.Contains(t, markdown, "| support | 80.0% |")
	assert.Contains(t, markdown, "### Strengths")
	assert.Contains(t, markdown, "### Weaknesses")
	assert.Contains(t, markdown, "Established provider with strong SLAs.")
	assert.Contains(t, markdown, "- 99.95% uptime SLA")
}

func TestBuildMarkdown_EscapesAndMarksUnscored(t *testing.T) {
	markdown := BuildMarkdown(sampleSummary())

	// Pipes in requirement text cannot break the table
	assert.Contains(t, markdown, "mobile app \\| with offline mode")
	assert.Contains(t, markdown, "| unscored |")
}

func TestBuildMarkdown_Deterministic(t *testing.T) {
	first := BuildMarkdown(sampleSummary())
	second := BuildMarkdown(sampleSummary())
	assert.Equal(t, first, second)
}

func TestRankVendors_CompliantByScoreThenName(t *testing.T) {
	summary := &models.ScoringSummary{
		Vendors: map[string]*models.VendorScoreSummary{
			"Zeta":  {Vendor: "Zeta", TotalScore: 0.5, Compliant: true},
			"Alpha": {Vendor: "Alpha", TotalScore: 0.5, Compliant: true},
			"Best":  {Vendor: "Best", TotalScore: 0.9, Compliant: true},
			"Out":   {Vendor: "Out", TotalScore: 0.0, Compliant: false},
		},
	}

	assert.Equal(t, []string{"Best", "Alpha", "Zeta", "Out"}, rankVendors(summary))
}

func TestGeneratePDF(t *testing.T) {
	logger := arbor.NewLogger()
	svc := NewService(pdf.NewService(logger), logger)

	filename, data, err := svc.GeneratePDF(sampleSummary())
	require.NoError(t, err)

	assert.Equal(t, "compliance_report_2026-03-14.pdf", filename)
	require.NotEmpty(t, data)
	assert.Equal(t, "%PDF", string(data[:4]))
}
