package reports

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/aestimo/internal/models"
)

// Service renders scoring summaries as downloadable evaluation reports
type Service struct {
	pdfService interfaces.PDFService
	logger     arbor.ILogger
}

// NewService creates a new report service
func NewService(pdfService interfaces.PDFService, logger arbor.ILogger) *Service {
	return &Service{
		pdfService: pdfService,
		logger:     logger,
	}
}

// GeneratePDF builds the markdown report for a scoring summary and renders
// it to PDF. Returns the suggested download filename and the document bytes.
func (s *Service) GeneratePDF(summary *models.ScoringSummary) (string, []byte, error) {
	start := time.Now()

	markdown := BuildMarkdown(summary)
	data, err := s.pdfService.ConvertMarkdownToPDF(markdown, "RFP Compliance Evaluation Report")
	if err != nil {
		return "", nil, fmt.Errorf("failed to render report: %w", err)
	}

	filename := fmt.Sprintf("compliance_report_%s.pdf",
		summary.EvaluationMetadata.EvaluatedAt.UTC().Format("2006-01-02"))

	s.logger.Info().
		Str("session_id", summary.SessionID).
		Int("vendors", len(summary.Vendors)).
		Int("pdf_bytes", len(data)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("Generated compliance report")

	return filename, data, nil
}
