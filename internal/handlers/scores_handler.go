package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/models"
	"github.com/ternarybob/aestimo/internal/services/processing"
	"github.com/ternarybob/aestimo/internal/services/reports"
	"github.com/ternarybob/aestimo/internal/services/sessions"
	"github.com/ternarybob/arbor"
)

// ScoresHandler serves evaluation results: scores, extracted requirements,
// and the exported PDF report
type ScoresHandler struct {
	processingService *processing.Service
	sessionService    *sessions.Service
	reportService     *reports.Service
	logger            arbor.ILogger
}

// NewScoresHandler creates a new scores handler
func NewScoresHandler(
	processingService *processing.Service,
	sessionService *sessions.Service,
	reportService *reports.Service,
	logger arbor.ILogger,
) *ScoresHandler {
	return &ScoresHandler{
		processingService: processingService,
		sessionService:    sessionService,
		reportService:     reportService,
		logger:            logger,
	}
}

// GetScoresHandler handles GET /api/get-scores
func (h *ScoresHandler) GetScoresHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	summary, err := h.processingService.Scores(session)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"scores":  summary,
	})
}

// RequirementsHandler handles GET /api/requirements. Before processing the
// list is empty, not an error.
func (h *ScoresHandler) RequirementsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	set, err := h.processingService.Requirements(session)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"requirements": set.Requirements,
	})
}

// ExportReportHandler handles GET /api/export-report, streaming the scoring
// summary as a PDF attachment
func (h *ScoresHandler) ExportReportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	summary, err := h.processingService.Scores(session)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	filename, pdf, err := h.reportService.GeneratePDF(summary)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", session.ID).Msg("Report generation failed")
		WriteError(w, http.StatusInternalServerError, "failed to generate report")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pdf); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to stream report")
	}
}

// requireSession resolves the caller's session for result endpoints. A false
// return means a not-ready response has been written.
func (h *ScoresHandler) requireSession(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	sessionID := sessionIDFromRequest(r)
	if sessionID == "" {
		WriteServiceError(w, h.logger, common.NewNotReadyError("documents have not been processed yet"))
		return nil, false
	}

	s, err := h.sessionService.Get(r.Context(), sessionID)
	if err != nil {
		WriteServiceError(w, h.logger, common.NewNotReadyError("documents have not been processed yet"))
		return nil, false
	}
	return s, true
}
