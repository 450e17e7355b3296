package handlers

import (
	"net/http"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/aestimo/internal/services/sessions"
	"github.com/ternarybob/arbor"
)

// StatusHandler serves session progress, health, and version endpoints
type StatusHandler struct {
	sessionService *sessions.Service
	llmService     interfaces.LLMService
	logger         arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(sessionService *sessions.Service, llmService interfaces.LLMService, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		sessionService: sessionService,
		llmService:     llmService,
		logger:         logger,
	}
}

// GetStatusHandler handles GET /api/get-status. A request without a session
// gets the zero payload rather than an error; the UI polls this endpoint
// before anything is uploaded.
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	status, err := h.sessionService.Status(r.Context(), sessionIDFromRequest(r))
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// HealthHandler handles GET /api/health
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	payload := map[string]interface{}{
		"status":  "healthy",
		"version": common.GetVersion(),
	}

	llm := map[string]interface{}{
		"healthy": true,
		"mode":    h.llmService.GetMode(),
	}
	if err := h.llmService.HealthCheck(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("LLM health check failed")
		payload["status"] = "degraded"
		llm["healthy"] = false
		llm["error"] = err.Error()
	}
	payload["llm"] = llm

	WriteJSON(w, http.StatusOK, payload)
}

// VersionHandler handles GET /api/version
func (h *StatusHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// NotFoundHandler handles unmatched API routes with a JSON response
func (h *StatusHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
