package handlers

import (
	"net/http"

	"github.com/ternarybob/aestimo/internal/services/processing"
	"github.com/ternarybob/aestimo/internal/services/sessions"
	"github.com/ternarybob/arbor"
)

// ProcessHandler triggers the evaluation pipeline for a session
type ProcessHandler struct {
	processingService *processing.Service
	sessionService    *sessions.Service
	logger            arbor.ILogger
}

// NewProcessHandler creates a new process handler
func NewProcessHandler(processingService *processing.Service, sessionService *sessions.Service, logger arbor.ILogger) *ProcessHandler {
	return &ProcessHandler{
		processingService: processingService,
		sessionService:    sessionService,
		logger:            logger,
	}
}

// ProcessDocumentsHandler handles POST /api/process-documents. The call is
// synchronous; progress reaches the UI through websocket events while the
// request is in flight. A full run makes one model call per vendor and
// requirement, so the connection's write deadline is lifted for the
// duration.
func (h *ProcessHandler) ProcessDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	DisableWriteTimeout(w, h.logger)

	ctx := r.Context()
	sessionID := sessionIDFromRequest(r)
	if sessionID == "" {
		WriteError(w, http.StatusBadRequest, "no documents uploaded: upload an RFP and vendor responses first")
		return
	}

	session, err := h.sessionService.Get(ctx, sessionID)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "no documents uploaded: upload an RFP and vendor responses first")
		return
	}

	result, err := h.processingService.ProcessSession(ctx, session)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	nonCompliant := result.NonCompliantVendors
	if nonCompliant == nil {
		nonCompliant = []string{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":               true,
		"message":               "Documents processed successfully",
		"non_compliant_vendors": nonCompliant,
	})
}
