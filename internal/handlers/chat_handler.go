package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// ChatHandler exposes the retrieval-augmented chat endpoint
type ChatHandler struct {
	chatService interfaces.ChatService
	logger      arbor.ILogger
}

// NewChatHandler wires the chat endpoint to its service
func NewChatHandler(chatService interfaces.ChatService, logger arbor.ILogger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		logger:      logger,
	}
}

// ChatHandler handles POST /api/chat requests. Asking before processing is
// answered with success=false guidance, never an LLM call.
func (h *ChatHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	// A chat turn embeds the query and waits on one model round-trip, which
	// can outlast the server's write timeout.
	DisableWriteTimeout(w, h.logger)

	sessionID := sessionIDFromRequest(r)
	if sessionID == "" {
		WriteServiceError(w, h.logger, common.NewNotReadyError("chatbot not ready; process documents first"))
		return
	}

	var req interfaces.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to decode chat request")
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	response, err := h.chatService.Chat(r.Context(), sessionID, &req)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	sources := response.Sources
	if sources == nil {
		sources = []interfaces.ChatSource{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"answer":      response.Answer,
		"answer_html": response.AnswerHTML,
		"sources":     sources,
	})
}
