package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/arbor"
)

// sessionCookieName pins a browser to its evaluation session
const sessionCookieName = "aestimo_session"

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// DisableWriteTimeout clears the connection's write deadline. The server
// sets a short write timeout sized for the quick endpoints; handlers that
// wait on model calls clear it so a slow pipeline run still reaches the
// client. Response recorders in tests do not support deadlines, which is
// fine.
func DisableWriteTimeout(w http.ResponseWriter, logger arbor.ILogger) {
	err := http.NewResponseController(w).SetWriteDeadline(time.Time{})
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warn().Err(err).Msg("Failed to clear write deadline")
	}
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// WriteServiceError maps service error kinds onto the API contract:
// validation and parse failures are the caller's fault (400), upstream API
// failures are a bad gateway (502), and prerequisites-not-met is a normal
// 200 with success=false so the UI can guide the user.
func WriteServiceError(w http.ResponseWriter, logger arbor.ILogger, err error) {
	switch {
	case common.IsNotReadyError(err):
		WriteError(w, http.StatusOK, err.Error())
	case common.IsValidationError(err) || common.IsParseError(err):
		WriteError(w, http.StatusBadRequest, err.Error())
	case common.IsExternalServiceError(err):
		logger.Error().Err(err).Msg("Upstream service failure")
		WriteError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error().Err(err).Msg("Unhandled service error")
		WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

// sessionIDFromRequest returns the session id the request carries, or ""
func sessionIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return cookie.Value
}

// setSessionCookie refreshes the session cookie. MaxAge tracks the default
// retention window so the cookie and the stored session expire together.
func setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   30 * 24 * 60 * 60,
	})
}
