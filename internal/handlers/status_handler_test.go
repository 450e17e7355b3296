package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func getStatus(t *testing.T, handler *StatusHandler, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/get-status", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	handler.GetStatusHandler(rec, req)
	return rec
}

func TestGetStatus_BeforeAnyUpload(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewStatusHandler(f.sessionService, &mockLLMService{}, arbor.NewLogger())

	rec := getStatus(t, handler, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, false, payload["rfp_uploaded"])
	assert.Equal(t, float64(0), payload["vendors_count"])
	assert.Equal(t, false, payload["processed"])
	assert.Equal(t, false, payload["chatbot_ready"])
	assert.Equal(t, float64(0), payload["files_count"])
}

func TestGetStatus_UnknownSessionGetsZeroPayload(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewStatusHandler(f.sessionService, &mockLLMService{}, arbor.NewLogger())

	rec := getStatus(t, handler, &http.Cookie{Name: sessionCookieName, Value: "ses_expired"})

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, false, payload["rfp_uploaded"])
	assert.Equal(t, float64(0), payload["files_count"])
}

func TestGetStatus_TracksUploads(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewStatusHandler(f.sessionService, &mockLLMService{}, arbor.NewLogger())

	_, cookie := f.uploadRFP(t, "tender.txt", "Requirements inside.", nil)
	_, cookie = f.uploadVendor(t, "Acme", "proposal.txt", "Proposal text.", cookie)

	rec := getStatus(t, handler, cookie)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, true, payload["rfp_uploaded"])
	assert.Equal(t, float64(1), payload["vendors_count"])
	assert.Equal(t, false, payload["processed"])
	assert.Equal(t, float64(2), payload["files_count"])
}

func TestHealth_ReportsHealthy(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewStatusHandler(f.sessionService, &mockLLMService{}, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	handler.HealthHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "healthy", payload["status"])

	llm, ok := payload["llm"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, llm["healthy"])
}

func TestHealth_DegradedWhenLLMDown(t *testing.T) {
	f := newHandlerFixture(t)
	llm := &mockLLMService{healthErr: assert.AnError}
	handler := NewStatusHandler(f.sessionService, llm, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	handler.HealthHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "degraded", payload["status"])

	llmPayload, ok := payload["llm"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, llmPayload["healthy"])
	assert.NotEmpty(t, llmPayload["error"])
}

func TestVersion_ReportsBuildInfo(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewStatusHandler(f.sessionService, &mockLLMService{}, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rec := httptest.NewRecorder()
	handler.VersionHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.NotEmpty(t, payload["version"])
	assert.NotEmpty(t, payload["build"])
	assert.NotEmpty(t, payload["commit"])
}
