package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/aestimo/internal/services/documents"
	"github.com/ternarybob/aestimo/internal/services/sessions"
	"github.com/ternarybob/arbor"
)

// multipartMemoryLimit bounds the in-memory part of multipart parsing;
// larger files spill to temp files before the size check rejects them
const multipartMemoryLimit = 16 << 20

// UploadHandler handles document upload and removal requests
type UploadHandler struct {
	documentService *documents.Service
	sessionService  *sessions.Service
	logger          arbor.ILogger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(documentService *documents.Service, sessionService *sessions.Service, logger arbor.ILogger) *UploadHandler {
	return &UploadHandler{
		documentService: documentService,
		sessionService:  sessionService,
		logger:          logger,
	}
}

// UploadRFPHandler handles POST /api/upload-rfp
func (h *UploadHandler) UploadRFPHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	ctx := r.Context()
	session, err := h.sessionService.GetOrCreate(ctx, sessionIDFromRequest(r))
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	setSessionCookie(w, session.ID)

	filename, content, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	doc, err := h.documentService.SaveRFP(ctx, session.ID, filename, content)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := h.sessionService.RecordRFP(ctx, session, doc); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	h.logger.Info().
		Str("session_id", session.ID).
		Str("filename", doc.Filename).
		Int("pages", doc.PageCount).
		Msg("RFP uploaded")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "RFP uploaded and parsed",
		"filename": doc.Filename,
	})
}

// UploadVendorHandler handles POST /api/upload-vendor
func (h *UploadHandler) UploadVendorHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	ctx := r.Context()
	session, err := h.sessionService.GetOrCreate(ctx, sessionIDFromRequest(r))
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	setSessionCookie(w, session.ID)

	filename, content, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	vendorName := strings.TrimSpace(r.FormValue("vendor_name"))

	doc, err := h.documentService.SaveVendor(ctx, session.ID, vendorName, filename, content)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := h.sessionService.RecordVendor(ctx, session, doc.VendorName); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	h.logger.Info().
		Str("session_id", session.ID).
		Str("vendor", doc.VendorName).
		Str("filename", doc.Filename).
		Int("pages", doc.PageCount).
		Msg("Vendor response uploaded")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "Vendor response uploaded and parsed",
		"vendor_name": doc.VendorName,
		"filename":    doc.Filename,
	})
}

// DeleteFileHandler handles POST /api/delete-file. Removing a document
// invalidates processing state; the next run rebuilds the index from scratch.
func (h *UploadHandler) DeleteFileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	ctx := r.Context()
	sessionID := sessionIDFromRequest(r)
	if sessionID == "" {
		WriteError(w, http.StatusBadRequest, "no session")
		return
	}

	session, err := h.sessionService.Get(ctx, sessionID)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "no session")
		return
	}

	var req struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Filename) == "" {
		WriteError(w, http.StatusBadRequest, "filename is required")
		return
	}

	doc, err := h.documentService.DeleteByFilename(ctx, session.ID, req.Filename)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := h.sessionService.RecordDocumentRemoved(ctx, session, doc); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	h.logger.Info().
		Str("session_id", session.ID).
		Str("filename", doc.Filename).
		Msg("Document deleted")

	WriteSuccess(w, "File "+doc.Filename+" deleted")
}

// readUpload pulls the multipart file out of the request. A false return
// means the response has already been written.
func (h *UploadHandler) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return "", nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "no file provided")
		return "", nil, false
	}
	defer file.Close()

	// Cheap checks before reading the body into memory
	if err := h.documentService.ValidateUpload(header.Filename, header.Size); err != nil {
		WriteServiceError(w, h.logger, err)
		return "", nil, false
	}

	content, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error().Err(err).Str("filename", header.Filename).Msg("Failed to read upload")
		WriteError(w, http.StatusBadRequest, "failed to read uploaded file")
		return "", nil, false
	}

	return header.Filename, content, true
}
