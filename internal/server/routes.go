// -----------------------------------------------------------------------
// Last Modified: Tuesday, 25th August 2026 11:14:32 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Web UI
	mux.HandleFunc("/", s.app.PageHandler.IndexHandler)

	// WebSocket route (progress and log streaming)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Document upload and management
	mux.HandleFunc("/api/upload-rfp", s.app.UploadHandler.UploadRFPHandler)       // POST - upload RFP document
	mux.HandleFunc("/api/upload-vendor", s.app.UploadHandler.UploadVendorHandler) // POST - upload vendor response
	mux.HandleFunc("/api/delete-file", s.app.UploadHandler.DeleteFileHandler)     // POST - remove uploaded document

	// API routes - Evaluation pipeline
	mux.HandleFunc("/api/process-documents", s.app.ProcessHandler.ProcessDocumentsHandler) // POST - run the pipeline
	mux.HandleFunc("/api/get-status", s.app.StatusHandler.GetStatusHandler)                // GET - session status
	mux.HandleFunc("/api/get-scores", s.app.ScoresHandler.GetScoresHandler)                // GET - compliance scores
	mux.HandleFunc("/api/requirements", s.app.ScoresHandler.RequirementsHandler)           // GET - extracted requirements
	mux.HandleFunc("/api/export-report", s.app.ScoresHandler.ExportReportHandler)          // GET - PDF report download

	// API routes - Chat over processed documents
	mux.HandleFunc("/api/chat", s.app.ChatHandler.ChatHandler) // POST - grounded Q&A

	// API routes - Service info
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.StatusHandler.VersionHandler)

	// Catch-all for unmatched API routes
	mux.HandleFunc("/api/", s.app.StatusHandler.NotFoundHandler)

	return mux
}
