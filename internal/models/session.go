package models

import (
	"time"
)

// SessionState describes how far a session has progressed
type SessionState string

const (
	// SessionStateEmpty - no documents uploaded yet
	SessionStateEmpty SessionState = "empty"

	// SessionStateUploading - at least one document uploaded but prerequisites missing
	SessionStateUploading SessionState = "uploading"

	// SessionStateReady - RFP and at least one vendor response uploaded
	SessionStateReady SessionState = "ready-to-process"

	// SessionStateProcessed - pipeline completed, scores and chat available
	SessionStateProcessed SessionState = "processed"
)

// Session represents one evaluation: an RFP, its vendor responses, and the
// artifacts derived from them
type Session struct {
	ID string `json:"id"` // ses_{uuid}

	// Document references (metadata lives in DocumentStorage)
	RFPDocumentID string   `json:"rfp_document_id,omitempty"`
	VendorNames   []string `json:"vendor_names,omitempty"`

	// Pipeline progress
	Processed    bool `json:"processed"`     // chunks embedded, requirements extracted, vendors scored
	ChatbotReady bool `json:"chatbot_ready"` // index snapshot available for retrieval

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	LastActive time.Time `json:"last_active" badgerhold:"index"`
}

// State derives the session's place in the upload/process lifecycle
func (s *Session) State() SessionState {
	switch {
	case s.Processed:
		return SessionStateProcessed
	case s.RFPDocumentID != "" && len(s.VendorNames) > 0:
		return SessionStateReady
	case s.RFPDocumentID != "" || len(s.VendorNames) > 0:
		return SessionStateUploading
	default:
		return SessionStateEmpty
	}
}

// HasVendor reports whether a vendor response with the given name was uploaded
func (s *Session) HasVendor(name string) bool {
	for _, v := range s.VendorNames {
		if v == name {
			return true
		}
	}
	return false
}

// Touch marks the session as active now
func (s *Session) Touch() {
	s.LastActive = time.Now()
}
