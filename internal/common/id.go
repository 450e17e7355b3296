package common

import (
	"github.com/google/uuid"
)

// NewSessionID generates a unique session ID with the "ses_" prefix
// Format: ses_<uuid>
func NewSessionID() string {
	return "ses_" + uuid.New().String()
}

// NewDocumentID generates a unique document ID with the "doc_" prefix
// Format: doc_<uuid>
func NewDocumentID() string {
	return "doc_" + uuid.New().String()
}
