package models

import (
	"time"
)

// DocumentKind distinguishes the RFP from vendor responses
type DocumentKind string

const (
	DocumentKindRFP    DocumentKind = "rfp"
	DocumentKindVendor DocumentKind = "vendor"
)

// Document represents an uploaded file and its extracted text
type Document struct {
	ID        string       `json:"id"`                            // doc_{uuid}
	SessionID string       `json:"session_id" badgerhold:"index"` // Owning session
	Kind      DocumentKind `json:"kind"`                          // rfp or vendor

	// VendorName is set for vendor responses only
	VendorName string `json:"vendor_name,omitempty"`

	Filename   string `json:"filename"`    // Stored filename, prefixed by kind (rfp_, vendor_{name}_)
	StoredPath string `json:"stored_path"` // Path under the uploads directory
	Format     string `json:"format"`      // pdf, docx, txt, md, html
	SizeBytes  int64  `json:"size_bytes"`

	// Extracted text, one entry per page for PDFs, single entry otherwise
	Pages     []string `json:"pages"`
	PageCount int      `json:"page_count"`

	UploadedAt time.Time `json:"uploaded_at"`
}

// Text returns the full extracted text of the document
func (d *Document) Text() string {
	if len(d.Pages) == 1 {
		return d.Pages[0]
	}
	total := 0
	for _, p := range d.Pages {
		total += len(p) + 1
	}
	buf := make([]byte, 0, total)
	for i, p := range d.Pages {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, p...)
	}
	return string(buf)
}

// SourceLabel returns the citation label for chunks of this document
func (d *Document) SourceLabel() string {
	if d.Kind == DocumentKindVendor {
		return d.VendorName
	}
	return "RFP"
}

// Chunk is an ordered, overlapping segment of a document's cleaned text
type Chunk struct {
	ID         string `json:"id"`          // {document_id}_chunk_{index}
	DocumentID string `json:"document_id"` // Owning document
	SessionID  string `json:"session_id"`  // Owning session

	// Source is the citation label: "RFP" or the vendor name
	Source string `json:"source"`

	// Kind mirrors the owning document's kind for retrieval filtering
	Kind DocumentKind `json:"kind"`

	Index int    `json:"index"` // Position within the document, 0-based
	Page  int    `json:"page"`  // Page number (1-based, 0 = unknown)
	Text  string `json:"text"`

	// Character offsets into the cleaned document text
	CharStart int `json:"char_start"`
	CharEnd   int `json:"char_end"`
}

// EmbeddedChunk pairs a chunk with its embedding vector
type EmbeddedChunk struct {
	Chunk  Chunk     `json:"chunk"`
	Vector []float32 `json:"vector"`
}
