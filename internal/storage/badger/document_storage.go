package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/aestimo/internal/models"
)

// DocumentStorage persists uploaded document metadata in Badger. File bytes
// live on the filesystem; only the records are stored here.
type DocumentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDocumentStorage wires document metadata persistence over a shared BadgerDB
func NewDocumentStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DocumentStorage {
	return &DocumentStorage{
		db:     db,
		logger: logger,
	}
}

// SaveDocument inserts or updates a document record. A document always
// belongs to a session, so both identifiers are mandatory.
func (s *DocumentStorage) SaveDocument(ctx context.Context, doc *models.Document) error {
	switch {
	case doc.ID == "":
		return fmt.Errorf("document ID is required")
	case doc.SessionID == "":
		return fmt.Errorf("document session ID is required")
	}

	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now()
	}

	if err := s.db.Store().Upsert(doc.ID, doc); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	return nil
}

// GetDocument retrieves a document by ID
func (s *DocumentStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := s.db.Store().Get(id, &doc); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("document %s not found", id)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// GetDocumentsBySession returns all documents belonging to a session,
// ordered by upload time
func (s *DocumentStorage) GetDocumentsBySession(ctx context.Context, sessionID string) ([]*models.Document, error) {
	var docs []*models.Document
	err := s.db.Store().Find(&docs, badgerhold.Where("SessionID").Eq(sessionID).Index("SessionID").SortBy("UploadedAt"))
	if err != nil {
		return nil, fmt.Errorf("failed to get documents for session: %w", err)
	}
	return docs, nil
}

// GetDocumentByFilename finds a session's document by its original filename
func (s *DocumentStorage) GetDocumentByFilename(ctx context.Context, sessionID, filename string) (*models.Document, error) {
	var docs []*models.Document
	err := s.db.Store().Find(&docs, badgerhold.Where("SessionID").Eq(sessionID).Index("SessionID").And("Filename").Eq(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to find document by filename: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("document %s not found in session", filename)
	}
	return docs[0], nil
}

// DeleteDocument removes a document record
func (s *DocumentStorage) DeleteDocument(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Document{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("document %s not found", id)
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// DeleteDocumentsBySession removes all documents belonging to a session
func (s *DocumentStorage) DeleteDocumentsBySession(ctx context.Context, sessionID string) error {
	err := s.db.Store().DeleteMatching(&models.Document{}, badgerhold.Where("SessionID").Eq(sessionID).Index("SessionID"))
	if err != nil {
		return fmt.Errorf("failed to delete documents for session: %w", err)
	}
	return nil
}

// CountDocuments returns the number of stored documents
func (s *DocumentStorage) CountDocuments(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Document{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(count), nil
}
