// -----------------------------------------------------------------------
// Last Modified: Tuesday, 14th July 2026 12:00:00 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/aestimo/internal/models"
)

// SessionStorage - interface for evaluation session persistence
type SessionStorage interface {
	SaveSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	CountSessions(ctx context.Context) (int, error)

	// ListIdleSince returns sessions not touched since the cutoff (retention cleanup)
	ListIdleSince(ctx context.Context, cutoff time.Time) ([]*models.Session, error)
}

// DocumentStorage - interface for uploaded document metadata persistence
type DocumentStorage interface {
	SaveDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetDocumentsBySession(ctx context.Context, sessionID string) ([]*models.Document, error)
	GetDocumentByFilename(ctx context.Context, sessionID, filename string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	DeleteDocumentsBySession(ctx context.Context, sessionID string) error
	CountDocuments(ctx context.Context) (int, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	SessionStorage() SessionStorage
	DocumentStorage() DocumentStorage
	KeyValueStorage() KeyValueStorage
	DB() interface{}
	Close() error
}
