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

// SessionStorage persists evaluation sessions in Badger. A session ties
// together the uploaded documents, processing state, and scoring results.
type SessionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSessionStorage wires session persistence over a shared BadgerDB
func NewSessionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SessionStorage {
	return &SessionStorage{
		db:     db,
		logger: logger,
	}
}

// SaveSession inserts or updates a session
func (s *SessionStorage) SaveSession(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if session.LastActive.IsZero() {
		session.LastActive = now
	}

	// Preserve CreatedAt on updates
	var existing models.Session
	if err := s.db.Store().Get(session.ID, &existing); err == nil {
		session.CreatedAt = existing.CreatedAt
	}

	if err := s.db.Store().Upsert(session.ID, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// GetSession retrieves a session by ID
func (s *SessionStorage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := s.db.Store().Get(id, &session); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("session %s not found", id)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// ListSessions returns all sessions ordered by last activity DESC
func (s *SessionStorage) ListSessions(ctx context.Context) ([]*models.Session, error) {
	var sessions []*models.Session
	err := s.db.Store().Find(&sessions, badgerhold.Where("ID").Ne("").SortBy("LastActive").Reverse())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session record. Documents and artifacts are the
// caller's responsibility; see the session service for the full teardown.
func (s *SessionStorage) DeleteSession(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Session{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("session %s not found", id)
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CountSessions returns the number of stored sessions
func (s *SessionStorage) CountSessions(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Session{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return int(count), nil
}

// ListIdleSince returns sessions whose last activity is before the cutoff
func (s *SessionStorage) ListIdleSince(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	var sessions []*models.Session
	err := s.db.Store().Find(&sessions, badgerhold.Where("LastActive").Lt(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to list idle sessions: %w", err)
	}
	return sessions, nil
}
