package sessions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/aestimo/internal/models"
)

// Service owns the session lifecycle: creation, document-set mutations,
// processing flags, and the on-disk artifact tree derived from a session.
// Any change to a session's document set invalidates its processing state
// and discards derived artifacts, forcing a full rebuild on the next run.
type Service struct {
	sessionStorage  interfaces.SessionStorage
	documentStorage interfaces.DocumentStorage
	eventService    interfaces.EventService
	uploadsRoot     string
	outputsRoot     string
	logger          arbor.ILogger
}

// NewService creates a new session service
func NewService(
	sessionStorage interfaces.SessionStorage,
	documentStorage interfaces.DocumentStorage,
	eventService interfaces.EventService,
	fs *common.FilesystemConfig,
	logger arbor.ILogger,
) *Service {
	return &Service{
		sessionStorage:  sessionStorage,
		documentStorage: documentStorage,
		eventService:    eventService,
		uploadsRoot:     fs.Uploads,
		outputsRoot:     fs.Outputs,
		logger:          logger,
	}
}

// Status is the upload/processing progress payload for a session
type Status struct {
	RFPUploaded  bool `json:"rfp_uploaded"`
	VendorsCount int  `json:"vendors_count"`
	Processed    bool `json:"processed"`
	ChatbotReady bool `json:"chatbot_ready"`
	FilesCount   int  `json:"files_count"`
}

// Create starts a new evaluation session
func (s *Service) Create(ctx context.Context) (*models.Session, error) {
	session := &models.Session{
		ID:         common.NewSessionID(),
		LastActive: time.Now(),
	}
	if err := s.sessionStorage.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info().Str("session_id", session.ID).Msg("Session created")
	s.publishStatusChanged(ctx, session)
	return session, nil
}

// Get returns the session or an error when it does not exist
func (s *Service) Get(ctx context.Context, id string) (*models.Session, error) {
	return s.sessionStorage.GetSession(ctx, id)
}

// GetOrCreate resolves the caller's session, creating a fresh one when the
// id is empty or unknown. Expired sessions land here after cleanup.
func (s *Service) GetOrCreate(ctx context.Context, id string) (*models.Session, error) {
	if id != "" {
		if session, err := s.sessionStorage.GetSession(ctx, id); err == nil {
			return session, nil
		}
	}
	return s.Create(ctx)
}

// Touch refreshes the session's activity timestamp
func (s *Service) Touch(ctx context.Context, session *models.Session) {
	session.Touch()
	if err := s.sessionStorage.SaveSession(ctx, session); err != nil {
		s.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to persist session activity")
	}
}

// RecordRFP links an uploaded RFP document to the session
func (s *Service) RecordRFP(ctx context.Context, session *models.Session, doc *models.Document) error {
	session.RFPDocumentID = doc.ID
	return s.invalidateAndSave(ctx, session)
}

// RecordVendor registers a vendor response upload
func (s *Service) RecordVendor(ctx context.Context, session *models.Session, vendorName string) error {
	if !session.HasVendor(vendorName) {
		session.VendorNames = append(session.VendorNames, vendorName)
	}
	return s.invalidateAndSave(ctx, session)
}

// RecordDocumentRemoved updates the session after a document deletion. The
// vendor name is dropped only when no other document for that vendor remains.
func (s *Service) RecordDocumentRemoved(ctx context.Context, session *models.Session, doc *models.Document) error {
	switch doc.Kind {
	case models.DocumentKindRFP:
		if session.RFPDocumentID == doc.ID {
			session.RFPDocumentID = ""
		}
	case models.DocumentKindVendor:
		remaining, err := s.documentStorage.GetDocumentsBySession(ctx, session.ID)
		if err != nil {
			return err
		}
		vendorStillPresent := false
		for _, d := range remaining {
			if d.Kind == models.DocumentKindVendor && d.VendorName == doc.VendorName {
				vendorStillPresent = true
				break
			}
		}
		if !vendorStillPresent {
			names := make([]string, 0, len(session.VendorNames))
			for _, name := range session.VendorNames {
				if name != doc.VendorName {
					names = append(names, name)
				}
			}
			session.VendorNames = names
		}
	}

	return s.invalidateAndSave(ctx, session)
}

// MarkProcessed flips the pipeline-completion flags after a successful run
func (s *Service) MarkProcessed(ctx context.Context, session *models.Session) error {
	session.Processed = true
	session.ChatbotReady = true
	session.Touch()

	if err := s.sessionStorage.SaveSession(ctx, session); err != nil {
		return err
	}
	s.publishStatusChanged(ctx, session)
	return nil
}

// Status reports upload/processing progress. An empty or unknown session id
// yields the zero status: callers polling before their first upload see
// nothing uploaded yet rather than an error.
func (s *Service) Status(ctx context.Context, sessionID string) (*Status, error) {
	if sessionID == "" {
		return &Status{}, nil
	}

	session, err := s.sessionStorage.GetSession(ctx, sessionID)
	if err != nil {
		return &Status{}, nil
	}

	docs, err := s.documentStorage.GetDocumentsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &Status{
		RFPUploaded:  session.RFPDocumentID != "",
		VendorsCount: len(session.VendorNames),
		Processed:    session.Processed,
		ChatbotReady: session.ChatbotReady,
		FilesCount:   len(docs),
	}, nil
}

// Delete removes one session together with its uploads, artifacts, and
// document records
func (s *Service) Delete(ctx context.Context, session *models.Session) error {
	if err := s.documentStorage.DeleteDocumentsBySession(ctx, session.ID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.uploadsRoot, session.ID)); err != nil {
		return fmt.Errorf("failed to remove session uploads: %w", err)
	}
	if err := s.RemoveArtifacts(session.ID); err != nil {
		return err
	}
	return s.sessionStorage.DeleteSession(ctx, session.ID)
}

// PurgeIdle deletes every session idle since the cutoff. Per-session
// failures are logged and skipped so one bad session cannot stall cleanup.
func (s *Service) PurgeIdle(ctx context.Context, cutoff time.Time) (int, error) {
	idle, err := s.sessionStorage.ListIdleSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, session := range idle {
		if err := s.Delete(ctx, session); err != nil {
			s.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to purge session")
			continue
		}
		purged++
	}

	if purged > 0 {
		s.logger.Info().
			Int("purged", purged).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Purged idle sessions")
	}
	return purged, nil
}

// invalidateAndSave clears the processed flags after a document-set change
// and removes stale derived artifacts
func (s *Service) invalidateAndSave(ctx context.Context, session *models.Session) error {
	session.Processed = false
	session.ChatbotReady = false
	session.Touch()

	if err := s.RemoveArtifacts(session.ID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to remove stale artifacts")
	}

	if err := s.sessionStorage.SaveSession(ctx, session); err != nil {
		return err
	}
	s.publishStatusChanged(ctx, session)
	return nil
}

func (s *Service) publishStatusChanged(ctx context.Context, session *models.Session) {
	if s.eventService == nil {
		return
	}
	s.eventService.Publish(ctx, interfaces.Event{
		Type: interfaces.EventStatusChanged,
		Payload: map[string]interface{}{
			"session_id":    session.ID,
			"state":         string(session.State()),
			"processed":     session.Processed,
			"chatbot_ready": session.ChatbotReady,
			"timestamp":     time.Now(),
		},
	})
}
