package documents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/aestimo/internal/models"
)

// Service stores uploaded documents on disk and their parsed text in
// document storage. Files are parsed at upload time so unreadable
// documents are rejected immediately rather than failing mid-pipeline.
type Service struct {
	documentStorage interfaces.DocumentStorage
	loader          *Loader
	uploadsConfig   *common.UploadsConfig
	uploadsRoot     string
	logger          arbor.ILogger
}

// NewService creates a new document service
func NewService(
	documentStorage interfaces.DocumentStorage,
	uploadsConfig *common.UploadsConfig,
	uploadsRoot string,
	logger arbor.ILogger,
) *Service {
	return &Service{
		documentStorage: documentStorage,
		loader:          NewLoader(logger),
		uploadsConfig:   uploadsConfig,
		uploadsRoot:     uploadsRoot,
		logger:          logger,
	}
}

// ValidateUpload checks the filename and size against the configured limits
func (s *Service) ValidateUpload(filename string, size int64) error {
	name := sanitizeFilename(filename)
	if name == "" {
		return common.NewValidationError("filename is required")
	}

	ext := strings.ToLower(filepath.Ext(name))
	if !s.isAllowedExtension(ext) {
		return common.NewValidationError("file type %s is not supported (allowed: %s)", ext, strings.Join(s.uploadsConfig.AllowedExtensions, ", "))
	}

	if size <= 0 {
		return common.NewValidationError("file is empty")
	}
	if size > s.uploadsConfig.MaxFileSize {
		return common.NewValidationError("file exceeds the %d MB size limit", s.uploadsConfig.MaxFileSize/(1024*1024))
	}

	return nil
}

// SaveRFP stores an RFP document for the session, replacing any previous one
func (s *Service) SaveRFP(ctx context.Context, sessionID string, filename string, content []byte) (*models.Document, error) {
	if err := s.ValidateUpload(filename, int64(len(content))); err != nil {
		return nil, err
	}

	// One RFP per session
	existing, err := s.documentStorage.GetDocumentsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, doc := range existing {
		if doc.Kind == models.DocumentKindRFP {
			if err := s.removeDocument(ctx, doc); err != nil {
				return nil, err
			}
		}
	}

	storedName := "rfp_" + sanitizeFilename(filename)
	return s.store(ctx, sessionID, models.DocumentKindRFP, "", storedName, filename, content)
}

// SaveVendor stores a vendor proposal document. Uploading a document with
// the same resulting filename replaces the earlier copy.
func (s *Service) SaveVendor(ctx context.Context, sessionID string, vendorName string, filename string, content []byte) (*models.Document, error) {
	vendor := strings.TrimSpace(vendorName)
	if vendor == "" {
		return nil, common.NewValidationError("vendor name is required")
	}

	if err := s.ValidateUpload(filename, int64(len(content))); err != nil {
		return nil, err
	}

	storedName := fmt.Sprintf("vendor_%s_%s", sanitizeVendorName(vendor), sanitizeFilename(filename))

	if doc, err := s.documentStorage.GetDocumentByFilename(ctx, sessionID, storedName); err == nil {
		if err := s.removeDocument(ctx, doc); err != nil {
			return nil, err
		}
	}

	return s.store(ctx, sessionID, models.DocumentKindVendor, vendor, storedName, filename, content)
}

// DeleteByFilename removes a stored document and its file. The deleted
// document is returned so callers can update session state.
func (s *Service) DeleteByFilename(ctx context.Context, sessionID string, filename string) (*models.Document, error) {
	doc, err := s.documentStorage.GetDocumentByFilename(ctx, sessionID, filename)
	if err != nil {
		return nil, common.NewValidationError("file %s not found", filename)
	}

	if err := s.removeDocument(ctx, doc); err != nil {
		return nil, err
	}

	return doc, nil
}

// DeleteAllForSession removes every document record and the upload directory
func (s *Service) DeleteAllForSession(ctx context.Context, sessionID string) error {
	if err := s.documentStorage.DeleteDocumentsBySession(ctx, sessionID); err != nil {
		return err
	}

	dir := filepath.Join(s.uploadsRoot, sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove upload directory: %w", err)
	}

	return nil
}

// store writes the file, parses it, and persists the document record
func (s *Service) store(ctx context.Context, sessionID string, kind models.DocumentKind, vendorName, storedName, originalName string, content []byte) (*models.Document, error) {
	dir := filepath.Join(s.uploadsRoot, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	path := filepath.Join(dir, storedName)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return nil, fmt.Errorf("failed to write uploaded file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(storedName))
	pages, err := s.loader.Load(path, ext)
	if err != nil {
		// Reject unreadable documents at upload time and clean up the file
		if removeErr := os.Remove(path); removeErr != nil {
			s.logger.Warn().Err(removeErr).Str("path", path).Msg("Failed to remove unreadable upload")
		}
		return nil, common.NewParseError(originalName, err)
	}

	doc := &models.Document{
		ID:         common.NewDocumentID(),
		SessionID:  sessionID,
		Kind:       kind,
		VendorName: vendorName,
		Filename:   storedName,
		StoredPath: path,
		Format:     strings.TrimPrefix(ext, "."),
		SizeBytes:  int64(len(content)),
		Pages:      pages,
		PageCount:  len(pages),
		UploadedAt: time.Now().UTC(),
	}

	if err := s.documentStorage.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("filename", storedName).
		Str("kind", string(kind)).
		Int("pages", len(pages)).
		Int("size_bytes", len(content)).
		Msg("Document stored")

	return doc, nil
}

// removeDocument deletes the storage record and the file on disk
func (s *Service) removeDocument(ctx context.Context, doc *models.Document) error {
	if err := s.documentStorage.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	if doc.StoredPath != "" {
		if err := os.Remove(doc.StoredPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", doc.StoredPath).Msg("Failed to remove stored file")
		}
	}
	return nil
}

func (s *Service) isAllowedExtension(ext string) bool {
	for _, allowed := range s.uploadsConfig.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// sanitizeFilename reduces a client-supplied filename to a safe base name
func sanitizeFilename(filename string) string {
	name := strings.TrimSpace(filename)
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// sanitizeVendorName keeps vendor names path-safe for stored filenames
func sanitizeVendorName(vendor string) string {
	name := strings.ReplaceAll(vendor, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")
	return name
}
