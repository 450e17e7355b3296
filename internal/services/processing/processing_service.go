package processing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/aestimo/internal/models"
	"github.com/ternarybob/aestimo/internal/services/chunker"
	"github.com/ternarybob/aestimo/internal/services/embeddings"
	"github.com/ternarybob/aestimo/internal/services/extraction"
	"github.com/ternarybob/aestimo/internal/services/scoring"
	"github.com/ternarybob/aestimo/internal/services/sessions"
	"github.com/ternarybob/aestimo/internal/services/vectorindex"
)

// Service runs the evaluation pipeline for a session: chunk every uploaded
// document, embed the chunks, build the session's vector index, extract
// requirements from the RFP, and score each vendor. Every stage persists
// its artifact atomically, so reprocessing fully overwrites prior output
// and an interrupted run leaves the session recoverable.
type Service struct {
	documentStorage interfaces.DocumentStorage
	sessionService  *sessions.Service
	chunker         *chunker.Service
	embedder        *embeddings.Service
	extractor       *extraction.Service
	scorer          *scoring.Service
	eventService    interfaces.EventService
	logger          arbor.ILogger
}

// NewService creates a new processing service
func NewService(
	documentStorage interfaces.DocumentStorage,
	sessionService *sessions.Service,
	chunkerService *chunker.Service,
	embedder *embeddings.Service,
	extractor *extraction.Service,
	scorer *scoring.Service,
	eventService interfaces.EventService,
	logger arbor.ILogger,
) *Service {
	return &Service{
		documentStorage: documentStorage,
		sessionService:  sessionService,
		chunker:         chunkerService,
		embedder:        embedder,
		extractor:       extractor,
		scorer:          scorer,
		eventService:    eventService,
		logger:          logger,
	}
}

// Result summarizes a completed processing run
type Result struct {
	SessionID           string
	DocumentCount       int
	ChunkCount          int
	RequirementCount    int
	VendorCount         int
	NonCompliantVendors []string
	Duration            time.Duration
}

// ProcessSession runs the full pipeline. The call is synchronous; progress
// is published as events for the UI while the caller waits.
func (s *Service) ProcessSession(ctx context.Context, session *models.Session) (*Result, error) {
	if session.RFPDocumentID == "" {
		return nil, common.NewValidationError("no RFP uploaded: upload an RFP before processing")
	}
	if len(session.VendorNames) == 0 {
		return nil, common.NewValidationError("no vendor responses uploaded: upload at least one vendor response before processing")
	}

	start := time.Now()
	s.logger.Info().
		Str("session_id", session.ID).
		Int("vendors", len(session.VendorNames)).
		Msg("Processing started")

	docs, err := s.documentStorage.GetDocumentsBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, common.NewValidationError("no documents stored for this session")
	}
	sortDocuments(docs)

	allChunks, rfpChunks, err := s.chunkDocuments(ctx, session.ID, docs)
	if err != nil {
		return nil, err
	}
	if len(rfpChunks) == 0 {
		return nil, common.NewValidationError("the RFP document is missing or empty; re-upload it before processing")
	}

	index, err := s.buildIndex(ctx, session.ID, allChunks)
	if err != nil {
		return nil, err
	}

	set, err := s.extractRequirements(ctx, session.ID, rfpChunks)
	if err != nil {
		return nil, err
	}

	summary, err := s.scoreVendors(ctx, session, set, index)
	if err != nil {
		return nil, err
	}

	if err := s.sessionService.MarkProcessed(ctx, session); err != nil {
		return nil, err
	}

	result := &Result{
		SessionID:           session.ID,
		DocumentCount:       len(docs),
		ChunkCount:          len(allChunks),
		RequirementCount:    len(set.Requirements),
		VendorCount:         len(session.VendorNames),
		NonCompliantVendors: summary.NonCompliantVendors(),
		Duration:            time.Since(start),
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Int("documents", result.DocumentCount).
		Int("chunks", result.ChunkCount).
		Int("requirements", result.RequirementCount).
		Int("vendors", result.VendorCount).
		Int("non_compliant", len(result.NonCompliantVendors)).
		Int64("duration_ms", result.Duration.Milliseconds()).
		Msg("Processing completed")

	return result, nil
}

// Scores returns the persisted scoring summary for a processed session
func (s *Service) Scores(session *models.Session) (*models.ScoringSummary, error) {
	if !session.Processed {
		return nil, common.NewNotReadyError("documents have not been processed yet")
	}

	var summary models.ScoringSummary
	if err := s.sessionService.ReadArtifact(s.sessionService.ScoringSummaryPath(session.ID), &summary); err != nil {
		return nil, fmt.Errorf("scoring summary unavailable: %w", err)
	}
	return &summary, nil
}

// Requirements returns the extracted requirement set. Before processing the
// list is empty rather than an error, matching the polling UI's needs.
func (s *Service) Requirements(session *models.Session) (*models.RequirementSet, error) {
	if !session.Processed {
		return &models.RequirementSet{SessionID: session.ID, Requirements: []models.Requirement{}}, nil
	}

	var set models.RequirementSet
	if err := s.sessionService.ReadArtifact(s.sessionService.RequirementsPath(session.ID), &set); err != nil {
		return nil, fmt.Errorf("requirement set unavailable: %w", err)
	}
	return &set, nil
}

// chunkDocuments splits every document and persists per-document chunk
// artifacts. RFP chunks are returned separately for requirement extraction.
func (s *Service) chunkDocuments(ctx context.Context, sessionID string, docs []*models.Document) ([]models.Chunk, []models.Chunk, error) {
	var allChunks []models.Chunk
	var rfpChunks []models.Chunk

	for i, doc := range docs {
		chunks := s.chunker.Chunk(doc)
		if len(chunks) == 0 {
			return nil, nil, common.NewValidationError("document %s has no extractable text", doc.Filename)
		}

		path := s.sessionService.ChunksPath(sessionID, doc.ID)
		if err := s.sessionService.WriteArtifact(path, chunks); err != nil {
			return nil, nil, fmt.Errorf("failed to persist chunks for %s: %w", doc.Filename, err)
		}

		allChunks = append(allChunks, chunks...)
		if doc.Kind == models.DocumentKindRFP {
			rfpChunks = append(rfpChunks, chunks...)
		}

		s.publishProgress(ctx, sessionID, "chunking", i+1, len(docs))
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Int("documents", len(docs)).
		Int("chunks", len(allChunks)).
		Msg("Documents chunked")

	return allChunks, rfpChunks, nil
}

// buildIndex embeds all chunks and persists the session's index snapshot
func (s *Service) buildIndex(ctx context.Context, sessionID string, chunks []models.Chunk) (*vectorindex.Index, error) {
	embedded, err := s.embedder.EmbedChunks(ctx, sessionID, chunks)
	if err != nil {
		return nil, err
	}

	index := vectorindex.New()
	if err := index.Add(embedded); err != nil {
		return nil, fmt.Errorf("failed to build vector index: %w", err)
	}

	if err := index.Save(s.sessionService.IndexPath(sessionID)); err != nil {
		return nil, fmt.Errorf("failed to persist vector index: %w", err)
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Int("vectors", index.Size()).
		Int("dimension", index.Dimension()).
		Msg("Vector index built")

	return index, nil
}

// extractRequirements pulls the requirement set from the RFP chunks,
// derives weights, and persists it
func (s *Service) extractRequirements(ctx context.Context, sessionID string, rfpChunks []models.Chunk) (*models.RequirementSet, error) {
	s.publishProgress(ctx, sessionID, "extracting", 0, 1)

	set, err := s.extractor.Extract(ctx, sessionID, rfpChunks)
	if err != nil {
		return nil, err
	}
	set.Requirements = s.scorer.DeriveWeights(set.Requirements)

	if err := s.sessionService.WriteArtifact(s.sessionService.RequirementsPath(sessionID), set); err != nil {
		return nil, fmt.Errorf("failed to persist requirements: %w", err)
	}

	s.publishProgress(ctx, sessionID, "extracting", 1, 1)
	return set, nil
}

// scoreVendors evaluates every vendor and persists the compliance artifacts
func (s *Service) scoreVendors(ctx context.Context, session *models.Session, set *models.RequirementSet, index *vectorindex.Index) (*models.ScoringSummary, error) {
	summary, err := s.scorer.ScoreVendors(ctx, session.ID, set, index, session.VendorNames)
	if err != nil {
		return nil, err
	}

	for vendor, vendorSummary := range summary.Vendors {
		path := s.sessionService.CompliancePath(session.ID, vendor)
		if err := s.sessionService.WriteArtifact(path, vendorSummary); err != nil {
			return nil, fmt.Errorf("failed to persist compliance result for %s: %w", vendor, err)
		}
	}

	if err := s.sessionService.WriteArtifact(s.sessionService.ScoringSummaryPath(session.ID), summary); err != nil {
		return nil, fmt.Errorf("failed to persist scoring summary: %w", err)
	}

	return summary, nil
}

func (s *Service) publishProgress(ctx context.Context, sessionID, stage string, current, total int) {
	if s.eventService == nil {
		return
	}
	s.eventService.Publish(ctx, interfaces.Event{
		Type: interfaces.EventProcessingProgress,
		Payload: map[string]interface{}{
			"session_id": sessionID,
			"stage":      stage,
			"current":    current,
			"total":      total,
			"timestamp":  time.Now(),
		},
	})
}

// sortDocuments orders the pipeline input deterministically: the RFP first,
// then vendor documents by vendor and filename
func sortDocuments(docs []*models.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Kind != docs[j].Kind {
			return docs[i].Kind == models.DocumentKindRFP
		}
		if docs[i].VendorName != docs[j].VendorName {
			return docs[i].VendorName < docs[j].VendorName
		}
		return docs[i].Filename < docs[j].Filename
	})
}
