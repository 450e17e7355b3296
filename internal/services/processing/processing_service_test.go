package processing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/aestimo/internal/models"
	"github.com/ternarybob/aestimo/internal/services/chunker"
	"github.com/ternarybob/aestimo/internal/services/criteria"
	"github.com/ternarybob/aestimo/internal/services/embeddings"
	"github.com/ternarybob/aestimo/internal/services/extraction"
	"github.com/ternarybob/aestimo/internal/services/scoring"
	"github.com/ternarybob/aestimo/internal/services/sessions"
	"github.com/ternarybob/aestimo/internal/services/vectorindex"
)

type mockLLMService struct {
	chatFunc       func(ctx context.Context, messages []interfaces.Message) (string, error)
	embedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)
	chatCalls      int
}

func (m *mockLLMService) Embed(ctx context.Context, text string) ([]float32, error) {
	return deterministicVector(text), nil
}

func (m *mockLLMService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.embedBatchFunc != nil {
		return m.embedBatchFunc(ctx, texts)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = deterministicVector(text)
	}
	return vectors, nil
}

func (m *mockLLMService) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	m.chatCalls++
	if m.chatFunc != nil {
		return m.chatFunc(ctx, messages)
	}
	return pipelineChatFunc(ctx, messages)
}

func (m *mockLLMService) ChatWithOptions(ctx context.Context, messages []interfaces.Message, opts interfaces.ChatOptions) (string, error) {
	return m.Chat(ctx, messages)
}

func (m *mockLLMService) HealthCheck(ctx context.Context) error { return nil }
func (m *mockLLMService) GetMode() interfaces.LLMMode           { return interfaces.LLMModeOffline }
func (m *mockLLMService) Close() error                          { return nil }

func deterministicVector(text string) []float32 {
	return []float32{float32(len(text) % 7), float32(len(text) % 11), 1}
}

// pipelineChatFunc answers extraction, judgment, and capability prompts
// deterministically so full runs are repeatable
func pipelineChatFunc(_ context.Context, messages []interfaces.Message) (string, error) {
	prompt := messages[0].Content
	switch {
	case strings.Contains(prompt, "analyzing government and corporate RFPs"):
		return `{"requirements": [
			{"text": "System must provide 99.9% uptime SLA", "category": "technical", "mandatory": true},
			{"text": "Solution should include a mobile application", "category": "technical", "mandatory": false}
		]}`, nil
	case strings.Contains(prompt, "analyzing vendor proposals"):
		return `{"capabilities": ["hosting", "monitoring", "support", "migration", "training", "reporting"], "commitments": [], "differentiators": [], "summary": "A hosting proposal."}`, nil
	case strings.Contains(prompt, "Evidence from Acme's response"):
		if strings.Contains(prompt, "uptime") {
			return `{"score": 0.95, "confidence": 0.9, "evidence": ["We guarantee 99.95% uptime"], "gaps": []}`, nil
		}
		return `{"score": 0.8, "confidence": 0.85, "evidence": ["iOS and Android apps included"], "gaps": []}`, nil
	case strings.Contains(prompt, "Evidence from BudgetCo's response"):
		if strings.Contains(prompt, "uptime") {
			return `{"score": 0.1, "confidence": 0.9, "evidence": [], "gaps": ["No uptime commitment found"]}`, nil
		}
		return `{"score": 0.3, "confidence": 0.8, "evidence": [], "gaps": ["No mobile offering"]}`, nil
	}
	return "", fmt.Errorf("unexpected prompt")
}

type mockSessionStorage struct {
	sessions map[string]*models.Session
}

func (m *mockSessionStorage) SaveSession(_ context.Context, session *models.Session) error {
	clone := *session
	m.sessions[session.ID] = &clone
	return nil
}

func (m *mockSessionStorage) GetSession(_ context.Context, id string) (*models.Session, error) {
	session, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	clone := *session
	return &clone, nil
}

func (m *mockSessionStorage) ListSessions(_ context.Context) ([]*models.Session, error) {
	return nil, nil
}

func (m *mockSessionStorage) DeleteSession(_ context.Context, id string) error {
	delete(m.sessions, id)
	return nil
}

func (m *mockSessionStorage) CountSessions(_ context.Context) (int, error) {
	return len(m.sessions), nil
}

func (m *mockSessionStorage) ListIdleSince(_ context.Context, _ time.Time) ([]*models.Session, error) {
	return nil, nil
}

type mockDocumentStorage struct {
	docs map[string]*models.Document
}

func (m *mockDocumentStorage) SaveDocument(_ context.Context, doc *models.Document) error {
	m.docs[doc.ID] = doc
	return nil
}

func (m *mockDocumentStorage) GetDocument(_ context.Context, id string) (*models.Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	return doc, nil
}

func (m *mockDocumentStorage) GetDocumentsBySession(_ context.Context, sessionID string) ([]*models.Document, error) {
	var out []*models.Document
	for _, doc := range m.docs {
		if doc.SessionID == sessionID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (m *mockDocumentStorage) GetDocumentByFilename(_ context.Context, sessionID, filename string) (*models.Document, error) {
	for _, doc := range m.docs {
		if doc.SessionID == sessionID && doc.Filename == filename {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("document %s not found", filename)
}

func (m *mockDocumentStorage) DeleteDocument(_ context.Context, id string) error {
	delete(m.docs, id)
	return nil
}

func (m *mockDocumentStorage) DeleteDocumentsBySession(_ context.Context, sessionID string) error {
	for id, doc := range m.docs {
		if doc.SessionID == sessionID {
			delete(m.docs, id)
		}
	}
	return nil
}

func (m *mockDocumentStorage) CountDocuments(_ context.Context) (int, error) {
	return len(m.docs), nil
}

type pipelineFixture struct {
	svc             *Service
	sessionService  *sessions.Service
	documentStorage *mockDocumentStorage
	llm             *mockLLMService
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	llmMock := &mockLLMService{}
	sessionStorage := &mockSessionStorage{sessions: make(map[string]*models.Session)}
	documentStorage := &mockDocumentStorage{docs: make(map[string]*models.Document)}
	logger := arbor.NewLogger()

	cfg := common.NewDefaultConfig()
	root := t.TempDir()
	fs := &common.FilesystemConfig{
		Uploads: filepath.Join(root, "uploads"),
		Outputs: filepath.Join(root, "outputs"),
	}

	sessionSvc := sessions.NewService(sessionStorage, documentStorage, nil, fs, logger)
	rubric := criteria.Default()
	embedder := embeddings.NewService(llmMock, nil, &cfg.Processing, logger)
	extractor := extraction.NewService(llmMock, rubric, cfg.Claude.Model, logger)
	scorer := scoring.NewService(llmMock, embedder, rubric, &cfg.Scoring, cfg.Claude.Model, nil, logger)

	svc := NewService(
		documentStorage,
		sessionSvc,
		chunker.NewService(&cfg.Processing, logger),
		embedder,
		extractor,
		scorer,
		nil,
		logger,
	)

	return &pipelineFixture{
		svc:             svc,
		sessionService:  sessionSvc,
		documentStorage: documentStorage,
		llm:             llmMock,
	}
}

// seedSession stores an RFP and two vendor responses ready for processing
func (f *pipelineFixture) seedSession(t *testing.T) *models.Session {
	t.Helper()
	ctx := context.Background()

	session, err := f.sessionService.Create(ctx)
	require.NoError(t, err)

	docs := []*models.Document{
		{
			ID: "doc_rfp", SessionID: session.ID, Kind: models.DocumentKindRFP,
			Filename: "rfp_tender.txt", Format: "txt",
			Pages: []string{"Vendors must provide a 99.9% uptime SLA. A mobile application is desirable."},
		},
		{
			ID: "doc_acme", SessionID: session.ID, Kind: models.DocumentKindVendor, VendorName: "Acme",
			Filename: "vendor_Acme_proposal.txt", Format: "txt",
			Pages: []string{"We guarantee 99.95% uptime with 24/7 monitoring. iOS and Android apps included."},
		},
		{
			ID: "doc_budget", SessionID: session.ID, Kind: models.DocumentKindVendor, VendorName: "BudgetCo",
			Filename: "vendor_BudgetCo_proposal.txt", Format: "txt",
			Pages: []string{"Our solution is the most affordable on the market."},
		},
	}
	for _, doc := range docs {
		require.NoError(t, f.documentStorage.SaveDocument(ctx, doc))
	}

	require.NoError(t, f.sessionService.RecordRFP(ctx, session, docs[0]))
	require.NoError(t, f.sessionService.RecordVendor(ctx, session, "Acme"))
	require.NoError(t, f.sessionService.RecordVendor(ctx, session, "BudgetCo"))
	return session
}

func TestProcessSession_EndToEnd(t *testing.T) {
	f := newPipelineFixture(t)
	session := f.seedSession(t)
	ctx := context.Background()

	result, err := f.svc.ProcessSession(ctx, session)
	require.NoError(t, err)

	assert.Equal(t, session.ID, result.SessionID)
	assert.Equal(t, 3, result.DocumentCount)
	assert.Equal(t, 3, result.ChunkCount)
	assert.Equal(t, 2, result.RequirementCount)
	assert.Equal(t, 2, result.VendorCount)
	assert.Equal(t, []string{"BudgetCo"}, result.NonCompliantVendors)

	assert.True(t, session.Processed)
	assert.True(t, session.ChatbotReady)

	// Every artifact is on disk
	for _, docID := range []string{"doc_rfp", "doc_acme", "doc_budget"} {
		_, err := os.Stat(f.sessionService.ChunksPath(session.ID, docID))
		assert.NoError(t, err, "chunks for %s", docID)
	}
	for _, vendor := range []string{"Acme", "BudgetCo"} {
		_, err := os.Stat(f.sessionService.CompliancePath(session.ID, vendor))
		assert.NoError(t, err, "compliance for %s", vendor)
	}

	var set models.RequirementSet
	require.NoError(t, f.sessionService.ReadArtifact(f.sessionService.RequirementsPath(session.ID), &set))
	require.Len(t, set.Requirements, 2)
	assert.Equal(t, "REQ-001", set.Requirements[0].ID)
	// Weights are derived before the artifact is written
	assert.InDelta(t, 0.6, set.Requirements[0].Weight, 1e-9)

	index, err := vectorindex.Load(f.sessionService.IndexPath(session.ID))
	require.NoError(t, err)
	assert.Equal(t, 3, index.Size())

	var summary models.ScoringSummary
	require.NoError(t, f.sessionService.ReadArtifact(f.sessionService.ScoringSummaryPath(session.ID), &summary))
	assert.Greater(t, summary.Vendors["Acme"].TotalScore, 0.8)
	assert.False(t, summary.Vendors["BudgetCo"].Compliant)
	assert.Equal(t, []string{"BudgetCo"}, summary.NonCompliantVendors())
}

func TestProcessSession_RequiresRFPAndVendor(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	session, err := f.sessionService.Create(ctx)
	require.NoError(t, err)

	_, err = f.svc.ProcessSession(ctx, session)
	require.Error(t, err)
	assert.True(t, common.IsValidationError(err))

	rfp := &models.Document{ID: "doc_rfp", SessionID: session.ID, Kind: models.DocumentKindRFP, Pages: []string{"content"}}
	require.NoError(t, f.documentStorage.SaveDocument(ctx, rfp))
	require.NoError(t, f.sessionService.RecordRFP(ctx, session, rfp))

	_, err = f.svc.ProcessSession(ctx, session)
	require.Error(t, err)
	assert.True(t, common.IsValidationError(err))

	// Precondition failures never reach the LLM
	assert.Zero(t, f.llm.chatCalls)
}

func TestProcessSession_EmbeddingFailureLeavesSessionRecoverable(t *testing.T) {
	f := newPipelineFixture(t)
	session := f.seedSession(t)
	ctx := context.Background()

	f.llm.embedBatchFunc = func(_ context.Context, _ []string) ([][]float32, error) {
		return nil, fmt.Errorf("quota exhausted")
	}

	_, err := f.svc.ProcessSession(ctx, session)
	require.Error(t, err)
	assert.True(t, common.IsExternalServiceError(err))
	assert.False(t, session.Processed)

	// No downstream artifacts were produced
	_, err = os.Stat(f.sessionService.ScoringSummaryPath(session.ID))
	assert.True(t, os.IsNotExist(err))

	// The session recovers once the service does
	f.llm.embedBatchFunc = nil
	_, err = f.svc.ProcessSession(ctx, session)
	require.NoError(t, err)
	assert.True(t, session.Processed)
}

func TestProcessSession_ReprocessingYieldsIdenticalSummaries(t *testing.T) {
	f := newPipelineFixture(t)
	session := f.seedSession(t)
	ctx := context.Background()

	_, err := f.svc.ProcessSession(ctx, session)
	require.NoError(t, err)
	var first models.ScoringSummary
	require.NoError(t, f.sessionService.ReadArtifact(f.sessionService.ScoringSummaryPath(session.ID), &first))

	_, err = f.svc.ProcessSession(ctx, session)
	require.NoError(t, err)
	var second models.ScoringSummary
	require.NoError(t, f.sessionService.ReadArtifact(f.sessionService.ScoringSummaryPath(session.ID), &second))

	require.Len(t, second.Vendors, len(first.Vendors))
	for vendor, a := range first.Vendors {
		b := second.Vendors[vendor]
		require.NotNil(t, b, vendor)
		assert.Equal(t, a.TotalScore, b.TotalScore, vendor)
		assert.Equal(t, a.Confidence, b.Confidence, vendor)
		assert.Equal(t, a.Compliant, b.Compliant, vendor)
		assert.Equal(t, a.CategoryScores, b.CategoryScores, vendor)
		assert.Equal(t, a.Strengths, b.Strengths, vendor)
		assert.Equal(t, a.Weaknesses, b.Weaknesses, vendor)
	}
}

func TestScoresAndRequirements_BeforeProcessing(t *testing.T) {
	f := newPipelineFixture(t)
	session := f.seedSession(t)

	_, err := f.svc.Scores(session)
	require.Error(t, err)
	assert.True(t, common.IsNotReadyError(err))

	set, err := f.svc.Requirements(session)
	require.NoError(t, err)
	assert.Empty(t, set.Requirements)
}

func TestScoresAndRequirements_AfterProcessing(t *testing.T) {
	f := newPipelineFixture(t)
	session := f.seedSession(t)
	ctx := context.Background()

	_, err := f.svc.ProcessSession(ctx, session)
	require.NoError(t, err)

	summary, err := f.svc.Scores(session)
	require.NoError(t, err)
	assert.Len(t, summary.Vendors, 2)

	set, err := f.svc.Requirements(session)
	require.NoError(t, err)
	assert.Len(t, set.Requirements, 2)
}

func TestSortDocuments_RFPFirstThenVendorsByName(t *testing.T) {
	docs := []*models.Document{
		{ID: "d3", Kind: models.DocumentKindVendor, VendorName: "Zeta", Filename: "b.txt"},
		{ID: "d1", Kind: models.DocumentKindVendor, VendorName: "Acme", Filename: "a.txt"},
		{ID: "d4", Kind: models.DocumentKindRFP, Filename: "rfp.txt"},
		{ID: "d2", Kind: models.DocumentKindVendor, VendorName: "Acme", Filename: "b.txt"},
	}

	sortDocuments(docs)

	got := make([]string, len(docs))
	for i, d := range docs {
		got[i] = d.ID
	}
	assert.Equal(t, []string{"d4", "d1", "d2", "d3"}, got)
}
