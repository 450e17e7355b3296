package chat

import (
	"context"
	"fmt"
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
	"github.com/ternarybob/aestimo/internal/services/embeddings"
	"github.com/ternarybob/aestimo/internal/services/sessions"
	"github.com/ternarybob/aestimo/internal/services/vectorindex"
)

type mockLLMService struct {
	embedFunc func(ctx context.Context, text string) ([]float32, error)
	chatFunc  func(ctx context.Context, messages []interfaces.Message, opts interfaces.ChatOptions) (string, error)

	embedCalls int
	chatCalls  int
	lastOpts   interfaces.ChatOptions
	lastMsgs   []interfaces.Message
}

func (m *mockLLMService) Embed(ctx context.Context, text string) ([]float32, error) {
	m.embedCalls++
	if m.embedFunc != nil {
		return m.embedFunc(ctx, text)
	}
	return []float32{0, 0}, nil
}

func (m *mockLLMService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (m *mockLLMService) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	return m.ChatWithOptions(ctx, messages, interfaces.ChatOptions{})
}

func (m *mockLLMService) ChatWithOptions(ctx context.Context, messages []interfaces.Message, opts interfaces.ChatOptions) (string, error) {
	m.chatCalls++
	m.lastMsgs = messages
	m.lastOpts = opts
	if m.chatFunc != nil {
		return m.chatFunc(ctx, messages, opts)
	}
	return "The guaranteed uptime is **99.95%** [Acme].", nil
}

func (m *mockLLMService) HealthCheck(context.Context) error { return nil }
func (m *mockLLMService) GetMode() interfaces.LLMMode       { return interfaces.LLMModeCloud }
func (m *mockLLMService) Close() error                      { return nil }

type mockSessionStorage struct {
	sessions map[string]*models.Session
}

func newMockSessionStorage() *mockSessionStorage {
	return &mockSessionStorage{sessions: make(map[string]*models.Session)}
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
	out := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (m *mockSessionStorage) DeleteSession(_ context.Context, id string) error {
	delete(m.sessions, id)
	return nil
}

func (m *mockSessionStorage) CountSessions(_ context.Context) (int, error) {
	return len(m.sessions), nil
}

func (m *mockSessionStorage) ListIdleSince(_ context.Context, cutoff time.Time) ([]*models.Session, error) {
	var idle []*models.Session
	for _, s := range m.sessions {
		if s.LastActive.Before(cutoff) {
			idle = append(idle, s)
		}
	}
	return idle, nil
}

type mockDocumentStorage struct {
	docs map[string]*models.Document
}

func newMockDocumentStorage() *mockDocumentStorage {
	return &mockDocumentStorage{docs: make(map[string]*models.Document)}
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

type chatFixture struct {
	svc            *Service
	llm            *mockLLMService
	sessionStorage *mockSessionStorage
	sessionService *sessions.Service
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	logger := arbor.NewLogger()
	cfg := common.NewDefaultConfig()

	llm := &mockLLMService{}
	sessionStorage := newMockSessionStorage()
	root := t.TempDir()
	fs := &common.FilesystemConfig{
		Uploads: filepath.Join(root, "uploads"),
		Outputs: filepath.Join(root, "outputs"),
	}
	sessionService := sessions.NewService(sessionStorage, newMockDocumentStorage(), nil, fs, logger)
	embedder := embeddings.NewService(llm, nil, &cfg.Processing, logger)

	return &chatFixture{
		svc:            NewService(llm, embedder, sessionService, &cfg.Chat, logger),
		llm:            llm,
		sessionStorage: sessionStorage,
		sessionService: sessionService,
	}
}

// processedSession creates a processed session with a saved three-chunk index.
// With a zero query vector the match order is Acme, RFP, BudgetCo.
func processedSession(t *testing.T, f *chatFixture) *models.Session {
	t.Helper()
	ctx := context.Background()

	session, err := f.sessionService.Create(ctx)
	require.NoError(t, err)
	session.RFPDocumentID = "doc_rfp"
	session.VendorNames = []string{"Acme", "BudgetCo"}
	session.Processed = true
	session.ChatbotReady = true
	require.NoError(t, f.sessionStorage.SaveSession(ctx, session))

	index := vectorindex.New()
	require.NoError(t, index.Add([]models.EmbeddedChunk{
		{
			Chunk: models.Chunk{
				ID: "chk_rfp", SessionID: session.ID, Source: "RFP",
				Kind: models.DocumentKindRFP, Index: 2, Page: 4,
				Text: "The system must guarantee 99.9% uptime.",
			},
			Vector: []float32{1, 0},
		},
		{
			Chunk: models.Chunk{
				ID: "chk_acme", SessionID: session.ID, Source: "Acme",
				Kind: models.DocumentKindVendor, Index: 0,
				Text: "We guarantee 99.95% uptime with 24/7 support.",
			},
			Vector: []float32{0.1, 0},
		},
		{
			Chunk: models.Chunk{
				ID: "chk_budget", SessionID: session.ID, Source: "BudgetCo",
				Kind: models.DocumentKindVendor, Index: 1,
				Text: "Our offering is the most affordable on the market.",
			},
			Vector: []float32{2, 0},
		},
	}))
	require.NoError(t, index.Save(f.sessionService.IndexPath(session.ID)))

	return session
}

func TestChat_AnswersWithOrderedSources(t *testing.T) {
	f := newChatFixture(t)
	session := processedSession(t, f)

	resp, err := f.svc.Chat(context.Background(), session.ID, &interfaces.ChatRequest{Query: "What uptime is guaranteed?"})
	require.NoError(t, err)

	assert.Equal(t, "The guaranteed uptime is **99.95%** [Acme].", resp.Answer)
	assert.Contains(t, resp.AnswerHTML, "<strong>99.95%</strong>")

	require.Len(t, resp.Sources, 3)
	assert.Equal(t, "Acme", resp.Sources[0].Label)
	assert.Equal(t, "RFP", resp.Sources[1].Label)
	assert.Equal(t, "BudgetCo", resp.Sources[2].Label)
	assert.Equal(t, 4, resp.Sources[1].Page)
	assert.Less(t, resp.Sources[0].Distance, resp.Sources[1].Distance)
	assert.Equal(t, "We guarantee 99.95% uptime with 24/7 support.", resp.Sources[0].Preview)

	assert.Equal(t, 1, f.llm.embedCalls)
	assert.Equal(t, 1, f.llm.chatCalls)
}

func TestChat_PromptCarriesContextAndOptions(t *testing.T) {
	f := newChatFixture(t)
	session := processedSession(t, f)

	_, err := f.svc.Chat(context.Background(), session.ID, &interfaces.ChatRequest{Query: "What uptime is guaranteed?"})
	require.NoError(t, err)

	require.Len(t, f.llm.lastMsgs, 2)
	assert.Equal(t, "system", f.llm.lastMsgs[0].Role)
	assert.Contains(t, f.llm.lastMsgs[0].Content, "RFP analysis assistant")
	assert.Contains(t, f.llm.lastMsgs[0].Content, "Not found in the provided documents.")

	user := f.llm.lastMsgs[1]
	assert.Equal(t, "user", user.Role)
	assert.Contains(t, user.Content, "Context:\n(Acme - Chunk 0)\nWe guarantee 99.95% uptime")
	assert.Contains(t, user.Content, "(RFP - Chunk 2)")
	assert.Contains(t, user.Content, "\n\nQuestion: What uptime is guaranteed?\nAnswer:")

	assert.InDelta(t, 0.1, f.llm.lastOpts.Temperature, 1e-6)
	assert.Equal(t, 1500, f.llm.lastOpts.MaxTokens)
}

func TestChat_NotReadyBeforeProcessing(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	session, err := f.sessionService.Create(ctx)
	require.NoError(t, err)

	_, err = f.svc.Chat(ctx, session.ID, &interfaces.ChatRequest{Query: "anything"})
	require.Error(t, err)
	assert.True(t, common.IsNotReadyError(err))

	// The model is never consulted before processing completes
	assert.Equal(t, 0, f.llm.embedCalls)
	assert.Equal(t, 0, f.llm.chatCalls)
}

func TestChat_UnknownSessionIsNotReady(t *testing.T) {
	f := newChatFixture(t)

	_, err := f.svc.Chat(context.Background(), "ses_missing", &interfaces.ChatRequest{Query: "anything"})
	require.Error(t, err)
	assert.True(t, common.IsNotReadyError(err))
	assert.Equal(t, 0, f.llm.chatCalls)
}

func TestChat_RejectsEmptyQuery(t *testing.T) {
	f := newChatFixture(t)
	session := processedSession(t, f)

	for _, query := range []string{"", "   "} {
		_, err := f.svc.Chat(context.Background(), session.ID, &interfaces.ChatRequest{Query: query})
		require.Error(t, err)
		assert.True(t, common.IsValidationError(err))
	}
	assert.Equal(t, 0, f.llm.chatCalls)
}

func TestChat_MissingIndexIsNotReady(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	session, err := f.sessionService.Create(ctx)
	require.NoError(t, err)
	session.Processed = true
	require.NoError(t, f.sessionStorage.SaveSession(ctx, session))

	_, err = f.svc.Chat(ctx, session.ID, &interfaces.ChatRequest{Query: "anything"})
	require.Error(t, err)
	assert.True(t, common.IsNotReadyError(err))
	assert.Equal(t, 0, f.llm.chatCalls)
}

func TestChat_LLMFailureIsExternalServiceError(t *testing.T) {
	f := newChatFixture(t)
	session := processedSession(t, f)
	f.llm.chatFunc = func(context.Context, []interfaces.Message, interfaces.ChatOptions) (string, error) {
		return "", fmt.Errorf("api overloaded")
	}

	_, err := f.svc.Chat(context.Background(), session.ID, &interfaces.ChatRequest{Query: "anything"})
	require.Error(t, err)
	assert.True(t, common.IsExternalServiceError(err))
	assert.Contains(t, err.Error(), "api overloaded")
}

func TestChat_TouchesSession(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	session := processedSession(t, f)

	backdated := time.Now().Add(-2 * time.Hour)
	session.LastActive = backdated
	require.NoError(t, f.sessionStorage.SaveSession(ctx, session))

	_, err := f.svc.Chat(ctx, session.ID, &interfaces.ChatRequest{Query: "anything"})
	require.NoError(t, err)

	stored, err := f.sessionStorage.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, stored.LastActive.After(backdated))
}

func TestPreviewText_TruncatesLongChunks(t *testing.T) {
	long := strings.Repeat("a", previewChars+50)
	preview := previewText(long)
	assert.Equal(t, previewChars+3, len(preview))
	assert.True(t, strings.HasSuffix(preview, "..."))

	short := "short text"
	assert.Equal(t, short, previewText(short))
}

func TestBuildContext_FormatsLabeledBlocks(t *testing.T) {
	matches := []vectorindex.Match{
		{Chunk: models.Chunk{Source: "Acme", Index: 3, Text: "First block."}},
		{Chunk: models.Chunk{Source: "RFP", Index: 0, Text: "Second block."}},
	}

	context := buildContext(matches)
	assert.Equal(t, "(Acme - Chunk 3)\nFirst block.\n\n(RFP - Chunk 0)\nSecond block.", context)
	assert.Empty(t, buildContext(nil))
}
