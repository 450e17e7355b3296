package sessions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/aestimo/internal/models"
)

type mockSessionStorage struct {
	sessions map[string]*models.Session
	saveErr  error
}

func newMockSessionStorage() *mockSessionStorage {
	return &mockSessionStorage{sessions: make(map[string]*models.Session)}
}

func (m *mockSessionStorage) SaveSession(_ context.Context, session *models.Session) error {
	if m.saveErr != nil {
		return m.saveErr
	}
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
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("session %s not found", id)
	}
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

type mockEventService struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (m *mockEventService) Publish(_ context.Context, event interfaces.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventService) PublishSync(ctx context.Context, event interfaces.Event) error {
	return m.Publish(ctx, event)
}

func (m *mockEventService) Subscribe(interfaces.EventType, interfaces.EventHandler) error   { return nil }
func (m *mockEventService) Unsubscribe(interfaces.EventType, interfaces.EventHandler) error { return nil }
func (m *mockEventService) Close() error                                                    { return nil }

func (m *mockEventService) typesSeen() []interfaces.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]interfaces.EventType, len(m.events))
	for i, e := range m.events {
		types[i] = e.Type
	}
	return types
}

func newTestService(t *testing.T) (*Service, *mockSessionStorage, *mockDocumentStorage, *mockEventService) {
	t.Helper()
	sessionStorage := newMockSessionStorage()
	documentStorage := newMockDocumentStorage()
	eventService := &mockEventService{}
	root := t.TempDir()
	fs := &common.FilesystemConfig{
		Uploads: filepath.Join(root, "uploads"),
		Outputs: filepath.Join(root, "outputs"),
	}
	svc := NewService(sessionStorage, documentStorage, eventService, fs, arbor.NewLogger())
	return svc, sessionStorage, documentStorage, eventService
}

func TestCreate_PersistsAndPublishes(t *testing.T) {
	svc, sessionStorage, _, eventService := newTestService(t)

	session, err := svc.Create(context.Background())
	require.NoError(t, err)
	assert.Contains(t, session.ID, "ses_")
	assert.Equal(t, models.SessionStateEmpty, session.State())

	stored, err := sessionStorage.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, stored.ID)

	assert.Equal(t, []interfaces.EventType{interfaces.EventStatusChanged}, eventService.typesSeen())
}

func TestGetOrCreate(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	existing, err := svc.Create(ctx)
	require.NoError(t, err)

	same, err := svc.GetOrCreate(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, same.ID)

	fresh, err := svc.GetOrCreate(ctx, "ses_gone")
	require.NoError(t, err)
	assert.NotEqual(t, existing.ID, fresh.ID)

	blank, err := svc.GetOrCreate(ctx, "")
	require.NoError(t, err)
	assert.NotEqual(t, existing.ID, blank.ID)
}

func TestRecordRFP_InvalidatesProcessing(t *testing.T) {
	svc, sessionStorage, _, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx)
	require.NoError(t, err)
	session.Processed = true
	session.ChatbotReady = true
	require.NoError(t, sessionStorage.SaveSession(ctx, session))

	// A stale artifact from the previous run
	path := svc.RequirementsPath(session.ID)
	require.NoError(t, svc.WriteArtifact(path, map[string]string{"stale": "yes"}))

	doc := &models.Document{ID: "doc_rfp", SessionID: session.ID, Kind: models.DocumentKindRFP}
	require.NoError(t, svc.RecordRFP(ctx, session, doc))

	assert.Equal(t, "doc_rfp", session.RFPDocumentID)
	assert.False(t, session.Processed)
	assert.False(t, session.ChatbotReady)

	stored, err := sessionStorage.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, stored.Processed)

	_, err = os.Stat(svc.OutputDir(session.ID))
	assert.True(t, os.IsNotExist(err))
}

func TestRecordVendor_DeduplicatesNames(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.RecordVendor(ctx, session, "Acme"))
	require.NoError(t, svc.RecordVendor(ctx, session, "Acme"))
	require.NoError(t, svc.RecordVendor(ctx, session, "BudgetCo"))

	assert.Equal(t, []string{"Acme", "BudgetCo"}, session.VendorNames)
}

func TestRecordDocumentRemoved_RFP(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx)
	require.NoError(t, err)
	doc := &models.Document{ID: "doc_rfp", SessionID: session.ID, Kind: models.DocumentKindRFP}
	require.NoError(t, svc.RecordRFP(ctx, session, doc))

	require.NoError(t, svc.RecordDocumentRemoved(ctx, session, doc))
	assert.Empty(t, session.RFPDocumentID)
	assert.Equal(t, models.SessionStateEmpty, session.State())
}

func TestRecordDocumentRemoved_VendorNameDropsWithLastDocument(t *testing.T) {
	svc, _, documentStorage, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.RecordVendor(ctx, session, "Acme"))

	first := &models.Document{ID: "doc_1", SessionID: session.ID, Kind: models.DocumentKindVendor, VendorName: "Acme"}
	second := &models.Document{ID: "doc_2", SessionID: session.ID, Kind: models.DocumentKindVendor, VendorName: "Acme"}
	require.NoError(t, documentStorage.SaveDocument(ctx, second))

	// One Acme document remains, so the name stays
	require.NoError(t, svc.RecordDocumentRemoved(ctx, session, first))
	assert.True(t, session.HasVendor("Acme"))

	require.NoError(t, documentStorage.DeleteDocument(ctx, second.ID))
	require.NoError(t, svc.RecordDocumentRemoved(ctx, session, second))
	assert.False(t, session.HasVendor("Acme"))
}

func TestMarkProcessed(t *testing.T) {
	svc, sessionStorage, _, eventService := newTestService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.MarkProcessed(ctx, session))

	assert.True(t, session.Processed)
	assert.True(t, session.ChatbotReady)
	assert.Equal(t, models.SessionStateProcessed, session.State())

	stored, err := sessionStorage.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)

	types := eventService.typesSeen()
	assert.Equal(t, interfaces.EventStatusChanged, types[len(types)-1])
}

func TestStatus_UnknownSessionIsAllZero(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	for _, id := range []string{"", "ses_unknown"} {
		status, err := svc.Status(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, &Status{}, status)
	}
}

func TestStatus_ReflectsSessionAndDocuments(t *testing.T) {
	svc, _, documentStorage, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx)
	require.NoError(t, err)
	rfp := &models.Document{ID: "doc_rfp", SessionID: session.ID, Kind: models.DocumentKindRFP}
	require.NoError(t, documentStorage.SaveDocument(ctx, rfp))
	vendor := &models.Document{ID: "doc_v", SessionID: session.ID, Kind: models.DocumentKindVendor, VendorName: "Acme"}
	require.NoError(t, documentStorage.SaveDocument(ctx, vendor))

	require.NoError(t, svc.RecordRFP(ctx, session, rfp))
	require.NoError(t, svc.RecordVendor(ctx, session, "Acme"))

	status, err := svc.Status(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, &Status{
		RFPUploaded:  true,
		VendorsCount: 1,
		FilesCount:   2,
	}, status)
}

func TestPurgeIdle_RemovesRecordsAndFiles(t *testing.T) {
	svc, sessionStorage, documentStorage, _ := newTestService(t)
	ctx := context.Background()

	stale, err := svc.Create(ctx)
	require.NoError(t, err)
	active, err := svc.Create(ctx)
	require.NoError(t, err)

	// Backdate the stale session past the cutoff
	stale.LastActive = time.Now().Add(-48 * time.Hour)
	require.NoError(t, sessionStorage.SaveSession(ctx, stale))

	doc := &models.Document{ID: "doc_1", SessionID: stale.ID, Kind: models.DocumentKindRFP}
	require.NoError(t, documentStorage.SaveDocument(ctx, doc))

	uploadDir := filepath.Join(svc.uploadsRoot, stale.ID)
	require.NoError(t, os.MkdirAll(uploadDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(uploadDir, "rfp_old.txt"), []byte("old"), 0644))
	require.NoError(t, svc.WriteArtifact(svc.RequirementsPath(stale.ID), map[string]string{"old": "run"}))

	purged, err := svc.PurgeIdle(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = sessionStorage.GetSession(ctx, stale.ID)
	assert.Error(t, err)
	_, err = sessionStorage.GetSession(ctx, active.ID)
	assert.NoError(t, err)

	docs, err := documentStorage.GetDocumentsBySession(ctx, stale.ID)
	require.NoError(t, err)
	assert.Empty(t, docs)

	_, err = os.Stat(uploadDir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(svc.OutputDir(stale.ID))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteArtifact_RoundTripAndAtomicity(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	type payload struct {
		Name  string   `json:"name"`
		Items []string `json:"items"`
	}

	path := svc.CompliancePath("ses_1", "Acme")
	want := payload{Name: "Acme", Items: []string{"a", "b"}}
	require.NoError(t, svc.WriteArtifact(path, want))

	var got payload
	require.NoError(t, svc.ReadArtifact(path, &got))
	assert.Equal(t, want, got)

	// Overwrite is atomic and leaves no temp files behind
	want.Items = append(want.Items, "c")
	require.NoError(t, svc.WriteArtifact(path, want))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Acme_compliance.json", entries[0].Name())
}

func TestArtifactPaths_Layout(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	assert.Equal(t,
		filepath.Join(svc.outputsRoot, "ses_1", "chunks", "doc_9_chunks.json"),
		svc.ChunksPath("ses_1", "doc_9"))
	assert.Equal(t,
		filepath.Join(svc.outputsRoot, "ses_1", "index", "index.json"),
		svc.IndexPath("ses_1"))
	assert.Equal(t,
		filepath.Join(svc.outputsRoot, "ses_1", "analysis", "requirements.json"),
		svc.RequirementsPath("ses_1"))
	assert.Equal(t,
		filepath.Join(svc.outputsRoot, "ses_1", "compliance", "scoring_summary.json"),
		svc.ScoringSummaryPath("ses_1"))

	// Vendor names cannot escape the compliance directory
	assert.Equal(t,
		filepath.Join(svc.outputsRoot, "ses_1", "compliance", "Acme-Inc_compliance.json"),
		svc.CompliancePath("ses_1", "Acme/Inc"))
}
