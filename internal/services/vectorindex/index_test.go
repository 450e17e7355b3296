package vectorindex

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/aestimo/internal/models"
)

func embedded(id string, kind models.DocumentKind, source string, vector ...float32) models.EmbeddedChunk {
	return models.EmbeddedChunk{
		Chunk: models.Chunk{
			ID:     id,
			Source: source,
			Kind:   kind,
			Text:   "text for " + id,
		},
		Vector: vector,
	}
}

func TestSearch_EmptyIndexReturnsEmptyResult(t *testing.T) {
	idx := New()

	matches, err := idx.Search([]float32{1, 2, 3}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearch_OrdersByDistanceAscending(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Add([]models.EmbeddedChunk{
		embedded("far", models.DocumentKindRFP, "RFP", 10, 10),
		embedded("near", models.DocumentKindRFP, "RFP", 1, 1),
		embedded("mid", models.DocumentKindRFP, "RFP", 4, 4),
	}))

	matches, err := idx.Search([]float32{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, "near", matches[0].Chunk.ID)
	assert.Equal(t, "mid", matches[1].Chunk.ID)
	assert.Equal(t, "far", matches[2].Chunk.ID)

	assert.InDelta(t, 2.0, matches[0].Distance, 1e-9)
	assert.InDelta(t, 32.0, matches[1].Distance, 1e-9)
	assert.InDelta(t, 200.0, matches[2].Distance, 1e-9)
}

func TestSearch_NeverReturnsMoreThanMinKN(t *testing.T) {
	idx := New()
	for i := 0; i < 4; i++ {
		require.NoError(t, idx.Add([]models.EmbeddedChunk{
			embedded(fmt.Sprintf("c%d", i), models.DocumentKindVendor, "Acme", float32(i), float32(i)),
		}))
	}

	matches, err := idx.Search([]float32{0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 4, "k larger than N returns all N")

	matches, err = idx.Search([]float32{0, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	matches, err = idx.Search([]float32{0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestAdd_RejectsMixedDimensions(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Add([]models.EmbeddedChunk{
		embedded("a", models.DocumentKindRFP, "RFP", 1, 2, 3),
	}))

	err := idx.Add([]models.EmbeddedChunk{
		embedded("b", models.DocumentKindRFP, "RFP", 1, 2),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")

	err = idx.Add([]models.EmbeddedChunk{embedded("c", models.DocumentKindRFP, "RFP")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty vector")

	assert.Equal(t, 1, idx.Size())
	assert.Equal(t, 3, idx.Dimension())
}

func TestSearch_RejectsMismatchedQueryDimension(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Add([]models.EmbeddedChunk{
		embedded("a", models.DocumentKindRFP, "RFP", 1, 2, 3),
	}))

	_, err := idx.Search([]float32{1, 2}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestSearchWhere_FiltersBySource(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Add([]models.EmbeddedChunk{
		embedded("rfp1", models.DocumentKindRFP, "RFP", 0, 0),
		embedded("acme1", models.DocumentKindVendor, "Acme", 0.1, 0.1),
		embedded("acme2", models.DocumentKindVendor, "Acme", 5, 5),
		embedded("budget1", models.DocumentKindVendor, "BudgetCo", 0.2, 0.2),
	}))

	matches, err := idx.SearchWhere([]float32{0, 0}, 10, func(c *models.Chunk) bool {
		return c.Source == "Acme"
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "acme1", matches[0].Chunk.ID)
	assert.Equal(t, "acme2", matches[1].Chunk.ID)
}

func TestSaveLoad_RoundTripsSnapshot(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Add([]models.EmbeddedChunk{
		embedded("a", models.DocumentKindRFP, "RFP", 1, 0, 0),
		embedded("b", models.DocumentKindVendor, "Acme", 0, 1, 0),
	}))

	path := filepath.Join(t.TempDir(), "index", "index.json")
	require.NoError(t, idx.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Size())
	assert.Equal(t, 3, loaded.Dimension())

	matches, err := loaded.Search([]float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Chunk.ID)
	assert.Equal(t, "text for a", matches[0].Chunk.Text)
}

func TestSave_LeavesNoTempFilesBehind(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Add([]models.EmbeddedChunk{
		embedded("a", models.DocumentKindRFP, "RFP", 1, 2),
	}))

	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	require.NoError(t, idx.Save(path))
	require.NoError(t, idx.Save(path)) // overwrite in place

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "index.json", entries[0].Name())
}

func TestLoad_RejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Load(path)
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoad_RejectsInconsistentDimensions(t *testing.T) {
	payload := `{"dimension":3,"entries":[{"chunk":{"id":"a"},"vector":[1,2]}]}`
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inconsistent")
}
