package vectorindex

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/aestimo/internal/models"
)

// Match is a single search result: the stored chunk and its squared L2
// distance to the query (smaller = more similar)
type Match struct {
	Chunk    models.Chunk `json:"chunk"`
	Distance float64      `json:"distance"`
}

// Index is an exact nearest-neighbor index over float32 vectors. Distances
// are squared L2 and results order by non-decreasing distance. All vectors
// in one index share a single dimensionality, fixed by the first Add.
type Index struct {
	mu        sync.RWMutex
	dimension int
	entries   []models.EmbeddedChunk
}

// New creates an empty index
func New() *Index {
	return &Index{}
}

// Add appends embedded chunks to the index. The first vector fixes the
// index dimensionality; vectors of any other length are rejected, which
// keeps embeddings from different models out of one index.
func (idx *Index) Add(chunks []models.EmbeddedChunk) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, ec := range chunks {
		if len(ec.Vector) == 0 {
			return fmt.Errorf("chunk %s has an empty vector", ec.Chunk.ID)
		}
		if idx.dimension == 0 {
			idx.dimension = len(ec.Vector)
		}
		if len(ec.Vector) != idx.dimension {
			return fmt.Errorf("chunk %s has dimension %d, index uses %d",
				ec.Chunk.ID, len(ec.Vector), idx.dimension)
		}
		vec := make([]float32, len(ec.Vector))
		copy(vec, ec.Vector)
		idx.entries = append(idx.entries, models.EmbeddedChunk{Chunk: ec.Chunk, Vector: vec})
	}
	return nil
}

// Search returns the k nearest chunks to the query, closest first. An empty
// index yields an empty result. Never returns more than min(k, N) matches.
func (idx *Index) Search(query []float32, k int) ([]Match, error) {
	return idx.SearchWhere(query, k, nil)
}

// SearchWhere is Search restricted to chunks the keep predicate accepts.
// A nil predicate accepts everything.
func (idx *Index) SearchWhere(query []float32, k int, keep func(*models.Chunk) bool) ([]Match, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.entries) == 0 || k <= 0 {
		return []Match{}, nil
	}
	if len(query) != idx.dimension {
		return nil, fmt.Errorf("query has dimension %d, index uses %d", len(query), idx.dimension)
	}

	matches := make([]Match, 0, len(idx.entries))
	for i := range idx.entries {
		entry := &idx.entries[i]
		if keep != nil && !keep(&entry.Chunk) {
			continue
		}
		matches = append(matches, Match{
			Chunk:    entry.Chunk,
			Distance: squaredL2(query, entry.Vector),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Size returns the number of stored vectors
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Chunks returns stored chunks the keep predicate accepts, in insertion
// order. A nil predicate returns every chunk.
func (idx *Index) Chunks(keep func(*models.Chunk) bool) []models.Chunk {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	chunks := make([]models.Chunk, 0, len(idx.entries))
	for i := range idx.entries {
		if keep == nil || keep(&idx.entries[i].Chunk) {
			chunks = append(chunks, idx.entries[i].Chunk)
		}
	}
	return chunks
}

// Dimension returns the index dimensionality, 0 when empty
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dimension
}

// squaredL2 accumulates in float64 so long vectors keep precision
func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
