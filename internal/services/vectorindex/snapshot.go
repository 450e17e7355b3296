package vectorindex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/aestimo/internal/models"
)

// snapshot is the persisted form of an index
type snapshot struct {
	Dimension int                    `json:"dimension"`
	Entries   []models.EmbeddedChunk `json:"entries"`
}

// Save writes the index to path as a JSON snapshot. The write is atomic:
// a temp file in the same directory is renamed over the target, so a crash
// mid-write never leaves a truncated index behind.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	snap := snapshot{
		Dimension: idx.dimension,
		Entries:   idx.entries,
	}
	data, err := json.Marshal(snap)
	idx.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode index snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".index-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp index file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write index snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close index snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace index snapshot: %w", err)
	}
	return nil
}

// Load reads a JSON snapshot written by Save
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode index snapshot: %w", err)
	}

	idx := New()
	idx.dimension = snap.Dimension
	idx.entries = snap.Entries

	// Reject snapshots whose entries disagree with the header dimension
	for i := range idx.entries {
		if len(idx.entries[i].Vector) != idx.dimension {
			return nil, fmt.Errorf("index snapshot is inconsistent: entry %d has dimension %d, header says %d",
				i, len(idx.entries[i].Vector), idx.dimension)
		}
	}
	return idx, nil
}
