// Package persist keeps the in-memory graph durable: it writes the two
// companion artifact files (graph blob + mapping manifest) atomically and
// schedules debounced background saves. The artifact is a warm-cache
// optimization; the embedding store remains the source of truth.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
)

// Manifest records the identifier mappings that accompany the graph blob.
// The recorded dimension must match the configured dimension before the
// graph blob is trusted.
type Manifest struct {
	Dimension      int               `json:"dimension"`
	ChunkToLabel   map[string]uint32 `json:"chunkIdToLabel"`
	LabelToLibrary map[uint32]string `json:"labelToLibraryId"`
	NextLabel      uint32            `json:"nextLabel"`
}

// WriteManifest writes the manifest as JSON via a temp file and rename.
func WriteManifest(path string, m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return writeFileAtomic(path, data)
}

// ReadManifest reads a manifest written by WriteManifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}
