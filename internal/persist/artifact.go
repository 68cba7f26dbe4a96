package persist

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/kensaku/internal/hnsw"
)

// ErrArtifactInvalid marks a persisted artifact that must not be trusted
// (missing file, unreadable content, or a manifest/config dimension
// mismatch). Callers fall back to rebuilding from the store.
var ErrArtifactInvalid = errors.New("persisted index artifact is invalid")

// Artifact names the two companion files of a persisted index.
type Artifact struct {
	GraphPath    string
	ManifestPath string
}

// Save writes both artifact files. Each file is written to a temp sibling
// and renamed into place, so a crash mid-save leaves the previous artifact
// intact.
func (a Artifact) Save(g *hnsw.Graph, m *Manifest) error {
	var buf bytes.Buffer
	if err := g.SaveTo(&buf); err != nil {
		return fmt.Errorf("failed to serialize graph: %w", err)
	}
	if err := writeFileAtomic(a.GraphPath, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write graph blob: %w", err)
	}
	if err := WriteManifest(a.ManifestPath, m); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// Load reads both artifact files and validates the manifest against the
// expected dimension. Any failure is reported as ErrArtifactInvalid with the
// cause attached; the caller treats it as a cold start, not an error.
func (a Artifact) Load(expectedDimension int) (*hnsw.Graph, *Manifest, error) {
	m, err := ReadManifest(a.ManifestPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrArtifactInvalid, err)
	}
	if m.Dimension != expectedDimension {
		return nil, nil, fmt.Errorf("%w: manifest dimension %d, configured %d",
			ErrArtifactInvalid, m.Dimension, expectedDimension)
	}

	f, err := os.Open(a.GraphPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrArtifactInvalid, err)
	}
	defer f.Close()

	g, err := hnsw.LoadFrom(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrArtifactInvalid, err)
	}
	if g.Dimension() != expectedDimension {
		return nil, nil, fmt.Errorf("%w: graph dimension %d, configured %d",
			ErrArtifactInvalid, g.Dimension(), expectedDimension)
	}
	if g.NextLabel() != m.NextLabel {
		return nil, nil, fmt.Errorf("%w: graph next label %d, manifest %d",
			ErrArtifactInvalid, g.NextLabel(), m.NextLabel)
	}
	return g, m, nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
