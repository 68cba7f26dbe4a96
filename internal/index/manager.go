// Package index owns the ANN graph and its identifier mappings. A Manager
// is instantiated once per worker and is not safe for concurrent use; the
// worker boundary serializes all access.
package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/hnsw"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/persist"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/pkg/utils"
)

// ErrNotInitialized is returned for any operation before a successful Init.
var ErrNotInitialized = errors.New("index not initialized")

// overFetchFactor compensates for post-filtering: the graph is asked for
// topK times this many candidates before library/exclusion/threshold
// filters are applied.
const overFetchFactor = 3

// Manager maintains one cosine-similarity graph index and the mappings
// between chunk IDs, internal labels, and library IDs.
type Manager struct {
	store    storage.EmbeddingStore
	artifact persist.Artifact
	logger   *zap.Logger

	initialized    bool
	cfg            models.IndexConfig
	graph          *hnsw.Graph
	chunkToLabel   map[string]uint32
	labelToChunk   map[uint32]string
	labelToLibrary map[uint32]string
}

// NewManager creates an uninitialized manager over the given store and
// artifact paths.
func NewManager(store storage.EmbeddingStore, artifact persist.Artifact, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		artifact: artifact,
		logger:   logger,
	}
}

// Init loads the persisted artifact when it matches the configured
// dimension (fast path) or rebuilds the graph by streaming every row from
// the store (slow path). Artifact problems are never surfaced as errors;
// they degrade to the slow path.
func (m *Manager) Init(ctx context.Context, cfg models.IndexConfig) error {
	cfg.Normalize()
	if cfg.Dimension <= 0 {
		return fmt.Errorf("index dimension must be positive, got %d", cfg.Dimension)
	}

	start := time.Now()
	g, manifest, err := m.artifact.Load(cfg.Dimension)
	if err == nil {
		m.adopt(cfg, g, manifest.ChunkToLabel, manifest.LabelToLibrary)
		m.logger.Info("index loaded from artifact",
			zap.Int("count", g.Len()),
			zap.Int("dimension", cfg.Dimension),
			zap.Duration("elapsed", time.Since(start)))
		return nil
	}
	if !errors.Is(err, persist.ErrArtifactInvalid) {
		return err
	}
	m.logger.Info("persisted artifact unusable, rebuilding from store", zap.Error(err))

	if err := m.rebuildFromStore(ctx, cfg); err != nil {
		return err
	}
	m.logger.Info("index rebuilt from store",
		zap.Int("count", m.graph.Len()),
		zap.Int("dimension", cfg.Dimension),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// adopt installs a loaded graph and its mappings.
func (m *Manager) adopt(cfg models.IndexConfig, g *hnsw.Graph, chunkToLabel map[string]uint32, labelToLibrary map[uint32]string) {
	m.cfg = cfg
	m.graph = g
	m.chunkToLabel = chunkToLabel
	m.labelToLibrary = labelToLibrary
	if m.chunkToLabel == nil {
		m.chunkToLabel = make(map[string]uint32)
	}
	if m.labelToLibrary == nil {
		m.labelToLibrary = make(map[uint32]string)
	}
	m.labelToChunk = make(map[uint32]string, len(m.chunkToLabel))
	for chunk, label := range m.chunkToLabel {
		m.labelToChunk[label] = chunk
	}
	m.initialized = true
}

// rebuildFromStore replaces the graph and mappings with a fresh build from
// every store row. Rows with a mismatched dimension are skipped and logged.
func (m *Manager) rebuildFromStore(ctx context.Context, cfg models.IndexConfig) error {
	g := hnsw.New(cfg.Dimension, cfg.Capacity, func(o *hnsw.Options) {
		o.M = cfg.M
		o.EFConstruction = cfg.EFConstruction
	})
	m.adopt(cfg, g, make(map[string]uint32), make(map[uint32]string))

	skipped := 0
	err := m.store.AllEmbeddings(ctx, func(rec *models.EmbeddingRecord) error {
		if len(rec.Vector) != cfg.Dimension {
			skipped++
			return nil
		}
		return m.indexVector(rec.ChunkID, rec.LibraryID, rec.Vector)
	})
	if err != nil {
		return fmt.Errorf("failed to replay store rows: %w", err)
	}
	if skipped > 0 {
		m.logger.Warn("skipped store rows with mismatched dimension",
			zap.Int("skipped", skipped),
			zap.Int("dimension", cfg.Dimension))
	}
	return nil
}

// indexVector resolves or assigns the internal label for chunkID and places
// the vector at it, updating all mappings. The graph holds unit vectors;
// the store keeps the caller's raw values.
func (m *Manager) indexVector(chunkID, libraryID string, vec []float32) error {
	utils.NormalizeL2(vec)
	if label, ok := m.chunkToLabel[chunkID]; ok {
		if err := m.graph.Replace(label, vec); err != nil {
			return err
		}
		m.labelToLibrary[label] = libraryID
		return nil
	}
	label, err := m.graph.Insert(vec)
	if err != nil {
		return err
	}
	m.chunkToLabel[chunkID] = label
	m.labelToChunk[label] = chunkID
	m.labelToLibrary[label] = libraryID
	return nil
}

// Search answers a nearest-neighbor query. Results are ordered by the
// graph's native distance (nearest first); score = 1 - distance. An empty
// index yields an empty result set, not an error.
func (m *Manager) Search(query []float32, opts models.SearchOptions) ([]models.SearchResult, error) {
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	if len(query) != m.cfg.Dimension {
		return nil, &hnsw.DimensionMismatchError{Expected: m.cfg.Dimension, Actual: len(query)}
	}
	opts.Normalize()
	// Queries are brought to unit norm like the indexed vectors. Cosine is
	// scale invariant, so scores do not change.
	utils.NormalizeL2(query)

	count := m.graph.Len()
	if count == 0 {
		return []models.SearchResult{}, nil
	}

	fetch := opts.TopK * overFetchFactor
	if fetch > count {
		fetch = count
	}
	candidates, err := m.graph.Search(query, fetch, m.cfg.EFSearch)
	if err != nil {
		return nil, err
	}

	exclude := make(map[string]struct{}, len(opts.ExcludeChunkIDs))
	for _, id := range opts.ExcludeChunkIDs {
		exclude[id] = struct{}{}
	}
	libraries := make(map[string]struct{}, len(opts.LibraryIDs))
	for _, id := range opts.LibraryIDs {
		libraries[id] = struct{}{}
	}

	results := make([]models.SearchResult, 0, opts.TopK)
	for _, c := range candidates {
		if len(results) >= opts.TopK {
			break
		}
		chunkID, ok := m.labelToChunk[c.Label]
		if !ok {
			continue
		}
		if _, excluded := exclude[chunkID]; excluded {
			continue
		}
		if len(libraries) > 0 {
			if lib := m.labelToLibrary[c.Label]; lib != "" {
				if _, member := libraries[lib]; !member {
					continue
				}
			}
		}
		score := 1 - float64(c.Distance)
		if score < opts.ScoreThreshold {
			continue
		}
		results = append(results, models.SearchResult{ChunkID: chunkID, Score: score})
	}
	return results, nil
}

// InsertOne writes the vector through to the store and places it in the
// graph, reusing the chunk's existing label on re-insert.
func (m *Manager) InsertOne(ctx context.Context, chunkID, libraryID string, vec []float32, model string) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if len(vec) != m.cfg.Dimension {
		return &hnsw.DimensionMismatchError{Expected: m.cfg.Dimension, Actual: len(vec)}
	}
	rec := &models.EmbeddingRecord{ChunkID: chunkID, LibraryID: libraryID, Vector: vec, Model: model}
	if err := m.store.UpsertEmbedding(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist embedding: %w", err)
	}
	return m.indexVector(chunkID, libraryID, vec)
}

// InsertBatch writes all valid items to the store in one transaction and
// indexes them. Items with a mismatched dimension are skipped and counted;
// one bad item never aborts the batch. Graph errors on individual items are
// logged and ignored (the store already holds the row; a rebuild recovers).
func (m *Manager) InsertBatch(ctx context.Context, items []models.InsertItem) (models.BatchResult, error) {
	if !m.initialized {
		return models.BatchResult{}, ErrNotInitialized
	}

	valid := make([]models.InsertItem, 0, len(items))
	skipped := 0
	for _, item := range items {
		if len(item.Vector) != m.cfg.Dimension {
			skipped++
			continue
		}
		valid = append(valid, item)
	}

	recs := make([]*models.EmbeddingRecord, len(valid))
	for i, item := range valid {
		recs[i] = &models.EmbeddingRecord{
			ChunkID:   item.ChunkID,
			LibraryID: item.LibraryID,
			Vector:    item.Vector,
			Model:     item.Model,
		}
	}
	if err := m.store.UpsertEmbeddingsBatch(ctx, recs); err != nil {
		return models.BatchResult{}, fmt.Errorf("failed to persist batch: %w", err)
	}

	inserted := 0
	for _, item := range valid {
		if err := m.indexVector(item.ChunkID, item.LibraryID, item.Vector); err != nil {
			m.logger.Warn("failed to index batch item",
				zap.String("chunk_id", item.ChunkID),
				zap.Error(err))
			continue
		}
		inserted++
	}

	result := models.BatchResult{Inserted: inserted, Skipped: skipped}
	m.logger.Info("batch insert complete",
		zap.Int("inserted", result.Inserted),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

// Rebuild discards the graph and mappings and rebuilds from the store with
// the given parameters. The caller performs an immediate save afterwards.
func (m *Manager) Rebuild(ctx context.Context, cfg models.IndexConfig) error {
	cfg.Normalize()
	if cfg.Dimension <= 0 {
		return fmt.Errorf("index dimension must be positive, got %d", cfg.Dimension)
	}
	return m.rebuildFromStore(ctx, cfg)
}

// Stats returns a read-only snapshot; all fields are zero before Init.
func (m *Manager) Stats() models.IndexStats {
	if !m.initialized {
		return models.IndexStats{}
	}
	return models.IndexStats{
		Initialized:  true,
		Count:        m.graph.Len(),
		Dimension:    m.cfg.Dimension,
		MappingCount: len(m.chunkToLabel),
	}
}

// Snapshot exposes the live graph and a manifest for the persistence
// controller. Only valid between operations on the owning worker.
func (m *Manager) Snapshot() (*hnsw.Graph, *persist.Manifest) {
	if !m.initialized {
		return nil, nil
	}
	return m.graph, &persist.Manifest{
		Dimension:      m.cfg.Dimension,
		ChunkToLabel:   m.chunkToLabel,
		LabelToLibrary: m.labelToLibrary,
		NextLabel:      m.graph.NextLabel(),
	}
}

// Initialized reports whether Init has succeeded.
func (m *Manager) Initialized() bool {
	return m.initialized
}

// Artifact returns the artifact paths this manager persists to.
func (m *Manager) Artifact() persist.Artifact {
	return m.artifact
}
