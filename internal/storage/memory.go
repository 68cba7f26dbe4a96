package storage

import (
	"context"
	"sync"
	"time"

	"github.com/hyperjump/kensaku/internal/models"
)

// MemoryStore is an in-memory EmbeddingStore for tests and ephemeral use.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*models.EmbeddingRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*models.EmbeddingRecord)}
}

// UpsertEmbedding writes one row, replacing any existing row for the same chunk ID.
func (s *MemoryStore) UpsertEmbedding(_ context.Context, rec *models.EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.Vector = append([]float32(nil), rec.Vector...)
	cp.Dimension = len(rec.Vector)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.rows[rec.ChunkID] = &cp
	return nil
}

// UpsertEmbeddingsBatch writes all rows; the in-memory form is atomic by the
// lock rather than a transaction.
func (s *MemoryStore) UpsertEmbeddingsBatch(ctx context.Context, recs []*models.EmbeddingRecord) error {
	for _, rec := range recs {
		if err := s.UpsertEmbedding(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// AllEmbeddings streams every row to fn in unspecified order.
func (s *MemoryStore) AllEmbeddings(_ context.Context, fn func(rec *models.EmbeddingRecord) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.rows {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// CountEmbeddings returns the number of stored rows.
func (s *MemoryStore) CountEmbeddings(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rows)), nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error { return nil }
