// Package storage defines the persistence interface for raw embedding
// vectors. The store is the engine's durable source of truth; the graph
// index can always be rebuilt from it.
package storage

import (
	"context"

	"github.com/hyperjump/kensaku/internal/models"
)

// EmbeddingStore defines the row-oriented embedding store keyed by chunk ID.
type EmbeddingStore interface {
	// UpsertEmbedding writes one row, replacing any existing row for the
	// same chunk ID.
	UpsertEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error

	// UpsertEmbeddingsBatch writes all rows inside a single transaction.
	UpsertEmbeddingsBatch(ctx context.Context, recs []*models.EmbeddingRecord) error

	// AllEmbeddings streams every row to fn in unspecified order. Used on
	// cold start and rebuild. A non-nil error from fn aborts the scan.
	AllEmbeddings(ctx context.Context, fn func(rec *models.EmbeddingRecord) error) error

	// CountEmbeddings returns the number of stored rows.
	CountEmbeddings(ctx context.Context) (int64, error)

	Close() error
}
