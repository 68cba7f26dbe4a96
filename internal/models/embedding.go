// Package models defines the engine's domain types: embedding records,
// search options, results, and index configuration.
package models

import "time"

// EmbeddingRecord is one row of the durable embedding store, keyed by chunk ID.
// The store is the source of truth; the graph index is a warm cache over it.
type EmbeddingRecord struct {
	ChunkID   string    `json:"chunk_id" db:"chunk_id"`
	LibraryID string    `json:"library_id" db:"library_id"`
	Vector    []float32 `json:"vector" db:"-"`
	Dimension int       `json:"dimension" db:"dimension"`
	Model     string    `json:"model,omitempty" db:"model"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// InsertItem is one entry of a batch insert request.
type InsertItem struct {
	ChunkID   string    `json:"chunk_id"`
	LibraryID string    `json:"library_id"`
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model,omitempty"`
}

// BatchResult reports the outcome of a batch insert: items with a mismatched
// dimension are skipped and counted, never aborting the batch.
type BatchResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}
