// Package storage provides the SQLite implementation of the EmbeddingStore.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/vector"
)

// SQLiteStore implements EmbeddingStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id TEXT PRIMARY KEY,
		library_id TEXT NOT NULL DEFAULT '',
		vector BLOB NOT NULL,
		dimension INTEGER NOT NULL,
		model TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_library_id ON embeddings(library_id);
	`
	_, err := db.Exec(schema)
	return err
}

const upsertSQL = `INSERT INTO embeddings (chunk_id, library_id, vector, dimension, model, created_at)
	 VALUES (?, ?, ?, ?, ?, ?)
	 ON CONFLICT(chunk_id) DO UPDATE SET
		library_id = excluded.library_id,
		vector = excluded.vector,
		dimension = excluded.dimension,
		model = excluded.model`

// UpsertEmbedding writes one row, replacing any existing row for the same chunk ID.
func (s *SQLiteStore) UpsertEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.Dimension = len(rec.Vector)
	_, err := s.db.ExecContext(ctx, upsertSQL,
		rec.ChunkID, rec.LibraryID, vector.Encode(rec.Vector), rec.Dimension, rec.Model, rec.CreatedAt,
	)
	return err
}

// UpsertEmbeddingsBatch writes all rows inside a single transaction.
func (s *SQLiteStore) UpsertEmbeddingsBatch(ctx context.Context, recs []*models.EmbeddingRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, rec := range recs {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.Dimension = len(rec.Vector)
		if _, err := stmt.ExecContext(ctx,
			rec.ChunkID, rec.LibraryID, vector.Encode(rec.Vector), rec.Dimension, rec.Model, rec.CreatedAt,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to upsert chunk %s: %w", rec.ChunkID, err)
		}
	}
	return tx.Commit()
}

// AllEmbeddings streams every row to fn. Used on cold start and rebuild.
func (s *SQLiteStore) AllEmbeddings(ctx context.Context, fn func(rec *models.EmbeddingRecord) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, library_id, vector, dimension, model, created_at FROM embeddings`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.EmbeddingRecord
		var blob []byte
		var model sql.NullString
		if err := rows.Scan(&rec.ChunkID, &rec.LibraryID, &blob, &rec.Dimension, &model, &rec.CreatedAt); err != nil {
			return err
		}
		rec.Model = model.String
		vec, err := vector.Decode(blob)
		if err != nil {
			return fmt.Errorf("failed to decode vector for chunk %s: %w", rec.ChunkID, err)
		}
		rec.Vector = vec
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountEmbeddings returns the number of stored rows.
func (s *SQLiteStore) CountEmbeddings(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&count)
	return count, err
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
