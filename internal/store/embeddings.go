package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

// ErrCacheMiss is returned by EmbeddingCacheStore.Get when no vector is
// cached for the hash and model.
var ErrCacheMiss = errors.New("embedding not cached")

// EmbeddingCacheStore persists embedding vectors keyed by content hash so
// that re-ingesting an unchanged document skips the embedding call.
type EmbeddingCacheStore struct {
	db *DB
}

func NewEmbeddingCacheStore(db *DB) *EmbeddingCacheStore {
	return &EmbeddingCacheStore{db: db}
}

// Get looks up the vector cached for hash under model. An entry written by a
// different model counts as a miss.
func (s *EmbeddingCacheStore) Get(hash, model string) (*models.EmbeddingCacheEntry, error) {
	row := s.db.QueryRow(
		`SELECT content_hash, embedding, dimension, model, updated_at
		 FROM embedding_cache WHERE content_hash = ? AND model = ?`, hash, model)

	e := &models.EmbeddingCacheEntry{}
	switch err := row.Scan(&e.ContentHash, &e.Embedding, &e.Dimension, &e.Model, &e.UpdatedAt); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("read embedding cache %s: %w", hash, err)
	}
	return e, nil
}

// Put stores entry, replacing whatever was cached under the same hash.
func (s *EmbeddingCacheStore) Put(entry *models.EmbeddingCacheEntry) error {
	entry.UpdatedAt = time.Now().Unix()
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO embedding_cache (content_hash, embedding, dimension, model, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.ContentHash, entry.Embedding, entry.Dimension, entry.Model, entry.UpdatedAt); err != nil {
		return fmt.Errorf("write embedding cache %s: %w", entry.ContentHash, err)
	}
	return nil
}

// PruneOtherModels drops every entry not produced by model and returns how
// many were removed. Vectors from a previous EMBEDDING_MODEL are never
// comparable with the current one.
func (s *EmbeddingCacheStore) PruneOtherModels(model string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM embedding_cache WHERE model != ?`, model)
	if err != nil {
		return 0, fmt.Errorf("prune embedding cache: %w", err)
	}
	return res.RowsAffected()
}
