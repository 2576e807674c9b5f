package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/store"
)

// Client is the embedding call the cache wraps.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CachedEmbedder wraps a Client with content-hash caching via SQLite.
type CachedEmbedder struct {
	client Client
	cache  *store.EmbeddingCacheStore
	model  string
	dim    int
	logger *slog.Logger
}

func NewCachedEmbedder(client Client, cache *store.EmbeddingCacheStore, model string, dim int, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{
		client: client,
		cache:  cache,
		model:  model,
		dim:    dim,
		logger: logger,
	}
}

// Embed returns the embedding for text, using cache when available.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := ContentHash(e.model + "\x00" + text)

	entry, err := e.cache.Get(hash, e.model)
	switch {
	case errors.Is(err, store.ErrCacheMiss):
	case err != nil:
		return nil, fmt.Errorf("cache lookup: %w", err)
	case e.dim == 0 || entry.Dimension == e.dim:
		if vec := decodeVector(entry.Embedding); len(vec) == entry.Dimension {
			return vec, nil
		}
		e.logger.Warn("corrupt embedding cache entry, re-embedding", "hash", hash)
	}

	vec, err := e.client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if e.dim > 0 && len(vec) != e.dim {
		return nil, fmt.Errorf("embedding dimension %d, expected %d", len(vec), e.dim)
	}

	cacheEntry := &models.EmbeddingCacheEntry{
		ContentHash: hash,
		Embedding:   encodeVector(vec),
		Dimension:   len(vec),
		Model:       e.model,
	}
	if err := e.cache.Put(cacheEntry); err != nil {
		e.logger.Warn("embedding cache write failed", "error", err)
	}

	return vec, nil
}

// ContentHash computes a SHA-256 hash of text content.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}

// encodeVector packs v as little-endian float32s for the cache blob.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector reverses encodeVector. A blob that is not a whole number of
// float32s yields nil.
func decodeVector(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
