// Package search answers capability queries by merging keyword (BM25) and
// vector matches over the corpus documents.
package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/iammorganparry/clive/apps/casegen/internal/capability"
	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/store"
	"github.com/iammorganparry/clive/apps/casegen/internal/vectorstore"
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the nearest-neighbour lookup. *vectorstore.QdrantClient
// implements it.
type VectorIndex interface {
	Search(ctx context.Context, collection string, vector []float32, limit int, minScore float64) ([]vectorstore.SearchResult, error)
}

// Config weights the two retrieval sides and sets the relevance floor.
type Config struct {
	VectorWeight float64
	BM25Weight   float64
	MinRelevance float64
	DefaultTopK  int
}

// HybridProvider implements capability.Provider.
type HybridProvider struct {
	docs     *store.DocumentStore
	bm25     *store.BM25Store
	embedder Embedder
	vectors  VectorIndex
	cfg      Config
	logger   *slog.Logger
}

// NewHybridProvider builds a provider. With a nil embedder or vector index
// it searches by keyword only.
func NewHybridProvider(docs *store.DocumentStore, bm25 *store.BM25Store, embedder Embedder, vectors VectorIndex, cfg Config, logger *slog.Logger) *HybridProvider {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	if cfg.VectorWeight <= 0 && cfg.BM25Weight <= 0 {
		cfg.VectorWeight, cfg.BM25Weight = 0.7, 0.3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridProvider{
		docs:     docs,
		bm25:     bm25,
		embedder: embedder,
		vectors:  vectors,
		cfg:      cfg,
		logger:   logger,
	}
}

// Result is a merged, scored match.
type Result struct {
	Document    *models.Document
	VectorScore float64
	BM25Score   float64
	FinalScore  float64
}

func (h *HybridProvider) vectorEnabled() bool {
	return h.embedder != nil && h.vectors != nil
}

// Query implements capability.Provider.
func (h *HybridProvider) Query(ctx context.Context, q capability.Query) ([]capability.Snippet, error) {
	results, err := h.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	snippets := make([]capability.Snippet, len(results))
	for i, r := range results {
		snippets[i] = capability.Snippet{
			DocumentID: r.Document.ID,
			Title:      r.Document.Title,
			Content:    r.Document.Content,
			Score:      r.FinalScore,
		}
	}
	return snippets, nil
}

// Search runs both sides concurrently and merges them. Keyword failures are
// fatal; vector failures degrade to keyword-only results.
func (h *HybridProvider) Search(ctx context.Context, q capability.Query) ([]Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	count, err := h.docs.CountByCorpus(q.Corpus)
	if err != nil {
		return nil, &capability.Error{Kind: capability.Unavailable, Err: err}
	}
	if count == 0 {
		return nil, capability.Errorf(capability.NotFound, "corpus %s has no documents", q.Corpus)
	}

	topK := q.TopK
	if topK <= 0 {
		topK = h.cfg.DefaultTopK
	}

	var (
		kw     []store.BM25Result
		vec    []vectorstore.SearchResult
		vecErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := h.bm25.Search(q.Corpus, q.Text, topK*3)
		kw = r
		return err
	})
	if h.vectorEnabled() {
		g.Go(func() error {
			v, err := h.embedder.Embed(gctx, q.Text)
			if err == nil {
				vec, err = h.vectors.Search(gctx, vectorstore.CollectionName(q.Corpus), v, topK*2, 0)
			}
			vecErr = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &capability.Error{Kind: capability.Unavailable, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &capability.Error{Kind: capability.Unavailable, Err: err}
	}

	vectorUsed := h.vectorEnabled() && vecErr == nil
	if vecErr != nil {
		h.logger.Warn("vector search failed, using keyword results only", "corpus", q.Corpus, "error", vecErr)
	}

	merged := make(map[string]*Result)
	add := func(id string, v, b float64) {
		r, ok := merged[id]
		if !ok {
			r = &Result{}
			merged[id] = r
		}
		if v > r.VectorScore {
			r.VectorScore = v
		}
		if b > r.BM25Score {
			r.BM25Score = b
		}
	}

	maxRank := 0.0
	for _, r := range kw {
		if r.Rank > maxRank {
			maxRank = r.Rank
		}
	}
	for _, r := range kw {
		norm := 0.0
		if maxRank > 0 {
			norm = r.Rank / maxRank
		}
		add(r.ID, 0, norm)
	}
	if vectorUsed {
		for _, r := range vec {
			add(r.ID, r.Score, 0)
		}
	}

	results := make([]Result, 0, len(merged))
	for id, r := range merged {
		doc, err := h.docs.GetByID(id)
		if errors.Is(err, store.ErrDocumentNotFound) {
			// stale vector point
			continue
		}
		if err != nil {
			return nil, &capability.Error{Kind: capability.Unavailable, Err: err}
		}
		if doc.Corpus != q.Corpus {
			continue
		}
		r.Document = doc
		r.FinalScore = h.score(r.VectorScore, r.BM25Score, vectorUsed)
		if r.FinalScore >= h.cfg.MinRelevance {
			results = append(results, *r)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FinalScore == results[j].FinalScore {
			return results[i].Document.ID < results[j].Document.ID
		}
		return results[i].FinalScore > results[j].FinalScore
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// score is the weighted mean of the two sides, or the keyword score alone
// when no vector search ran.
func (h *HybridProvider) score(vector, bm25 float64, vectorUsed bool) float64 {
	if !vectorUsed {
		return bm25
	}
	total := h.cfg.VectorWeight + h.cfg.BM25Weight
	return (vector*h.cfg.VectorWeight + bm25*h.cfg.BM25Weight) / total
}
