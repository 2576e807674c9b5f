package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/casegen/internal/capability"
	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/store"
	"github.com/iammorganparry/clive/apps/casegen/internal/vectorstore"
)

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

type fakeIndex struct {
	results    []vectorstore.SearchResult
	collection string
}

func (f *fakeIndex) Search(_ context.Context, collection string, _ []float32, _ int, _ float64) ([]vectorstore.SearchResult, error) {
	f.collection = collection
	return f.results, nil
}

func seed(t *testing.T) (*store.DocumentStore, *store.BM25Store, map[string]string) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	docs := store.NewDocumentStore(db)
	ids := map[string]string{}
	for _, d := range []models.Document{
		{Corpus: models.CorpusRequirements, Title: "REQ-1", Content: "Password reset sends an email link that expires after 30 minutes"},
		{Corpus: models.CorpusRequirements, Title: "REQ-2", Content: "Checkout supports coupons and gift cards"},
		{Corpus: models.CorpusCompliance, Title: "PCI-3.2", Content: "Card numbers must be masked in every screen and log"},
	} {
		d := d
		saved, _, err := docs.Insert(&d)
		require.NoError(t, err)
		ids[d.Title] = saved.ID
	}
	return docs, store.NewBM25Store(db), ids
}

func TestQueryKeywordOnly(t *testing.T) {
	docs, bm25, ids := seed(t)
	p := NewHybridProvider(docs, bm25, nil, nil, Config{MinRelevance: 0.5}, nil)

	snips, err := p.Query(context.Background(), capability.Query{Corpus: models.CorpusRequirements, Text: "password reset email"})
	require.NoError(t, err)
	require.NotEmpty(t, snips)
	assert.Equal(t, ids["REQ-1"], snips[0].DocumentID)
	assert.InDelta(t, 1.0, snips[0].Score, 1e-9)
	for _, s := range snips {
		assert.NotEqual(t, ids["PCI-3.2"], s.DocumentID, "other corpora never leak in")
	}
}

func TestQueryMergesVectorResults(t *testing.T) {
	docs, bm25, ids := seed(t)
	idx := &fakeIndex{results: []vectorstore.SearchResult{
		{ID: ids["REQ-2"], Score: 0.95},
		{ID: "deleted-doc", Score: 0.99},
	}}
	p := NewHybridProvider(docs, bm25, fakeEmbedder{}, idx, Config{VectorWeight: 0.7, BM25Weight: 0.3, MinRelevance: 0.5}, nil)

	res, err := p.Search(context.Background(), capability.Query{Corpus: models.CorpusRequirements, Text: "discount codes at checkout"})
	require.NoError(t, err)
	assert.Equal(t, "casegen_requirements", idx.collection)
	require.NotEmpty(t, res)
	assert.Equal(t, ids["REQ-2"], res[0].Document.ID)
	assert.Greater(t, res[0].FinalScore, 0.5)
}

func TestQueryVectorFailureDegrades(t *testing.T) {
	docs, bm25, ids := seed(t)
	p := NewHybridProvider(docs, bm25, fakeEmbedder{err: errors.New("ollama down")}, &fakeIndex{}, Config{MinRelevance: 0.5}, nil)

	snips, err := p.Query(context.Background(), capability.Query{Corpus: models.CorpusCompliance, Text: "masked card numbers"})
	require.NoError(t, err)
	require.Len(t, snips, 1)
	assert.Equal(t, ids["PCI-3.2"], snips[0].DocumentID)
}

func TestQueryErrors(t *testing.T) {
	docs, bm25, _ := seed(t)
	p := NewHybridProvider(docs, bm25, nil, nil, Config{}, nil)

	var cerr *capability.Error
	_, err := p.Query(context.Background(), capability.Query{Corpus: models.CorpusRequirements})
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, capability.Malformed, cerr.Kind)

	_, err = p.Query(context.Background(), capability.Query{Corpus: "contracts", Text: "x"})
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, capability.Malformed, cerr.Kind)

	db, err := store.Open(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer db.Close()
	empty := NewHybridProvider(store.NewDocumentStore(db), store.NewBM25Store(db), nil, nil, Config{}, nil)
	_, err = empty.Query(context.Background(), capability.Query{Corpus: models.CorpusCompliance, Text: "x"})
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, capability.NotFound, cerr.Kind)
}
