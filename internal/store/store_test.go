package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "casegen.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	hasFlow, err := columnExists(db.DB, "session_messages", "flow")
	require.NoError(t, err)
	assert.True(t, hasFlow)

	count, err := db.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDocumentStore(t *testing.T) {
	db := setupTestDB(t)
	docs := NewDocumentStore(db)

	t.Run("insert dedupes by content within a corpus", func(t *testing.T) {
		first, created, err := docs.Insert(&models.Document{
			Corpus:  models.CorpusRequirements,
			Title:   "Login",
			Content: "Users must log in with email and password.",
			Source:  "upload",
			Tags:    []string{"auth"},
		})
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, first.ID)

		again, created, err := docs.Insert(&models.Document{
			Corpus:  models.CorpusRequirements,
			Title:   "Login copy",
			Content: "Users must log in with email and password.",
		})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)

		other, created, err := docs.Insert(&models.Document{
			Corpus:  models.CorpusCompliance,
			Title:   "Login",
			Content: "Users must log in with email and password.",
		})
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, other.ID)
	})

	t.Run("get by id round-trips tags", func(t *testing.T) {
		list, err := docs.List(models.CorpusRequirements, 10)
		require.NoError(t, err)
		require.Len(t, list, 1)

		got, err := docs.GetByID(list[0].ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"auth"}, got.Tags)
		assert.Equal(t, "upload", got.Source)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := docs.GetByID("missing")
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})

	t.Run("delete by source", func(t *testing.T) {
		ids, err := docs.DeleteBySource("upload")
		require.NoError(t, err)
		assert.Len(t, ids, 1)

		n, err := docs.CountByCorpus(models.CorpusRequirements)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestBM25Search(t *testing.T) {
	db := setupTestDB(t)
	docs := NewDocumentStore(db)
	bm25 := NewBM25Store(db)

	seed := []models.Document{
		{Corpus: models.CorpusRequirements, Title: "Password reset", Content: "A user can reset a forgotten password via an emailed link."},
		{Corpus: models.CorpusRequirements, Title: "Checkout", Content: "The cart total includes tax and shipping."},
		{Corpus: models.CorpusCompliance, Title: "GDPR-7", Content: "Password reset links expire after 30 minutes."},
	}
	for i := range seed {
		_, _, err := docs.Insert(&seed[i])
		require.NoError(t, err)
	}

	results, err := bm25.Search(models.CorpusRequirements, "reset password!", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, seed[0].ID, results[0].ID)
	for _, r := range results {
		assert.NotEqual(t, seed[2].ID, r.ID, "compliance document leaked into requirements search")
		assert.Greater(t, r.Rank, 0.0)
	}

	empty, err := bm25.Search(models.CorpusRequirements, "  ?! ", 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestQueryTerms(t *testing.T) {
	assert.Equal(t, []string{"reset", "the", "password", "v2"}, queryTerms("Reset the-password? a v2 RESET"))
}

func TestEmbeddingCacheStore(t *testing.T) {
	cache := NewEmbeddingCacheStore(setupTestDB(t))

	_, err := cache.Get("h1", "nomic")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.Put(&models.EmbeddingCacheEntry{ContentHash: "h1", Embedding: []byte{1, 2, 3, 4}, Dimension: 1, Model: "nomic"}))
	require.NoError(t, cache.Put(&models.EmbeddingCacheEntry{ContentHash: "h2", Embedding: []byte{5, 6, 7, 8}, Dimension: 1, Model: "old"}))

	got, err := cache.Get("h1", "nomic")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got.Embedding)
	assert.NotZero(t, got.UpdatedAt)

	_, err = cache.Get("h1", "other")
	assert.ErrorIs(t, err, ErrCacheMiss, "entries are scoped to their model")

	n, err := cache.PruneOtherModels("nomic")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = cache.Get("h2", "old")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
