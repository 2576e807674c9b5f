package store

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

// BM25Result holds a keyword match result. Rank is positive, higher is better.
type BM25Result struct {
	RowID int64
	ID    string
	Rank  float64
}

// BM25Store handles keyword search over corpus documents via SQLite FTS5.
type BM25Store struct {
	db *DB
}

func NewBM25Store(db *DB) *BM25Store {
	return &BM25Store{db: db}
}

// Search performs BM25 full-text search within one corpus.
func (s *BM25Store) Search(corpus models.Corpus, query string, limit int) ([]BM25Result, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	if !s.db.fts {
		return s.scan(corpus, terms, limit)
	}

	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	match := strings.Join(quoted, " OR ")

	// bm25() returns negative values where more negative = better match,
	// so we negate to get positive scores where higher = better.
	rows, err := s.db.Query(`
		SELECT d.rowid, d.id, -rank AS score
		FROM documents_fts
		JOIN documents d ON d.rowid = documents_fts.rowid
		WHERE documents_fts MATCH ?
		  AND d.corpus = ?
		ORDER BY rank
		LIMIT ?
	`, match, corpus, limit)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}
	defer rows.Close()

	var results []BM25Result
	for rows.Next() {
		var r BM25Result
		if err := rows.Scan(&r.RowID, &r.ID, &r.Rank); err != nil {
			return nil, fmt.Errorf("scan bm25 result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// scan ranks documents by term coverage when FTS5 is not compiled in.
func (s *BM25Store) scan(corpus models.Corpus, terms []string, limit int) ([]BM25Result, error) {
	rows, err := s.db.Query(`SELECT rowid, id, title, content FROM documents WHERE corpus = ?`, corpus)
	if err != nil {
		return nil, fmt.Errorf("keyword scan: %w", err)
	}
	defer rows.Close()

	var results []BM25Result
	for rows.Next() {
		var r BM25Result
		var title, content string
		if err := rows.Scan(&r.RowID, &r.ID, &title, &content); err != nil {
			return nil, fmt.Errorf("scan keyword result: %w", err)
		}
		text := strings.ToLower(title + " " + content)
		matched, freq := 0, 0
		for _, t := range terms {
			if n := strings.Count(text, t); n > 0 {
				matched++
				freq += n
			}
		}
		if matched == 0 {
			continue
		}
		r.Rank = float64(matched)/float64(len(terms)) + math.Log1p(float64(freq))/10
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Rank > results[j].Rank })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
