package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

// ErrDocumentNotFound is returned when a document ID does not exist.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentStore handles corpus document CRUD on SQLite.
type DocumentStore struct {
	db *DB
}

func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// Insert stores a document. When the same content already exists in the
// corpus the existing document is returned with created=false.
func (s *DocumentStore) Insert(doc *models.Document) (*models.Document, bool, error) {
	if doc.ContentHash == "" {
		doc.ContentHash = ContentHash(doc.Content)
	}

	existing, err := s.getByHash(doc.Corpus, doc.ContentHash)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrDocumentNotFound):
		return nil, false, err
	}

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now().Unix()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	tags, err := json.Marshal(doc.Tags)
	if err != nil {
		return nil, false, fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO documents (id, corpus, title, content, source, tags, content_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Corpus, doc.Title, doc.Content, doc.Source, string(tags), doc.ContentHash, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert document: %w", err)
	}
	return doc, true, nil
}

// GetByID fetches a document by ID.
func (s *DocumentStore) GetByID(id string) (*models.Document, error) {
	row := s.db.QueryRow(`
		SELECT id, corpus, title, content, source, tags, content_hash, created_at, updated_at
		FROM documents WHERE id = ?
	`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	return doc, err
}

// List returns documents in a corpus, newest first.
func (s *DocumentStore) List(corpus models.Corpus, limit int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, corpus, title, content, source, tags, content_hash, created_at, updated_at
		FROM documents WHERE corpus = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, corpus, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountByCorpus returns the number of documents in a corpus.
func (s *DocumentStore) CountByCorpus(corpus models.Corpus) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM documents WHERE corpus = ?`, corpus).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// DeleteBySource removes every document ingested from source and returns the
// deleted IDs so callers can clean up vector points.
func (s *DocumentStore) DeleteBySource(source string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM documents WHERE source = ?`, source)
	if err != nil {
		return nil, fmt.Errorf("select documents by source: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(`DELETE FROM documents WHERE source = ?`, source); err != nil {
		return nil, fmt.Errorf("delete documents by source: %w", err)
	}
	return ids, nil
}

func (s *DocumentStore) getByHash(corpus models.Corpus, hash string) (*models.Document, error) {
	row := s.db.QueryRow(`
		SELECT id, corpus, title, content, source, tags, content_hash, created_at, updated_at
		FROM documents WHERE corpus = ? AND content_hash = ?
	`, corpus, hash)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup document by hash: %w", err)
	}
	return doc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var source, tags sql.NullString
	err := row.Scan(&doc.ID, &doc.Corpus, &doc.Title, &doc.Content, &source, &tags,
		&doc.ContentHash, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	doc.Source = source.String
	if tags.Valid && tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &doc.Tags)
	}
	return &doc, nil
}

// ContentHash computes a SHA-256 hash of normalized text content.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return fmt.Sprintf("%x", h)
}

// queryTerms splits free text into lowercase alphanumeric terms, dropping
// duplicates and one-letter noise.
func queryTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	var terms []string
	for _, f := range fields {
		if len(f) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}
