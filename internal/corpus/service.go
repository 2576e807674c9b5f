// Package corpus ingests requirement and compliance documents into the
// keyword store and, when enabled, the vector index.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/privacy"
	"github.com/iammorganparry/clive/apps/casegen/internal/store"
	"github.com/iammorganparry/clive/apps/casegen/internal/vectorstore"
)

// ErrInvalidDocument is returned for documents that cannot be ingested.
var ErrInvalidDocument = errors.New("invalid document")

// Embedder turns document text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SyncResult reports what happened during a directory sync.
type SyncResult struct {
	Found   int `json:"found"`
	Stored  int `json:"stored"`
	Removed int `json:"removed"`
	Errors  int `json:"errors"`
}

// Service stores documents and keeps the vector index in step.
type Service struct {
	docs     *store.DocumentStore
	embedder Embedder
	qdrant   *vectorstore.QdrantClient
	collMgr  *vectorstore.CollectionManager
	dirs     []string
	logger   *slog.Logger
}

// NewService creates a Service. A nil embedder or qdrant client disables
// vector indexing.
func NewService(
	docs *store.DocumentStore,
	embedder Embedder,
	qdrant *vectorstore.QdrantClient,
	collMgr *vectorstore.CollectionManager,
	dirs []string,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		docs:     docs,
		embedder: embedder,
		qdrant:   qdrant,
		collMgr:  collMgr,
		dirs:     dirs,
		logger:   logger,
	}
}

func (s *Service) vectorEnabled() bool {
	return s.embedder != nil && s.qdrant != nil && s.collMgr != nil
}

// Ingest stores one document. Content already present in the corpus is
// reported as a duplicate.
func (s *Service) Ingest(ctx context.Context, req *models.IngestRequest) (*models.IngestResponse, error) {
	if !req.Corpus.IsValid() {
		return nil, fmt.Errorf("%w: unknown corpus %q", ErrInvalidDocument, req.Corpus)
	}
	content := privacy.StripPrivateTags(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidDocument)
	}

	doc, created, err := s.docs.Insert(&models.Document{
		Corpus:  req.Corpus,
		Title:   strings.TrimSpace(req.Title),
		Content: content,
		Source:  req.Source,
		Tags:    req.Tags,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return &models.IngestResponse{ID: doc.ID, Status: "duplicate"}, nil
	}

	indexed := false
	if s.vectorEnabled() {
		if err := s.index(ctx, doc); err != nil {
			// keyword search still finds the document
			s.logger.Warn("vector indexing failed", "document_id", doc.ID, "error", err)
		} else {
			indexed = true
		}
	}

	s.logger.Info("document ingested", "document_id", doc.ID, "corpus", doc.Corpus, "indexed", indexed)
	return &models.IngestResponse{ID: doc.ID, Status: "created", Indexed: indexed}, nil
}

func (s *Service) index(ctx context.Context, doc *models.Document) error {
	text := doc.Content
	if doc.Title != "" {
		text = doc.Title + "\n" + text
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	col, err := s.collMgr.EnsureForCorpus(ctx, doc.Corpus)
	if err != nil {
		return err
	}
	return s.qdrant.Upsert(ctx, col, []vectorstore.Point{{
		ID:     doc.ID,
		Vector: vec,
		Payload: map[string]any{
			"corpus": string(doc.Corpus),
			"title":  doc.Title,
			"source": doc.Source,
		},
	}})
}

// Sync ingests the configured directories.
func (s *Service) Sync(ctx context.Context) (*SyncResult, error) {
	return s.SyncDirs(ctx, s.dirs)
}

// SyncDirs replaces the documents of every scanned file with its current
// content. Running it twice is a no-op apart from re-indexing.
func (s *Service) SyncDirs(ctx context.Context, dirs []string) (*SyncResult, error) {
	files, err := ScanDirs(dirs)
	if err != nil {
		return nil, fmt.Errorf("scan corpus: %w", err)
	}

	result := &SyncResult{Found: len(files)}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		source := "file:" + f.Path
		removed, err := s.docs.DeleteBySource(source)
		if err != nil {
			s.logger.Error("failed to remove old document", "path", f.Path, "error", err)
			result.Errors++
			continue
		}
		result.Removed += len(removed)
		if len(removed) > 0 && s.vectorEnabled() {
			if err := s.qdrant.DeletePoints(ctx, vectorstore.CollectionName(f.Corpus), removed); err != nil {
				s.logger.Warn("failed to clean qdrant points", "path", f.Path, "error", err)
			}
		}

		_, err = s.Ingest(ctx, &models.IngestRequest{
			Corpus:  f.Corpus,
			Title:   f.Title,
			Content: f.Content,
			Source:  source,
			Tags:    f.Tags,
		})
		if err != nil {
			s.logger.Error("failed to ingest corpus file", "path", f.Path, "error", err)
			result.Errors++
			continue
		}
		result.Stored++
	}

	s.logger.Info("corpus sync complete",
		"found", result.Found,
		"stored", result.Stored,
		"errors", result.Errors,
	)
	return result, nil
}
