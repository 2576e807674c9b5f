package api

import (
	"errors"
	"net/http"

	"github.com/iammorganparry/clive/apps/casegen/internal/capability"
	"github.com/iammorganparry/clive/apps/casegen/internal/corpus"
	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/search"
)

// CorpusHandler handles document ingestion and retrieval.
type CorpusHandler struct {
	svc      *corpus.Service
	provider *search.HybridProvider
}

// NewCorpusHandler creates a new CorpusHandler.
func NewCorpusHandler(svc *corpus.Service, provider *search.HybridProvider) *CorpusHandler {
	return &CorpusHandler{svc: svc, provider: provider}
}

// Ingest handles POST /corpus/documents
func (h *CorpusHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.Ingest(r.Context(), &req)
	if errors.Is(err, corpus.ErrInvalidDocument) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusCreated
	if resp.Status == "duplicate" {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

type searchResultItem struct {
	ID          string        `json:"id"`
	Corpus      models.Corpus `json:"corpus"`
	Title       string        `json:"title"`
	Content     string        `json:"content"`
	Score       float64       `json:"score"`
	VectorScore float64       `json:"vectorScore"`
	BM25Score   float64       `json:"bm25Score"`
}

type searchResponse struct {
	Results []searchResultItem `json:"results"`
}

// Search handles POST /corpus/search
func (h *CorpusHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.CorpusSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	results, err := h.provider.Search(r.Context(), capability.Query{
		Corpus: req.Corpus,
		Text:   req.Query,
		TopK:   req.TopK,
	})
	if err != nil {
		writeError(w, statusForCapability(err), err.Error())
		return
	}

	items := make([]searchResultItem, len(results))
	for i, res := range results {
		items[i] = searchResultItem{
			ID:          res.Document.ID,
			Corpus:      res.Document.Corpus,
			Title:       res.Document.Title,
			Content:     res.Document.Content,
			Score:       res.FinalScore,
			VectorScore: res.VectorScore,
			BM25Score:   res.BM25Score,
		}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: items})
}

// Sync handles POST /corpus/sync
func (h *CorpusHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req models.CorpusSyncRequest
	// Body is optional - ignore decode errors
	_ = decodeJSON(r, &req)

	var result *corpus.SyncResult
	var err error

	if len(req.Dirs) > 0 {
		result, err = h.svc.SyncDirs(r.Context(), req.Dirs)
	} else {
		result, err = h.svc.Sync(r.Context())
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func statusForCapability(err error) int {
	var cerr *capability.Error
	if !errors.As(err, &cerr) {
		return http.StatusInternalServerError
	}
	switch cerr.Kind {
	case capability.Malformed:
		return http.StatusBadRequest
	case capability.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusServiceUnavailable
	}
}
