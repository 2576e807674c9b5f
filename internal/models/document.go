package models

// Corpus names a document collection the retrieval layer can query.
type Corpus string

const (
	CorpusRequirements Corpus = "requirements"
	CorpusCompliance   Corpus = "compliance"
)

func (c Corpus) IsValid() bool {
	return c == CorpusRequirements || c == CorpusCompliance
}

// Document is a requirement or compliance text stored for retrieval.
type Document struct {
	ID          string   `json:"id"`
	Corpus      Corpus   `json:"corpus"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Source      string   `json:"source"`
	Tags        []string `json:"tags"`
	ContentHash string   `json:"contentHash"`
	CreatedAt   int64    `json:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt"`
}

// EmbeddingCacheEntry stores a cached embedding keyed by content hash.
type EmbeddingCacheEntry struct {
	ContentHash string `json:"contentHash"`
	Embedding   []byte `json:"embedding"`
	Dimension   int    `json:"dimension"`
	Model       string `json:"model"`
	UpdatedAt   int64  `json:"updatedAt"`
}
