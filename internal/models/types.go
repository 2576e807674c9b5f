package models

// FlowName selects a pipeline flow.
type FlowName string

const (
	FlowGeneration  FlowName = "generation"
	FlowEnhancement FlowName = "enhancement"
)

func (f FlowName) IsValid() bool {
	return f == FlowGeneration || f == FlowEnhancement
}

// DispatchRequest is the payload for POST /dispatch.
type DispatchRequest struct {
	UserID     string     `json:"userId"`
	SessionID  string     `json:"sessionId,omitempty"`
	Message    string     `json:"message"`
	FlowHint   FlowName   `json:"flowHint,omitempty"`
	NewSession bool       `json:"newSession,omitempty"`
	Artifact   *TestSuite `json:"artifact,omitempty"`
}

// DispatchResponse is returned from POST /dispatch. Exactly one of Artifact
// and Error is set.
type DispatchResponse struct {
	SessionID  string           `json:"sessionId,omitempty"`
	Flow       FlowName         `json:"flow,omitempty"`
	Artifact   *TestSuite       `json:"artifact,omitempty"`
	Markdown   string           `json:"markdown,omitempty"`
	Attempts   map[string]int   `json:"attempts,omitempty"`
	Error      *ErrorDescriptor `json:"error,omitempty"`
	ReceivedAt int64            `json:"receivedAt"`
}

// ErrorDescriptor describes a failed dispatch.
type ErrorDescriptor struct {
	Kind     string `json:"kind"`
	Stage    string `json:"stage,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Feedback string `json:"feedback,omitempty"`
	Message  string `json:"message"`
}

// CreateSessionRequest is the payload for POST /sessions.
type CreateSessionRequest struct {
	UserID string `json:"userId"`
}

// ClearSessionResponse is returned from POST /sessions/{id}/clear.
type ClearSessionResponse struct {
	Status      string   `json:"status"`
	SessionID   string   `json:"sessionId"`
	ClearedKeys []string `json:"clearedKeys"`
}

// IngestRequest is the payload for POST /corpus/documents.
type IngestRequest struct {
	Corpus  Corpus   `json:"corpus"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Source  string   `json:"source,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// IngestResponse is returned from POST /corpus/documents.
type IngestResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"` // "created" or "duplicate"
	Indexed bool   `json:"indexed"`
}

// CorpusSearchRequest is the payload for POST /corpus/search.
type CorpusSearchRequest struct {
	Corpus Corpus `json:"corpus"`
	Query  string `json:"query"`
	TopK   int    `json:"topK,omitempty"`
}

// CorpusSyncRequest is the payload for POST /corpus/sync.
type CorpusSyncRequest struct {
	Dirs []string `json:"dirs,omitempty"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status        string       `json:"status"`
	Inference     ServiceCheck `json:"inference"`
	Qdrant        ServiceCheck `json:"qdrant"`
	DB            ServiceCheck `json:"db"`
	DocumentCount int          `json:"documentCount"`
}

type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
