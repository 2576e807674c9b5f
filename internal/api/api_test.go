package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/casegen/internal/corpus"
	"github.com/iammorganparry/clive/apps/casegen/internal/inference"
	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/pipeline"
	"github.com/iammorganparry/clive/apps/casegen/internal/routing"
	"github.com/iammorganparry/clive/apps/casegen/internal/search"
	"github.com/iammorganparry/clive/apps/casegen/internal/sessions"
	"github.com/iammorganparry/clive/apps/casegen/internal/stages"
	"github.com/iammorganparry/clive/apps/casegen/internal/store"
)

type pinger struct{ err error }

func (p pinger) HealthCheck(context.Context) error { return p.err }

type testServer struct {
	handler http.Handler
	store   *sessions.MemoryStore
}

func newTestServer(t *testing.T, apiKey string, inf Pinger) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	docs := store.NewDocumentStore(db)
	provider := search.NewHybridProvider(docs, store.NewBM25Store(db), nil, nil, search.Config{MinRelevance: 0.1}, logger)
	corpusSvc := corpus.NewService(docs, nil, nil, nil, nil, logger)

	st := sessions.NewMemoryStore()
	deps := stages.Deps{Backend: inference.NewMock(), Provider: provider, Logger: logger}
	orch := pipeline.NewOrchestrator(stages.All(deps), pipeline.Options{StageTimeout: 5 * time.Second, Logger: logger})
	router := routing.New(st, orch, routing.Options{Logger: logger})

	h := NewRouter(db, router, st, corpusSvc, provider, inf, nil, apiKey, logger)
	return &testServer{handler: h, store: st}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestDispatchGeneratesAndPersists(t *testing.T) {
	srv := newTestServer(t, "", nil)

	rec := srv.do(t, http.MethodPost, "/dispatch", models.DispatchRequest{UserID: "u1", Message: "password reset"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[models.DispatchResponse](t, rec)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, models.FlowGeneration, resp.Flow)
	require.NotNil(t, resp.Artifact)
	assert.Len(t, resp.Artifact.TestCases, 3)
	assert.Nil(t, resp.Error)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = srv.do(t, http.MethodGet, "/sessions/"+resp.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decode[models.Session](t, rec)
	assert.Len(t, sess.History, 2)
	assert.True(t, sess.State.Has(models.StateCurrentTestCases))
}

func TestDispatchErrors(t *testing.T) {
	srv := newTestServer(t, "", nil)

	tests := []struct {
		name   string
		body   any
		status int
		kind   string
	}{
		{name: "missing user", body: models.DispatchRequest{Message: "x"}, status: http.StatusBadRequest, kind: routing.KindInput},
		{name: "unknown session", body: models.DispatchRequest{UserID: "u1", SessionID: "nope", Message: "x"}, status: http.StatusNotFound, kind: routing.KindSession},
		{name: "bad flow hint", body: models.DispatchRequest{UserID: "u1", Message: "x", FlowHint: "triage"}, status: http.StatusBadRequest, kind: routing.KindInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/dispatch", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			resp := decode[models.DispatchResponse](t, rec)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.kind, resp.Error.Kind)
			assert.Nil(t, resp.Artifact)
		})
	}

	rec := srv.do(t, http.MethodPost, "/dispatch", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDispatchOwnership(t *testing.T) {
	srv := newTestServer(t, "", nil)
	sess, err := srv.store.Create(context.Background(), "alice")
	require.NoError(t, err)

	rec := srv.do(t, http.MethodPost, "/dispatch", models.DispatchRequest{UserID: "bob", SessionID: sess.ID, Message: "login"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodGet, "/sessions/"+sess.ID+"?userId=bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, "", nil)

	rec := srv.do(t, http.MethodPost, "/sessions", models.CreateSessionRequest{UserID: "u1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[models.Session](t, rec)

	rec = srv.do(t, http.MethodPost, "/dispatch", models.DispatchRequest{UserID: "u1", SessionID: created.ID, Message: "checkout"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodGet, "/sessions?userId=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Sessions []models.SessionSummary `json:"sessions"`
	}](t, rec)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, 2, list.Sessions[0].MessageCount)

	rec = srv.do(t, http.MethodPost, "/sessions/"+created.ID+"/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := decode[models.ClearSessionResponse](t, rec)
	assert.Equal(t, "cleared", cleared.Status)
	assert.Contains(t, cleared.ClearedKeys, models.StateCurrentTestCases)

	sess, err := srv.store.Load(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sess.State.Len())
	assert.Len(t, sess.History, 2)

	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodPost, "/sessions/missing/clear", nil).Code)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/sessions/missing", nil).Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/sessions", nil).Code)
}

func TestCorpusEndpoints(t *testing.T) {
	srv := newTestServer(t, "", nil)

	doc := models.IngestRequest{Corpus: models.CorpusCompliance, Title: "PCI", Content: "Card numbers must be masked"}
	rec := srv.do(t, http.MethodPost, "/corpus/documents", doc)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/corpus/documents", doc).Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodPost, "/corpus/documents", models.IngestRequest{Corpus: "legal", Content: "x"}).Code)

	rec = srv.do(t, http.MethodPost, "/corpus/search", models.CorpusSearchRequest{Corpus: models.CorpusCompliance, Query: "masked card"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[searchResponse](t, rec)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "PCI", res.Results[0].Title)

	rec = srv.do(t, http.MethodPost, "/corpus/search", models.CorpusSearchRequest{Corpus: models.CorpusRequirements, Query: "login"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = srv.do(t, http.MethodPost, "/corpus/search", models.CorpusSearchRequest{Corpus: models.CorpusCompliance})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/corpus/sync", models.CorpusSyncRequest{Dirs: []string{t.TempDir()}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[corpus.SyncResult](t, rec).Found)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, "", pinger{})
	rec := srv.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[models.HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Inference.Status)
	assert.Equal(t, "disabled", health.Qdrant.Status)

	srv = newTestServer(t, "", pinger{err: errors.New("connection refused")})
	rec = srv.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	health = decode[models.HealthResponse](t, rec)
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "connection refused", health.Inference.Message)
}

func TestBearerAuth(t *testing.T) {
	srv := newTestServer(t, "secret", nil)

	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, srv.do(t, http.MethodGet, "/sessions?userId=u1", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/sessions?userId=u1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc123", seen)
	assert.Equal(t, "abc123", rec.Header().Get("X-Request-ID"))
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{routing.ErrInvalidRequest, http.StatusBadRequest},
		{routing.ErrSessionNotFound, http.StatusNotFound},
		{routing.ErrSessionOwnership, http.StatusForbidden},
		{routing.ErrSessionBusy, http.StatusConflict},
		{sessions.ErrVersionConflict, http.StatusConflict},
		{pipeline.ErrCancelled, statusClientClosedRequest},
		{&pipeline.Error{Kind: pipeline.KindValidation, Stage: pipeline.RoleReviewer, Reason: pipeline.ReasonBudgetExhausted}, http.StatusUnprocessableEntity},
		{&pipeline.Error{Kind: pipeline.KindCapability, Stage: pipeline.RoleGenerator}, http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForError(tt.err, routing.Describe(tt.err).Kind), tt.err.Error())
	}
}
