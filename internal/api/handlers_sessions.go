package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/routing"
	"github.com/iammorganparry/clive/apps/casegen/internal/sessions"
)

// SessionHandler handles session-related HTTP requests.
type SessionHandler struct {
	store  sessions.Store
	router *routing.Router
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store sessions.Store, router *routing.Router) *SessionHandler {
	return &SessionHandler{store: store, router: router}
}

// Create handles POST /sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	sess, err := h.store.Create(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// List handles GET /sessions?userId=...&limit=...
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	list, err := h.store.ListByUser(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []models.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

// Get handles GET /sessions/{id}. A userId query parameter, when given, must
// match the session owner.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := h.store.Load(r.Context(), id)
	if errors.Is(err, sessions.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if owner := r.URL.Query().Get("userId"); owner != "" && owner != sess.UserID {
		writeError(w, http.StatusForbidden, routing.ErrSessionOwnership.Error())
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// Clear handles POST /sessions/{id}/clear
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	keys, err := h.router.ClearSessionState(r.Context(), id)
	if err != nil {
		desc := routing.Describe(err)
		writeJSON(w, statusForError(err, desc.Kind), models.DispatchResponse{SessionID: id, Error: desc})
		return
	}
	writeJSON(w, http.StatusOK, models.ClearSessionResponse{
		Status:      "cleared",
		SessionID:   id,
		ClearedKeys: keys,
	})
}
