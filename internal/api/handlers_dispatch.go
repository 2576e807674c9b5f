package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/routing"
	"github.com/iammorganparry/clive/apps/casegen/internal/sessions"
)

// statusClientClosedRequest is reported when the caller cancelled the run.
const statusClientClosedRequest = 499

// DispatchHandler runs user requests through the router.
type DispatchHandler struct {
	router *routing.Router
	logger *slog.Logger
}

func NewDispatchHandler(router *routing.Router, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{router: router, logger: logger}
}

// Dispatch handles POST /dispatch
func (h *DispatchHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	received := time.Now().Unix()

	var req models.DispatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.router.Dispatch(r.Context(), routing.Request{
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Message:    req.Message,
		FlowHint:   req.FlowHint,
		NewSession: req.NewSession,
		Artifact:   req.Artifact,
	})
	if err != nil {
		desc := routing.Describe(err)
		status := statusForError(err, desc.Kind)
		if status >= http.StatusInternalServerError {
			LoggerFromContext(r.Context(), h.logger).Error("dispatch failed", "error", err)
		}
		writeJSON(w, status, models.DispatchResponse{
			SessionID:  req.SessionID,
			Error:      desc,
			ReceivedAt: received,
		})
		return
	}

	attempts := make(map[string]int, len(resp.Attempts))
	for role, n := range resp.Attempts {
		attempts[string(role)] = n
	}
	writeJSON(w, http.StatusOK, models.DispatchResponse{
		SessionID:  resp.SessionID,
		Flow:       resp.Flow,
		Artifact:   resp.Artifact,
		Markdown:   resp.Markdown,
		Attempts:   attempts,
		ReceivedAt: received,
	})
}

// statusForError maps an error kind from routing.Describe to an HTTP status.
func statusForError(err error, kind string) int {
	switch kind {
	case routing.KindInput:
		return http.StatusBadRequest
	case routing.KindValidation:
		return http.StatusUnprocessableEntity
	case routing.KindCapability:
		return http.StatusBadGateway
	case routing.KindCancelled:
		return statusClientClosedRequest
	case routing.KindSession:
		switch {
		case errors.Is(err, routing.ErrSessionNotFound):
			return http.StatusNotFound
		case errors.Is(err, routing.ErrSessionOwnership):
			return http.StatusForbidden
		case errors.Is(err, routing.ErrSessionBusy), errors.Is(err, sessions.ErrVersionConflict):
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}
