package api

import (
	"context"
	"net/http"
	"time"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/store"
)

// Pinger is a dependency that can report its own health.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	db        *store.DB
	inference Pinger
	qdrant    Pinger
}

// NewHealthHandler creates a HealthHandler. A nil inference or qdrant pinger
// is reported as disabled.
func NewHealthHandler(db *store.DB, inference, qdrant Pinger) *HealthHandler {
	return &HealthHandler{db: db, inference: inference, qdrant: qdrant}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := models.HealthResponse{
		Status: "ok",
	}

	resp.Inference = check(ctx, h.inference, &resp.Status)
	resp.Qdrant = check(ctx, h.qdrant, &resp.Status)

	// Check DB
	count, err := h.db.DocumentCount()
	if err != nil {
		resp.DB = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.DB = models.ServiceCheck{Status: "ok"}
		resp.DocumentCount = count
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func check(ctx context.Context, p Pinger, overall *string) models.ServiceCheck {
	if p == nil {
		return models.ServiceCheck{Status: "disabled"}
	}
	if err := p.HealthCheck(ctx); err != nil {
		*overall = "degraded"
		return models.ServiceCheck{Status: "error", Message: err.Error()}
	}
	return models.ServiceCheck{Status: "ok"}
}
