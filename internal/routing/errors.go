package routing

import (
	"errors"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/pipeline"
	"github.com/iammorganparry/clive/apps/casegen/internal/sessions"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionOwnership = errors.New("session belongs to another user")
	ErrSessionBusy      = errors.New("session is busy")
)

// Error kinds reported to callers.
const (
	KindInput      = "input_error"
	KindCapability = "capability_error"
	KindValidation = "validation_failure"
	KindSession    = "session_error"
	KindCancelled  = "cancelled"
	KindInternal   = "internal_error"
)

// Describe classifies a Dispatch or ClearSessionState error for callers.
func Describe(err error) *models.ErrorDescriptor {
	if err == nil {
		return nil
	}
	d := &models.ErrorDescriptor{Kind: KindInternal, Message: err.Error()}

	var perr *pipeline.Error
	switch {
	case errors.As(err, &perr):
		d.Kind = perr.Kind.String()
		d.Stage = string(perr.Stage)
		d.Reason = perr.Reason
		d.Feedback = perr.Feedback
	case errors.Is(err, ErrInvalidRequest):
		d.Kind = KindInput
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionOwnership),
		errors.Is(err, ErrSessionBusy),
		errors.Is(err, sessions.ErrVersionConflict):
		d.Kind = KindSession
	case errors.Is(err, pipeline.ErrCancelled):
		d.Kind = KindCancelled
	}
	return d
}
