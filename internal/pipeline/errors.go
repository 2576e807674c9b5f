package pipeline

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when the caller cancels a run. Nothing from the
// run may be committed.
var ErrCancelled = errors.New("pipeline run cancelled")

// Failure reasons the orchestrator adds on top of stage reject reasons.
const (
	ReasonBudgetExhausted      = "retry_budget_exhausted"
	ReasonRefinementNotAllowed = "refinement_not_allowed"
	ReasonNoArtifact           = "no_artifact"
	ReasonStagePanic           = "stage_panic"
)

// ErrorKind places a run failure in the error taxonomy.
type ErrorKind int

const (
	KindInput ErrorKind = iota
	KindCapability
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindInput:
		return "input_error"
	case KindCapability:
		return "capability_error"
	case KindValidation:
		return "validation_failure"
	default:
		return "unknown"
	}
}

// Error is a terminal run failure. Feedback holds the last refinement
// feedback seen, for diagnosis.
type Error struct {
	Kind     ErrorKind
	Stage    Role
	Reason   string
	Feedback string
	Attempts map[Role]int
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("stage %s failed: %s", e.Stage, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// kindForReason maps a reject reason to its taxonomy class.
func kindForReason(reason string) ErrorKind {
	switch reason {
	case ReasonInvalidInput, ReasonMissingInput:
		return KindInput
	case ReasonCapabilityUnavailable, ReasonInferenceUnavailable, ReasonTimeout, ReasonStagePanic:
		return KindCapability
	default:
		return KindValidation
	}
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}
