package pipeline

import (
	"github.com/iammorganparry/clive/apps/casegen/internal/capability"
	"github.com/iammorganparry/clive/apps/casegen/internal/inference"
)

// VerdictKind is the outcome class of one stage invocation.
type VerdictKind int

const (
	VerdictAccept VerdictKind = iota
	VerdictReject
	VerdictNeedsRefinement
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictAccept:
		return "accept"
	case VerdictReject:
		return "reject"
	case VerdictNeedsRefinement:
		return "needs_refinement"
	default:
		return "unknown"
	}
}

func (k VerdictKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Reject reasons.
const (
	ReasonInvalidInput          = "invalid_input"
	ReasonCapabilityUnavailable = "capability_unavailable"
	ReasonInferenceUnavailable  = "inference_unavailable"
	ReasonAssemblyFailed        = "assembly_failed"
	ReasonEnhancementFailed     = "enhancement_failed"
	ReasonTimeout               = "timeout"
	ReasonMissingInput          = "missing_input"
)

// Verdict drives the orchestrator's next transition.
type Verdict struct {
	Kind     VerdictKind
	Reason   string
	Feedback string
	// Cause is the underlying failure for rejections caused by a provider or
	// backend error.
	Cause error
}

func Accept() Verdict {
	return Verdict{Kind: VerdictAccept}
}

func Reject(reason string) Verdict {
	return Verdict{Kind: VerdictReject, Reason: reason}
}

// RejectWith rejects with the error that caused it.
func RejectWith(reason string, cause error) Verdict {
	return Verdict{Kind: VerdictReject, Reason: reason, Cause: cause}
}

func NeedsRefinement(feedback string) Verdict {
	return Verdict{Kind: VerdictNeedsRefinement, Feedback: feedback}
}

// CapabilityFailure turns a provider error into a rejection.
func CapabilityFailure(err error) Verdict {
	return RejectWith(ReasonCapabilityUnavailable, err)
}

// InferenceFailure turns a backend error into a rejection.
func InferenceFailure(err error) Verdict {
	return RejectWith(ReasonInferenceUnavailable, err)
}

// Transient reports whether the rejection came from a fault that a retry of
// the same invocation might clear.
func (v Verdict) Transient() bool {
	if v.Kind != VerdictReject || v.Cause == nil {
		return false
	}
	return capability.IsTransient(v.Cause) || inference.IsTransient(v.Cause)
}
