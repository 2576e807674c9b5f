// Package pipeline sequences stages for one flow and enforces the bounded
// review and refinement loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

// Stage is one variant of the closed set of stage roles. Invoke must not
// retain or mutate pc.
type Stage interface {
	Role() Role
	Invoke(ctx context.Context, pc *Context) (StageOutput, Verdict)
}

// Options tunes an Orchestrator.
type Options struct {
	// StageTimeout applies to steps without their own timeout. Zero means no
	// timeout.
	StageTimeout time.Duration
	// Backoff is the first wait before a transient retry; it doubles on each
	// further retry.
	Backoff time.Duration
	Logger  *slog.Logger
}

// TraceEntry records one stage invocation.
type TraceEntry struct {
	Role     Role          `json:"role"`
	Verdict  VerdictKind   `json:"verdict"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is a successful run.
type Result struct {
	Artifact     *models.TestSuite
	Attempts     map[Role]int
	Faults       map[Role]int
	Intermediate map[Role]any
	Trace        []TraceEntry
}

// Orchestrator runs flows over a fixed set of stages.
type Orchestrator struct {
	stages map[Role]Stage
	opts   Options
	logger *slog.Logger
}

// NewOrchestrator registers stages by role. A later stage with the same role
// replaces an earlier one.
func NewOrchestrator(stages []Stage, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	m := make(map[Role]Stage, len(stages))
	for _, s := range stages {
		m[s.Role()] = s
	}
	return &Orchestrator{stages: m, opts: opts, logger: opts.Logger}
}

// Run executes flow over pc. On failure it returns *Error or an error
// wrapping ErrCancelled; pc must then be discarded.
func (o *Orchestrator) Run(ctx context.Context, flow FlowDefinition, pc *Context) (*Result, error) {
	if err := flow.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow: %w", err)
	}
	for _, s := range flow.Steps {
		if _, ok := o.stages[s.Role]; !ok {
			return nil, fmt.Errorf("flow %s: no stage registered for %s", flow.Name, s.Role)
		}
	}

	var trace []TraceEntry
	for i := 0; i < len(flow.Steps); {
		step := flow.Steps[i]
		if step.Conditional {
			i++
			continue
		}

		v, err := o.invoke(ctx, step, pc, &trace)
		if err != nil {
			return nil, err
		}

		switch v.Kind {
		case VerdictAccept:
			i++

		case VerdictReject:
			return nil, o.reject(step.Role, v, pc)

		case VerdictNeedsRefinement:
			if !step.RetryEligible {
				return nil, &Error{
					Kind:     KindValidation,
					Stage:    step.Role,
					Reason:   ReasonRefinementNotAllowed,
					Feedback: v.Feedback,
					Attempts: pc.copyAttempts(),
				}
			}

			target := step
			if step.RefineWith != "" {
				target, _ = flow.step(step.RefineWith)
			}
			if pc.Attempts[target.Role] >= target.MaxRetries {
				o.logger.Info("refinement budget exhausted",
					"flow", flow.Name,
					"stage", step.Role,
					"attempts", pc.Attempts[target.Role],
				)
				return nil, &Error{
					Kind:     KindValidation,
					Stage:    step.Role,
					Reason:   ReasonBudgetExhausted,
					Feedback: v.Feedback,
					Attempts: pc.copyAttempts(),
				}
			}

			pc.Attempts[target.Role]++
			pc.Feedback = v.Feedback

			if target.Role != step.Role {
				rv, err := o.invoke(ctx, target, pc, &trace)
				if err != nil {
					return nil, err
				}
				switch rv.Kind {
				case VerdictReject:
					return nil, o.reject(target.Role, rv, pc)
				case VerdictNeedsRefinement:
					return nil, &Error{
						Kind:     KindValidation,
						Stage:    target.Role,
						Reason:   ReasonRefinementNotAllowed,
						Feedback: rv.Feedback,
						Attempts: pc.copyAttempts(),
					}
				}
			}
			// control returns to the same step for re-evaluation
		}
	}

	if pc.Artifact == nil {
		last := flow.Steps[len(flow.Steps)-1]
		return nil, &Error{Kind: KindValidation, Stage: last.Role, Reason: ReasonNoArtifact, Attempts: pc.copyAttempts()}
	}

	return &Result{
		Artifact:     pc.Artifact.Clone(),
		Attempts:     pc.copyAttempts(),
		Faults:       pc.Faults,
		Intermediate: pc.Intermediate,
		Trace:        trace,
	}, nil
}

func (o *Orchestrator) reject(role Role, v Verdict, pc *Context) error {
	return &Error{
		Kind:     kindForReason(v.Reason),
		Stage:    role,
		Reason:   v.Reason,
		Feedback: pc.Feedback,
		Attempts: pc.copyAttempts(),
		Err:      v.Cause,
	}
}

// invoke runs one stage, retrying transient faults within the step's own
// budget, and merges the output unless the stage rejected.
func (o *Orchestrator) invoke(ctx context.Context, step Step, pc *Context, trace *[]TraceEntry) (Verdict, error) {
	stage := o.stages[step.Role]
	faults := 0

	for {
		if err := ctx.Err(); err != nil {
			return Verdict{}, cancelled(err)
		}

		start := time.Now()
		out, v, err := o.call(ctx, step, stage, pc)
		if err != nil {
			return Verdict{}, err
		}
		elapsed := time.Since(start)

		*trace = append(*trace, TraceEntry{Role: step.Role, Verdict: v.Kind, Reason: v.Reason, Duration: elapsed})
		o.logger.Debug("stage invoked",
			"stage", step.Role,
			"verdict", v.Kind.String(),
			"reason", v.Reason,
			"duration_ms", elapsed.Milliseconds(),
		)

		if v.Transient() && faults < step.TransientRetries {
			faults++
			pc.Faults[step.Role]++
			wait := o.opts.Backoff << (faults - 1)
			o.logger.Warn("stage transient failure, retrying",
				"stage", step.Role,
				"attempt", faults,
				"wait_ms", wait.Milliseconds(),
				"error", v.Cause,
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return Verdict{}, cancelled(ctx.Err())
			}
			continue
		}

		if v.Kind != VerdictReject {
			pc.merge(step.Role, out)
		}
		return v, nil
	}
}

type stageResult struct {
	out StageOutput
	v   Verdict
}

// call invokes the stage on a copy of pc with the step timeout applied. A
// stage that outlives its deadline keeps running in the background and its
// result is dropped.
func (o *Orchestrator) call(ctx context.Context, step Step, stage Stage, pc *Context) (StageOutput, Verdict, error) {
	timeout := step.Timeout
	if timeout == 0 {
		timeout = o.opts.StageTimeout
	}

	var sctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		sctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	view := pc.view()
	ch := make(chan stageResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("stage panicked", "stage", step.Role, "panic", r)
				ch <- stageResult{v: RejectWith(ReasonStagePanic, fmt.Errorf("panic: %v", r))}
			}
		}()
		out, v := stage.Invoke(sctx, view)
		ch <- stageResult{out: out, v: v}
	}()

	select {
	case r := <-ch:
		if err := ctx.Err(); err != nil {
			return StageOutput{}, Verdict{}, cancelled(err)
		}
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			return StageOutput{}, RejectWith(ReasonTimeout, sctx.Err()), nil
		}
		return r.out, r.v, nil
	case <-sctx.Done():
		if err := ctx.Err(); err != nil {
			return StageOutput{}, Verdict{}, cancelled(err)
		}
		return StageOutput{}, RejectWith(ReasonTimeout, sctx.Err()), nil
	}
}
