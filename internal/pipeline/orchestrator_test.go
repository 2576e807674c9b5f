package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/casegen/internal/capability"
	"github.com/iammorganparry/clive/apps/casegen/internal/inference"
	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

// funcStage adapts a function to Stage and counts invocations.
type funcStage struct {
	role  Role
	calls atomic.Int32
	fn    func(ctx context.Context, pc *Context, call int) (StageOutput, Verdict)
}

func (s *funcStage) Role() Role { return s.role }

func (s *funcStage) Invoke(ctx context.Context, pc *Context) (StageOutput, Verdict) {
	n := int(s.calls.Add(1))
	return s.fn(ctx, pc, n)
}

func accepting(role Role, data any) *funcStage {
	return &funcStage{role: role, fn: func(context.Context, *Context, int) (StageOutput, Verdict) {
		return StageOutput{Data: data}, Accept()
	}}
}

func suite(descs ...string) *models.TestSuite {
	ts := &models.TestSuite{}
	for i, d := range descs {
		ts.TestCases = append(ts.TestCases, models.TestCase{ID: i + 1, Description: d, Expected: "ok"})
	}
	return ts
}

func quietOptions() Options {
	return Options{
		StageTimeout: time.Second,
		Backoff:      time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

type generationStages struct {
	analyst, generator, reviewer, refiner, collector *funcStage
}

func (g generationStages) list() []Stage {
	return []Stage{g.analyst, g.generator, g.reviewer, g.refiner, g.collector}
}

func newGenerationStages(review func(ctx context.Context, pc *Context, call int) (StageOutput, Verdict)) generationStages {
	return generationStages{
		analyst: accepting(RoleRequirementAnalyst, models.Requirements{Features: []string{"login"}}),
		generator: &funcStage{role: RoleGenerator, fn: func(context.Context, *Context, int) (StageOutput, Verdict) {
			return StageOutput{Candidate: suite("draft")}, Accept()
		}},
		reviewer: &funcStage{role: RoleReviewer, fn: review},
		refiner: &funcStage{role: RoleRefiner, fn: func(_ context.Context, pc *Context, call int) (StageOutput, Verdict) {
			return StageOutput{Candidate: suite(fmt.Sprintf("refined %d: %s", call, pc.Feedback))}, Accept()
		}},
		collector: &funcStage{role: RoleCollector, fn: func(_ context.Context, pc *Context, _ int) (StageOutput, Verdict) {
			out := pc.Artifact.Clone()
			out.Notes = "collected"
			return StageOutput{Candidate: out}, Accept()
		}},
	}
}

func TestRunRefinesOnceThenAccepts(t *testing.T) {
	t.Parallel()
	g := newGenerationStages(func(_ context.Context, pc *Context, call int) (StageOutput, Verdict) {
		if call == 1 {
			return StageOutput{Data: "gap"}, NeedsRefinement("missing negative case")
		}
		return StageOutput{Data: "clean"}, Accept()
	})

	o := NewOrchestrator(g.list(), quietOptions())
	pc := NewContext(TaskInput{Message: "login"}, models.State{}, nil)

	res, err := o.Run(context.Background(), GenerationFlow(), pc)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempts[RoleRefiner])
	assert.EqualValues(t, 1, g.refiner.calls.Load())
	assert.EqualValues(t, 2, g.reviewer.calls.Load())
	assert.EqualValues(t, 1, g.collector.calls.Load())
	require.Len(t, res.Artifact.TestCases, 1)
	assert.Equal(t, "refined 1: missing negative case", res.Artifact.TestCases[0].Description)
	assert.Equal(t, "collected", res.Artifact.Notes)

	var roles []Role
	for _, e := range res.Trace {
		roles = append(roles, e.Role)
	}
	assert.Equal(t, []Role{
		RoleRequirementAnalyst, RoleGenerator, RoleReviewer, RoleRefiner, RoleReviewer, RoleCollector,
	}, roles)
}

func TestRunFirstPassAcceptSkipsRefiner(t *testing.T) {
	t.Parallel()
	g := newGenerationStages(func(context.Context, *Context, int) (StageOutput, Verdict) {
		return StageOutput{}, Accept()
	})

	o := NewOrchestrator(g.list(), quietOptions())
	res, err := o.Run(context.Background(), GenerationFlow(), NewContext(TaskInput{Message: "x"}, models.State{}, nil))
	require.NoError(t, err)

	assert.Zero(t, g.refiner.calls.Load())
	assert.Zero(t, res.Attempts[RoleRefiner])
	assert.Equal(t, "draft", res.Artifact.TestCases[0].Description)
}

func TestRunRefinementBudgetExhausted(t *testing.T) {
	t.Parallel()
	g := newGenerationStages(func(_ context.Context, _ *Context, call int) (StageOutput, Verdict) {
		return StageOutput{}, NeedsRefinement(fmt.Sprintf("feedback %d", call))
	})

	o := NewOrchestrator(g.list(), quietOptions())
	_, err := o.Run(context.Background(), GenerationFlow(), NewContext(TaskInput{Message: "x"}, models.State{}, nil))
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindValidation, perr.Kind)
	assert.Equal(t, ReasonBudgetExhausted, perr.Reason)
	assert.Equal(t, RoleReviewer, perr.Stage)
	assert.Equal(t, "feedback 3", perr.Feedback)
	assert.Equal(t, 2, perr.Attempts[RoleRefiner])
	assert.EqualValues(t, 2, g.refiner.calls.Load())
	assert.EqualValues(t, 3, g.reviewer.calls.Load())
	assert.Zero(t, g.collector.calls.Load())
}

func TestRunRejectFailsImmediately(t *testing.T) {
	t.Parallel()
	g := newGenerationStages(nil)
	g.analyst = &funcStage{role: RoleRequirementAnalyst, fn: func(context.Context, *Context, int) (StageOutput, Verdict) {
		return StageOutput{}, Reject(ReasonInvalidInput)
	}}

	o := NewOrchestrator(g.list(), quietOptions())
	_, err := o.Run(context.Background(), GenerationFlow(), NewContext(TaskInput{}, models.State{}, nil))

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindInput, perr.Kind)
	assert.Equal(t, RoleRequirementAnalyst, perr.Stage)
	assert.Zero(t, g.generator.calls.Load())
}

func TestRunRetriesTransientFaults(t *testing.T) {
	t.Parallel()
	g := newGenerationStages(func(context.Context, *Context, int) (StageOutput, Verdict) {
		return StageOutput{}, Accept()
	})
	g.analyst = &funcStage{role: RoleRequirementAnalyst, fn: func(_ context.Context, _ *Context, call int) (StageOutput, Verdict) {
		if call == 1 {
			return StageOutput{}, CapabilityFailure(capability.Errorf(capability.Unavailable, "qdrant down"))
		}
		return StageOutput{Data: "ok"}, Accept()
	}}

	o := NewOrchestrator(g.list(), quietOptions())
	res, err := o.Run(context.Background(), GenerationFlow(), NewContext(TaskInput{Message: "x"}, models.State{}, nil))
	require.NoError(t, err)
	assert.EqualValues(t, 2, g.analyst.calls.Load())
	assert.Equal(t, 1, res.Faults[RoleRequirementAnalyst])
	assert.Zero(t, res.Attempts[RoleRequirementAnalyst], "transient retries are not refinement attempts")
}

func TestRunTransientBudgetExhausted(t *testing.T) {
	t.Parallel()
	g := newGenerationStages(nil)
	g.generator = &funcStage{role: RoleGenerator, fn: func(context.Context, *Context, int) (StageOutput, Verdict) {
		return StageOutput{}, InferenceFailure(&inference.Error{Kind: inference.RateLimited, Backend: "mock", Err: errors.New("429")})
	}}

	o := NewOrchestrator(g.list(), quietOptions())
	_, err := o.Run(context.Background(), GenerationFlow(), NewContext(TaskInput{Message: "x"}, models.State{}, nil))

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindCapability, perr.Kind)
	assert.Equal(t, ReasonInferenceUnavailable, perr.Reason)
	assert.EqualValues(t, 3, g.generator.calls.Load())
}

func TestRunNonTransientCapabilityErrorNotRetried(t *testing.T) {
	t.Parallel()
	g := newGenerationStages(nil)
	g.analyst = &funcStage{role: RoleRequirementAnalyst, fn: func(context.Context, *Context, int) (StageOutput, Verdict) {
		return StageOutput{}, CapabilityFailure(capability.Errorf(capability.Malformed, "empty query"))
	}}

	o := NewOrchestrator(g.list(), quietOptions())
	_, err := o.Run(context.Background(), GenerationFlow(), NewContext(TaskInput{Message: "x"}, models.State{}, nil))
	require.Error(t, err)
	assert.EqualValues(t, 1, g.analyst.calls.Load())
}

func TestRunStageTimeout(t *testing.T) {
	t.Parallel()
	g := newGenerationStages(nil)
	g.generator = &funcStage{role: RoleGenerator, fn: func(ctx context.Context, _ *Context, _ int) (StageOutput, Verdict) {
		<-ctx.Done()
		return StageOutput{}, InferenceFailure(ctx.Err())
	}}

	flow := GenerationFlow()
	flow.Steps[1].Timeout = 20 * time.Millisecond

	o := NewOrchestrator(g.list(), quietOptions())
	_, err := o.Run(context.Background(), flow, NewContext(TaskInput{Message: "x"}, models.State{}, nil))

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ReasonTimeout, perr.Reason)
	assert.Equal(t, RoleGenerator, perr.Stage)
	assert.EqualValues(t, 1, g.generator.calls.Load(), "timeouts are not retried")
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	g := newGenerationStages(nil)
	g.generator = &funcStage{role: RoleGenerator, fn: func(ctx context.Context, _ *Context, _ int) (StageOutput, Verdict) {
		cancel()
		<-ctx.Done()
		return StageOutput{Candidate: suite("late")}, Accept()
	}}

	o := NewOrchestrator(g.list(), quietOptions())
	_, err := o.Run(ctx, GenerationFlow(), NewContext(TaskInput{Message: "x"}, models.State{}, nil))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, g.reviewer.calls.Load())
}

func TestRunStagePanicBecomesReject(t *testing.T) {
	t.Parallel()
	g := newGenerationStages(nil)
	g.analyst = &funcStage{role: RoleRequirementAnalyst, fn: func(context.Context, *Context, int) (StageOutput, Verdict) {
		panic("boom")
	}}

	o := NewOrchestrator(g.list(), quietOptions())
	_, err := o.Run(context.Background(), GenerationFlow(), NewContext(TaskInput{Message: "x"}, models.State{}, nil))

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ReasonStagePanic, perr.Reason)
}

func TestRunNoArtifact(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator([]Stage{accepting(RoleEnhancer, nil)}, quietOptions())
	_, err := o.Run(context.Background(), EnhancementFlow(), NewContext(TaskInput{Message: "x"}, models.State{}, nil))

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ReasonNoArtifact, perr.Reason)
}

func TestRunMissingStage(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator(nil, quietOptions())
	_, err := o.Run(context.Background(), EnhancementFlow(), NewContext(TaskInput{}, models.State{}, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stage registered")
}

func TestStagesSeeACopy(t *testing.T) {
	t.Parallel()
	g := newGenerationStages(func(context.Context, *Context, int) (StageOutput, Verdict) {
		return StageOutput{}, Accept()
	})
	g.generator = &funcStage{role: RoleGenerator, fn: func(_ context.Context, pc *Context, _ int) (StageOutput, Verdict) {
		pc.Attempts[RoleRefiner] = 99
		pc.Intermediate[RoleCollector] = "tampered"
		pc.State.Set(models.StateLastFlow, "tampered")
		return StageOutput{Candidate: suite("draft")}, Accept()
	}}

	o := NewOrchestrator(g.list(), quietOptions())
	pc := NewContext(TaskInput{Message: "x"}, models.State{}, nil)
	res, err := o.Run(context.Background(), GenerationFlow(), pc)
	require.NoError(t, err)

	assert.Zero(t, res.Attempts[RoleRefiner])
	assert.NotContains(t, res.Intermediate, RoleCollector)
	assert.False(t, pc.State.Has(models.StateLastFlow))
}
