package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/iammorganparry/clive/apps/casegen/internal/inference"
	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/pipeline"
)

const refusalPhrase = "cannot be generated"

// EnhancementResult is the enhancer's bookkeeping for one run.
type EnhancementResult struct {
	Iterations int    `json:"iterations"`
	BaseSource string `json:"baseSource"`
}

// Enhancer applies a requested change to an existing suite, checking its own
// output before accepting it.
type Enhancer struct {
	deps Deps
}

func NewEnhancer(d Deps) *Enhancer {
	return &Enhancer{deps: d.withDefaults()}
}

func (e *Enhancer) Role() pipeline.Role { return pipeline.RoleEnhancer }

func (e *Enhancer) Invoke(ctx context.Context, pc *pipeline.Context) (pipeline.StageOutput, pipeline.Verdict) {
	msg := strings.TrimSpace(pc.Input.Message)
	if msg == "" {
		return pipeline.StageOutput{}, pipeline.Reject(pipeline.ReasonInvalidInput)
	}

	base, source, err := baseSuite(pc)
	if err != nil {
		return pipeline.StageOutput{}, pipeline.RejectWith(pipeline.ReasonEnhancementFailed, err)
	}
	if base == nil {
		return pipeline.StageOutput{}, pipeline.RejectWith(pipeline.ReasonEnhancementFailed,
			fmt.Errorf("no existing test cases to enhance"))
	}

	issue := ""
	for i := 1; i <= e.deps.MaxIterations; i++ {
		var p promptBuilder
		p.section("Request", msg)
		p.section("Current test cases", RenderTable(base))
		p.section("Previous attempt issue", issue)

		out, err := generate(ctx, e.deps, inference.TaskEnhance, enhancerSystem, p.String())
		if err != nil {
			return pipeline.StageOutput{}, pipeline.InferenceFailure(err)
		}
		if strings.Contains(strings.ToLower(out), refusalPhrase) {
			return pipeline.StageOutput{}, pipeline.RejectWith(pipeline.ReasonEnhancementFailed,
				fmt.Errorf("model declined: %s", firstLine(out)))
		}

		candidate, ok := ParseTable(out)
		switch {
		case !ok:
			issue = "The response did not contain a test case table. Return the full table."
		case sameSuite(candidate, base):
			issue = "The response is identical to the current test cases. Apply the requested change."
		default:
			if len(candidate.ComplianceRules) == 0 {
				candidate.ComplianceRules = base.ComplianceRules
			}
			return pipeline.StageOutput{
				Data:      EnhancementResult{Iterations: i, BaseSource: source},
				Candidate: Normalize(candidate),
			}, pipeline.Accept()
		}
		e.deps.Logger.Debug("enhancement attempt rejected", "iteration", i, "issue", issue)
	}

	return pipeline.StageOutput{}, pipeline.RejectWith(pipeline.ReasonEnhancementFailed,
		fmt.Errorf("no acceptable enhancement after %d iterations: %s", e.deps.MaxIterations, issue))
}

// baseSuite picks the suite to enhance: the one sent with the request, then
// the session's current suite, then a table pasted into the message.
func baseSuite(pc *pipeline.Context) (*models.TestSuite, string, error) {
	if pc.Input.Artifact != nil && len(pc.Input.Artifact.TestCases) > 0 {
		return pc.Input.Artifact, "request", nil
	}

	var current models.TestSuite
	found, err := pc.State.Get(models.StateCurrentTestCases, &current)
	if err != nil {
		return nil, "", err
	}
	if found && len(current.TestCases) > 0 {
		return &current, "session", nil
	}

	if parsed, ok := ParseTable(pc.Input.Message); ok {
		return parsed, "message", nil
	}
	return nil, "", nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
