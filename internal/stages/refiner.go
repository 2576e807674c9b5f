package stages

import (
	"context"

	"github.com/iammorganparry/clive/apps/casegen/internal/inference"
	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/pipeline"
)

// Refiner rewrites the candidate to resolve review findings.
type Refiner struct {
	deps Deps
}

func NewRefiner(d Deps) *Refiner {
	return &Refiner{deps: d.withDefaults()}
}

func (r *Refiner) Role() pipeline.Role { return pipeline.RoleRefiner }

func (r *Refiner) Invoke(ctx context.Context, pc *pipeline.Context) (pipeline.StageOutput, pipeline.Verdict) {
	reqs, _ := pipeline.Output[models.Requirements](pc, pipeline.RoleRequirementAnalyst)
	corpus, _ := pipeline.Output[CorpusContext](pc, pipeline.RoleGenerator)

	findings := pc.Feedback
	if review, ok := pipeline.Output[models.Review](pc, pipeline.RoleReviewer); ok && len(review.Items) > 0 {
		findings = RenderReview(review)
	}

	var p promptBuilder
	p.section("Features", bulletList(reqs.Features))
	p.section("Requirements context", renderSnippets(corpus.Requirements))
	p.section("Compliance context", renderSnippets(corpus.Compliance))
	p.section("Current test cases", RenderTable(pc.Artifact))
	p.section("Review findings", findings)

	out, err := generate(ctx, r.deps, inference.TaskRefine, refinerSystem, p.String())
	if err != nil {
		return pipeline.StageOutput{}, pipeline.InferenceFailure(err)
	}

	revised, ok := ParseTable(out)
	if !ok {
		// keep the previous candidate; the reviewer will flag it again
		r.deps.Logger.Debug("refiner output has no table", "output_len", len(out))
		return pipeline.StageOutput{Candidate: pc.Artifact}, pipeline.Accept()
	}
	if len(revised.ComplianceRules) == 0 && pc.Artifact != nil {
		revised.ComplianceRules = pc.Artifact.ComplianceRules
	}
	return pipeline.StageOutput{Candidate: Normalize(revised)}, pipeline.Accept()
}
