package stages

import (
	"context"
	"errors"

	"github.com/iammorganparry/clive/apps/casegen/internal/inference"
	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/pipeline"
)

// Reviewer audits the candidate against requirements and compliance context.
type Reviewer struct {
	deps Deps
}

func NewReviewer(d Deps) *Reviewer {
	return &Reviewer{deps: d.withDefaults()}
}

func (r *Reviewer) Role() pipeline.Role { return pipeline.RoleReviewer }

func (r *Reviewer) Invoke(ctx context.Context, pc *pipeline.Context) (pipeline.StageOutput, pipeline.Verdict) {
	if pc.Artifact == nil || len(pc.Artifact.TestCases) == 0 {
		comment := "Initial test case generation did not produce a valid test plan."
		if pc.Artifact != nil && pc.Artifact.Notes != "" {
			comment += " " + pc.Artifact.Notes
		}
		review := models.Review{Items: []models.ReviewItem{{
			TestCaseID:     "N/A",
			Category:       models.IssueGenerationFailure,
			Comment:        comment,
			Recommendation: "Regenerate test cases from requirements.",
		}}}
		return pipeline.StageOutput{Data: review}, pipeline.NeedsRefinement(RenderReview(review))
	}

	reqs, _ := pipeline.Output[models.Requirements](pc, pipeline.RoleRequirementAnalyst)
	corpus, _ := pipeline.Output[CorpusContext](pc, pipeline.RoleGenerator)

	var p promptBuilder
	p.section("Features", bulletList(reqs.Features))
	p.section("Requirements context", renderSnippets(corpus.Requirements))
	p.section("Compliance context", renderSnippets(corpus.Compliance))
	p.section("Current test cases", RenderTable(pc.Artifact))

	out, err := generate(ctx, r.deps, inference.TaskReview, reviewerSystem, p.String())
	if err != nil {
		return pipeline.StageOutput{}, pipeline.InferenceFailure(err)
	}

	review := ParseReview(out)
	if len(review.Items) == 0 {
		return pipeline.StageOutput{}, pipeline.InferenceFailure(&inference.Error{
			Kind: inference.InvalidResponse,
			Err:  errors.New("review output has no findings table"),
		})
	}
	if review.Approved() {
		return pipeline.StageOutput{Data: review}, pipeline.Accept()
	}
	return pipeline.StageOutput{Data: review}, pipeline.NeedsRefinement(RenderReview(review))
}
