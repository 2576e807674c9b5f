package stages

import (
	"context"
	"strings"

	"github.com/iammorganparry/clive/apps/casegen/internal/inference"
	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/pipeline"
)

// Generator drafts test cases per feature from corpus context.
type Generator struct {
	deps Deps
}

func NewGenerator(d Deps) *Generator {
	return &Generator{deps: d.withDefaults()}
}

func (g *Generator) Role() pipeline.Role { return pipeline.RoleGenerator }

func (g *Generator) Invoke(ctx context.Context, pc *pipeline.Context) (pipeline.StageOutput, pipeline.Verdict) {
	reqs, ok := pipeline.Output[models.Requirements](pc, pipeline.RoleRequirementAnalyst)
	if !ok || len(reqs.Features) == 0 {
		// same fallback as the analyst: the whole request is one feature
		msg := strings.TrimSpace(pc.Input.Message)
		reqs = models.Requirements{Features: []string{msg}, Source: msg}
	}

	var corpus CorpusContext
	suite := &models.TestSuite{}
	var notes []string

	for _, feature := range reqs.Features {
		reqSnips, err := retrieve(ctx, g.deps, models.CorpusRequirements, feature)
		if err != nil {
			return pipeline.StageOutput{}, pipeline.CapabilityFailure(err)
		}
		compSnips, err := retrieve(ctx, g.deps, models.CorpusCompliance, feature)
		if err != nil {
			return pipeline.StageOutput{}, pipeline.CapabilityFailure(err)
		}
		corpus.Requirements = append(corpus.Requirements, reqSnips...)
		corpus.Compliance = append(corpus.Compliance, compSnips...)

		var p promptBuilder
		p.section("Request", reqs.Source)
		p.section("Feature", feature)
		p.section("Requirements context", renderSnippets(reqSnips))
		p.section("Compliance context", renderSnippets(compSnips))
		if pc.Feedback != "" {
			p.section("Reviewer feedback", pc.Feedback)
		}

		out, err := generate(ctx, g.deps, inference.TaskGenerate, generatorSystem, p.String())
		if err != nil {
			return pipeline.StageOutput{}, pipeline.InferenceFailure(err)
		}

		parsed, ok := ParseTable(out)
		if !ok {
			notes = append(notes, feature+": "+strings.TrimSpace(out))
			continue
		}
		for _, tc := range parsed.TestCases {
			tc.Feature = feature
			suite.TestCases = append(suite.TestCases, tc)
		}
		suite.ComplianceRules = append(suite.ComplianceRules, parsed.ComplianceRules...)
	}

	suite.Notes = strings.Join(notes, "\n")
	return pipeline.StageOutput{Data: corpus, Candidate: Normalize(suite)}, pipeline.Accept()
}
