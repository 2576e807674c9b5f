package stages

import (
	"context"

	"github.com/iammorganparry/clive/apps/casegen/internal/pipeline"
)

// Collector assembles the final suite. It makes no external calls.
type Collector struct{}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Role() pipeline.Role { return pipeline.RoleCollector }

func (c *Collector) Invoke(_ context.Context, pc *pipeline.Context) (pipeline.StageOutput, pipeline.Verdict) {
	suite := Normalize(pc.Artifact)
	if len(suite.TestCases) == 0 {
		return pipeline.StageOutput{}, pipeline.Reject(pipeline.ReasonAssemblyFailed)
	}
	return pipeline.StageOutput{Candidate: suite}, pipeline.Accept()
}
