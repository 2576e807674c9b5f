package stages

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/iammorganparry/clive/apps/casegen/internal/inference"
	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/pipeline"
)

// RequirementAnalyst turns the request into a list of features.
type RequirementAnalyst struct {
	deps Deps
}

func NewRequirementAnalyst(d Deps) *RequirementAnalyst {
	return &RequirementAnalyst{deps: d.withDefaults()}
}

func (a *RequirementAnalyst) Role() pipeline.Role { return pipeline.RoleRequirementAnalyst }

func (a *RequirementAnalyst) Invoke(ctx context.Context, pc *pipeline.Context) (pipeline.StageOutput, pipeline.Verdict) {
	msg := strings.TrimSpace(pc.Input.Message)
	if msg == "" {
		return pipeline.StageOutput{}, pipeline.Reject(pipeline.ReasonInvalidInput)
	}

	var p promptBuilder
	p.section("Request", msg)
	out, err := generate(ctx, a.deps, inference.TaskAnalyze, analystSystem, p.String())
	if err != nil {
		return pipeline.StageOutput{}, pipeline.InferenceFailure(err)
	}

	features := parseFeatures(out)
	if len(features) == 0 {
		a.deps.Logger.Debug("analyst output not parseable, using whole request", "output_len", len(out))
		features = []string{msg}
	}

	return pipeline.StageOutput{Data: models.Requirements{Features: features, Source: msg}}, pipeline.Accept()
}

// parseFeatures reads {"features_to_process": [...]} from model output that
// may wrap the JSON in prose or a code fence.
func parseFeatures(out string) []string {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return nil
	}

	var parsed struct {
		Features []string `json:"features_to_process"`
	}
	if err := json.Unmarshal([]byte(out[start:end+1]), &parsed); err != nil {
		return nil
	}

	seen := make(map[string]bool, len(parsed.Features))
	var features []string
	for _, f := range parsed.Features {
		f = strings.TrimSpace(f)
		key := strings.ToLower(f)
		if f == "" || seen[key] {
			continue
		}
		seen[key] = true
		features = append(features, f)
	}
	return features
}
