// Package stages holds the stage agents the orchestrator sequences. Each
// stage builds a prompt, calls the inference backend and turns the answer
// into a verdict.
package stages

import (
	"context"
	"errors"
	"log/slog"

	"github.com/iammorganparry/clive/apps/casegen/internal/capability"
	"github.com/iammorganparry/clive/apps/casegen/internal/inference"
	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/pipeline"
)

const (
	defaultTopK          = 5
	defaultMaxIterations = 3
)

// Deps are the capabilities stages share.
type Deps struct {
	Backend inference.Backend
	// Provider may be nil, in which case stages work without corpus context.
	Provider capability.Provider
	TopK     int
	// MaxIterations bounds the enhancer's own acceptance loop.
	MaxIterations int
	Logger        *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.TopK <= 0 {
		d.TopK = defaultTopK
	}
	if d.MaxIterations <= 0 {
		d.MaxIterations = defaultMaxIterations
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// All returns one stage per role.
func All(d Deps) []pipeline.Stage {
	return []pipeline.Stage{
		NewRequirementAnalyst(d),
		NewGenerator(d),
		NewReviewer(d),
		NewRefiner(d),
		NewCollector(),
		NewEnhancer(d),
	}
}

// CorpusContext is the retrieval context the generator gathered, reused by
// the reviewer and refiner.
type CorpusContext struct {
	Requirements []capability.Snippet `json:"requirements,omitempty"`
	Compliance   []capability.Snippet `json:"compliance,omitempty"`
}

// retrieve queries one corpus. A corpus with no documents yields no context
// rather than an error.
func retrieve(ctx context.Context, d Deps, corpus models.Corpus, text string) ([]capability.Snippet, error) {
	if d.Provider == nil {
		return nil, nil
	}
	snippets, err := d.Provider.Query(ctx, capability.Query{Corpus: corpus, Text: text, TopK: d.TopK})
	if err != nil {
		var cerr *capability.Error
		if errors.As(err, &cerr) && cerr.Kind == capability.NotFound {
			return nil, nil
		}
		return nil, err
	}
	return snippets, nil
}

func generate(ctx context.Context, d Deps, task inference.Task, system, user string) (string, error) {
	return d.Backend.Generate(ctx, inference.Prompt{Task: task, System: system, User: user})
}
