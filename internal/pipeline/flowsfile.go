package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

// StepOverride adjusts the budgets of one step. Nil fields keep the built-in
// value.
type StepOverride struct {
	MaxRetries       *int           `yaml:"max_retries"`
	TransientRetries *int           `yaml:"transient_retries"`
	Timeout          *time.Duration `yaml:"timeout"`
}

// RoutingFile holds classifier settings.
type RoutingFile struct {
	Markers  []string `yaml:"markers"`
	Patterns []string `yaml:"patterns"`
}

// FlowsFile is the on-disk flow configuration:
//
//	flows:
//	  generation:
//	    refiner: {max_retries: 3}
//	    reviewer: {timeout: 90s}
//	routing:
//	  markers: [enhance, update]
type FlowsFile struct {
	Flows   map[models.FlowName]map[Role]StepOverride `yaml:"flows"`
	Routing RoutingFile                               `yaml:"routing"`
}

// LoadFlowsFile reads and parses a flows file.
func LoadFlowsFile(path string) (*FlowsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flows file: %w", err)
	}
	return ParseFlowsFile(data)
}

func ParseFlowsFile(data []byte) (*FlowsFile, error) {
	var f FlowsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse flows file: %w", err)
	}
	return &f, nil
}

// Apply returns the built-in flows with the overrides applied. Every
// resulting flow is validated.
func (f *FlowsFile) Apply(base map[models.FlowName]FlowDefinition) (map[models.FlowName]FlowDefinition, error) {
	out := make(map[models.FlowName]FlowDefinition, len(base))
	for name, def := range base {
		out[name] = def.Clone()
	}

	for name, steps := range f.Flows {
		def, ok := out[name]
		if !ok {
			return nil, fmt.Errorf("flows file: unknown flow %q", name)
		}
		for role, o := range steps {
			idx := -1
			for i, s := range def.Steps {
				if s.Role == role {
					idx = i
					break
				}
			}
			if idx < 0 {
				return nil, fmt.Errorf("flows file: flow %s has no %s step", name, role)
			}
			st := &def.Steps[idx]
			if o.MaxRetries != nil {
				st.MaxRetries = *o.MaxRetries
			}
			if o.TransientRetries != nil {
				st.TransientRetries = *o.TransientRetries
			}
			if o.Timeout != nil {
				st.Timeout = *o.Timeout
			}
		}
		out[name] = def
	}

	for _, def := range out {
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("flows file: %w", err)
		}
	}
	return out, nil
}
