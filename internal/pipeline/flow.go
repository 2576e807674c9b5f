package pipeline

import (
	"fmt"
	"time"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

// Role names a stage variant. The set is closed.
type Role string

const (
	RoleRequirementAnalyst Role = "requirement_analyst"
	RoleGenerator          Role = "generator"
	RoleReviewer           Role = "reviewer"
	RoleRefiner            Role = "refiner"
	RoleCollector          Role = "collector"
	RoleEnhancer           Role = "enhancer"
)

var validRoles = map[Role]bool{
	RoleRequirementAnalyst: true,
	RoleGenerator:          true,
	RoleReviewer:           true,
	RoleRefiner:            true,
	RoleCollector:          true,
	RoleEnhancer:           true,
}

func (r Role) IsValid() bool {
	return validRoles[r]
}

// Step configures one stage within a flow.
type Step struct {
	Role Role `yaml:"role" json:"role"`
	// MaxRetries bounds how often this step may be entered through
	// refinement. It only matters for conditional or retry-eligible steps.
	MaxRetries int `yaml:"max_retries,omitempty" json:"maxRetries,omitempty"`
	// RetryEligible lets NeedsRefinement from this step loop instead of
	// failing the run.
	RetryEligible bool `yaml:"retry_eligible,omitempty" json:"retryEligible,omitempty"`
	// RefineWith names the conditional step that consumes this step's
	// feedback. Empty means the step retries itself.
	RefineWith Role `yaml:"refine_with,omitempty" json:"refineWith,omitempty"`
	// Conditional steps are skipped in sequence and only entered via
	// RefineWith.
	Conditional bool `yaml:"conditional,omitempty" json:"conditional,omitempty"`
	// TransientRetries bounds retries of a single invocation after a
	// provider or backend fault.
	TransientRetries int           `yaml:"transient_retries,omitempty" json:"transientRetries,omitempty"`
	Timeout          time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// FlowDefinition is a named, statically ordered sequence of steps.
type FlowDefinition struct {
	Name  models.FlowName `yaml:"name" json:"name"`
	Steps []Step          `yaml:"steps" json:"steps"`
}

// GenerationFlow is analyze, generate, review (refined by the refiner) and
// collect.
func GenerationFlow() FlowDefinition {
	return FlowDefinition{
		Name: models.FlowGeneration,
		Steps: []Step{
			{Role: RoleRequirementAnalyst, TransientRetries: 2},
			{Role: RoleGenerator, TransientRetries: 2},
			{Role: RoleReviewer, RetryEligible: true, RefineWith: RoleRefiner, TransientRetries: 2},
			{Role: RoleRefiner, Conditional: true, MaxRetries: 2, TransientRetries: 2},
			{Role: RoleCollector},
		},
	}
}

// EnhancementFlow is the single enhancer stage.
func EnhancementFlow() FlowDefinition {
	return FlowDefinition{
		Name:  models.FlowEnhancement,
		Steps: []Step{{Role: RoleEnhancer, TransientRetries: 2}},
	}
}

// DefaultFlows returns both built-in flows keyed by name.
func DefaultFlows() map[models.FlowName]FlowDefinition {
	return map[models.FlowName]FlowDefinition{
		models.FlowGeneration:  GenerationFlow(),
		models.FlowEnhancement: EnhancementFlow(),
	}
}

// Clone returns a deep copy.
func (f FlowDefinition) Clone() FlowDefinition {
	out := FlowDefinition{Name: f.Name, Steps: make([]Step, len(f.Steps))}
	copy(out.Steps, f.Steps)
	return out
}

// Roles returns the step roles in flow order.
func (f FlowDefinition) Roles() []Role {
	roles := make([]Role, len(f.Steps))
	for i, s := range f.Steps {
		roles[i] = s.Role
	}
	return roles
}

func (f FlowDefinition) step(role Role) (Step, bool) {
	for _, s := range f.Steps {
		if s.Role == role {
			return s, true
		}
	}
	return Step{}, false
}

// Validate checks the flow is runnable.
func (f FlowDefinition) Validate() error {
	if !f.Name.IsValid() {
		return fmt.Errorf("unknown flow %q", f.Name)
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("flow %s has no steps", f.Name)
	}

	seen := make(map[Role]int, len(f.Steps))
	for i, s := range f.Steps {
		if !s.Role.IsValid() {
			return fmt.Errorf("flow %s step %d: unknown role %q", f.Name, i, s.Role)
		}
		if _, dup := seen[s.Role]; dup {
			return fmt.Errorf("flow %s: role %s appears twice", f.Name, s.Role)
		}
		seen[s.Role] = i
		if s.MaxRetries < 0 || s.TransientRetries < 0 || s.Timeout < 0 {
			return fmt.Errorf("flow %s step %s: negative budget", f.Name, s.Role)
		}
	}

	referenced := make(map[Role]bool)
	for _, s := range f.Steps {
		if s.RefineWith == "" {
			continue
		}
		if !s.RetryEligible {
			return fmt.Errorf("flow %s step %s: refine_with requires retry_eligible", f.Name, s.Role)
		}
		idx, ok := seen[s.RefineWith]
		if !ok {
			return fmt.Errorf("flow %s step %s: refine_with %s is not in the flow", f.Name, s.Role, s.RefineWith)
		}
		if !f.Steps[idx].Conditional {
			return fmt.Errorf("flow %s step %s: refine_with %s must be conditional", f.Name, s.Role, s.RefineWith)
		}
		referenced[s.RefineWith] = true
	}

	for _, s := range f.Steps {
		if s.Conditional && !referenced[s.Role] {
			return fmt.Errorf("flow %s: conditional step %s is unreachable", f.Name, s.Role)
		}
	}
	if f.Steps[len(f.Steps)-1].Conditional {
		return fmt.Errorf("flow %s: last step cannot be conditional", f.Name)
	}
	return nil
}
