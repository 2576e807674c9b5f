package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/casegen/internal/capability"
	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

func TestDefaultFlowsValidate(t *testing.T) {
	for name, f := range DefaultFlows() {
		require.NoError(t, f.Validate(), name)
	}
	assert.Equal(t, []Role{
		RoleRequirementAnalyst, RoleGenerator, RoleReviewer, RoleRefiner, RoleCollector,
	}, GenerationFlow().Roles())
}

func TestFlowValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		flow FlowDefinition
		want string
	}{
		{
			name: "unknown flow",
			flow: FlowDefinition{Name: "bogus", Steps: []Step{{Role: RoleEnhancer}}},
			want: "unknown flow",
		},
		{
			name: "no steps",
			flow: FlowDefinition{Name: models.FlowEnhancement},
			want: "no steps",
		},
		{
			name: "unknown role",
			flow: FlowDefinition{Name: models.FlowEnhancement, Steps: []Step{{Role: "oracle"}}},
			want: "unknown role",
		},
		{
			name: "duplicate role",
			flow: FlowDefinition{Name: models.FlowEnhancement, Steps: []Step{{Role: RoleEnhancer}, {Role: RoleEnhancer}}},
			want: "appears twice",
		},
		{
			name: "refine target missing",
			flow: FlowDefinition{Name: models.FlowGeneration, Steps: []Step{
				{Role: RoleReviewer, RetryEligible: true, RefineWith: RoleRefiner},
				{Role: RoleCollector},
			}},
			want: "not in the flow",
		},
		{
			name: "refine target not conditional",
			flow: FlowDefinition{Name: models.FlowGeneration, Steps: []Step{
				{Role: RoleReviewer, RetryEligible: true, RefineWith: RoleRefiner},
				{Role: RoleRefiner},
				{Role: RoleCollector},
			}},
			want: "must be conditional",
		},
		{
			name: "unreachable conditional",
			flow: FlowDefinition{Name: models.FlowGeneration, Steps: []Step{
				{Role: RoleRefiner, Conditional: true},
				{Role: RoleCollector},
			}},
			want: "unreachable",
		},
		{
			name: "negative budget",
			flow: FlowDefinition{Name: models.FlowEnhancement, Steps: []Step{{Role: RoleEnhancer, MaxRetries: -1}}},
			want: "negative budget",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.flow.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFlowCloneIsIndependent(t *testing.T) {
	f := GenerationFlow()
	c := f.Clone()
	c.Steps[3].MaxRetries = 9
	assert.Equal(t, 2, f.Steps[3].MaxRetries)
}

func TestVerdictTransient(t *testing.T) {
	assert.True(t, CapabilityFailure(capability.Errorf(capability.Unavailable, "down")).Transient())
	assert.False(t, CapabilityFailure(capability.Errorf(capability.NotFound, "none")).Transient())
	assert.False(t, Reject(ReasonTimeout).Transient())
	assert.False(t, NeedsRefinement("x").Transient())
}

func TestFlowsFileApply(t *testing.T) {
	f, err := ParseFlowsFile([]byte(`
flows:
  generation:
    refiner:
      max_retries: 4
    reviewer:
      timeout: 90s
routing:
  markers: [revise]
  patterns: ['\bscenario\s+\d+']
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"revise"}, f.Routing.Markers)
	assert.Len(t, f.Routing.Patterns, 1)

	flows, err := f.Apply(DefaultFlows())
	require.NoError(t, err)
	gen := flows[models.FlowGeneration]
	assert.Equal(t, 4, gen.Steps[3].MaxRetries)
	assert.Equal(t, 90*time.Second, gen.Steps[2].Timeout)
	assert.Equal(t, 2, GenerationFlow().Steps[3].MaxRetries)
}

func TestFlowsFileApplyErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "unknown flow", yaml: "flows:\n  triage:\n    enhancer: {max_retries: 1}\n", want: "unknown flow"},
		{name: "missing step", yaml: "flows:\n  enhancement:\n    refiner: {max_retries: 1}\n", want: "no refiner step"},
		{name: "negative", yaml: "flows:\n  enhancement:\n    enhancer: {transient_retries: -1}\n", want: "negative budget"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFlowsFile([]byte(tt.yaml))
			require.NoError(t, err)
			_, err = f.Apply(DefaultFlows())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
