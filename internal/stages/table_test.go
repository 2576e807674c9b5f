package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

func TestParseTable(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCases []models.TestCase
		wantRules []string
		wantOK    bool
	}{
		{
			name:  "table with rules",
			input: "Here you go:\n\n" + loginTable + "\n\nLet me know if you need more.",
			wantCases: []models.TestCase{
				{ID: 1, Description: "Login with valid credentials", Expected: "Dashboard is shown"},
				{ID: 2, Description: "Login with wrong password", Expected: "Error message is shown"},
			},
			wantRules: []string{"PCI-3.2"},
			wantOK:    true,
		},
		{
			name:  "aligned separator and non numeric ids",
			input: "| Sr.No | Test Description | Expected Result |\n| :--- | :--- | :--- |\n| TC-1 | Open page | Page loads |",
			wantCases: []models.TestCase{
				{ID: 1, Description: "Open page", Expected: "Page loads"},
			},
			wantOK: true,
		},
		{
			name:  "escaped pipe in cell",
			input: "| 1 | Enter a\\|b | Value a\\|b is saved |",
			wantCases: []models.TestCase{
				{ID: 1, Description: "Enter a|b", Expected: "Value a|b is saved"},
			},
			wantOK: true,
		},
		{
			name:   "prose only",
			input:  "The feature is not described in the requirements.",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTable(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCases, got.TestCases)
			assert.Equal(t, tt.wantRules, got.ComplianceRules)
		})
	}
}

func TestRenderTableRoundTrip(t *testing.T) {
	s := &models.TestSuite{
		TestCases: []models.TestCase{
			{ID: 1, Description: "Pipe | in text", Expected: "Saved\nverbatim"},
		},
		ComplianceRules: []string{"SOC2-CC6"},
	}
	got, ok := ParseTable(RenderTable(s))
	require.True(t, ok)
	assert.Equal(t, "Pipe | in text", got.TestCases[0].Description)
	assert.Equal(t, "Saved verbatim", got.TestCases[0].Expected)
	assert.Equal(t, []string{"SOC2-CC6"}, got.ComplianceRules)
	assert.Empty(t, RenderTable(nil))
}

func TestParseReview(t *testing.T) {
	text := `| TestCaseID | IssueCategory | Comment | Recommendation |
| :--- | :--- | :--- | :--- |
| 5 | coverage gap | Missing email check | Add a step |
| N/A | Something Else | Odd | Fix |`

	r := ParseReview(text)
	require.Len(t, r.Items, 2)
	assert.Equal(t, models.IssueCoverageGap, r.Items[0].Category)
	assert.Equal(t, "5", r.Items[0].TestCaseID)
	assert.Equal(t, models.IssueCategory("Something Else"), r.Items[1].Category)
	assert.False(t, r.Approved())
}

func TestNormalize(t *testing.T) {
	in := &models.TestSuite{
		TestCases: []models.TestCase{
			{ID: 4, Description: "  Step one ", Expected: "ok", ComplianceIDs: []string{"b", "a", "b"}},
			{ID: 5, Description: "", Expected: "dropped"},
			{ID: 6, Description: "step   ONE", Expected: "OK"},
			{ID: 9, Description: "Step two", Expected: "ok"},
		},
		ComplianceRules: []string{"z", " a ", "z", ""},
	}

	out := Normalize(in)
	require.Len(t, out.TestCases, 2)
	assert.Equal(t, models.TestCase{ID: 1, Description: "Step one", Expected: "ok", ComplianceIDs: []string{"a", "b"}}, out.TestCases[0])
	assert.Equal(t, 2, out.TestCases[1].ID)
	assert.Equal(t, []string{"a", "z"}, out.ComplianceRules)
	assert.Equal(t, 4, in.TestCases[0].ID, "input is not modified")

	assert.Empty(t, Normalize(nil).TestCases)
}
