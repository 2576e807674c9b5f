package models

// TestCase is one row of a generated suite.
type TestCase struct {
	ID            int      `json:"id"`
	Description   string   `json:"description"`
	Expected      string   `json:"expected"`
	Feature       string   `json:"feature,omitempty"`
	ComplianceIDs []string `json:"complianceIds,omitempty"`
}

// TestSuite is the artifact a pipeline run produces and the router stores in
// session state.
type TestSuite struct {
	TestCases       []TestCase `json:"testCases"`
	ComplianceRules []string   `json:"complianceRules,omitempty"`
	// Notes carries free text the model returned instead of a table, such as a
	// generation failure explanation.
	Notes string `json:"notes,omitempty"`
}

// Clone returns a deep copy.
func (s *TestSuite) Clone() *TestSuite {
	if s == nil {
		return nil
	}
	out := &TestSuite{Notes: s.Notes}
	out.TestCases = make([]TestCase, len(s.TestCases))
	for i, tc := range s.TestCases {
		tc.ComplianceIDs = append([]string(nil), tc.ComplianceIDs...)
		out.TestCases[i] = tc
	}
	out.ComplianceRules = append([]string(nil), s.ComplianceRules...)
	return out
}

// Requirements is the structured form of a generation request.
type Requirements struct {
	Features []string `json:"features"`
	Source   string   `json:"source"`
}

// IssueCategory classifies one review finding.
type IssueCategory string

const (
	IssueApproval          IssueCategory = "Approval"
	IssueGenerationFailure IssueCategory = "Generation Failure"
	IssueCoverageGap       IssueCategory = "Coverage Gap"
	IssueComplianceGap     IssueCategory = "Compliance Gap"
	IssueIncorrectness     IssueCategory = "Incorrectness"
	IssueLackOfClarity     IssueCategory = "Lack of Clarity"
	IssueIncompleteness    IssueCategory = "Incompleteness"
	IssueRedundancy        IssueCategory = "Redundancy"
)

var ValidIssueCategories = map[IssueCategory]bool{
	IssueApproval:          true,
	IssueGenerationFailure: true,
	IssueCoverageGap:       true,
	IssueComplianceGap:     true,
	IssueIncorrectness:     true,
	IssueLackOfClarity:     true,
	IssueIncompleteness:    true,
	IssueRedundancy:        true,
}

func (c IssueCategory) IsValid() bool {
	return ValidIssueCategories[c]
}

// Precedence orders categories for the refiner. Lower applies first.
func (c IssueCategory) Precedence() int {
	switch c {
	case IssueComplianceGap:
		return 0
	case IssueGenerationFailure, IssueCoverageGap, IssueIncorrectness, IssueIncompleteness:
		return 1
	case IssueLackOfClarity, IssueRedundancy:
		return 2
	default:
		return 3
	}
}

// ReviewItem is one reviewer finding.
type ReviewItem struct {
	TestCaseID     string        `json:"testCaseId"`
	Category       IssueCategory `json:"category"`
	Comment        string        `json:"comment"`
	Recommendation string        `json:"recommendation"`
}

// Review is the reviewer's full output for one candidate.
type Review struct {
	Items []ReviewItem `json:"items"`
}

// Approved reports whether every finding is an approval. An empty review is
// not an approval.
func (r *Review) Approved() bool {
	if r == nil || len(r.Items) == 0 {
		return false
	}
	for _, it := range r.Items {
		if it.Category != IssueApproval {
			return false
		}
	}
	return true
}
