package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Mock is an offline backend that answers from the prompt's own sections.
// It is meant for local runs without a model server.
type Mock struct{}

func NewMock() *Mock {
	return &Mock{}
}

// Generate implements Backend.
func (m *Mock) Generate(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch p.Task {
	case TaskAnalyze:
		req := firstLine(Section(p.User, "Request"))
		out, _ := json.Marshal(map[string][]string{"features_to_process": {req}})
		return string(out), nil

	case TaskGenerate:
		feature := firstLine(Section(p.User, "Feature"))
		var b strings.Builder
		b.WriteString("| Sr.No | Test Description | Expected Result |\n|---|---|---|\n")
		fmt.Fprintf(&b, "| 1 | Verify %s with valid input | Operation succeeds |\n", feature)
		fmt.Fprintf(&b, "| 2 | Verify %s with invalid input | A validation error is shown |\n", feature)
		fmt.Fprintf(&b, "| 3 | Verify %s at boundary values | Boundary values are handled |\n", feature)
		if c := firstLine(Section(p.User, "Compliance context")); c != "" {
			fmt.Fprintf(&b, "\n### Applied Compliance Rules\n- %s\n", strings.TrimPrefix(c, "- "))
		}
		return b.String(), nil

	case TaskReview:
		return "| TestCaseID | IssueCategory | Comment | Recommendation |\n|---|---|---|---|\n" +
			"| All | Approval | Test cases cover the feature | None |", nil

	case TaskRefine:
		return Section(p.User, "Current test cases"), nil

	case TaskEnhance:
		current := Section(p.User, "Current test cases")
		req := firstLine(Section(p.User, "Request"))
		lines := strings.Split(strings.TrimSpace(current), "\n")
		next := 1
		for _, l := range lines {
			if strings.HasPrefix(strings.TrimSpace(l), "|") {
				next++
			}
		}
		// header and separator rows are not test cases
		next -= 2
		if next < 1 {
			next = 1
		}
		lines = append(lines, fmt.Sprintf("| %d | %s | Behaviour matches the request |", next, req))
		return strings.Join(lines, "\n"), nil
	}

	return "", &Error{Kind: InvalidResponse, Backend: "mock", Err: fmt.Errorf("unsupported task %q", p.Task)}
}

// Section returns the body under a "## name" heading in text, up to the next
// "## " heading.
func Section(text, name string) string {
	header := "## " + name
	lines := strings.Split(text, "\n")
	var out []string
	in := false
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if strings.HasPrefix(trimmed, "## ") {
			if in {
				break
			}
			in = strings.EqualFold(trimmed, header)
			continue
		}
		if in {
			out = append(out, l)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
