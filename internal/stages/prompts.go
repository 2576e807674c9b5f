package stages

import (
	"fmt"
	"strings"

	"github.com/iammorganparry/clive/apps/casegen/internal/capability"
)

const analystSystem = `You are a requirement analyst for software test design.
Read the user's request and list the distinct features that need test cases.
Respond with JSON only, in the form {"features_to_process": ["feature", ...]}.
Do not invent features the request does not mention.`

const generatorSystem = `You are a senior QA engineer writing manual test cases.
Write test cases for the feature using the requirements and compliance context.
Cover positive, negative and boundary scenarios. Each compliance rule in the
context must be validated by at least one test case.
Respond with a markdown table:
| Sr.No | Test Description | Expected Result |
followed by a "### Applied Compliance Rules" list naming the rules you used.
If the context does not describe the feature, say so instead of writing a table.`

const reviewerSystem = `You are a test case reviewer. Audit the test cases against the
requirements and compliance context. Check for Coverage Gap, Compliance Gap,
Incorrectness, Lack of Clarity, Incompleteness and Redundancy.
Respond only with a markdown table:
| TestCaseID | IssueCategory | Comment | Recommendation |
with one row per issue. If the suite meets every requirement and compliance
rule, respond with a single Approval row.`

const refinerSystem = `You are a test case refiner. Revise the test cases so every review
finding is resolved. Apply compliance findings first, then requirement
findings, then clarity and redundancy findings. Keep test cases that had no
findings unchanged.
Respond with the full revised markdown table:
| Sr.No | Test Description | Expected Result |
followed by the "### Applied Compliance Rules" list.`

const enhancerSystem = `You are a test case editor. Apply the user's requested change to the
existing test cases: add, update or remove rows as asked and keep everything
else. Respond with the full updated markdown table:
| Sr.No | Test Description | Expected Result |
If the request cannot be applied to these test cases, reply with
"The requested enhancement cannot be generated" and a short reason.`

// promptBuilder assembles a user prompt from "## " sections. Empty sections
// are omitted.
type promptBuilder struct {
	b strings.Builder
}

func (p *promptBuilder) section(name, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	if p.b.Len() > 0 {
		p.b.WriteString("\n\n")
	}
	fmt.Fprintf(&p.b, "## %s\n%s", name, body)
}

func (p *promptBuilder) String() string {
	return p.b.String()
}

const maxSnippetChars = 600

// renderSnippets lists snippets one per line.
func renderSnippets(snippets []capability.Snippet) string {
	var b strings.Builder
	for _, s := range snippets {
		content := strings.Join(strings.Fields(s.Content), " ")
		if len(content) > maxSnippetChars {
			content = content[:maxSnippetChars] + "..."
		}
		if s.Title != "" {
			fmt.Fprintf(&b, "- %s: %s\n", s.Title, content)
		} else {
			fmt.Fprintf(&b, "- %s\n", content)
		}
	}
	return b.String()
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- " + it + "\n")
	}
	return b.String()
}
