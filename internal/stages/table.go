package stages

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

const (
	tableHeader     = "| Sr.No | Test Description | Expected Result |\n|---|---|---|\n"
	reviewHeader    = "| TestCaseID | IssueCategory | Comment | Recommendation |\n|---|---|---|---|\n"
	complianceTitle = "### Applied Compliance Rules"
)

// ParseTable extracts test cases from a markdown table with Sr.No, Test
// Description and Expected Result columns, plus an optional applied
// compliance rules list. It reports false when no rows were found.
func ParseTable(text string) (*models.TestSuite, bool) {
	suite := &models.TestSuite{}
	inRules := false

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "#") {
			inRules = strings.EqualFold(trimmed, complianceTitle)
			continue
		}
		if inRules {
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") {
				rule := strings.TrimSpace(trimmed[1:])
				if rule != "" {
					suite.ComplianceRules = append(suite.ComplianceRules, rule)
				}
				continue
			}
			inRules = false
		}

		if !strings.HasPrefix(trimmed, "|") || isSeparator(trimmed) {
			continue
		}
		cells := splitRow(trimmed)
		if len(cells) < 3 || isTableHeader(cells) {
			continue
		}

		id, err := strconv.Atoi(strings.TrimSuffix(cells[0], "."))
		if err != nil {
			id = len(suite.TestCases) + 1
		}
		suite.TestCases = append(suite.TestCases, models.TestCase{
			ID:          id,
			Description: cells[1],
			Expected:    cells[2],
		})
	}

	return suite, len(suite.TestCases) > 0
}

// RenderTable formats a suite as the markdown table ParseTable reads.
func RenderTable(s *models.TestSuite) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(tableHeader)
	for _, tc := range s.TestCases {
		fmt.Fprintf(&b, "| %d | %s | %s |\n", tc.ID, escapeCell(tc.Description), escapeCell(tc.Expected))
	}
	if len(s.ComplianceRules) > 0 {
		b.WriteString("\n" + complianceTitle + "\n")
		for _, r := range s.ComplianceRules {
			b.WriteString("- " + r + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// ParseReview extracts findings from the four-column review table.
func ParseReview(text string) models.Review {
	var review models.Review
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "|") || isSeparator(trimmed) {
			continue
		}
		cells := splitRow(trimmed)
		if len(cells) < 4 || strings.EqualFold(cells[1], "IssueCategory") {
			continue
		}
		review.Items = append(review.Items, models.ReviewItem{
			TestCaseID:     cells[0],
			Category:       canonicalCategory(cells[1]),
			Comment:        cells[2],
			Recommendation: cells[3],
		})
	}
	return review
}

// RenderReview formats findings, highest precedence first.
func RenderReview(r models.Review) string {
	items := make([]models.ReviewItem, len(r.Items))
	copy(items, r.Items)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Category.Precedence() < items[j].Category.Precedence()
	})

	var b strings.Builder
	b.WriteString(reviewHeader)
	for _, it := range items {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			escapeCell(it.TestCaseID), it.Category, escapeCell(it.Comment), escapeCell(it.Recommendation))
	}
	return strings.TrimRight(b.String(), "\n")
}

func canonicalCategory(s string) models.IssueCategory {
	for c := range models.ValidIssueCategories {
		if strings.EqualFold(string(c), s) {
			return c
		}
	}
	return models.IssueCategory(s)
}

func isTableHeader(cells []string) bool {
	return strings.EqualFold(cells[1], "Test Description") || strings.EqualFold(cells[0], "Sr.No")
}

func isSeparator(line string) bool {
	return strings.Trim(line, "|-: \t") == ""
}

// splitRow splits a table row on unescaped pipes and trims each cell.
func splitRow(line string) []string {
	line = strings.TrimPrefix(line, "|")
	if strings.HasSuffix(line, "|") && !strings.HasSuffix(line, `\|`) {
		line = line[:len(line)-1]
	}

	var cells []string
	var cur strings.Builder
	for i := 0; i < len(line); i++ {
		if line[i] == '\\' && i+1 < len(line) && line[i+1] == '|' {
			cur.WriteByte('|')
			i++
			continue
		}
		if line[i] == '|' {
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(line[i])
	}
	return append(cells, strings.TrimSpace(cur.String()))
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
