// Package privacy removes <private>...</private> blocks from user supplied
// text before it reaches session history, prompts or the corpus.
package privacy

import (
	"regexp"
	"strings"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

// privateTagRegex matches <private>...</private> blocks (non-greedy, dotall).
var privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

// StripPrivateTags removes all private blocks and trims the result.
func StripPrivateTags(content string) string {
	return strings.TrimSpace(privateTagRegex.ReplaceAllString(content, ""))
}

// HasOnlyPrivateContent reports whether nothing is left after stripping.
func HasOnlyPrivateContent(content string) bool {
	return StripPrivateTags(content) == ""
}

// StripSuite returns a copy of s with private blocks removed from every
// cell. Rows whose description becomes empty are dropped; IDs are left for
// the stages to renumber.
func StripSuite(s *models.TestSuite) *models.TestSuite {
	if s == nil {
		return nil
	}
	out := s.Clone()
	kept := out.TestCases[:0]
	for _, tc := range out.TestCases {
		tc.Description = StripPrivateTags(tc.Description)
		if tc.Description == "" {
			continue
		}
		tc.Expected = StripPrivateTags(tc.Expected)
		tc.Feature = StripPrivateTags(tc.Feature)
		kept = append(kept, tc)
	}
	out.TestCases = kept

	rules := out.ComplianceRules[:0]
	for _, r := range out.ComplianceRules {
		if r = StripPrivateTags(r); r != "" {
			rules = append(rules, r)
		}
	}
	out.ComplianceRules = rules
	out.Notes = StripPrivateTags(out.Notes)
	return out
}
