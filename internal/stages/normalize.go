package stages

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

// Normalize returns a cleaned copy of s: cells trimmed, empty rows dropped,
// duplicate rows removed by content hash, ids renumbered from 1 and
// compliance ids sorted and deduplicated.
func Normalize(s *models.TestSuite) *models.TestSuite {
	out := &models.TestSuite{}
	if s == nil {
		return out
	}
	out.Notes = strings.TrimSpace(s.Notes)

	seen := make(map[string]bool, len(s.TestCases))
	for _, tc := range s.TestCases {
		tc.Description = strings.TrimSpace(tc.Description)
		tc.Expected = strings.TrimSpace(tc.Expected)
		tc.Feature = strings.TrimSpace(tc.Feature)
		if tc.Description == "" {
			continue
		}
		key := rowHash(tc)
		if seen[key] {
			continue
		}
		seen[key] = true

		tc.ID = len(out.TestCases) + 1
		tc.ComplianceIDs = sortedUnique(tc.ComplianceIDs)
		out.TestCases = append(out.TestCases, tc)
	}
	out.ComplianceRules = sortedUnique(s.ComplianceRules)
	return out
}

func rowHash(tc models.TestCase) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.Join(strings.Fields(tc.Description), " "))))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.Join(strings.Fields(tc.Expected), " "))))
	return hex.EncodeToString(h.Sum(nil))
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	set := make(map[string]bool, len(in))
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || set[v] {
			continue
		}
		set[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// sameSuite reports whether two suites render to the same normalized table.
func sameSuite(a, b *models.TestSuite) bool {
	return RenderTable(Normalize(a)) == RenderTable(Normalize(b))
}
