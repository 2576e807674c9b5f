package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

// Classifier picks a flow for a request. hasSuite reports whether an existing
// suite is available to enhance: an attached artifact, test cases already in
// the session, or a table pasted into the message. It must always return a
// valid flow.
type Classifier interface {
	Classify(req Request, hasSuite bool) models.FlowName
}

// DefaultMarkers are words that signal a change to existing test cases.
var DefaultMarkers = []string{
	"enhance", "refine", "update", "modify", "improve", "extend", "add to",
	"earlier", "previous", "existing", "above",
}

// DefaultPatterns match references to a specific test case.
var DefaultPatterns = []string{
	`\btest\s*case\s*#?\s*\d+\b`,
	`\btc[-\s]?\d+\b`,
}

var defaultPatternRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)` + DefaultPatterns[0]),
	regexp.MustCompile(`(?i)` + DefaultPatterns[1]),
}

var defaultClassifier = &KeywordClassifier{markers: compileMarkers(DefaultMarkers), patterns: defaultPatternRes}

// KeywordClassifier selects the enhancement flow when there is a suite to
// work on and the request either attaches one or names a change to it.
// Everything else is generation, so requirement text that merely contains
// a marker word starts a new suite.
type KeywordClassifier struct {
	markers  []*regexp.Regexp
	patterns []*regexp.Regexp
}

// NewKeywordClassifier compiles markers (matched as whole words, case
// insensitive) and raw regular expression patterns.
func NewKeywordClassifier(markers, patterns []string) (*KeywordClassifier, error) {
	c := &KeywordClassifier{markers: compileMarkers(markers)}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid routing pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

// DefaultClassifier uses DefaultMarkers and DefaultPatterns.
func DefaultClassifier() *KeywordClassifier {
	return defaultClassifier
}

func compileMarkers(markers []string) []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		out = append(out, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(m)+`\b`))
	}
	return out
}

func (c *KeywordClassifier) Classify(req Request, hasSuite bool) models.FlowName {
	if req.FlowHint.IsValid() {
		return req.FlowHint
	}
	if !hasSuite {
		return models.FlowGeneration
	}
	if req.Artifact != nil && len(req.Artifact.TestCases) > 0 {
		return models.FlowEnhancement
	}
	for _, re := range c.markers {
		if re.MatchString(req.Message) {
			return models.FlowEnhancement
		}
	}
	for _, re := range c.patterns {
		if re.MatchString(req.Message) {
			return models.FlowEnhancement
		}
	}
	return models.FlowGeneration
}
