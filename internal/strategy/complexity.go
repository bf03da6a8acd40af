package strategy

import (
	"regexp"
	"strings"
	"sync"
)

// Complexity categorizes a change request.
type Complexity int

const (
	ComplexitySimple Complexity = iota
	ComplexityModerate
	ComplexityComplex
)

func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityModerate:
		return "moderate"
	case ComplexityComplex:
		return "complex"
	}
	return "unknown"
}

var (
	complexPatterns = []string{
		`redesign`,
		`refactor`,
		`rebuild`,
		`migrat(e|ion)`,
		`across (all|every|the (whole|entire))`,
		`every (page|template|section)`,
		`entire (theme|site|store)`,
		`mega ?menu`,
		`new (template|layout)`,
	}

	simplePatterns = []string{
		"change the color",
		"change the text",
		"rename",
		"typo",
		"fix the spelling",
		"update the copy",
		"change the font size",
		"hide the",
		"show the",
	}

	complexRegexes []*regexp.Regexp
	complexOnce    sync.Once
)

func initComplexRegexes() {
	complexOnce.Do(func() {
		complexRegexes = make([]*regexp.Regexp, len(complexPatterns))
		for i, p := range complexPatterns {
			complexRegexes[i] = regexp.MustCompile(`(?i)` + p)
		}
	})
}

// Assess scores a request. Complex wording or more than three hinted files
// make it complex; simple wording with at most one file keeps it simple.
func Assess(text string, fileHints []string) Complexity {
	initComplexRegexes()
	lower := strings.ToLower(text)

	for _, re := range complexRegexes {
		if re.MatchString(lower) {
			return ComplexityComplex
		}
	}
	if len(fileHints) > 3 {
		return ComplexityComplex
	}
	if len(fileHints) <= 1 {
		for _, p := range simplePatterns {
			if strings.Contains(lower, p) {
				return ComplexitySimple
			}
		}
		if len(strings.Fields(lower)) <= 8 {
			return ComplexitySimple
		}
	}
	return ComplexityModerate
}

// TierFor maps complexity to the default tier.
func TierFor(c Complexity) Tier {
	switch c {
	case ComplexitySimple:
		return Simple
	case ComplexityComplex:
		return GodMode
	}
	return Hybrid
}
