// Package secrets redacts credentials from text before it leaves a run.
//
// Tool results, sub-agent summaries and streamed events can echo file content
// that contains API keys or tokens; every such string passes through a
// Scrubber first.
package secrets

import (
	"fmt"
	"sort"
	"strings"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
)

// Scrubber redacts secrets from content.
type Scrubber interface {
	// Scrub returns content with every detected secret replaced by a
	// [REDACTED:rule] marker, plus the number of redactions.
	Scrub(content string) (string, int)
}

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Line   int
	Match  string
}

// GitleaksScrubber detects secrets with the gitleaks default rule set.
type GitleaksScrubber struct {
	cfg gitleaksconfig.Config
}

// NewGitleaks loads the gitleaks default configuration once.
func NewGitleaks() (*GitleaksScrubber, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks config: %w", err)
	}
	return &GitleaksScrubber{cfg: d.Config}, nil
}

// Detect returns the findings in content.
func (g *GitleaksScrubber) Detect(content string) []Finding {
	if content == "" {
		return nil
	}
	// A detector accumulates findings across calls, so each scan gets its own.
	d := detect.NewDetector(g.cfg)
	found := d.DetectString(content)
	out := make([]Finding, 0, len(found))
	for _, f := range found {
		if f.Secret == "" {
			continue
		}
		out = append(out, Finding{RuleID: f.RuleID, Line: f.StartLine, Match: f.Secret})
	}
	return out
}

// Scrub implements Scrubber.
func (g *GitleaksScrubber) Scrub(content string) (string, int) {
	findings := g.Detect(content)
	if len(findings) == 0 {
		return content, 0
	}
	return replaceFindings(content, findings), len(findings)
}

// replaceFindings replaces longer matches first so overlapping secrets
// are not partially exposed.
func replaceFindings(content string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Match) > len(sorted[j].Match)
	})
	for _, f := range sorted {
		content = strings.ReplaceAll(content, f.Match, "[REDACTED:"+f.RuleID+"]")
	}
	return content
}

// Nop returns content unchanged.
type Nop struct{}

// Scrub implements Scrubber.
func (Nop) Scrub(content string) (string, int) { return content, 0 }
