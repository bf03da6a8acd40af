package policy

import (
	"context"
	"fmt"
	"strings"
)

// ChangeSizeGate warns when a proposal rewrites more lines than expected. It
// never discards edits.
type ChangeSizeGate struct {
	warnLines int
}

// NewChangeSizeGate creates the gate. A non-positive threshold disables it.
func NewChangeSizeGate(warnLines int) *ChangeSizeGate {
	return &ChangeSizeGate{warnLines: warnLines}
}

// Name returns the gate identifier
func (g *ChangeSizeGate) Name() string { return GateChangeSize }

// Check sums changed lines across the proposal.
func (g *ChangeSizeGate) Check(_ context.Context, p *Proposal) (Result, error) {
	if g.warnLines <= 0 {
		return pass(), nil
	}
	total := 0
	for _, e := range p.Edits {
		total += ChangedLines(e.Before, e.After)
	}
	if total <= g.warnLines {
		return pass(), nil
	}
	return Result{
		Errors:      []string{fmt.Sprintf("%d lines changed across %d files (threshold %d); review before publishing", total, len(p.Edits), g.warnLines)},
		ChangesKept: true,
	}, nil
}

// ChangedLines counts lines removed plus lines added between two versions,
// ignoring order.
func ChangedLines(before, after string) int {
	counts := map[string]int{}
	for _, l := range strings.Split(before, "\n") {
		counts[l]++
	}
	added := 0
	for _, l := range strings.Split(after, "\n") {
		if counts[l] > 0 {
			counts[l]--
			continue
		}
		added++
	}
	removed := 0
	for _, n := range counts {
		removed += n
	}
	return added + removed
}
