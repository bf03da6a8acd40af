// Package policy runs validation gates over the edits a run proposes and
// decides whether they are kept.
//
// A gate failing with ChangesKept=false is hard: the batch of edits is rolled
// back. A gate failing with ChangesKept=true is a soft warning: edits stay and
// the issue is reported alongside the outcome.
package policy

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/themeagent/internal/config"
	"github.com/fyrsmithlabs/themeagent/internal/outcome"
)

// Gate names.
const (
	GateSyntax        = "syntax"
	GateSchema        = "schema"
	GateScopeBoundary = "scope-boundary"
	GateChangeSize    = "change-size"
)

// Edit is the net change to one path since the last validation.
type Edit struct {
	Path    string
	Before  string
	After   string
	Existed bool
	Deleted bool
}

// Proposal is the set of edits submitted for validation.
type Proposal struct {
	Edits []Edit
	// Scope optionally narrows the paths the request may touch. Entries are
	// globs or directory prefixes.
	Scope []string
}

// Result is one gate's verdict.
type Result struct {
	Errors      []string
	ChangesKept bool
	// Retryable marks a hard failure the agent can plausibly correct.
	Retryable bool
}

// Passed reports whether the gate found nothing.
func (r Result) Passed() bool { return len(r.Errors) == 0 }

func pass() Result { return Result{ChangesKept: true} }

// Gate checks a proposal.
type Gate interface {
	Name() string
	Check(ctx context.Context, p *Proposal) (Result, error)
}

// NewGate builds a gate by name.
func NewGate(name string, cfg config.PolicyConfig) (Gate, error) {
	switch name {
	case GateSyntax:
		return NewSyntaxGate(), nil
	case GateSchema:
		return NewSchemaGate(), nil
	case GateScopeBoundary:
		return NewScopeGate(cfg.AllowedDirs), nil
	case GateChangeSize:
		return NewChangeSizeGate(cfg.ChangeSizeWarnLines), nil
	}
	return nil, fmt.Errorf("unknown validation gate %q", name)
}

// Policy runs an ordered list of gates.
type Policy struct {
	gates []Gate
}

// New builds a policy from gate names, in order.
func New(names []string, cfg config.PolicyConfig) (*Policy, error) {
	p := &Policy{}
	for _, n := range names {
		g, err := NewGate(n, cfg)
		if err != nil {
			return nil, err
		}
		p.gates = append(p.gates, g)
	}
	return p, nil
}

// NewWithGates builds a policy from explicit gates.
func NewWithGates(gates ...Gate) *Policy {
	return &Policy{gates: gates}
}

// Gates returns the gate names in evaluation order.
func (p *Policy) Gates() []string {
	out := make([]string, len(p.gates))
	for i, g := range p.gates {
		out[i] = g.Name()
	}
	return out
}

// Verdict aggregates every gate's result.
type Verdict struct {
	// Issues holds one entry per failing gate.
	Issues []outcome.ValidationIssue
	// Blocked is true when any failing gate discards the edits.
	Blocked bool
	// Correctable is true when every discarding failure is retryable.
	Correctable bool
}

// Evaluate runs every gate against the proposal. A gate that errors counts as
// a hard, non-retryable failure.
func (p *Policy) Evaluate(ctx context.Context, prop *Proposal) Verdict {
	v := Verdict{Correctable: true}
	for _, g := range p.gates {
		res, err := g.Check(ctx, prop)
		if err != nil {
			res = Result{Errors: []string{fmt.Sprintf("gate error: %v", err)}}
		}
		if res.Passed() {
			continue
		}
		v.Issues = append(v.Issues, outcome.ValidationIssue{
			Gate:        g.Name(),
			Errors:      res.Errors,
			ChangesKept: res.ChangesKept,
		})
		if !res.ChangesKept {
			v.Blocked = true
			if !res.Retryable {
				v.Correctable = false
			}
		}
	}
	if !v.Blocked {
		v.Correctable = false
	}
	return v
}
