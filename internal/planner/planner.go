// Package planner decides the next step of an agent loop.
//
// A Planner sees the request, the plan of record, and everything the loop has
// observed so far, and returns exactly one Step. The coordinator owns all
// state; planners are free to be stateless.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/themeagent/internal/strategy"
	"github.com/fyrsmithlabs/themeagent/internal/tools"
)

// Kind is the type of a Step.
type Kind string

const (
	KindThink    Kind = "think"
	KindReason   Kind = "reason"
	KindText     Kind = "say"
	KindCallTool Kind = "tool"
	KindComplete Kind = "complete"
	KindNoChange Kind = "no_change"
	KindAskUser  Kind = "ask_user"
)

// Errors returned by planners.
var (
	ErrMalformedAction = errors.New("malformed planner action")
	ErrScriptExhausted = errors.New("planner script exhausted")
)

// Usage reports the model cost of producing a step.
type Usage struct {
	Model        string
	InputTokens  int
	OutputTokens int
}

// Step is one planner decision.
type Step struct {
	Kind Kind

	// Think
	Phase  string
	Label  string
	Detail string

	// Reason, Text, Complete (summary), NoChange (reason), AskUser (question)
	Text string

	// CallTool
	Tool  tools.Name
	Input tools.Input

	Usage *Usage
}

// Terminal reports whether the step ends the loop.
func (s Step) Terminal() bool {
	return s.Kind == KindComplete || s.Kind == KindNoChange || s.Kind == KindAskUser
}

// Observation is a tool result fed back to the planner.
type Observation struct {
	CallID  string
	Tool    tools.Name
	Content string
	IsError bool
}

// Entry is one item of loop history: a step the planner took, or an
// observation the loop made.
type Entry struct {
	Step        *Step
	Observation *Observation
	// Note is loop feedback, e.g. validation errors or a malformed response.
	Note string
}

// Context is what a planner sees.
type Context struct {
	RunID string
	Agent string
	Role  tools.Role

	Request  string
	Strategy strategy.Strategy
	// Model is the routed model for this step.
	Model   string
	Toolset []tools.Name

	PlanText string
	Files    []string

	// Scope lists the files a sub-agent was delegated.
	Scope []string

	Iteration        int
	MaxIterations    int
	EscalationFactor float64

	History []Entry
}

// Planner returns the next step.
type Planner interface {
	Next(ctx context.Context, pc *Context) (Step, error)
}

// Func adapts a function to Planner.
type Func func(ctx context.Context, pc *Context) (Step, error)

// Next calls f.
func (f Func) Next(ctx context.Context, pc *Context) (Step, error) { return f(ctx, pc) }

// Action is the wire form of a Step, shared by LLM responses and scripts.
type Action struct {
	Action string         `json:"action" yaml:"action"`
	Phase  string         `json:"phase,omitempty" yaml:"phase,omitempty"`
	Label  string         `json:"label,omitempty" yaml:"label,omitempty"`
	Detail string         `json:"detail,omitempty" yaml:"detail,omitempty"`
	Text   string         `json:"text,omitempty" yaml:"text,omitempty"`
	Tool   string         `json:"tool,omitempty" yaml:"tool,omitempty"`
	Input  map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
}

// Step converts a wire action.
func (a Action) Step() (Step, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(a.Action))) {
	case KindThink:
		if a.Label == "" && a.Text == "" {
			return Step{}, fmt.Errorf("%w: think needs a label", ErrMalformedAction)
		}
		label := a.Label
		if label == "" {
			label = a.Text
		}
		phase := a.Phase
		if phase == "" {
			phase = "plan"
		}
		return Step{Kind: KindThink, Phase: phase, Label: label, Detail: a.Detail}, nil
	case KindReason:
		return Step{Kind: KindReason, Text: a.Text}, nil
	case KindText:
		return Step{Kind: KindText, Text: a.Text}, nil
	case KindCallTool:
		name, ok := tools.ParseName(a.Tool)
		if !ok {
			return Step{}, fmt.Errorf("%w: unknown tool %q", ErrMalformedAction, a.Tool)
		}
		input := tools.Input(a.Input)
		if input == nil {
			input = tools.Input{}
		}
		return Step{Kind: KindCallTool, Tool: name, Input: input}, nil
	case KindComplete:
		return Step{Kind: KindComplete, Text: a.Text}, nil
	case KindNoChange:
		return Step{Kind: KindNoChange, Text: a.Text}, nil
	case KindAskUser:
		return Step{Kind: KindAskUser, Text: a.Text}, nil
	}
	return Step{}, fmt.Errorf("%w: unknown action %q", ErrMalformedAction, a.Action)
}

// ActionFor converts a Step back to its wire form.
func ActionFor(s Step) Action {
	a := Action{Action: string(s.Kind), Text: s.Text}
	switch s.Kind {
	case KindThink:
		a.Phase, a.Label, a.Detail, a.Text = s.Phase, s.Label, s.Detail, ""
	case KindCallTool:
		a.Tool = s.Tool.String()
		a.Input = s.Input
	}
	return a
}
