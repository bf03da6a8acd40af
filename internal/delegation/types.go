// Package delegation runs specialist and review sub-agents on behalf of the
// planner.
//
// A delegation is a synchronous, single-level sub-loop: the parent blocks
// until the sub-agent finishes or exhausts its own iteration budget, then
// receives one summarized result. Sub-agents never delegate further.
package delegation

import (
	"time"

	"github.com/fyrsmithlabs/themeagent/internal/tools"
)

// Status represents the lifecycle state of a sub-agent.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusExhausted Status = "exhausted"
	StatusFailed    Status = "failed"
)

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[Status][]Status{
	StatusCreated:   {StatusRunning, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusExhausted, StatusFailed},
	StatusCompleted: {},
	StatusExhausted: {},
	StatusFailed:    {},
}

// CanTransitionTo checks if a transition from current status to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusExhausted || s == StatusFailed
}

// Input limits.
const (
	MaxTaskLength    = 4000
	MaxSummaryLength = 8000
)

// SubAgent records one delegation.
type SubAgent struct {
	ID            string               `json:"id"`
	CallID        string               `json:"call_id"`
	Agent         string               `json:"agent"`
	Kind          tools.DelegationKind `json:"kind"`
	Domain        string               `json:"domain,omitempty"`
	Task          string               `json:"task"`
	Files         []string             `json:"files,omitempty"`
	MaxIterations int                  `json:"max_iterations"`
	Iterations    int                  `json:"iterations"`
	Status        Status               `json:"status"`
	Summary       string               `json:"summary,omitempty"`
	Error         string               `json:"error,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
}

// transition moves the sub-agent to target.
func (s *SubAgent) transition(target Status) error {
	if !s.Status.CanTransitionTo(target) {
		return ErrInvalidTransition
	}
	s.Status = target
	if target.IsTerminal() {
		now := time.Now()
		s.CompletedAt = &now
	}
	return nil
}

// Spec describes the sub-loop a Runner executes.
type Spec struct {
	Agent         string
	Role          tools.Role
	Kind          tools.DelegationKind
	Domain        string
	Task          string
	Files         []string
	MaxIterations int
	CallID        string
}

// Outcome is what a sub-loop reports back.
type Outcome struct {
	Summary    string
	Iterations int
	// Exhausted is set when the sub-loop hit MaxIterations without finishing.
	Exhausted bool
}
