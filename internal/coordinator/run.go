package coordinator

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/themeagent/internal/events"
	"github.com/fyrsmithlabs/themeagent/internal/outcome"
	"github.com/fyrsmithlabs/themeagent/internal/strategy"
	"github.com/fyrsmithlabs/themeagent/internal/tools"
)

// State is the coordinator's position in the loop.
type State string

const (
	StatePlanning      State = "planning"
	StateToolExecution State = "tool_execution"
	StateObserving     State = "observing"
	StateValidating    State = "validating"
	StateTerminated    State = "terminated"
)

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[State][]State{
	StatePlanning:      {StatePlanning, StateToolExecution, StateValidating, StateTerminated},
	StateToolExecution: {StateObserving, StateTerminated},
	StateObserving:     {StatePlanning, StateValidating, StateTerminated},
	StateValidating:    {StatePlanning, StateToolExecution, StateTerminated},
	StateTerminated:    {},
}

// CanTransitionTo checks if a transition from current state to target is valid.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state.
func (s State) IsTerminal() bool { return s == StateTerminated }

// Request is one user change request.
type Request struct {
	// RunID is optional; one is generated when empty.
	RunID          string   `json:"runId,omitempty"`
	ConversationID string   `json:"conversationId,omitempty"`
	Text           string   `json:"text"`
	Plan           string   `json:"plan,omitempty"`
	Tier           string   `json:"tier,omitempty"`
	Scope          []string `json:"scope,omitempty"`
	FileHints      []string `json:"fileHints,omitempty"`
}

// Run is one bounded execution of the loop. It is owned by the Coordinator
// until terminated; other goroutines may only observe it or Cancel it.
type Run struct {
	ID             string
	ConversationID string
	Request        Request
	Strategy       strategy.Strategy
	StartedAt      time.Time

	bus *events.Bus

	mu           sync.Mutex
	state        State
	iterations   int
	callSeq      int
	pending      map[string]tools.Call
	costCents    float64
	inputTokens  int
	outputTokens int
	outcome      *outcome.Outcome
	cancelReason string

	started    atomic.Bool
	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}
}

func newRun(id string, req Request, st strategy.Strategy) *Run {
	return &Run{
		ID:             id,
		ConversationID: req.ConversationID,
		Request:        req,
		Strategy:       st,
		StartedAt:      time.Now(),
		bus:            events.NewBus(),
		state:          StatePlanning,
		pending:        make(map[string]tools.Call),
		cancelCh:       make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Bus returns the run's event stream.
func (r *Run) Bus() *events.Bus { return r.bus }

// Cancel asks the run to stop. Calling it more than once has no further
// effect; the first reason wins.
func (r *Run) Cancel(reason string) {
	r.cancelOnce.Do(func() {
		r.mu.Lock()
		r.cancelReason = reason
		r.mu.Unlock()
		close(r.cancelCh)
	})
}

// Cancelled reports whether Cancel was called.
func (r *Run) Cancelled() bool {
	select {
	case <-r.cancelCh:
		return true
	default:
		return false
	}
}

// Done is closed once the outcome is finalized.
func (r *Run) Done() <-chan struct{} { return r.done }

// Outcome returns the finalized outcome, if any.
func (r *Run) Outcome() (outcome.Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcome == nil {
		return outcome.Outcome{}, false
	}
	return *r.outcome, true
}

// State returns the current loop state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Iterations returns the number of planning steps taken.
func (r *Run) Iterations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.iterations
}

// Usage returns accumulated cost and tokens.
func (r *Run) Usage() (costCents float64, inputTokens, outputTokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.costCents, r.inputTokens, r.outputTokens
}

// Pending returns the ids of calls awaiting a result.
func (r *Run) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	return ids
}

// transition moves the run to another state. Invalid moves are refused.
func (r *Run) transition(to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == to {
		return true
	}
	if !r.state.CanTransitionTo(to) {
		return false
	}
	r.state = to
	return true
}

func (r *Run) step() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iterations++
	return r.iterations
}

func (r *Run) addPending(c tools.Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[c.ID] = c
}

func (r *Run) resolve(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}

// drainPending removes and returns calls that never resolved, in id order.
func (r *Run) drainPending() []tools.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]tools.Call, 0, len(r.pending))
	for _, c := range r.pending {
		out = append(out, c)
	}
	r.pending = make(map[string]tools.Call)
	sort.Slice(out, func(i, j int) bool { return out[i].EmittedAt.Before(out[j].EmittedAt) })
	return out
}

func (r *Run) terminate(o outcome.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateTerminated
	r.outcome = &o
}

func (r *Run) nextCallID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callSeq++
	return fmt.Sprintf("call_%d", r.callSeq)
}

func (r *Run) addUsage(cost float64, in, out int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.costCents += cost
	r.inputTokens += in
	r.outputTokens += out
}

func (r *Run) reason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelReason
}
