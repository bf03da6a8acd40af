// Package arc tracks the turn history of a conversation and detects
// stagnation across runs.
//
// State is an immutable value. Append is a pure transition that returns the
// next state and any escalations the new turn triggered; callers that need a
// long-lived arc per conversation use Tracker.
package arc

import (
	"fmt"
	"strings"
	"time"
)

// Trigger identifies the kind of escalation.
type Trigger string

const (
	LoopDetected   Trigger = "loop_detected"
	ErrorCascade   Trigger = "error_cascade"
	ScopeExpansion Trigger = "scope_expansion"
)

const (
	loopWindow       = 3
	cascadeWindow    = 4
	cascadeThreshold = 2
)

// Turn is one conversational turn.
type Turn struct {
	Number     int       `json:"number"`
	Role       string    `json:"role"`
	ActionType string    `json:"actionType,omitempty"`
	At         time.Time `json:"at"`
}

// Escalation is a recorded behavioral anomaly.
type Escalation struct {
	Trigger Trigger   `json:"trigger"`
	Turn    int       `json:"turn"`
	Details string    `json:"details"`
	At      time.Time `json:"at"`
}

// State is a snapshot of a conversation arc. The zero value is an empty arc.
type State struct {
	turns       []Turn
	escalations []Escalation
}

// New returns an empty arc.
func New() State { return State{} }

// FromHistory rebuilds a state from stored turns and escalations.
func FromHistory(turns []Turn, escalations []Escalation) State {
	return State{
		turns:       append([]Turn(nil), turns...),
		escalations: append([]Escalation(nil), escalations...),
	}
}

// Turns returns a copy of the turn history.
func (s State) Turns() []Turn { return append([]Turn(nil), s.turns...) }

// Escalations returns a copy of the recorded escalations.
func (s State) Escalations() []Escalation { return append([]Escalation(nil), s.escalations...) }

// TurnCount is the number of turns recorded.
func (s State) TurnCount() int { return len(s.turns) }

func (s State) lastTurn() int {
	if len(s.turns) == 0 {
		return 0
	}
	return s.turns[len(s.turns)-1].Number
}

func (s State) has(t Trigger, turn int) bool {
	for _, e := range s.escalations {
		if e.Trigger == t && e.Turn == turn {
			return true
		}
	}
	return false
}

func (s State) record(e Escalation) State {
	// Full slice expression forces a copy so earlier states stay untouched.
	s.escalations = append(s.escalations[:len(s.escalations):len(s.escalations)], e)
	return s
}

// Append adds a turn and runs loop and error-cascade detection against it.
// A turn with Number 0 is numbered after the previous one.
func Append(s State, t Turn) (State, []Escalation) {
	if t.Number == 0 {
		t.Number = s.lastTurn() + 1
	}
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	s.turns = append(s.turns[:len(s.turns):len(s.turns)], t)

	var triggered []Escalation
	var e *Escalation
	if s, e = DetectLoop(s); e != nil {
		triggered = append(triggered, *e)
	}
	if s, e = DetectErrorCascade(s); e != nil {
		triggered = append(triggered, *e)
	}
	return s, triggered
}

// DetectLoop records loop_detected when the last three turns carry the same
// action type. It returns nil when nothing new was recorded, including when the
// latest turn was already flagged.
func DetectLoop(s State) (State, *Escalation) {
	if len(s.turns) < loopWindow {
		return s, nil
	}
	window := s.turns[len(s.turns)-loopWindow:]
	action := window[0].ActionType
	if action == "" {
		return s, nil
	}
	for _, t := range window[1:] {
		if t.ActionType != action {
			return s, nil
		}
	}
	turn := window[len(window)-1].Number
	if s.has(LoopDetected, turn) {
		return s, nil
	}
	e := Escalation{
		Trigger: LoopDetected,
		Turn:    turn,
		Details: fmt.Sprintf("Action %q repeated %d times consecutively", action, loopWindow),
		At:      time.Now().UTC(),
	}
	return s.record(e), &e
}

// DetectErrorCascade records error_cascade when at least two of the last four
// turns (or all turns, when fewer exist) have an action type mentioning an
// error or a fix.
func DetectErrorCascade(s State) (State, *Escalation) {
	if len(s.turns) == 0 {
		return s, nil
	}
	start := len(s.turns) - cascadeWindow
	if start < 0 {
		start = 0
	}
	window := s.turns[start:]
	matches := 0
	for _, t := range window {
		a := strings.ToLower(t.ActionType)
		if strings.Contains(a, "error") || strings.Contains(a, "fix") {
			matches++
		}
	}
	if matches < cascadeThreshold {
		return s, nil
	}
	turn := window[len(window)-1].Number
	if s.has(ErrorCascade, turn) {
		return s, nil
	}
	e := Escalation{
		Trigger: ErrorCascade,
		Turn:    turn,
		Details: fmt.Sprintf("%d of the last %d turns were errors or fixes", matches, len(window)),
		At:      time.Now().UTC(),
	}
	return s.record(e), &e
}

// RecordScopeExpansion records a scope_expansion escalation at the latest turn.
func RecordScopeExpansion(s State, details string) (State, *Escalation) {
	turn := s.lastTurn()
	if s.has(ScopeExpansion, turn) {
		return s, nil
	}
	e := Escalation{Trigger: ScopeExpansion, Turn: turn, Details: details, At: time.Now().UTC()}
	return s.record(e), &e
}

// SuggestionLevel gates how ambitious a proactive suggestion may be.
type SuggestionLevel string

const (
	SuggestSimple       SuggestionLevel = "simple"
	SuggestIntermediate SuggestionLevel = "intermediate"
	SuggestAdvanced     SuggestionLevel = "advanced"
)

// SuggestionLevel maps the turn count to a suggestion tier.
func (s State) SuggestionLevel() SuggestionLevel {
	switch n := s.lastTurn(); {
	case n <= 2:
		return SuggestSimple
	case n <= 4:
		return SuggestIntermediate
	default:
		return SuggestAdvanced
	}
}

// EscalationFactor is 2.0 with any error cascade, 1.5 with any loop, else 1.0.
func (s State) EscalationFactor() float64 {
	loop := false
	for _, e := range s.escalations {
		switch e.Trigger {
		case ErrorCascade:
			return 2.0
		case LoopDetected:
			loop = true
		}
	}
	if loop {
		return 1.5
	}
	return 1.0
}

// Reset returns an empty arc. It is the only way escalations are removed.
func (s State) Reset() State { return State{} }
