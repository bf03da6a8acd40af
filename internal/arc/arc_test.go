package arc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(actions ...string) State {
	s := New()
	for _, a := range actions {
		s, _ = Append(s, Turn{Role: "assistant", ActionType: a})
	}
	return s
}

func TestDetectLoop_AtTurnFive(t *testing.T) {
	s := build("read", "search")
	var triggered []Escalation
	for _, a := range []string{"edit", "edit", "edit"} {
		s, triggered = Append(s, Turn{Role: "assistant", ActionType: a})
	}

	require.Len(t, triggered, 1)
	assert.Equal(t, LoopDetected, triggered[0].Trigger)
	assert.Equal(t, 5, triggered[0].Turn)
	assert.Equal(t, `Action "edit" repeated 3 times consecutively`, triggered[0].Details)

	again, e := DetectLoop(s)
	assert.Nil(t, e)
	assert.Len(t, again.Escalations(), 1)
}

func TestDetectLoop_NeedsActionTypes(t *testing.T) {
	s := build("", "", "")
	assert.Empty(t, s.Escalations())

	s = build("edit", "read", "edit")
	assert.Empty(t, s.Escalations())
}

func TestDetectErrorCascade(t *testing.T) {
	s := build("fix", "ok", "error")
	require.Len(t, s.Escalations(), 1)
	assert.Equal(t, ErrorCascade, s.Escalations()[0].Trigger)
	assert.Equal(t, 3, s.Escalations()[0].Turn)

	s, triggered := Append(s, Turn{Role: "assistant", ActionType: "fix"})
	require.Len(t, triggered, 1)
	assert.Equal(t, ErrorCascade, triggered[0].Trigger)
	assert.Equal(t, 4, triggered[0].Turn)
	assert.Len(t, s.Escalations(), 2)

	_, e := DetectErrorCascade(s)
	assert.Nil(t, e)
}

func TestDetectErrorCascade_LastFourOnly(t *testing.T) {
	s := build("fix_css", "Error_retry", "read", "read", "read")
	// turn 5 window is turns 2-5: one match
	for _, e := range s.Escalations() {
		if e.Trigger == ErrorCascade {
			assert.Less(t, e.Turn, 5)
		}
	}
}

func TestEscalationFactor(t *testing.T) {
	tests := []struct {
		name string
		escs []Escalation
		want float64
	}{
		{"none", nil, 1.0},
		{"loop only", []Escalation{{Trigger: LoopDetected, Turn: 3}}, 1.5},
		{"cascade only", []Escalation{{Trigger: ErrorCascade, Turn: 2}}, 2.0},
		{"both", []Escalation{{Trigger: LoopDetected, Turn: 3}, {Trigger: ErrorCascade, Turn: 4}}, 2.0},
		{"scope only", []Escalation{{Trigger: ScopeExpansion, Turn: 1}}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromHistory(nil, tt.escs).EscalationFactor())
		})
	}
}

func TestSuggestionLevel(t *testing.T) {
	assert.Equal(t, SuggestSimple, New().SuggestionLevel())
	assert.Equal(t, SuggestSimple, build("a", "b").SuggestionLevel())
	assert.Equal(t, SuggestIntermediate, build("a", "b", "c").SuggestionLevel())
	assert.Equal(t, SuggestIntermediate, build("a", "b", "c", "d").SuggestionLevel())
	assert.Equal(t, SuggestAdvanced, build("a", "b", "c", "d", "e").SuggestionLevel())
}

func TestAppend_DoesNotMutatePrevious(t *testing.T) {
	base := build("edit", "edit")
	next, triggered := Append(base, Turn{ActionType: "edit"})

	assert.Len(t, triggered, 1)
	assert.Equal(t, 2, base.TurnCount())
	assert.Empty(t, base.Escalations())
	assert.Equal(t, 3, next.TurnCount())

	// Two branches from the same base must not share backing arrays.
	other, _ := Append(base, Turn{ActionType: "read"})
	assert.Equal(t, "edit", next.Turns()[2].ActionType)
	assert.Equal(t, "read", other.Turns()[2].ActionType)
}

func TestEscalations_Monotonic(t *testing.T) {
	s := New()
	prev := 0
	for _, a := range []string{"edit", "edit", "edit", "fix", "error", "edit", "edit", "edit", "fix"} {
		s, _ = Append(s, Turn{ActionType: a})
		n := len(s.Escalations())
		assert.GreaterOrEqual(t, n, prev)
		prev = n
	}
	assert.Positive(t, prev)

	s = s.Reset()
	assert.Zero(t, s.TurnCount())
	assert.Empty(t, s.Escalations())
	assert.Equal(t, 1.0, s.EscalationFactor())
}

func TestRecordScopeExpansion(t *testing.T) {
	s := build("read")
	s, e := RecordScopeExpansion(s, "request grew to cover checkout")
	require.NotNil(t, e)
	assert.Equal(t, 1, e.Turn)

	_, dup := RecordScopeExpansion(s, "again")
	assert.Nil(t, dup)
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 3; i++ {
		tr.Append("c1", Turn{ActionType: "edit_lines"})
	}
	tr.Append("c2", Turn{ActionType: "read_file"})

	assert.Equal(t, 1.5, tr.Get("c1").EscalationFactor())
	assert.Equal(t, 1.0, tr.Get("c2").EscalationFactor())

	tr.Reset("c1")
	assert.Zero(t, tr.Get("c1").TurnCount())
	assert.Equal(t, 1, tr.Get("c2").TurnCount())
}
