package transcript

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/themeagent/internal/events"
	"github.com/fyrsmithlabs/themeagent/internal/outcome"
)

func sampleRun(t *testing.T) []events.Event {
	t.Helper()
	bus := events.NewBus()
	em := events.NewEmitter(bus, "run-1", "coordinator", time.Now())

	em.Thinking("plan", "Reading hero section", "", nil)
	em.Reasoning("need the current markup first")
	em.ToolCall(events.ToolCall{ID: "c1", Name: "read_file", Class: "read", Input: map[string]any{"path": "sections/hero.liquid"}})
	em.ToolResult(events.ToolResult{ID: "c1", Content: strings.Repeat("é", 2500), ElapsedMS: 3})

	spec := em.WithAgent("specialist:css")
	em.ToolCall(events.ToolCall{ID: "c2", Name: "run_specialist", Class: "other"})
	spec.Reasoning("tighten padding")
	spec.ToolCall(events.ToolCall{ID: "c2.1", Name: "search_replace", Class: "edit"})
	spec.ToolResult(events.ToolResult{ID: "c2.1", Content: "replaced 1 occurrence"})
	em.ToolResult(events.ToolResult{ID: "c2", Content: "specialist done"})

	em.Thinking(PhaseUsage, "model usage", "", map[string]string{
		MetaModel: "claude-sonnet-4-5", MetaInputTokens: "1200", MetaOutputTokens: "300", MetaCostCents: "0.81",
	})
	em.ToolCall(events.ToolCall{ID: "c3", Name: "grep_content", Class: "search"})
	em.Text("done")
	em.Outcome(outcome.Outcome{Status: outcome.NeedsInput, SuggestedAction: outcome.SuggestNarrowScope})
	bus.Close()
	return bus.History()
}

func TestBuild_PairsAndSynthesizes(t *testing.T) {
	tr := Build(sampleRun(t), Options{})

	assert.Equal(t, "run-1", tr.RunID)
	require.Len(t, tr.Calls, 4)
	assert.Equal(t, []string{"c1", "c2", "c2.1", "c3"}, []string{tr.Calls[0].ID, tr.Calls[1].ID, tr.Calls[2].ID, tr.Calls[3].ID})

	// Reasoning attaches to the next call from the same agent.
	assert.Equal(t, "need the current markup first", tr.Calls[0].Reasoning)
	assert.Empty(t, tr.Calls[1].Reasoning)
	assert.Equal(t, "tighten padding", tr.Calls[2].Reasoning)

	assert.True(t, tr.Calls[2].SubAgent)
	assert.Equal(t, "specialist:css", tr.Calls[2].Agent)
	assert.False(t, tr.Calls[1].SubAgent)

	first := tr.Calls[0].Result
	assert.True(t, first.Truncated)
	assert.True(t, strings.HasSuffix(first.Content, TruncationMarker))
	assert.Equal(t, DefaultTruncateAt+len([]rune(TruncationMarker)), len([]rune(first.Content)))

	last := tr.Calls[3].Result
	assert.Equal(t, NoResult, last.Content)
	assert.True(t, last.IsError)
	assert.True(t, last.Synthesized)

	require.NotNil(t, tr.Outcome)
	assert.Equal(t, outcome.NeedsInput, tr.Outcome.Status)
	assert.Equal(t, []string{"coordinator", "specialist:css"}, tr.Agents)
	assert.Equal(t, []string{"done"}, tr.Narrative)
}

func TestBuild_Metrics(t *testing.T) {
	m := Build(sampleRun(t), Options{}).Metrics
	assert.Equal(t, 4, m.TotalCalls)
	assert.Equal(t, 1, m.EditCalls)
	assert.Equal(t, 1, m.ReadCalls)
	assert.Equal(t, 1, m.SearchCalls)
	assert.Equal(t, 1, m.ErrorResults)
	assert.Equal(t, 1200, m.InputTokens)
	assert.Equal(t, 300, m.OutputTokens)
	assert.InDelta(t, 0.81, m.CostCents, 1e-9)
}

func TestBuild_Deterministic(t *testing.T) {
	evs := sampleRun(t)
	a, err := Encode(Build(evs, Options{}))
	require.NoError(t, err)
	b, err := Encode(Build(evs, Options{}))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))

	// Input order does not matter; sequence numbers do.
	shuffled := append([]events.Event(nil), evs...)
	for i, j := 0, len(shuffled)-1; i < j; i, j = i+1, j-1 {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	c, err := Encode(Build(shuffled, Options{}))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(c))
}

func TestBuild_EdgeCases(t *testing.T) {
	tr := Build(nil, Options{})
	assert.Empty(t, tr.Calls)
	assert.Nil(t, tr.Outcome)

	evs := []events.Event{
		{Seq: 1, RunID: "r", Type: events.TypeToolResult, ToolResult: &events.ToolResult{ID: "ghost"}},
		{Seq: 2, RunID: "r", Type: events.TypeToolCall, ToolCall: &events.ToolCall{ID: "a", Class: "read"}},
		{Seq: 3, RunID: "r", Type: events.TypeToolCall, ToolCall: &events.ToolCall{ID: "a", Class: "read"}},
		{Seq: 4, RunID: "r", Type: events.TypeToolResult, ToolResult: &events.ToolResult{ID: "a", Content: "ok"}},
		{Seq: 5, RunID: "r", Type: events.TypeToolResult, ToolResult: &events.ToolResult{ID: "a", Content: "again"}},
	}
	tr = Build(evs, Options{TruncateAt: 1})
	require.Len(t, tr.Calls, 1)
	assert.Equal(t, "o"+TruncationMarker, tr.Calls[0].Result.Content)
	assert.Equal(t, []string{"ghost"}, tr.Orphans)
	assert.Empty(t, Unresolved(evs))
	assert.Equal(t, []string{"a"}, Unresolved(evs[:3]))
}

func TestTruncate(t *testing.T) {
	s, cut := Truncate("hello", 5)
	assert.Equal(t, "hello", s)
	assert.False(t, cut)

	s, cut = Truncate("héllo", 2)
	assert.Equal(t, "hé"+TruncationMarker, s)
	assert.True(t, cut)
}

func TestJSONL_RoundTripFeedsBuild(t *testing.T) {
	evs := sampleRun(t)
	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, evs))

	back, err := ReadJSONL(&buf)
	require.NoError(t, err)
	require.Len(t, back, len(evs))

	a, err := Encode(Build(evs, Options{}))
	require.NoError(t, err)
	b, err := Encode(Build(back, Options{}))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	_, err = ReadJSONL(strings.NewReader("{\"seq\":1,\"type\":\"bogus\"}\n"))
	assert.ErrorContains(t, err, "line 1")
}
