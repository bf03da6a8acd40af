package events

import (
	"time"

	"github.com/fyrsmithlabs/themeagent/internal/outcome"
)

// Emitter stamps events with the run id, agent identity and offset from run
// start before publishing them on a Bus.
type Emitter struct {
	bus   *Bus
	runID string
	agent string
	start time.Time
	now   func() time.Time
}

// NewEmitter creates an emitter for one run.
func NewEmitter(bus *Bus, runID, agent string, start time.Time) *Emitter {
	return &Emitter{bus: bus, runID: runID, agent: agent, start: start, now: time.Now}
}

// WithAgent returns an emitter that tags events with a sub-agent identity.
func (em *Emitter) WithAgent(agent string) *Emitter {
	c := *em
	c.agent = agent
	return &c
}

// Agent returns the identity events are tagged with.
func (em *Emitter) Agent() string { return em.agent }

// RunID returns the run the emitter publishes for.
func (em *Emitter) RunID() string { return em.runID }

// Bus returns the underlying bus.
func (em *Emitter) Bus() *Bus { return em.bus }

func (em *Emitter) emit(e Event) Event {
	e.RunID = em.runID
	e.Agent = em.agent
	e.OffsetMS = em.now().Sub(em.start).Milliseconds()
	stamped, _ := em.bus.Publish(e)
	return stamped
}

// Thinking publishes a decision.
func (em *Emitter) Thinking(phase, label, detail string, metadata map[string]string) Event {
	return em.emit(Event{Type: TypeThinking, Thinking: &Thinking{Phase: phase, Label: label, Detail: detail, Metadata: metadata}})
}

// Reasoning publishes a reasoning block.
func (em *Emitter) Reasoning(text string) Event {
	return em.emit(Event{Type: TypeReasoning, Reasoning: &Reasoning{Agent: em.agent, Text: text}})
}

// ToolCall publishes a call announcement.
func (em *Emitter) ToolCall(tc ToolCall) Event {
	return em.emit(Event{Type: TypeToolCall, ToolCall: &tc})
}

// ToolResult publishes a call resolution.
func (em *Emitter) ToolResult(tr ToolResult) Event {
	return em.emit(Event{Type: TypeToolResult, ToolResult: &tr})
}

// Text publishes narrative output.
func (em *Emitter) Text(text string) Event {
	return em.emit(Event{Type: TypeTextChunk, Text: &TextChunk{Text: text}})
}

// Outcome publishes the run's final outcome.
func (em *Emitter) Outcome(o outcome.Outcome) Event {
	return em.emit(Event{Type: TypeExecutionOutcome, Outcome: &o})
}
