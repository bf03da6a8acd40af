// Package events carries the ordered, typed event stream a run produces.
//
// The Coordinator publishes through an Emitter onto a per-run Bus. Any number
// of consumers subscribe independently; publishing never waits on a consumer.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/themeagent/internal/outcome"
)

// Type is the event discriminator.
type Type string

const (
	TypeThinking         Type = "thinking"
	TypeReasoning        Type = "reasoning"
	TypeToolCall         Type = "tool_call"
	TypeToolResult       Type = "tool_result"
	TypeTextChunk        Type = "text_chunk"
	TypeExecutionOutcome Type = "execution_outcome"
)

// Types lists every event type.
var Types = []Type{TypeThinking, TypeReasoning, TypeToolCall, TypeToolResult, TypeTextChunk, TypeExecutionOutcome}

// Thinking is a Decision: a phase marker in the agent's progress.
type Thinking struct {
	Phase    string            `json:"phase"`
	Label    string            `json:"label"`
	Detail   string            `json:"detail,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Reasoning is a block of agent reasoning text.
type Reasoning struct {
	Agent string `json:"agent"`
	Text  string `json:"text"`
}

// ToolCall announces a tool invocation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input,omitempty"`
	Class     string         `json:"class,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// ToolResult resolves a ToolCall by id.
type ToolResult struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// TextChunk is free-form narrative output.
type TextChunk struct {
	Text string `json:"text"`
}

// Event is one entry in a run's stream. Exactly one payload field is set,
// matching Type.
type Event struct {
	Seq      int64  `json:"seq"`
	RunID    string `json:"runId"`
	Type     Type   `json:"type"`
	Agent    string `json:"agent,omitempty"`
	OffsetMS int64  `json:"offsetMs"`

	Thinking   *Thinking        `json:"thinking,omitempty"`
	Reasoning  *Reasoning       `json:"reasoning,omitempty"`
	ToolCall   *ToolCall        `json:"tool_call,omitempty"`
	ToolResult *ToolResult      `json:"tool_result,omitempty"`
	Text       *TextChunk       `json:"text_chunk,omitempty"`
	Outcome    *outcome.Outcome `json:"execution_outcome,omitempty"`
}

// Payload returns the event's typed body.
func (e Event) Payload() any {
	switch e.Type {
	case TypeThinking:
		return e.Thinking
	case TypeReasoning:
		return e.Reasoning
	case TypeToolCall:
		return e.ToolCall
	case TypeToolResult:
		return e.ToolResult
	case TypeTextChunk:
		return e.Text
	case TypeExecutionOutcome:
		return e.Outcome
	}
	return nil
}

// Validate checks that the payload matches the type.
func (e Event) Validate() error {
	p := e.Payload()
	if p == nil {
		return fmt.Errorf("event %d: unknown type %q", e.Seq, e.Type)
	}
	switch v := p.(type) {
	case *Thinking:
		if v == nil {
			return fmt.Errorf("event %d: missing thinking payload", e.Seq)
		}
	case *Reasoning:
		if v == nil {
			return fmt.Errorf("event %d: missing reasoning payload", e.Seq)
		}
	case *ToolCall:
		if v == nil || v.ID == "" {
			return fmt.Errorf("event %d: tool_call requires an id", e.Seq)
		}
	case *ToolResult:
		if v == nil || v.ID == "" {
			return fmt.Errorf("event %d: tool_result requires an id", e.Seq)
		}
	case *TextChunk:
		if v == nil {
			return fmt.Errorf("event %d: missing text payload", e.Seq)
		}
	case *outcome.Outcome:
		if v == nil {
			return fmt.Errorf("event %d: missing outcome payload", e.Seq)
		}
		return v.Validate()
	}
	return nil
}

// PayloadJSON encodes the typed body for SSE and NATS delivery.
func (e Event) PayloadJSON() ([]byte, error) {
	return json.Marshal(e.Payload())
}
