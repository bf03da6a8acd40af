// Package transcript structures a captured event sequence into a run record
// for offline diagnosis.
//
// Build is a pure function of its input: the same events always produce the
// same Transcript, and Encode renders it byte-identically.
package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/fyrsmithlabs/themeagent/internal/events"
	"github.com/fyrsmithlabs/themeagent/internal/outcome"
)

// NoResult is the content synthesized for a call that never resolved.
const NoResult = "(no result received)"

// DefaultTruncateAt is the stored result size limit in characters.
const DefaultTruncateAt = 2000

// TruncationMarker is appended to shortened results.
const TruncationMarker = "\n... [truncated]"

// PhaseUsage marks thinking events that carry model usage metadata.
const PhaseUsage = "usage"

// Usage metadata keys.
const (
	MetaModel        = "model"
	MetaInputTokens  = "input_tokens"
	MetaOutputTokens = "output_tokens"
	MetaCostCents    = "cost_cents"
)

// Options controls Build.
type Options struct {
	// TruncateAt limits stored result content. Zero uses DefaultTruncateAt.
	TruncateAt int
}

// Call is a tool call paired with its resolution.
type Call struct {
	Seq       int64          `json:"seq"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Class     string         `json:"class"`
	Agent     string         `json:"agent"`
	SubAgent  bool           `json:"subAgent"`
	Input     map[string]any `json:"input,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	OffsetMS  int64          `json:"offsetMs"`
	Result    Result         `json:"result"`
}

// Result is the stored resolution of a Call.
type Result struct {
	Content     string `json:"content"`
	IsError     bool   `json:"isError"`
	Truncated   bool   `json:"truncated,omitempty"`
	Synthesized bool   `json:"synthesized,omitempty"`
	ElapsedMS   int64  `json:"elapsedMs"`
}

// Decision is a recorded thinking event.
type Decision struct {
	Seq      int64             `json:"seq"`
	Agent    string            `json:"agent"`
	Phase    string            `json:"phase"`
	Label    string            `json:"label"`
	Detail   string            `json:"detail,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	OffsetMS int64             `json:"offsetMs"`
}

// Metrics summarizes a run.
type Metrics struct {
	TotalCalls   int     `json:"totalCalls"`
	EditCalls    int     `json:"editCalls"`
	ReadCalls    int     `json:"readCalls"`
	SearchCalls  int     `json:"searchCalls"`
	ErrorResults int     `json:"errorResults"`
	ElapsedMS    int64   `json:"elapsedMs"`
	CostCents    float64 `json:"costCents"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
}

// Transcript is the structured record of one run.
type Transcript struct {
	RunID     string           `json:"runId"`
	Agents    []string         `json:"agents"`
	Decisions []Decision       `json:"decisions"`
	Calls     []Call           `json:"calls"`
	Narrative []string         `json:"narrative,omitempty"`
	Outcome   *outcome.Outcome `json:"outcome,omitempty"`
	Metrics   Metrics          `json:"metrics"`
	// Orphans are results whose call id was never announced.
	Orphans []string `json:"orphans,omitempty"`
}

// Build structures events. Events are processed in sequence order; ties keep
// input order.
func Build(evs []events.Event, opts Options) Transcript {
	limit := opts.TruncateAt
	if limit <= 0 {
		limit = DefaultTruncateAt
	}
	ordered := append([]events.Event(nil), evs...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	t := Transcript{Decisions: []Decision{}, Calls: []Call{}, Agents: []string{}}
	pending := map[string]int{}
	resolved := map[string]bool{}
	agents := map[string]bool{}
	rootAgent := ""
	lastReasoning := map[string]string{}

	for _, e := range ordered {
		if t.RunID == "" {
			t.RunID = e.RunID
		}
		if e.Agent != "" {
			if rootAgent == "" {
				rootAgent = e.Agent
			}
			agents[e.Agent] = true
		}
		if e.OffsetMS > t.Metrics.ElapsedMS {
			t.Metrics.ElapsedMS = e.OffsetMS
		}

		switch e.Type {
		case events.TypeThinking:
			if e.Thinking == nil {
				continue
			}
			if e.Thinking.Phase == PhaseUsage {
				addUsage(&t.Metrics, e.Thinking.Metadata)
			}
			t.Decisions = append(t.Decisions, Decision{
				Seq:      e.Seq,
				Agent:    e.Agent,
				Phase:    e.Thinking.Phase,
				Label:    e.Thinking.Label,
				Detail:   e.Thinking.Detail,
				Metadata: e.Thinking.Metadata,
				OffsetMS: e.OffsetMS,
			})

		case events.TypeReasoning:
			if e.Reasoning != nil {
				lastReasoning[e.Agent] = e.Reasoning.Text
			}

		case events.TypeToolCall:
			if e.ToolCall == nil {
				continue
			}
			tc := e.ToolCall
			reasoning := tc.Reasoning
			if reasoning == "" {
				reasoning = lastReasoning[e.Agent]
			}
			delete(lastReasoning, e.Agent)
			if _, dup := pending[tc.ID]; dup || resolved[tc.ID] {
				continue
			}
			pending[tc.ID] = len(t.Calls)
			t.Calls = append(t.Calls, Call{
				Seq:       e.Seq,
				ID:        tc.ID,
				Name:      tc.Name,
				Class:     tc.Class,
				Agent:     e.Agent,
				SubAgent:  rootAgent != "" && e.Agent != rootAgent,
				Input:     tc.Input,
				Reasoning: reasoning,
				OffsetMS:  e.OffsetMS,
			})
			countCall(&t.Metrics, tc.Class)

		case events.TypeToolResult:
			if e.ToolResult == nil {
				continue
			}
			tr := e.ToolResult
			idx, ok := pending[tr.ID]
			if !ok {
				if !resolved[tr.ID] {
					t.Orphans = append(t.Orphans, tr.ID)
				}
				continue
			}
			delete(pending, tr.ID)
			resolved[tr.ID] = true
			content, cut := Truncate(tr.Content, limit)
			t.Calls[idx].Result = Result{Content: content, IsError: tr.IsError, Truncated: cut, ElapsedMS: tr.ElapsedMS}
			if tr.IsError {
				t.Metrics.ErrorResults++
			}

		case events.TypeTextChunk:
			if e.Text != nil {
				t.Narrative = append(t.Narrative, e.Text.Text)
			}

		case events.TypeExecutionOutcome:
			if e.Outcome != nil && t.Outcome == nil {
				o := *e.Outcome
				t.Outcome = &o
			}
		}
	}

	for _, idx := range sortedIndexes(pending) {
		t.Calls[idx].Result = Result{Content: NoResult, IsError: true, Synthesized: true}
		t.Metrics.ErrorResults++
	}

	for a := range agents {
		t.Agents = append(t.Agents, a)
	}
	sort.Strings(t.Agents)
	return t
}

// Unresolved returns the ids of calls in evs that have no result, in emission
// order.
func Unresolved(evs []events.Event) []string {
	var ids []string
	for _, c := range Build(evs, Options{}).Calls {
		if c.Result.Synthesized {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func sortedIndexes(m map[string]int) []int {
	out := make([]int, 0, len(m))
	for _, i := range m {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func countCall(m *Metrics, class string) {
	m.TotalCalls++
	switch class {
	case "edit":
		m.EditCalls++
	case "read":
		m.ReadCalls++
	case "search":
		m.SearchCalls++
	}
}

func addUsage(m *Metrics, meta map[string]string) {
	if n, err := strconv.Atoi(meta[MetaInputTokens]); err == nil {
		m.InputTokens += n
	}
	if n, err := strconv.Atoi(meta[MetaOutputTokens]); err == nil {
		m.OutputTokens += n
	}
	if c, err := strconv.ParseFloat(meta[MetaCostCents], 64); err == nil {
		m.CostCents += c
	}
}

// Truncate shortens s to at most limit runes plus a marker. It reports whether
// s was shortened.
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + TruncationMarker, true
		}
		n++
	}
	return s, false
}

// Encode renders t as indented JSON. Map keys are sorted by encoding/json, so
// the output is deterministic.
func Encode(t Transcript) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	return buf.Bytes(), nil
}
