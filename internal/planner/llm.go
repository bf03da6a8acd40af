package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/themeagent/internal/llm"
	"github.com/fyrsmithlabs/themeagent/internal/tools"
	"github.com/fyrsmithlabs/themeagent/internal/transcript"
)

// maxObservationChars bounds each observation replayed into the prompt.
const maxObservationChars = 6000

// LLM plans with a completion provider. The model replies with one JSON
// action per turn.
type LLM struct {
	provider  llm.Provider
	maxTokens int
}

// NewLLM creates a planner over provider.
func NewLLM(provider llm.Provider, maxTokens int) *LLM {
	return &LLM{provider: provider, maxTokens: maxTokens}
}

// Next asks the model for one action.
func (p *LLM) Next(ctx context.Context, pc *Context) (Step, error) {
	msgs := Messages(pc)
	c, err := p.provider.Complete(ctx, msgs, llm.Options{Model: pc.Model, MaxTokens: p.maxTokens})
	if err != nil {
		return Step{}, fmt.Errorf("completion: %w", err)
	}
	usage := &Usage{Model: c.Model, InputTokens: c.Usage.InputTokens, OutputTokens: c.Usage.OutputTokens}
	step, err := ParseAction(c.Content)
	if err != nil {
		return Step{Usage: usage}, err
	}
	step.Usage = usage
	return step, nil
}

// ParseAction extracts the first JSON object from a model reply.
func ParseAction(reply string) (Step, error) {
	raw := extractJSON(reply)
	if raw == "" {
		return Step{}, fmt.Errorf("%w: no JSON object in reply", ErrMalformedAction)
	}
	var a Action
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return Step{}, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	return a.Step()
}

// extractJSON returns the first balanced {...} in s, skipping code fences and
// braces inside strings.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inStr, esc := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// Messages renders the planning context as a conversation.
func Messages(pc *Context) []llm.Message {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(pc)},
		{Role: llm.RoleUser, Content: requestPrompt(pc)},
	}
	for _, h := range pc.History {
		switch {
		case h.Step != nil:
			b, _ := json.Marshal(ActionFor(*h.Step))
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: string(b)})
		case h.Observation != nil:
			o := h.Observation
			status := "ok"
			if o.IsError {
				status = "error"
			}
			content, _ := transcript.Truncate(o.Content, maxObservationChars)
			msgs = append(msgs, llm.Message{Role: llm.RoleUser,
				Content: fmt.Sprintf("Result of %s (%s, %s):\n%s", o.Tool, o.CallID, status, content)})
		case h.Note != "":
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: h.Note})
		}
	}
	return mergeAdjacent(msgs)
}

// mergeAdjacent joins consecutive same-role messages; providers reject runs
// of user turns.
func mergeAdjacent(msgs []llm.Message) []llm.Message {
	out := msgs[:0:0]
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role && m.Role != llm.RoleSystem {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}

func systemPrompt(pc *Context) string {
	var b strings.Builder
	switch pc.Role {
	case tools.RoleSpecialist:
		fmt.Fprintf(&b, "You are %s, a specialist editing a Shopify theme on behalf of a planner.\n", pc.Agent)
		b.WriteString("Make only the edits the task asks for, within the files you were given, then complete with a short summary.\n")
	case tools.RoleReviewer:
		fmt.Fprintf(&b, "You are %s, reviewing proposed Shopify theme edits. You cannot edit files.\n", pc.Agent)
		b.WriteString("Read what changed, then complete with findings. Start the summary with APPROVED or CHANGES REQUESTED.\n")
	default:
		b.WriteString("You are the planner for a Shopify theme editing agent.\n")
		b.WriteString("Turn the user's request into validated file edits. Read before you edit. Prefer small, targeted edits.\n")
		if pc.Strategy.SpecialistDelegationAllowed {
			fmt.Fprintf(&b, "You may delegate up to %d file-scoped tasks to specialists (domains: %v).\n",
				pc.Strategy.MaxDelegations, pc.Strategy.SpecialistDomains)
		}
		if pc.Strategy.RequireReview {
			b.WriteString("A review pass is required before your edits are accepted.\n")
		}
	}
	b.WriteString("\nReply with exactly one JSON object per turn:\n")
	b.WriteString(`  {"action":"think","phase":"...","label":"..."}` + "\n")
	b.WriteString(`  {"action":"reason","text":"..."}` + "\n")
	b.WriteString(`  {"action":"tool","tool":"<name>","input":{...}}` + "\n")
	b.WriteString(`  {"action":"complete","text":"<summary of changes>"}` + "\n")
	b.WriteString(`  {"action":"no_change","text":"<why nothing needs to change>"}` + "\n")
	b.WriteString(`  {"action":"ask_user","text":"<question>"}` + "\n")
	b.WriteString("\nTools:\n")
	for _, n := range pc.Toolset {
		fmt.Fprintf(&b, "- %s: %s Input: %s\n", n, n.Description(), n.InputShape())
	}
	return b.String()
}

func requestPrompt(pc *Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n", pc.Request)
	if pc.PlanText != "" {
		fmt.Fprintf(&b, "\nCurrent plan:\n%s\n", pc.PlanText)
	}
	if len(pc.Scope) > 0 {
		fmt.Fprintf(&b, "\nFiles you may edit:\n- %s\n", strings.Join(pc.Scope, "\n- "))
	}
	if len(pc.Files) > 0 {
		fmt.Fprintf(&b, "\nLikely relevant files:\n- %s\n", strings.Join(pc.Files, "\n- "))
	}
	fmt.Fprintf(&b, "\nIteration budget: %d.", pc.MaxIterations)
	if pc.EscalationFactor > 1.0 {
		b.WriteString("\nThis conversation shows repeated actions or errors. Change approach rather than repeating the last action.")
	}
	return b.String()
}
