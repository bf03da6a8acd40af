package planner

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultAgent keys the script used by agents without their own.
const DefaultAgent = "*"

// Script is the file form of a scripted run:
//
//	agents:
//	  coordinator:
//	    - {action: tool, tool: read_file, input: {path: sections/hero.liquid}}
//	    - {action: complete, text: done}
//	  specialist:css:
//	    - {action: complete, text: nothing to do}
type Script struct {
	Agents map[string][]Action `yaml:"agents"`
}

// Scripted replays fixed steps per agent.
type Scripted struct {
	mu     sync.Mutex
	queues map[string][]Step
}

// NewScripted creates a planner with per-agent step queues.
func NewScripted(steps map[string][]Step) *Scripted {
	q := make(map[string][]Step, len(steps))
	for k, v := range steps {
		q[k] = append([]Step(nil), v...)
	}
	return &Scripted{queues: q}
}

// ParseScript decodes a YAML script.
func ParseScript(data []byte) (*Scripted, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	steps := make(map[string][]Step, len(s.Agents))
	for agent, actions := range s.Agents {
		for i, a := range actions {
			st, err := a.Step()
			if err != nil {
				return nil, fmt.Errorf("script %s step %d: %w", agent, i+1, err)
			}
			steps[agent] = append(steps[agent], st)
		}
	}
	return NewScripted(steps), nil
}

// LoadScript reads a YAML script file.
func LoadScript(path string) (*Scripted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data)
}

// Next pops the agent's next step.
func (s *Scripted) Next(ctx context.Context, pc *Context) (Step, error) {
	if err := ctx.Err(); err != nil {
		return Step{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pc.Agent
	if _, ok := s.queues[key]; !ok {
		key = DefaultAgent
	}
	q := s.queues[key]
	if len(q) == 0 {
		return Step{}, fmt.Errorf("%w for %s", ErrScriptExhausted, pc.Agent)
	}
	s.queues[key] = q[1:]
	return q[0], nil
}

// Remaining reports how many steps are left for an agent.
func (s *Scripted) Remaining(agent string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[agent])
}
