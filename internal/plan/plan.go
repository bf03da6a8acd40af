// Package plan reads the optional plan and todo checklist injected into
// planning context.
package plan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// ErrInvalidTOML is returned when a plan file cannot be parsed.
var ErrInvalidTOML = errors.New("invalid plan file")

// Todo is one checklist item.
type Todo struct {
	Text string `toml:"text" json:"text"`
	Done bool   `toml:"done" json:"done"`
}

// Plan is the current plan of record for a theme.
type Plan struct {
	Title string `toml:"title" json:"title,omitempty"`
	Text  string `toml:"text" json:"text,omitempty"`
	Todos []Todo `toml:"todos" json:"todos,omitempty"`
}

// Empty reports whether the plan carries no context.
func (p Plan) Empty() bool {
	return strings.TrimSpace(p.Title) == "" && strings.TrimSpace(p.Text) == "" && len(p.Todos) == 0
}

// Render formats the plan as planner context.
func (p Plan) Render() string {
	if p.Empty() {
		return ""
	}
	var b strings.Builder
	if p.Title != "" {
		fmt.Fprintf(&b, "Plan: %s\n", p.Title)
	}
	if t := strings.TrimSpace(p.Text); t != "" {
		b.WriteString(t)
		b.WriteString("\n")
	}
	if len(p.Todos) > 0 {
		b.WriteString("Todos:\n")
		for _, td := range p.Todos {
			mark := " "
			if td.Done {
				mark = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s\n", mark, td.Text)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Store provides read-only plan context.
type Store interface {
	Load(ctx context.Context) (Plan, error)
}

// FileStore reads a TOML plan file. A missing file is an empty plan.
type FileStore struct {
	path string
}

// NewFileStore creates a store over path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load parses the plan file.
func (s *FileStore) Load(_ context.Context) (Plan, error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Plan{}, nil
		}
		return Plan{}, err
	}
	var p Plan
	if _, err := toml.DecodeFile(s.path, &p); err != nil {
		return Plan{}, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, s.path, err)
	}
	return p, nil
}

// Parse decodes plan TOML from a string.
func Parse(data string) (Plan, error) {
	var p Plan
	if _, err := toml.Decode(data, &p); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrInvalidTOML, err)
	}
	return p, nil
}

// MemoryStore holds a plan in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	plan Plan
}

// NewMemoryStore creates a store holding p.
func NewMemoryStore(p Plan) *MemoryStore {
	return &MemoryStore{plan: p}
}

// Load returns the held plan.
func (s *MemoryStore) Load(context.Context) (Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan, nil
}

// Set replaces the held plan.
func (s *MemoryStore) Set(p Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = p
}
