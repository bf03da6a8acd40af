// Package tools defines the closed set of tools the agent can call and the
// executor that runs them against the file service.
//
// Tool names form a closed enum. Dispatch goes through a fixed-size table
// indexed by Name, so adding a tool means adding an enum value, a spec entry
// and a handler; the table test fails if any of the three is missing.
package tools

import (
	"time"
)

// Class groups tools by effect.
type Class string

const (
	ClassEdit   Class = "edit"
	ClassRead   Class = "read"
	ClassSearch Class = "search"
	ClassOther  Class = "other"
)

// Name identifies a tool.
type Name int

const (
	ReadFile Name = iota
	ParallelBatchRead
	SearchFiles
	GrepContent
	ListFiles
	EditLines
	SearchReplace
	WriteFile
	CreateFile
	DeleteFile
	RunSpecialist
	RunReview
	GetSecondOpinion

	numTools
)

type spec struct {
	name        string
	class       Class
	description string
	input       string
}

var specs = [numTools]spec{
	ReadFile: {"read_file", ClassRead,
		"Read a theme file with line numbers.",
		`{"path": string, "start_line"?: int, "end_line"?: int}`},
	ParallelBatchRead: {"parallel_batch_read", ClassRead,
		"Read several files at once.",
		`{"paths": [string]}`},
	SearchFiles: {"search_files", ClassSearch,
		"Find files whose path matches a glob or substring.",
		`{"query": string}`},
	GrepContent: {"grep_content", ClassSearch,
		"Search file contents with a regular expression.",
		`{"pattern": string, "path_prefix"?: string}`},
	ListFiles: {"list_files", ClassSearch,
		"List files, optionally under a directory.",
		`{"dir"?: string}`},
	EditLines: {"edit_lines", ClassEdit,
		"Replace an inclusive 1-based line range.",
		`{"path": string, "start_line": int, "end_line": int, "new_content": string}`},
	SearchReplace: {"search_replace", ClassEdit,
		"Replace an exact snippet that occurs once, or every occurrence with replace_all.",
		`{"path": string, "search": string, "replace": string, "replace_all"?: bool}`},
	WriteFile: {"write_file", ClassEdit,
		"Overwrite a file with new content.",
		`{"path": string, "content": string}`},
	CreateFile: {"create_file", ClassEdit,
		"Create a file that does not exist yet.",
		`{"path": string, "content": string}`},
	DeleteFile: {"delete_file", ClassEdit,
		"Delete a file.",
		`{"path": string}`},
	RunSpecialist: {"run_specialist", ClassOther,
		"Delegate a scoped task to a domain specialist.",
		`{"domain": "liquid"|"css"|"javascript"|"settings", "task": string, "files": [string]}`},
	RunReview: {"run_review", ClassOther,
		"Ask the review agent to check the current edits.",
		`{"task": string, "files"?: [string]}`},
	GetSecondOpinion: {"get_second_opinion", ClassOther,
		"Ask a separate model for advice without editing.",
		`{"question": string, "files"?: [string]}`},
}

// String returns the wire name of the tool.
func (n Name) String() string {
	if !n.Valid() {
		return "unknown"
	}
	return specs[n].name
}

// Valid reports whether n is a known tool.
func (n Name) Valid() bool { return n >= 0 && n < numTools }

// Class returns the tool's classification.
func (n Name) Class() Class {
	if !n.Valid() {
		return ClassOther
	}
	return specs[n].class
}

// Description is the one-line summary shown to the planner.
func (n Name) Description() string {
	if !n.Valid() {
		return ""
	}
	return specs[n].description
}

// InputShape documents the expected input.
func (n Name) InputShape() string {
	if !n.Valid() {
		return ""
	}
	return specs[n].input
}

// ParseName maps a wire name to a tool.
func ParseName(s string) (Name, bool) {
	for i := Name(0); i < numTools; i++ {
		if specs[i].name == s {
			return i, true
		}
	}
	return -1, false
}

// Role is the kind of agent issuing a call.
type Role string

const (
	RolePlanner    Role = "planner"
	RoleSpecialist Role = "specialist"
	RoleReviewer   Role = "reviewer"
)

// Allowed reports whether a role may call a tool. Sub-agents never delegate,
// and reviewers never edit.
func Allowed(r Role, n Name) bool {
	if !n.Valid() {
		return false
	}
	switch r {
	case RolePlanner:
		return true
	case RoleSpecialist:
		return n.Class() != ClassOther
	case RoleReviewer:
		c := n.Class()
		return c == ClassRead || c == ClassSearch
	}
	return false
}

// Toolset lists the tools a role may call, in enum order.
func Toolset(r Role) []Name {
	var out []Name
	for i := Name(0); i < numTools; i++ {
		if Allowed(r, i) {
			out = append(out, i)
		}
	}
	return out
}

// Call is one tool invocation.
type Call struct {
	ID    string `json:"id"`
	Name  Name   `json:"-"`
	Input Input  `json:"input,omitempty"`
	// Agent identifies the emitting agent, e.g. "coordinator" or "specialist:css".
	Agent     string    `json:"agent"`
	Role      Role      `json:"-"`
	Reasoning string    `json:"reasoning,omitempty"`
	EmittedAt time.Time `json:"emittedAt"`
}

// Result is the outcome of one Call.
type Result struct {
	CallID  string        `json:"id"`
	Content string        `json:"content"`
	IsError bool          `json:"isError"`
	Elapsed time.Duration `json:"-"`
}

// ElapsedMS is Elapsed in whole milliseconds.
func (r Result) ElapsedMS() int64 { return r.Elapsed.Milliseconds() }
