// Package outcome defines the single durable result of a run.
package outcome

import "fmt"

// Status is the closed set of run results.
type Status string

const (
	Applied       Status = "applied"
	NoChange      Status = "no-change"
	BlockedPolicy Status = "blocked-policy"
	NeedsInput    Status = "needs-input"
)

// Statuses lists every valid status.
var Statuses = []Status{Applied, NoChange, BlockedPolicy, NeedsInput}

// Valid reports whether s is one of the four statuses.
func (s Status) Valid() bool {
	switch s {
	case Applied, NoChange, BlockedPolicy, NeedsInput:
		return true
	}
	return false
}

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown outcome status %q", s)
	}
	return st, nil
}

// ValidationIssue is one failing gate and whether its edits were kept.
type ValidationIssue struct {
	Gate        string   `json:"gate"`
	Errors      []string `json:"errors"`
	ChangesKept bool     `json:"changesKept"`
}

// Suggested actions attached to non-applied outcomes.
const (
	SuggestNarrowScope = "ask for clarification or narrower scope"
	SuggestRetry       = "retry the request"
	SuggestReviewGates = "revise the request so edits satisfy validation"
)

// Outcome is finalized exactly once per run.
type Outcome struct {
	Status           Status            `json:"outcome"`
	ChangedFiles     int               `json:"changedFiles"`
	ChangeSummary    string            `json:"changeSummary,omitempty"`
	FailureReason    string            `json:"failureReason,omitempty"`
	SuggestedAction  string            `json:"suggestedAction,omitempty"`
	FailedTool       string            `json:"failedTool,omitempty"`
	FailedFilePath   string            `json:"failedFilePath,omitempty"`
	ValidationIssues []ValidationIssue `json:"validationIssues,omitempty"`
}

// Validate checks the invariants every finalized outcome holds.
func (o Outcome) Validate() error {
	if !o.Status.Valid() {
		return fmt.Errorf("invalid outcome status %q", o.Status)
	}
	if o.ChangedFiles < 0 {
		return fmt.Errorf("changedFiles must be >= 0, got %d", o.ChangedFiles)
	}
	if o.Status != Applied && o.ChangedFiles != 0 {
		return fmt.Errorf("%s outcome cannot report %d changed files", o.Status, o.ChangedFiles)
	}
	return nil
}
