package archive

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/themeagent/internal/outcome"
)

// Errors returned by the archive.
var (
	ErrInvalidID = errors.New("run id is required")
	ErrNotFound  = errors.New("archived run not found")
	ErrClosed    = errors.New("archive is closed")
)

// Record is one finalized run.
type Record struct {
	// RunID is the unique identifier of the run.
	RunID string `json:"runId"`

	// ConversationID groups runs of one conversation.
	ConversationID string `json:"conversationId"`

	// Request is the user's request text.
	Request string `json:"request"`

	// Tier is the strategy tier the run executed under.
	Tier string `json:"tier"`

	// Outcome is the run's final outcome.
	Outcome outcome.Outcome `json:"outcome"`

	// Iterations is the number of planning steps the run took.
	Iterations int `json:"iterations"`

	// CostCents is the accumulated model cost.
	CostCents float64 `json:"costCents"`

	// EventCount is the number of events stored with the run.
	EventCount int `json:"eventCount"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// ListRequest filters archived runs.
type ListRequest struct {
	// ConversationID restricts results to one conversation when set.
	ConversationID string

	// Status restricts results to one outcome status when set.
	Status outcome.Status

	// Limit caps the number of results (default 50).
	Limit int
}
