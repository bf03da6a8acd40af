package http

import (
	"github.com/fyrsmithlabs/themeagent/internal/arc"
	"github.com/fyrsmithlabs/themeagent/internal/outcome"
)

// StartRunRequest is the request body for POST /api/v1/runs.
type StartRunRequest struct {
	Text           string   `json:"text"`
	ConversationID string   `json:"conversationId,omitempty"`
	Plan           string   `json:"plan,omitempty"`
	Tier           string   `json:"tier,omitempty"`
	Scope          []string `json:"scope,omitempty"`
	FileHints      []string `json:"fileHints,omitempty"`
}

// StartRunResponse is the response body for POST /api/v1/runs.
type StartRunResponse struct {
	RunID          string `json:"runId"`
	ConversationID string `json:"conversationId"`
	Tier           string `json:"tier"`
	MaxIterations  int    `json:"maxIterations"`
	EventsURL      string `json:"eventsUrl"`
}

// RunStatus is the response body for GET /api/v1/runs/:id.
type RunStatus struct {
	RunID          string           `json:"runId"`
	ConversationID string           `json:"conversationId"`
	Request        string           `json:"request"`
	Tier           string           `json:"tier"`
	State          string           `json:"state"`
	Iterations     int              `json:"iterations"`
	CostCents      float64          `json:"costCents"`
	InputTokens    int              `json:"inputTokens,omitempty"`
	OutputTokens   int              `json:"outputTokens,omitempty"`
	PendingCalls   []string         `json:"pendingCalls,omitempty"`
	Outcome        *outcome.Outcome `json:"outcome,omitempty"`
	// Archived is set when the run was served from the archive.
	Archived bool `json:"archived,omitempty"`
}

// CancelRequest is the optional request body for POST /api/v1/runs/:id/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// ArcResponse is the response body for GET /api/v1/conversations/:id/arc.
type ArcResponse struct {
	ConversationID   string              `json:"conversationId"`
	Turns            []arc.Turn          `json:"turns"`
	Escalations      []arc.Escalation    `json:"escalations"`
	EscalationFactor float64             `json:"escalationFactor"`
	SuggestionLevel  arc.SuggestionLevel `json:"suggestionLevel"`
}

// ScrubRequest is the request body for POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string `json:"content"`
	FindingsCount int    `json:"findingsCount"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"activeRuns"`
}
