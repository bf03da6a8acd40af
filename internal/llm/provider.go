// Package llm is the completion provider used by planners and sub-agents.
//
// Provider is the swappable boundary: the coordinator asks the model router
// for a model id and passes it in Options on every call.
package llm

import (
	"context"
	"errors"
)

// Role is a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options selects the model and sampling for one call.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Usage is the token accounting for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Completion is a provider response.
type Completion struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Provider completes conversations.
type Provider interface {
	Complete(ctx context.Context, messages []Message, opts Options) (Completion, error)
}

// Errors returned by providers.
var (
	ErrNoMessages     = errors.New("no messages to complete")
	ErrEmptyResponse  = errors.New("provider returned no choices")
	ErrUnknownBackend = errors.New("unknown llm provider")
	ErrMissingAPIKey  = errors.New("llm api key required")
)
