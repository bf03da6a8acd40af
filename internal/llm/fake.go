package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned when a Fake has no responses left.
var ErrScriptExhausted = errors.New("fake provider: no scripted responses left")

// Fake is a scripted Provider for tests and dry runs.
type Fake struct {
	mu        sync.Mutex
	responses []Completion
	errs      []error
	calls     []FakeCall
}

// FakeCall records one Complete invocation.
type FakeCall struct {
	Messages []Message
	Options  Options
}

// NewFake returns a provider that answers with responses in order.
func NewFake(responses ...Completion) *Fake {
	return &Fake{responses: responses, errs: make([]error, len(responses))}
}

// Push appends a response.
func (f *Fake) Push(c Completion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, c)
	f.errs = append(f.errs, nil)
}

// PushError appends a failing response.
func (f *Fake) PushError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, Completion{})
	f.errs = append(f.errs, err)
}

// Complete returns the next scripted response.
func (f *Fake) Complete(ctx context.Context, messages []Message, opts Options) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, FakeCall{Messages: append([]Message(nil), messages...), Options: opts})
	if len(f.responses) == 0 {
		return Completion{}, ErrScriptExhausted
	}
	c, err := f.responses[0], f.errs[0]
	f.responses, f.errs = f.responses[1:], f.errs[1:]
	if err != nil {
		return Completion{}, err
	}
	if c.Model == "" {
		c.Model = opts.Model
	}
	return c, nil
}

// Calls returns every recorded invocation.
func (f *Fake) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}
