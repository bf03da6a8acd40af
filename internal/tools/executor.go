package tools

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/themeagent/internal/filestore"
	"github.com/fyrsmithlabs/themeagent/internal/logging"
	"github.com/fyrsmithlabs/themeagent/internal/secrets"
)

const (
	defaultMaxResultChars = 16000
	defaultConcurrency    = 10
	maxGrepMatches        = 200
)

// ErrNoDelegator is returned by delegation tools when no delegator is wired.
var ErrNoDelegator = errors.New("delegation is not available")

// DelegationKind selects the sub-agent a delegation tool starts.
type DelegationKind string

const (
	KindSpecialist    DelegationKind = "specialist"
	KindReview        DelegationKind = "review"
	KindSecondOpinion DelegationKind = "second_opinion"
)

// DelegationRequest is what a delegation tool hands to the Delegator.
type DelegationRequest struct {
	Kind   DelegationKind
	Domain string
	Task   string
	Files  []string
	CallID string
}

// Delegator runs a synchronous sub-loop and returns its summary.
type Delegator interface {
	Delegate(ctx context.Context, req DelegationRequest) (string, error)
}

// Options configures an Executor.
type Options struct {
	Delegator        Delegator
	Scrubber         secrets.Scrubber
	Logger           *logging.Logger
	MaxResultChars   int
	BatchConcurrency int
}

type handler func(ctx context.Context, call Call) (string, error)

func withInput(f func(context.Context, Input) (string, error)) handler {
	return func(ctx context.Context, call Call) (string, error) { return f(ctx, call.Input) }
}

// Executor runs tool calls. Failures come back as results with IsError set;
// Execute never returns a Go error.
type Executor struct {
	store       filestore.Store
	journal     *Journal
	delegator   Delegator
	scrubber    secrets.Scrubber
	logger      *logging.Logger
	maxResult   int
	concurrency int

	// editScope, when non-nil, restricts edit tools to these paths.
	editScope map[string]bool

	handlers [numTools]handler
}

// NewExecutor creates an executor over a file store. Edits are recorded in
// journal so they can be rolled back.
func NewExecutor(store filestore.Store, journal *Journal, opts Options) *Executor {
	e := &Executor{
		store:       store,
		journal:     journal,
		delegator:   opts.Delegator,
		scrubber:    opts.Scrubber,
		logger:      opts.Logger,
		maxResult:   opts.MaxResultChars,
		concurrency: opts.BatchConcurrency,
	}
	if e.journal == nil {
		e.journal = NewJournal()
	}
	if e.scrubber == nil {
		e.scrubber = secrets.Nop{}
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.maxResult <= 0 {
		e.maxResult = defaultMaxResultChars
	}
	if e.concurrency <= 0 || e.concurrency > defaultConcurrency {
		e.concurrency = defaultConcurrency
	}
	e.bind()
	return e
}

func (e *Executor) bind() {
	e.handlers = [numTools]handler{
		ReadFile:          withInput(e.readFile),
		ParallelBatchRead: withInput(e.parallelBatchRead),
		SearchFiles:       withInput(e.searchFiles),
		GrepContent:       withInput(e.grepContent),
		ListFiles:         withInput(e.listFiles),
		EditLines:         withInput(e.editLines),
		SearchReplace:     withInput(e.searchReplace),
		WriteFile:         withInput(e.writeFile),
		CreateFile:        withInput(e.createFile),
		DeleteFile:        withInput(e.deleteFile),
		RunSpecialist:     e.runSpecialist,
		RunReview:         e.runReview,
		GetSecondOpinion:  e.getSecondOpinion,
	}
}

// Journal returns the edit journal shared by this executor.
func (e *Executor) Journal() *Journal { return e.journal }

// Store returns the underlying file service.
func (e *Executor) Store() filestore.Store { return e.store }

// WithDelegator returns a copy of the executor that delegates through d.
func (e *Executor) WithDelegator(d Delegator) *Executor {
	c := *e
	c.delegator = d
	c.bind()
	return &c
}

// Restrict returns a copy of the executor whose edit tools only accept the
// given paths. An empty list leaves edits unrestricted.
func (e *Executor) Restrict(paths []string) *Executor {
	c := *e
	if len(paths) > 0 {
		c.editScope = make(map[string]bool, len(paths))
		for _, p := range paths {
			if clean, err := filestore.CleanPath(p); err == nil {
				c.editScope[clean] = true
			}
		}
	}
	c.bind()
	return &c
}

// Execute runs one call and returns its result.
func (e *Executor) Execute(ctx context.Context, call Call) (res Result) {
	start := time.Now()
	res.CallID = call.ID
	defer func() {
		if r := recover(); r != nil {
			res.Content = fmt.Sprintf("tool %s failed: %v", call.Name, r)
			res.IsError = true
			e.logger.Error(ctx, "tool handler panicked",
				zap.String("tool", call.Name.String()), zap.Any("panic", r))
		}
		res.Elapsed = time.Since(start)
	}()

	if !call.Name.Valid() {
		return errorResult(call.ID, fmt.Sprintf("unknown tool %d", int(call.Name)))
	}
	role := call.Role
	if role == "" {
		role = RolePlanner
	}
	if !Allowed(role, call.Name) {
		return errorResult(call.ID, fmt.Sprintf("tool %s is not available to the %s agent", call.Name, role))
	}
	if err := ctx.Err(); err != nil {
		return errorResult(call.ID, fmt.Sprintf("tool %s not run: %v", call.Name, err))
	}

	content, err := e.handlers[call.Name](ctx, call)
	if err != nil {
		e.logger.Debug(ctx, "tool call failed",
			zap.String("tool", call.Name.String()),
			zap.String("call_id", call.ID),
			zap.Error(err))
		return errorResult(call.ID, err.Error())
	}
	if scrubbed, n := e.scrubber.Scrub(content); n > 0 {
		e.logger.Warn(ctx, "redacted secrets from tool result",
			zap.String("tool", call.Name.String()), zap.Int("findings", n))
		content = scrubbed
	}
	res.Content = bound(content, e.maxResult)
	return res
}

func errorResult(id, msg string) Result {
	return Result{CallID: id, Content: msg, IsError: true}
}

// bound cuts s to at most n runes and appends a marker naming the omitted size.
func bound(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + fmt.Sprintf("\n... [truncated %d characters]", len(runes)-n)
}

func (e *Executor) checkEditScope(path string) error {
	if e.editScope != nil && !e.editScope[path] {
		return fmt.Errorf("%s is outside the files delegated to this agent", path)
	}
	return nil
}
