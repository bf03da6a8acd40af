// Package coordinator drives a run through the agent loop: plan a step,
// execute a tool, observe the result, validate proposed edits, terminate with
// exactly one outcome.
//
// A Run is single-use. The Coordinator is safe to share across runs; all
// per-run state lives in an execution created by Execute.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/themeagent/internal/arc"
	"github.com/fyrsmithlabs/themeagent/internal/config"
	"github.com/fyrsmithlabs/themeagent/internal/delegation"
	"github.com/fyrsmithlabs/themeagent/internal/events"
	"github.com/fyrsmithlabs/themeagent/internal/filestore"
	"github.com/fyrsmithlabs/themeagent/internal/logging"
	"github.com/fyrsmithlabs/themeagent/internal/outcome"
	"github.com/fyrsmithlabs/themeagent/internal/plan"
	"github.com/fyrsmithlabs/themeagent/internal/planner"
	"github.com/fyrsmithlabs/themeagent/internal/policy"
	"github.com/fyrsmithlabs/themeagent/internal/routing"
	"github.com/fyrsmithlabs/themeagent/internal/scout"
	"github.com/fyrsmithlabs/themeagent/internal/secrets"
	"github.com/fyrsmithlabs/themeagent/internal/strategy"
	"github.com/fyrsmithlabs/themeagent/internal/tools"
)

const instrumentationName = "github.com/fyrsmithlabs/themeagent/internal/coordinator"

// RootAgent is the identity events from the top-level loop carry.
const RootAgent = "coordinator"

// cancelGrace bounds how long a cancelled run waits for an in-flight tool to
// return before finalizing. Edit tools check cancellation before writing, so a
// tool that outlives the grace period only changes files if its store write
// was already in flight.
const cancelGrace = 2 * time.Second

// Errors returned by New and NewRun.
var (
	ErrMissingStore   = errors.New("coordinator: file store is required")
	ErrMissingPlanner = errors.New("coordinator: planner is required")
	ErrMissingRouter  = errors.New("coordinator: router is required")
	ErrEmptyRequest   = errors.New("request text is required")
)

// Versioner commits applied edits.
type Versioner interface {
	Commit(ctx context.Context, message string, paths []string) (string, error)
}

// Deps wires a Coordinator. Store, Planner and Router are required.
type Deps struct {
	Config    *config.Config
	Store     filestore.Store
	Planner   planner.Planner
	Router    *routing.Router
	Selector  *strategy.Selector
	Scout     scout.Scout
	Plans     plan.Store
	Arcs      *arc.Tracker
	Versioner Versioner
	Scrubber  secrets.Scrubber
	Logger    *logging.Logger
	Tracer    trace.Tracer
	Meter     metric.Meter
}

// Coordinator runs the agent loop.
type Coordinator struct {
	cfg       *config.Config
	store     filestore.Store
	planner   planner.Planner
	router    *routing.Router
	selector  *strategy.Selector
	scout     scout.Scout
	plans     plan.Store
	arcs      *arc.Tracker
	versioner Versioner
	scrubber  secrets.Scrubber
	logger    *logging.Logger
	tracer    trace.Tracer

	metrics           *Metrics
	delegationMetrics *delegation.Metrics
}

// New creates a coordinator.
func New(d Deps) (*Coordinator, error) {
	if d.Store == nil {
		return nil, ErrMissingStore
	}
	if d.Planner == nil {
		return nil, ErrMissingPlanner
	}
	if d.Router == nil {
		return nil, ErrMissingRouter
	}
	c := &Coordinator{
		cfg:       d.Config,
		store:     d.Store,
		planner:   d.Planner,
		router:    d.Router,
		selector:  d.Selector,
		scout:     d.Scout,
		plans:     d.Plans,
		arcs:      d.Arcs,
		versioner: d.Versioner,
		scrubber:  d.Scrubber,
		logger:    d.Logger,
		tracer:    d.Tracer,
		metrics:   NewMetrics(),
	}
	if c.cfg == nil {
		c.cfg = config.Default()
	}
	if c.selector == nil {
		c.selector = strategy.NewSelector(c.cfg.Strategy)
	}
	if c.arcs == nil {
		c.arcs = arc.NewTracker()
	}
	if c.scrubber == nil {
		c.scrubber = secrets.Nop{}
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	c.logger = c.logger.Named("coordinator")
	if c.tracer == nil {
		c.tracer = otel.Tracer(instrumentationName)
	}
	dm, err := delegation.NewMetrics(d.Meter)
	if err != nil {
		return nil, fmt.Errorf("delegation metrics: %w", err)
	}
	c.delegationMetrics = dm
	return c, nil
}

// Arcs returns the conversation arc tracker.
func (c *Coordinator) Arcs() *arc.Tracker { return c.arcs }

// NewRun selects a strategy for the request and creates a run ready for
// Execute.
func (c *Coordinator) NewRun(req Request) (*Run, error) {
	if req.Text == "" {
		return nil, ErrEmptyRequest
	}
	var tier strategy.Tier
	if req.Tier != "" {
		t, err := strategy.ParseTier(req.Tier)
		if err != nil {
			return nil, err
		}
		tier = t
	}
	st := c.selector.Select(strategy.Request{
		Text:      req.Text,
		FileHints: req.FileHints,
		Plan:      req.Plan,
		Tier:      tier,
	})
	id := req.RunID
	if id == "" {
		id = uuid.NewString()
	}
	if req.ConversationID == "" {
		req.ConversationID = id
	}
	req.RunID = id
	return newRun(id, req, st), nil
}

// Execute drives run to a terminal outcome. It returns once the outcome has
// been emitted and the event stream closed. Calling Execute again on the same
// run waits for the first call and returns its outcome.
func (c *Coordinator) Execute(ctx context.Context, run *Run) outcome.Outcome {
	if !run.started.CompareAndSwap(false, true) {
		<-run.Done()
		o, _ := run.Outcome()
		return o
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-run.cancelCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ctx = logging.WithRunID(ctx, run.ID)
	ctx = logging.WithConversationID(ctx, run.ConversationID)
	ctx = logging.WithAgent(ctx, RootAgent)
	ctx, span := c.tracer.Start(ctx, "coordinator.Run",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("strategy.tier", string(run.Strategy.Tier)),
			attribute.Int("strategy.max_iterations", run.Strategy.MaxIterations),
		))
	defer span.End()

	c.metrics.ActiveRuns.Inc()
	defer c.metrics.ActiveRuns.Dec()

	x := c.newExecution(ctx, run)
	out := x.drive(ctx)
	out = x.finalize(ctx, out)

	span.SetAttributes(
		attribute.String("run.outcome", string(out.Status)),
		attribute.Int("run.iterations", run.Iterations()),
	)
	if out.Status != outcome.Applied && out.Status != outcome.NoChange {
		span.SetStatus(codes.Error, out.FailureReason)
	}
	return out
}

// execution is the mutable state of one run.
type execution struct {
	c       *Coordinator
	run     *Run
	em      *events.Emitter
	journal *tools.Journal
	exec    *tools.Executor
	mgr     *delegation.Manager
	policy  *policy.Policy
	logger  *logging.Logger

	// tier is the routing tier after arc escalation.
	tier   strategy.Tier
	factor float64

	planText string
	files    []string

	retries     int
	lastFailure *tools.Call
}

func (c *Coordinator) newExecution(ctx context.Context, run *Run) *execution {
	x := &execution{
		c:       c,
		run:     run,
		em:      events.NewEmitter(run.bus, run.ID, RootAgent, run.StartedAt),
		journal: tools.NewJournal(),
		logger:  c.logger.With(zap.String("tier", string(run.Strategy.Tier))),
		tier:    run.Strategy.Tier,
		factor:  1.0,
	}
	x.exec = tools.NewExecutor(c.store, x.journal, tools.Options{
		Scrubber:         c.scrubber,
		Logger:           c.logger,
		MaxResultChars:   c.cfg.Limits.ResultTruncateChars,
		BatchConcurrency: c.cfg.Delegation.BatchReadConcurrency,
	})
	x.mgr = delegation.NewManager(run.Strategy, delegation.RunnerFunc(x.runSubLoop), c.cfg.Delegation,
		delegation.WithScrubber(c.scrubber),
		delegation.WithLogger(c.logger),
		delegation.WithMetrics(c.delegationMetrics),
		delegation.WithTracer(c.tracer),
	)
	x.exec = x.exec.WithDelegator(x.mgr)

	pol, err := policy.New(run.Strategy.Gates, c.cfg.Policy)
	if err != nil {
		x.logger.Warn(ctx, "invalid gate configuration, using defaults", zap.Error(err))
		pol, _ = policy.New(c.selector.Build(run.Strategy.Tier).Gates, config.Default().Policy)
	}
	x.policy = pol
	return x
}

// drive runs the root loop until a terminal step, cancellation, or budget
// exhaustion.
func (x *execution) drive(ctx context.Context) outcome.Outcome {
	st := x.run.Strategy
	x.em.Thinking("strategy", fmt.Sprintf("Selected %s strategy", st.Tier), "", map[string]string{
		"tier":            string(st.Tier),
		"max_iterations":  fmt.Sprint(st.MaxIterations),
		"max_delegations": fmt.Sprint(st.MaxDelegations),
		"require_review":  fmt.Sprint(st.RequireReview),
	})
	x.prepare(ctx)

	l := x.rootLoop()
	for {
		if ctx.Err() != nil || x.run.Cancelled() {
			return x.cancelled()
		}
		if x.run.Iterations() >= st.MaxIterations {
			return x.exhausted()
		}
		step, err := x.plan(ctx, l)
		if err != nil {
			if ctx.Err() != nil {
				return x.cancelled()
			}
			x.logger.Warn(ctx, "planner step failed", zap.Int("iteration", l.iterations), zap.Error(err))
			l.note(fmt.Sprintf("Your last reply could not be used: %v. Reply with one JSON action.", err))
			continue
		}

		switch step.Kind {
		case planner.KindThink, planner.KindReason, planner.KindText:
			x.narrate(l, step)
		case planner.KindCallTool:
			if reason, over := x.overBudget(); over {
				return x.budgetExceeded(reason)
			}
			x.call(ctx, l, step)
			x.run.transition(StatePlanning)
		case planner.KindComplete:
			if out, done := x.complete(ctx, l, step); done {
				return out
			}
		case planner.KindNoChange:
			return x.noChange(ctx, step.Text)
		case planner.KindAskUser:
			return outcome.Outcome{
				Status:          outcome.NeedsInput,
				FailureReason:   "the agent needs more information",
				SuggestedAction: step.Text,
			}
		}
	}
}

// prepare loads the plan of record, narrows the file list and records the
// user's turn on the conversation arc.
func (x *execution) prepare(ctx context.Context) {
	c := x.c
	if c.plans != nil {
		if p, err := c.plans.Load(ctx); err != nil {
			x.logger.Warn(ctx, "loading plan failed", zap.Error(err))
		} else if !p.Empty() {
			x.planText = p.Render()
		}
	}

	limit := 20
	if c.cfg.Scout.MaxResults > 0 {
		limit = c.cfg.Scout.MaxResults
	}
	files, narrowed := scout.Narrow(ctx, c.scout, c.store, x.run.Request.Text, limit, x.logger)
	if len(x.run.Request.FileHints) > 0 {
		files = mergeFiles(x.run.Request.FileHints, files)
	}
	x.files = files
	if narrowed {
		x.em.Thinking("scout", fmt.Sprintf("Found %d relevant files", len(files)), "", nil)
	}

	state, triggered := c.arcs.Append(x.run.ConversationID, arc.Turn{Role: "user", ActionType: "request"})
	x.escalated(ctx, state, triggered)
}

func mergeFiles(first, rest []string) []string {
	seen := make(map[string]bool, len(first)+len(rest))
	out := make([]string, 0, len(first)+len(rest))
	for _, list := range [][]string{first, rest} {
		for _, f := range list {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

func (x *execution) rootLoop() *agentLoop {
	return &agentLoop{
		agent:   RootAgent,
		role:    tools.RolePlanner,
		class:   routing.Plan,
		em:      x.em,
		exec:    x.exec,
		request: x.run.Request.Text,
		scope:   x.run.Request.Scope,
		files:   x.files,
		maxIter: x.run.Strategy.MaxIterations,
		root:    true,
	}
}

// escalated applies arc escalations to model routing and announces them.
func (x *execution) escalated(ctx context.Context, state arc.State, triggered []arc.Escalation) {
	for _, e := range triggered {
		x.c.metrics.EscalationsTotal.WithLabelValues(string(e.Trigger)).Inc()
		x.logger.Info(ctx, "conversation escalated",
			zap.String("trigger", string(e.Trigger)),
			zap.Int("turn", e.Turn),
			zap.String("details", e.Details))
		x.em.Thinking("escalation", string(e.Trigger), e.Details, map[string]string{"turn": fmt.Sprint(e.Turn)})
	}
	x.factor = state.EscalationFactor()
	if next := strategy.Escalate(x.run.Strategy.Tier, x.factor); next != x.tier {
		x.tier = next
		x.em.Thinking("routing", fmt.Sprintf("Routing models as %s", next), "", map[string]string{
			"escalation_factor": fmt.Sprint(x.factor),
		})
	}
}

// observe records a root tool result on the conversation arc.
func (x *execution) observe(ctx context.Context, call tools.Call, res tools.Result) {
	action := call.Name.String()
	if res.IsError {
		action += ":error"
		c := call
		x.lastFailure = &c
	}
	state, triggered := x.c.arcs.Append(x.run.ConversationID, arc.Turn{Role: "agent", ActionType: action})
	x.escalated(ctx, state, triggered)
}

func (x *execution) overBudget() (string, bool) {
	lim := x.c.cfg.Limits
	cost, in, out := x.run.Usage()
	if lim.CostCeilingCents > 0 && cost >= lim.CostCeilingCents {
		return fmt.Sprintf("cost ceiling of %.2f cents reached", lim.CostCeilingCents), true
	}
	if lim.TokenCeiling > 0 && in+out >= lim.TokenCeiling {
		return fmt.Sprintf("token ceiling of %d reached", lim.TokenCeiling), true
	}
	return "", false
}

func (x *execution) withFailure(o outcome.Outcome) outcome.Outcome {
	if x.lastFailure != nil && o.FailedTool == "" {
		o.FailedTool = x.lastFailure.Name.String()
		o.FailedFilePath = x.lastFailure.Input.Target()
	}
	return o
}

func (x *execution) cancelled() outcome.Outcome {
	reason := x.run.reason()
	if reason == "" {
		reason = "context cancelled"
	}
	return outcome.Outcome{
		Status:          outcome.NeedsInput,
		FailureReason:   "run cancelled: " + reason,
		SuggestedAction: outcome.SuggestRetry,
	}
}

func (x *execution) exhausted() outcome.Outcome {
	return x.withFailure(outcome.Outcome{
		Status:          outcome.NeedsInput,
		FailureReason:   fmt.Sprintf("iteration budget of %d exhausted before the change was validated", x.run.Strategy.MaxIterations),
		SuggestedAction: outcome.SuggestNarrowScope,
	})
}

func (x *execution) budgetExceeded(reason string) outcome.Outcome {
	return x.withFailure(outcome.Outcome{
		Status:          outcome.NeedsInput,
		FailureReason:   reason,
		SuggestedAction: outcome.SuggestNarrowScope,
	})
}

func (x *execution) noChange(ctx context.Context, reason string) outcome.Outcome {
	x.rollback(ctx, "no change")
	return outcome.Outcome{Status: outcome.NoChange, ChangeSummary: reason}
}

func (x *execution) rollback(ctx context.Context, why string) {
	if x.journal.Len() == 0 {
		return
	}
	n := x.journal.Len()
	if err := x.journal.Rollback(context.WithoutCancel(ctx), x.c.store); err != nil {
		x.logger.Error(ctx, "rollback failed", zap.String("reason", why), zap.Error(err))
		return
	}
	x.logger.Info(ctx, "edits rolled back", zap.String("reason", why), zap.Int("files", n))
}

// finalize settles unresolved calls, discards unvalidated edits, emits the
// outcome as the last event and closes the stream.
func (x *execution) finalize(ctx context.Context, out outcome.Outcome) outcome.Outcome {
	for _, call := range x.run.drainPending() {
		x.em.WithAgent(call.Agent).ToolResult(events.ToolResult{ID: call.ID, Content: noResult, IsError: true})
	}
	if out.Status != outcome.Applied {
		x.rollback(ctx, string(out.Status))
		out.ChangedFiles = 0
	}
	if err := out.Validate(); err != nil {
		x.logger.Error(ctx, "finalizing invalid outcome", zap.Error(err))
	}

	x.run.terminate(out)
	x.em.Outcome(out)
	x.run.bus.Close()

	m := x.c.metrics
	m.RunsTotal.WithLabelValues(string(out.Status)).Inc()
	m.Iterations.Observe(float64(x.run.Iterations()))
	m.RunDuration.Observe(time.Since(x.run.StartedAt).Seconds())
	cost, in, outTok := x.run.Usage()
	x.logger.Info(ctx, "run finished",
		zap.String("outcome", string(out.Status)),
		zap.Int("iterations", x.run.Iterations()),
		zap.Int("changed_files", out.ChangedFiles),
		zap.Float64("cost_cents", cost),
		zap.Int("input_tokens", in),
		zap.Int("output_tokens", outTok))
	close(x.run.done)
	return out
}
