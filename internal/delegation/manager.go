package delegation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/themeagent/internal/config"
	"github.com/fyrsmithlabs/themeagent/internal/logging"
	"github.com/fyrsmithlabs/themeagent/internal/secrets"
	"github.com/fyrsmithlabs/themeagent/internal/strategy"
	"github.com/fyrsmithlabs/themeagent/internal/tools"
)

const instrumentationName = "github.com/fyrsmithlabs/themeagent/internal/delegation"

// Runner executes a sub-loop. The coordinator implements it.
type Runner interface {
	RunSubLoop(ctx context.Context, spec Spec) (Outcome, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, spec Spec) (Outcome, error)

// RunSubLoop calls f.
func (f RunnerFunc) RunSubLoop(ctx context.Context, spec Spec) (Outcome, error) { return f(ctx, spec) }

type depthKey struct{}

// WithinSubAgent marks ctx as running inside a sub-agent.
func WithinSubAgent(ctx context.Context) context.Context {
	return context.WithValue(ctx, depthKey{}, true)
}

// InSubAgent reports whether ctx is inside a sub-agent.
func InSubAgent(ctx context.Context) bool {
	v, _ := ctx.Value(depthKey{}).(bool)
	return v
}

// Manager enforces one run's delegation policy and records sub-agents. It
// implements tools.Delegator.
type Manager struct {
	strategy strategy.Strategy
	runner   Runner
	cfg      config.DelegationConfig
	scrubber secrets.Scrubber
	logger   *logging.Logger
	metrics  *Metrics
	tracer   trace.Tracer

	mu     sync.Mutex
	agents []*SubAgent
	used   int
}

// Option configures Manager.
type Option func(*Manager)

// WithScrubber scrubs sub-agent summaries.
func WithScrubber(s secrets.Scrubber) Option {
	return func(m *Manager) { m.scrubber = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets custom metrics.
func WithMetrics(mx *Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithTracer sets the tracer for delegation spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// NewManager creates a manager for one run.
func NewManager(st strategy.Strategy, runner Runner, cfg config.DelegationConfig, opts ...Option) *Manager {
	metrics, _ := NewMetrics(nil)
	m := &Manager{
		strategy: st,
		runner:   runner,
		cfg:      cfg,
		scrubber: secrets.Nop{},
		logger:   logging.NewNop(),
		metrics:  metrics,
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("delegation")
	return m
}

// Delegate validates req against the strategy, runs the sub-loop and returns
// its summary. Any error is reported to the planner as an errored tool result.
func (m *Manager) Delegate(ctx context.Context, req tools.DelegationRequest) (string, error) {
	if InSubAgent(ctx) {
		return "", ErrMaxDepthExceeded
	}
	spec, err := m.admit(req)
	if err != nil {
		m.metrics.recordRejected(ctx, req.Kind)
		m.logger.Info(ctx, "delegation rejected",
			zap.String("kind", string(req.Kind)),
			zap.String("domain", req.Domain),
			zap.Error(err))
		return "", err
	}

	sa := &SubAgent{
		ID:            uuid.NewString(),
		CallID:        req.CallID,
		Agent:         spec.Agent,
		Kind:          spec.Kind,
		Domain:        spec.Domain,
		Task:          spec.Task,
		Files:         spec.Files,
		MaxIterations: spec.MaxIterations,
		Status:        StatusCreated,
		CreatedAt:     time.Now(),
	}
	m.mu.Lock()
	m.agents = append(m.agents, sa)
	m.mu.Unlock()

	ctx, span := m.tracer.Start(ctx, "delegation.run",
		trace.WithAttributes(
			attribute.String("delegation.kind", string(spec.Kind)),
			attribute.String("delegation.agent", spec.Agent),
			attribute.Int("delegation.max_iterations", spec.MaxIterations),
		))
	defer span.End()

	m.setStatus(sa, StatusRunning)
	m.metrics.activeAdd(ctx, 1)
	defer m.metrics.activeAdd(ctx, -1)
	m.logger.Info(ctx, "sub-agent started",
		zap.String("agent", spec.Agent),
		zap.String("call_id", req.CallID),
		zap.Int("max_iterations", spec.MaxIterations))

	start := time.Now()
	out, err := m.runner.RunSubLoop(WithinSubAgent(ctx), spec)
	duration := time.Since(start)
	summary, _ := m.scrubber.Scrub(truncate(out.Summary, MaxSummaryLength))

	m.mu.Lock()
	sa.Iterations = out.Iterations
	sa.Summary = summary
	m.mu.Unlock()

	switch {
	case err != nil:
		m.fail(ctx, sa, err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, "sub-loop failed")
		m.metrics.recordFinished(ctx, spec.Kind, StatusFailed, duration)
		return "", fmt.Errorf("%s: %w", spec.Agent, err)
	case out.Exhausted:
		m.setStatus(sa, StatusExhausted)
		span.SetStatus(codes.Error, "budget exhausted")
		m.metrics.recordFinished(ctx, spec.Kind, StatusExhausted, duration)
		m.logger.Warn(ctx, "sub-agent exhausted budget",
			zap.String("agent", spec.Agent),
			zap.Int("iterations", out.Iterations))
		if summary != "" {
			return "", fmt.Errorf("%w after %d iterations; partial summary: %s", ErrExhausted, out.Iterations, summary)
		}
		return "", fmt.Errorf("%w after %d iterations", ErrExhausted, out.Iterations)
	}

	m.setStatus(sa, StatusCompleted)
	m.metrics.recordFinished(ctx, spec.Kind, StatusCompleted, duration)
	m.logger.Info(ctx, "sub-agent completed",
		zap.String("agent", spec.Agent),
		zap.Int("iterations", out.Iterations),
		zap.Duration("duration", duration))

	if summary == "" {
		summary = "(no summary)"
	}
	return fmt.Sprintf("%s finished in %d iterations:\n%s", spec.Agent, out.Iterations, summary), nil
}

// admit applies the strategy to a request and builds the sub-loop spec.
func (m *Manager) admit(req tools.DelegationRequest) (Spec, error) {
	task := strings.TrimSpace(req.Task)
	if task == "" {
		return Spec{}, ErrEmptyTask
	}
	if len(task) > MaxTaskLength {
		return Spec{}, ErrTaskTooLong
	}
	spec := Spec{Kind: req.Kind, Task: task, Files: append([]string(nil), req.Files...), CallID: req.CallID}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch req.Kind {
	case tools.KindSpecialist:
		if !m.strategy.SpecialistDelegationAllowed {
			return Spec{}, fmt.Errorf("%w: %s tier executes edits directly", ErrNotAllowed, m.strategy.Tier)
		}
		domain := strategy.Domain(strings.ToLower(strings.TrimSpace(req.Domain)))
		if !m.strategy.AllowsDomain(domain) {
			return Spec{}, fmt.Errorf("%w: %q (allowed: %s)", ErrDomainNotAllowed, req.Domain, joinDomains(m.strategy.SpecialistDomains))
		}
		if m.strategy.FileScoped && len(spec.Files) == 0 {
			return Spec{}, ErrFilesRequired
		}
		spec.Domain = string(domain)
		spec.Agent = "specialist:" + spec.Domain
		spec.Role = tools.RoleSpecialist
		spec.MaxIterations = m.cfg.SpecialistMaxIterations
	case tools.KindReview:
		if !m.strategy.RequireReview && !m.strategy.SpecialistDelegationAllowed {
			return Spec{}, fmt.Errorf("%w: %s tier has no review agent", ErrNotAllowed, m.strategy.Tier)
		}
		spec.Agent = "reviewer"
		spec.Role = tools.RoleReviewer
		spec.MaxIterations = m.cfg.ReviewMaxIterations
	case tools.KindSecondOpinion:
		if !m.strategy.SpecialistDelegationAllowed {
			return Spec{}, fmt.Errorf("%w: %s tier has no second opinion", ErrNotAllowed, m.strategy.Tier)
		}
		spec.Agent = "advisor"
		spec.Role = tools.RoleReviewer
		spec.MaxIterations = m.cfg.ReviewMaxIterations
	default:
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}

	// Reviews are mandatory in some tiers and do not consume the delegation budget.
	if req.Kind != tools.KindReview {
		if m.used >= m.strategy.MaxDelegations {
			return Spec{}, fmt.Errorf("%w: %d of %d used", ErrLimitReached, m.used, m.strategy.MaxDelegations)
		}
		m.used++
	}
	if spec.MaxIterations <= 0 {
		spec.MaxIterations = 1
	}
	return spec, nil
}

func (m *Manager) setStatus(sa *SubAgent, s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = sa.transition(s)
}

func (m *Manager) fail(ctx context.Context, sa *SubAgent, reason string) {
	m.mu.Lock()
	sa.Error = reason
	_ = sa.transition(StatusFailed)
	m.mu.Unlock()
	m.logger.Warn(ctx, "sub-agent failed", zap.String("agent", sa.Agent), zap.String("reason", reason))
}

// SubAgents returns copies of every recorded delegation in start order.
func (m *Manager) SubAgents() []SubAgent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SubAgent, len(m.agents))
	for i, sa := range m.agents {
		out[i] = *sa
	}
	return out
}

// Used returns how many budgeted delegations have been admitted.
func (m *Manager) Used() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// Reviewed reports whether a review sub-agent completed.
func (m *Manager) Reviewed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sa := range m.agents {
		if sa.Kind == tools.KindReview && sa.Status == StatusCompleted {
			return true
		}
	}
	return false
}

func joinDomains(ds []strategy.Domain) string {
	if len(ds) == 0 {
		return "none"
	}
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = string(d)
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isBoundary(s, n) {
		n--
	}
	return s[:n]
}

func isBoundary(s string, i int) bool {
	return i == len(s) || s[i]&0xC0 != 0x80
}
