package delegation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/themeagent/internal/config"
	"github.com/fyrsmithlabs/themeagent/internal/strategy"
	"github.com/fyrsmithlabs/themeagent/internal/telemetry"
	"github.com/fyrsmithlabs/themeagent/internal/tools"
)

func strategyFor(t strategy.Tier) strategy.Strategy {
	return strategy.NewSelector(config.Default().Strategy).Build(t)
}

type recordingRunner struct {
	specs []Spec
	out   Outcome
	err   error
	inSub bool
}

func (r *recordingRunner) RunSubLoop(ctx context.Context, spec Spec) (Outcome, error) {
	r.specs = append(r.specs, spec)
	r.inSub = InSubAgent(ctx)
	return r.out, r.err
}

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, StatusCreated.CanTransitionTo(StatusRunning))
	assert.True(t, StatusRunning.CanTransitionTo(StatusExhausted))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusRunning))
	assert.False(t, StatusCreated.CanTransitionTo(StatusCompleted))
	for _, s := range []Status{StatusCompleted, StatusExhausted, StatusFailed} {
		assert.True(t, s.IsTerminal())
	}
	assert.False(t, StatusRunning.IsTerminal())

	sa := &SubAgent{Status: StatusCreated}
	assert.ErrorIs(t, sa.transition(StatusCompleted), ErrInvalidTransition)
	require.NoError(t, sa.transition(StatusRunning))
	require.NoError(t, sa.transition(StatusCompleted))
	assert.NotNil(t, sa.CompletedAt)
}

func TestManager_Admission(t *testing.T) {
	cfg := config.Default().Delegation
	tests := []struct {
		name    string
		tier    strategy.Tier
		req     tools.DelegationRequest
		wantErr error
	}{
		{"simple refuses specialists", strategy.Simple,
			tools.DelegationRequest{Kind: tools.KindSpecialist, Domain: "css", Task: "x", Files: []string{"assets/a.css"}}, ErrNotAllowed},
		{"simple refuses review", strategy.Simple,
			tools.DelegationRequest{Kind: tools.KindReview, Task: "x"}, ErrNotAllowed},
		{"simple refuses second opinion", strategy.Simple,
			tools.DelegationRequest{Kind: tools.KindSecondOpinion, Task: "x"}, ErrNotAllowed},
		{"hybrid refuses javascript", strategy.Hybrid,
			tools.DelegationRequest{Kind: tools.KindSpecialist, Domain: "javascript", Task: "x", Files: []string{"assets/a.js"}}, ErrDomainNotAllowed},
		{"hybrid requires files", strategy.Hybrid,
			tools.DelegationRequest{Kind: tools.KindSpecialist, Domain: "css", Task: "x"}, ErrFilesRequired},
		{"empty task", strategy.GodMode,
			tools.DelegationRequest{Kind: tools.KindReview, Task: "  "}, ErrEmptyTask},
		{"task too long", strategy.GodMode,
			tools.DelegationRequest{Kind: tools.KindReview, Task: strings.Repeat("a", MaxTaskLength+1)}, ErrTaskTooLong},
		{"unknown kind", strategy.GodMode,
			tools.DelegationRequest{Kind: "pair", Task: "x"}, ErrUnknownKind},
		{"hybrid css ok", strategy.Hybrid,
			tools.DelegationRequest{Kind: tools.KindSpecialist, Domain: "CSS", Task: "x", Files: []string{"assets/a.css"}}, nil},
		{"god mode javascript without files", strategy.GodMode,
			tools.DelegationRequest{Kind: tools.KindSpecialist, Domain: "javascript", Task: "x"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &recordingRunner{out: Outcome{Summary: "ok", Iterations: 2}}
			m := NewManager(strategyFor(tt.tier), runner, cfg)
			_, err := m.Delegate(context.Background(), tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, runner.specs)
				return
			}
			require.NoError(t, err)
			require.Len(t, runner.specs, 1)
		})
	}
}

func TestManager_SpecialistRun(t *testing.T) {
	runner := &recordingRunner{out: Outcome{Summary: "padding reduced on .hero", Iterations: 3}}
	m := NewManager(strategyFor(strategy.Hybrid), runner, config.Default().Delegation)

	out, err := m.Delegate(context.Background(), tools.DelegationRequest{
		Kind: tools.KindSpecialist, Domain: "css", Task: "tighten hero spacing",
		Files: []string{"assets/hero.css"}, CallID: "c7",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "specialist:css finished in 3 iterations")
	assert.Contains(t, out, "padding reduced on .hero")

	spec := runner.specs[0]
	assert.Equal(t, tools.RoleSpecialist, spec.Role)
	assert.Equal(t, 12, spec.MaxIterations)
	assert.Equal(t, "c7", spec.CallID)
	assert.True(t, runner.inSub)

	agents := m.SubAgents()
	require.Len(t, agents, 1)
	assert.Equal(t, StatusCompleted, agents[0].Status)
	assert.Equal(t, 3, agents[0].Iterations)
	assert.Equal(t, 1, m.Used())
}

func TestManager_Limit(t *testing.T) {
	st := strategyFor(strategy.Hybrid)
	runner := &recordingRunner{out: Outcome{Summary: "ok"}}
	m := NewManager(st, runner, config.Default().Delegation)
	req := tools.DelegationRequest{Kind: tools.KindSpecialist, Domain: "liquid", Task: "x", Files: []string{"sections/a.liquid"}}

	for i := 0; i < st.MaxDelegations; i++ {
		_, err := m.Delegate(context.Background(), req)
		require.NoError(t, err)
	}
	_, err := m.Delegate(context.Background(), req)
	assert.ErrorIs(t, err, ErrLimitReached)

	// Reviews are not budgeted.
	_, err = m.Delegate(context.Background(), tools.DelegationRequest{Kind: tools.KindReview, Task: "check"})
	assert.NoError(t, err)
	assert.True(t, m.Reviewed())
}

func TestManager_Depth(t *testing.T) {
	runner := &recordingRunner{}
	m := NewManager(strategyFor(strategy.GodMode), runner, config.Default().Delegation)
	_, err := m.Delegate(WithinSubAgent(context.Background()), tools.DelegationRequest{Kind: tools.KindReview, Task: "x"})
	assert.ErrorIs(t, err, ErrMaxDepthExceeded)
	assert.Empty(t, runner.specs)
}

func TestManager_Failures(t *testing.T) {
	cfg := config.Default().Delegation
	req := tools.DelegationRequest{Kind: tools.KindReview, Task: "review edits"}

	m := NewManager(strategyFor(strategy.GodMode), &recordingRunner{err: errors.New("model unavailable")}, cfg)
	_, err := m.Delegate(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reviewer: model unavailable")
	assert.Equal(t, StatusFailed, m.SubAgents()[0].Status)
	assert.False(t, m.Reviewed())

	m = NewManager(strategyFor(strategy.GodMode), &recordingRunner{out: Outcome{Summary: "half done", Iterations: 8, Exhausted: true}}, cfg)
	_, err = m.Delegate(context.Background(), req)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Contains(t, err.Error(), "partial summary: half done")
	assert.Equal(t, StatusExhausted, m.SubAgents()[0].Status)
}

type maskScrubber struct{}

func (maskScrubber) Scrub(s string) (string, int) {
	return strings.ReplaceAll(s, "sk-live-123", "[REDACTED]"), 1
}

func TestManager_ScrubsAndTraces(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	metrics, err := NewMetrics(tel.Meter("test"))
	require.NoError(t, err)

	m := NewManager(strategyFor(strategy.GodMode),
		RunnerFunc(func(context.Context, Spec) (Outcome, error) {
			return Outcome{Summary: "found key sk-live-123 in settings", Iterations: 1}, nil
		}),
		config.Default().Delegation,
		WithScrubber(maskScrubber{}),
		WithTracer(tel.Tracer("test")),
		WithMetrics(metrics),
	)
	out, err := m.Delegate(context.Background(), tools.DelegationRequest{Kind: tools.KindSecondOpinion, Task: "is this safe?"})
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-live-123")
	assert.Contains(t, out, "advisor finished")

	tel.AssertSpanExists(t, "delegation.run")

	var rm metricdata.ResourceMetrics
	require.NoError(t, tel.MetricReader.Collect(context.Background(), &rm))
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			names[md.Name] = true
		}
	}
	assert.True(t, names["delegation.finished.total"])
}
