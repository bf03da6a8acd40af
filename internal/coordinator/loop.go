package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/themeagent/internal/delegation"
	"github.com/fyrsmithlabs/themeagent/internal/events"
	"github.com/fyrsmithlabs/themeagent/internal/logging"
	"github.com/fyrsmithlabs/themeagent/internal/planner"
	"github.com/fyrsmithlabs/themeagent/internal/routing"
	"github.com/fyrsmithlabs/themeagent/internal/tools"
	"github.com/fyrsmithlabs/themeagent/internal/transcript"
)

const noResult = transcript.NoResult

// ErrBudgetExceeded stops a sub-loop when the run's cost or token ceiling is hit.
var ErrBudgetExceeded = errors.New("run budget exceeded")

// agentLoop is the per-agent view of a run. The root loop and every sub-loop
// share the run's journal, event stream and budget.
type agentLoop struct {
	agent   string
	role    tools.Role
	class   routing.ActionClass
	em      *events.Emitter
	exec    *tools.Executor
	request string
	scope   []string
	files   []string
	maxIter int
	root    bool

	iterations int
	tokens     int
	history    []planner.Entry
	reasoning  string
	lastText   string
}

func (l *agentLoop) note(s string) {
	l.history = append(l.history, planner.Entry{Note: s})
}

func (l *agentLoop) record(step planner.Step) {
	s := step
	s.Usage = nil
	l.history = append(l.history, planner.Entry{Step: &s})
}

// takeReasoning returns the reasoning preceding a call and clears it.
func (l *agentLoop) takeReasoning() string {
	r := l.reasoning
	l.reasoning = ""
	return r
}

// plan asks the planner for the loop's next step and accounts for its usage.
func (x *execution) plan(ctx context.Context, l *agentLoop) (planner.Step, error) {
	l.iterations++
	if l.root {
		x.run.step()
		x.run.transition(StatePlanning)
	}
	model := x.c.router.Route(l.class, x.tier)
	pc := &planner.Context{
		RunID:            x.run.ID,
		Agent:            l.agent,
		Role:             l.role,
		Request:          l.request,
		Strategy:         x.run.Strategy,
		Model:            model,
		Toolset:          tools.Toolset(l.role),
		PlanText:         x.planText,
		Files:            l.files,
		Scope:            l.scope,
		Iteration:        l.iterations,
		MaxIterations:    l.maxIter,
		EscalationFactor: x.factor,
		History:          l.history,
	}
	step, err := x.c.planner.Next(ctx, pc)
	if step.Usage != nil {
		x.usage(l, model, step.Usage)
	}
	return step, err
}

func (x *execution) usage(l *agentLoop, routed string, u *planner.Usage) {
	model := u.Model
	if model == "" {
		model = routed
	}
	cost := x.c.router.CostCents(model, u.InputTokens, u.OutputTokens)
	x.run.addUsage(cost, u.InputTokens, u.OutputTokens)
	l.tokens += u.InputTokens + u.OutputTokens
	l.em.Thinking(transcript.PhaseUsage, model, "", map[string]string{
		transcript.MetaModel:        model,
		transcript.MetaInputTokens:  strconv.Itoa(u.InputTokens),
		transcript.MetaOutputTokens: strconv.Itoa(u.OutputTokens),
		transcript.MetaCostCents:    strconv.FormatFloat(cost, 'f', 4, 64),
	})
}

// narrate publishes a non-action step.
func (x *execution) narrate(l *agentLoop, step planner.Step) {
	switch step.Kind {
	case planner.KindThink:
		l.em.Thinking(step.Phase, step.Label, step.Detail, nil)
	case planner.KindReason:
		l.em.Reasoning(step.Text)
		l.reasoning = step.Text
		l.lastText = step.Text
	case planner.KindText:
		l.em.Text(step.Text)
		l.lastText = step.Text
	}
	l.record(step)
}

// call announces a tool call, executes it and publishes its result. Every
// announced call is resolved exactly once, by a real or synthesized result.
func (x *execution) call(ctx context.Context, l *agentLoop, step planner.Step) tools.Result {
	call := tools.Call{
		ID:        x.run.nextCallID(),
		Name:      step.Tool,
		Input:     step.Input,
		Agent:     l.agent,
		Role:      l.role,
		Reasoning: l.takeReasoning(),
		EmittedAt: time.Now(),
	}
	if l.root {
		x.run.transition(StateToolExecution)
	}
	x.run.addPending(call)
	l.record(step)
	l.em.ToolCall(events.ToolCall{
		ID:        call.ID,
		Name:      call.Name.String(),
		Input:     map[string]any(call.Input),
		Class:     string(call.Name.Class()),
		Reasoning: call.Reasoning,
	})

	res := x.execute(ctx, l.exec, call)

	x.run.resolve(call.ID)
	l.em.ToolResult(events.ToolResult{
		ID:        call.ID,
		Content:   res.Content,
		IsError:   res.IsError,
		ElapsedMS: res.ElapsedMS(),
	})
	l.history = append(l.history, planner.Entry{Observation: &planner.Observation{
		CallID:  call.ID,
		Tool:    call.Name,
		Content: res.Content,
		IsError: res.IsError,
	}})
	x.c.metrics.ToolCallsTotal.WithLabelValues(call.Name.String(), strconv.FormatBool(res.IsError)).Inc()

	if l.root {
		x.run.transition(StateObserving)
		x.observe(ctx, call, res)
	}
	return res
}

// execute runs a call under its own span. When the run is cancelled mid-call
// the in-flight tool gets a short grace period to observe cancellation before
// a result is synthesized.
func (x *execution) execute(ctx context.Context, ex *tools.Executor, call tools.Call) tools.Result {
	ctx, span := x.c.tracer.Start(ctx, "coordinator.tool",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name.String()),
			attribute.String("tool.call_id", call.ID),
			attribute.String("tool.agent", call.Agent),
		))
	defer span.End()

	done := make(chan tools.Result, 1)
	go func() { done <- ex.Execute(ctx, call) }()

	var res tools.Result
	select {
	case res = <-done:
	case <-ctx.Done():
		select {
		case <-done:
		case <-time.After(cancelGrace):
			x.logger.Warn(ctx, "tool did not stop after cancellation",
				zap.String("tool", call.Name.String()), zap.String("call_id", call.ID))
		}
		res = tools.Result{CallID: call.ID, Content: noResult, IsError: true}
	}
	span.SetAttributes(attribute.Bool("tool.is_error", res.IsError))
	return res
}

// runSubLoop is the delegation runner: a bounded loop for one sub-agent that
// shares the run's journal, stream and budget. It never nests further.
func (x *execution) runSubLoop(ctx context.Context, spec delegation.Spec) (delegation.Outcome, error) {
	ctx = logging.WithAgent(ctx, spec.Agent)
	ex := x.exec
	if spec.Role == tools.RoleSpecialist && x.run.Strategy.FileScoped {
		ex = ex.Restrict(spec.Files)
	}
	class := routing.Specialize
	if spec.Role == tools.RoleReviewer {
		class = routing.Review
	}
	files := spec.Files
	if len(files) == 0 {
		files = x.files
	}
	l := &agentLoop{
		agent:   spec.Agent,
		role:    spec.Role,
		class:   class,
		em:      x.em.WithAgent(spec.Agent),
		exec:    ex,
		request: spec.Task,
		scope:   spec.Files,
		files:   files,
		maxIter: spec.MaxIterations,
	}
	l.em.Thinking("delegate", "Started "+spec.Agent, spec.Task, map[string]string{
		"call_id":        spec.CallID,
		"max_iterations": strconv.Itoa(spec.MaxIterations),
	})

	tokenBudget := x.c.cfg.Delegation.SubAgentTokenBudget
	for l.iterations < l.maxIter {
		if err := ctx.Err(); err != nil {
			return delegation.Outcome{Iterations: l.iterations, Summary: l.lastText}, err
		}
		if tokenBudget > 0 && l.tokens >= tokenBudget {
			break
		}
		step, err := x.plan(ctx, l)
		if err != nil {
			if ctx.Err() != nil {
				return delegation.Outcome{Iterations: l.iterations, Summary: l.lastText}, ctx.Err()
			}
			l.note(fmt.Sprintf("Your last reply could not be used: %v. Reply with one JSON action.", err))
			continue
		}
		switch step.Kind {
		case planner.KindThink, planner.KindReason, planner.KindText:
			x.narrate(l, step)
		case planner.KindCallTool:
			if reason, over := x.overBudget(); over {
				return delegation.Outcome{Iterations: l.iterations, Summary: l.lastText},
					fmt.Errorf("%w: %s", ErrBudgetExceeded, reason)
			}
			x.call(ctx, l, step)
		case planner.KindComplete, planner.KindNoChange:
			return delegation.Outcome{Iterations: l.iterations, Summary: step.Text}, nil
		case planner.KindAskUser:
			return delegation.Outcome{Iterations: l.iterations, Summary: "Needs input: " + step.Text}, nil
		}
	}
	return delegation.Outcome{Iterations: l.iterations, Summary: l.lastText, Exhausted: true}, nil
}
