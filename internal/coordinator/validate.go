package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/themeagent/internal/arc"
	"github.com/fyrsmithlabs/themeagent/internal/filestore"
	"github.com/fyrsmithlabs/themeagent/internal/outcome"
	"github.com/fyrsmithlabs/themeagent/internal/planner"
	"github.com/fyrsmithlabs/themeagent/internal/policy"
	"github.com/fyrsmithlabs/themeagent/internal/tools"
)

// GateReview names the review pass in validation issues.
const GateReview = "review"

// changesRequested is the verdict prefix a reviewer uses to reject edits.
const changesRequested = "CHANGES REQUESTED"

// complete validates the edits made so far. It returns done=false when the
// planner gets another attempt after a correctable failure.
func (x *execution) complete(ctx context.Context, l *agentLoop, step planner.Step) (outcome.Outcome, bool) {
	l.record(step)
	x.run.transition(StateValidating)

	prop, err := x.proposal(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return x.cancelled(), true
		}
		x.logger.Error(ctx, "reading proposed edits failed", zap.Error(err))
		return x.withFailure(outcome.Outcome{
			Status:          outcome.NeedsInput,
			FailureReason:   fmt.Sprintf("could not read proposed edits: %v", err),
			SuggestedAction: outcome.SuggestRetry,
		}), true
	}
	if len(prop.Edits) == 0 {
		x.journal.Clear()
		return outcome.Outcome{Status: outcome.NoChange, ChangeSummary: step.Text}, true
	}

	x.em.Thinking("validate", fmt.Sprintf("Validating %d changed files", len(prop.Edits)), "",
		map[string]string{"gates": strings.Join(x.policy.Gates(), ",")})
	verdict := x.evaluate(ctx, prop)
	for _, is := range verdict.Issues {
		x.c.metrics.GateFailuresTotal.WithLabelValues(is.Gate, strconv.FormatBool(is.ChangesKept)).Inc()
	}

	if verdict.Blocked {
		x.rollback(ctx, "validation failed")
		for _, is := range verdict.Issues {
			if is.Gate == policy.GateScopeBoundary && !is.ChangesKept {
				if e := x.c.arcs.RecordScopeExpansion(x.run.ConversationID, strings.Join(is.Errors, "; ")); e != nil {
					x.escalated(ctx, x.c.arcs.Get(x.run.ConversationID), []arc.Escalation{*e})
				}
			}
		}
		if verdict.Correctable && x.canRetry() {
			x.retries++
			l.note(feedback(verdict.Issues, x.retries, x.c.cfg.Policy.MaxValidationRetries))
			x.run.transition(StatePlanning)
			return outcome.Outcome{}, false
		}
		return blocked(verdict.Issues), true
	}

	if x.run.Strategy.RequireReview {
		if reason, over := x.overBudget(); over {
			return x.budgetExceeded(reason), true
		}
		issue, ok := x.review(ctx, l, prop, step.Text)
		if ctx.Err() != nil {
			return x.cancelled(), true
		}
		x.run.transition(StateValidating)
		if !ok {
			x.c.metrics.GateFailuresTotal.WithLabelValues(GateReview, "false").Inc()
			x.rollback(ctx, "review rejected")
			issues := append(verdict.Issues, issue)
			if x.canRetry() {
				x.retries++
				l.note(feedback(issues, x.retries, x.c.cfg.Policy.MaxValidationRetries))
				x.run.transition(StatePlanning)
				return outcome.Outcome{}, false
			}
			return blocked(issues), true
		}
	}
	return x.apply(ctx, prop, step.Text, verdict.Issues), true
}

// canRetry reports whether a failed validation may go back to planning: a
// retry must remain and the iteration budget must allow another step.
func (x *execution) canRetry() bool {
	return x.retries < x.c.cfg.Policy.MaxValidationRetries &&
		x.run.Iterations() < x.run.Strategy.MaxIterations
}

func (x *execution) evaluate(ctx context.Context, prop *policy.Proposal) policy.Verdict {
	ctx, span := x.c.tracer.Start(ctx, "coordinator.validate",
		trace.WithAttributes(
			attribute.Int("validate.edits", len(prop.Edits)),
			attribute.StringSlice("validate.gates", x.policy.Gates()),
		))
	defer span.End()
	v := x.policy.Evaluate(ctx, prop)
	span.SetAttributes(attribute.Int("validate.issues", len(v.Issues)), attribute.Bool("validate.blocked", v.Blocked))
	if v.Blocked {
		span.SetStatus(codes.Error, "edits rejected")
	}
	return v
}

// proposal diffs the journal against the store. Paths whose content ended up
// unchanged are dropped.
func (x *execution) proposal(ctx context.Context) (*policy.Proposal, error) {
	prop := &policy.Proposal{Scope: x.run.Request.Scope}
	for _, e := range x.journal.Entries() {
		after, err := x.c.store.Read(ctx, e.Path)
		deleted := false
		switch {
		case errors.Is(err, filestore.ErrNotFound):
			if !e.Existed {
				continue
			}
			deleted = true
		case err != nil:
			return nil, fmt.Errorf("reading %s: %w", e.Path, err)
		case e.Existed && after == e.Before:
			continue
		}
		prop.Edits = append(prop.Edits, policy.Edit{
			Path:    e.Path,
			Before:  e.Before,
			After:   after,
			Existed: e.Existed,
			Deleted: deleted,
		})
	}
	return prop, nil
}

// review runs the mandatory review pass as a coordinator-issued tool call.
func (x *execution) review(ctx context.Context, l *agentLoop, prop *policy.Proposal, summary string) (outcome.ValidationIssue, bool) {
	paths := make([]string, len(prop.Edits))
	for i, e := range prop.Edits {
		paths[i] = e.Path
	}
	task := fmt.Sprintf("Review the edits made for this request.\nRequest: %s\nSummary: %s", x.run.Request.Text, summary)
	l.reasoning = "Edits passed validation gates; a review is required before they are kept."
	step := planner.Step{
		Kind:  planner.KindCallTool,
		Tool:  tools.RunReview,
		Input: tools.Input{"task": task, "files": toAny(paths)},
	}
	res := x.call(ctx, l, step)

	verdict := strings.TrimSpace(res.Content)
	if res.IsError || strings.Contains(strings.ToUpper(verdict), changesRequested) {
		return outcome.ValidationIssue{
			Gate:        GateReview,
			Errors:      []string{firstLines(verdict, 5)},
			ChangesKept: false,
		}, false
	}
	return outcome.ValidationIssue{}, true
}

// apply keeps the validated edits and commits them when versioning is on.
func (x *execution) apply(ctx context.Context, prop *policy.Proposal, summary string, warnings []outcome.ValidationIssue) outcome.Outcome {
	paths := make([]string, len(prop.Edits))
	for i, e := range prop.Edits {
		paths[i] = e.Path
	}
	x.journal.Clear()

	if x.c.versioner != nil {
		msg := summary
		if msg == "" {
			msg = x.run.Request.Text
		}
		hash, err := x.c.versioner.Commit(ctx, "themeagent: "+firstLines(msg, 1), paths)
		switch {
		case errors.Is(err, filestore.ErrNothingToCommit):
		case err != nil:
			x.logger.Warn(ctx, "committing applied edits failed", zap.Error(err))
		default:
			x.em.Thinking("commit", "Committed changes", hash, map[string]string{"files": strconv.Itoa(len(paths))})
		}
	}
	if summary == "" {
		summary = fmt.Sprintf("Updated %s", strings.Join(paths, ", "))
	}
	return outcome.Outcome{
		Status:           outcome.Applied,
		ChangedFiles:     len(paths),
		ChangeSummary:    summary,
		ValidationIssues: warnings,
	}
}

func blocked(issues []outcome.ValidationIssue) outcome.Outcome {
	gates := make([]string, 0, len(issues))
	for _, is := range issues {
		if !is.ChangesKept {
			gates = append(gates, is.Gate)
		}
	}
	return outcome.Outcome{
		Status:           outcome.BlockedPolicy,
		FailureReason:    "edits rejected by " + strings.Join(gates, ", "),
		SuggestedAction:  outcome.SuggestReviewGates,
		ValidationIssues: issues,
	}
}

// feedback renders gate failures as a note for the planner's next attempt.
func feedback(issues []outcome.ValidationIssue, attempt, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Validation failed (attempt %d of %d). Your edits were rolled back. Fix these problems and try again:\n", attempt, limit)
	for _, is := range issues {
		for _, e := range is.Errors {
			fmt.Fprintf(&b, "- [%s] %s\n", is.Gate, e)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
