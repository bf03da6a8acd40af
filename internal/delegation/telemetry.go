package delegation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/themeagent/internal/tools"
)

// Metrics provides OpenTelemetry metrics for delegations.
type Metrics struct {
	finishedTotal metric.Int64Counter
	rejectedTotal metric.Int64Counter
	activeCount   metric.Int64UpDownCounter
	duration      metric.Float64Histogram

	initialized bool
}

// NewMetrics creates a new Metrics instance with the provided meter.
// If meter is nil, uses the global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	m := &Metrics{}
	var err error

	m.finishedTotal, err = meter.Int64Counter(
		"delegation.finished.total",
		metric.WithDescription("Sub-agent runs by kind and final status"),
		metric.WithUnit("{subagent}"),
	)
	if err != nil {
		return nil, err
	}

	m.rejectedTotal, err = meter.Int64Counter(
		"delegation.rejected.total",
		metric.WithDescription("Delegation requests refused by strategy"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.activeCount, err = meter.Int64UpDownCounter(
		"delegation.active.count",
		metric.WithDescription("Number of currently running sub-agents"),
		metric.WithUnit("{subagent}"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram(
		"delegation.duration.seconds",
		metric.WithDescription("Duration of sub-agent runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

func (m *Metrics) recordFinished(ctx context.Context, kind tools.DelegationKind, status Status, d time.Duration) {
	if m == nil || !m.initialized {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("status", string(status)),
	)
	m.finishedTotal.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) recordRejected(ctx context.Context, kind tools.DelegationKind) {
	if m == nil || !m.initialized {
		return
	}
	m.rejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (m *Metrics) activeAdd(ctx context.Context, n int64) {
	if m == nil || !m.initialized {
		return
	}
	m.activeCount.Add(ctx, n)
}
