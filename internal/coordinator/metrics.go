package coordinator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the coordinator loop.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	ToolCallsTotal    *prometheus.CounterVec
	GateFailuresTotal *prometheus.CounterVec
	EscalationsTotal  *prometheus.CounterVec
	ActiveRuns        prometheus.Gauge
	Iterations        prometheus.Histogram
	RunDuration       prometheus.Histogram
}

// NewMetrics registers the coordinator metrics once per process and returns
// them.
//
// Metrics:
//   - themeagent_coordinator_runs_total{outcome}
//   - themeagent_coordinator_tool_calls_total{tool,error}
//   - themeagent_coordinator_gate_failures_total{gate,kept}
//   - themeagent_coordinator_escalations_total{trigger}
//   - themeagent_coordinator_active_runs
//   - themeagent_coordinator_iterations
//   - themeagent_coordinator_run_duration_seconds
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "themeagent",
					Subsystem: "coordinator",
					Name:      "runs_total",
					Help:      "Finalized runs by outcome status",
				},
				[]string{"outcome"},
			),
			ToolCallsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "themeagent",
					Subsystem: "coordinator",
					Name:      "tool_calls_total",
					Help:      "Tool calls by tool and whether the result was an error",
				},
				[]string{"tool", "error"},
			),
			GateFailuresTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "themeagent",
					Subsystem: "coordinator",
					Name:      "gate_failures_total",
					Help:      "Validation gate failures by gate and whether edits were kept",
				},
				[]string{"gate", "kept"},
			),
			EscalationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "themeagent",
					Subsystem: "coordinator",
					Name:      "escalations_total",
					Help:      "Conversation arc escalations by trigger",
				},
				[]string{"trigger"},
			),
			ActiveRuns: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "themeagent",
					Subsystem: "coordinator",
					Name:      "active_runs",
					Help:      "Runs currently executing",
				},
			),
			Iterations: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "themeagent",
					Subsystem: "coordinator",
					Name:      "iterations",
					Help:      "Planning iterations per run",
					Buckets:   []float64{1, 2, 5, 10, 20, 40, 80},
				},
			),
			RunDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "themeagent",
					Subsystem: "coordinator",
					Name:      "run_duration_seconds",
					Help:      "Wall time from run start to finalized outcome",
					Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
				},
			),
		}
	})
	return globalMetrics
}
