// Package metrics defines Prometheus metrics for the jeeves worker.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all registered Prometheus collectors.
type Metrics struct {
	PhaseDuration            *prometheus.HistogramVec
	PhaseTotal               *prometheus.CounterVec
	RunsCompletedTotal       *prometheus.CounterVec
	SandboxProvisionDuration prometheus.Histogram
	SandboxCleanupDuration   prometheus.Histogram
	EventBusDroppedTotal     prometheus.Counter
}

// Register registers all metrics with the given registry and returns the
// first registration error, if any.
func Register(reg prometheus.Registerer) error {
	m := New()
	return RegisterWith(reg, m)
}

// RegisterWith registers a pre-built Metrics instance with the given registry.
func RegisterWith(reg prometheus.Registerer, m *Metrics) error {
	collectors := []prometheus.Collector{
		m.PhaseDuration,
		m.PhaseTotal,
		m.RunsCompletedTotal,
		m.SandboxProvisionDuration,
		m.SandboxCleanupDuration,
		m.EventBusDroppedTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// New creates uninitialised metric instances (used internally and by interceptor).
func New() *Metrics {
	return &Metrics{
		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jeeves_phase_duration_seconds",
				Help:    "Duration of each workflow phase's RunPhase/RunWorkerTask activity in seconds.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"phase_name", "result"},
		),
		PhaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jeeves_phase_total",
				Help: "Total number of phase executions by name and result.",
			},
			[]string{"phase_name", "result"},
		),
		RunsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jeeves_runs_completed_total",
				Help: "Total number of Drive workflow runs by completion reason.",
			},
			[]string{"completion_reason"},
		),
		SandboxProvisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jeeves_sandbox_provision_seconds",
			Help:    "Duration of worker sandbox provisioning (git worktree create/reuse) in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		SandboxCleanupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jeeves_sandbox_cleanup_seconds",
			Help:    "Duration of worker sandbox cleanup (git worktree remove) in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		EventBusDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jeeves_eventbus_dropped_total",
			Help: "Total number of events dropped because a subscriber's buffered channel was full.",
		}),
	}
}
