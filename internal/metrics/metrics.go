// Package metrics provides Prometheus metrics for plan execution.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// stepsTotal counts finished steps.
	// Labels:
	//   - status: Succeeded, Skipped, Failed
	//   - reason: skip reason or error kind, empty on success
	stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepflow_steps_total",
			Help: "Total number of plan steps by outcome",
		},
		[]string{"status", "reason"},
	)

	// runsTotal counts plan runs.
	// Labels:
	//   - outcome: success, failed, cancelled, invalid
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepflow_runs_total",
			Help: "Total number of plan executions by outcome",
		},
		[]string{"outcome"},
	)

	// dispatchDuration records how long HTTP dispatches took.
	// Buckets: 50ms .. 30s
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stepflow_dispatch_duration_seconds",
			Help:    "Duration of step HTTP dispatches in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(stepsTotal)
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(dispatchDuration)
}

// RecordStep records a finished step
func RecordStep(status, reason string) {
	stepsTotal.WithLabelValues(status, reason).Inc()
}

// RecordRun records a finished plan execution
func RecordRun(outcome string) {
	runsTotal.WithLabelValues(outcome).Inc()
}

// RecordDispatch records the duration of one HTTP dispatch
func RecordDispatch(method string, durationSeconds float64) {
	dispatchDuration.WithLabelValues(method).Observe(durationSeconds)
}
