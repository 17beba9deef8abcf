package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentflow_workflow_runs_total",
			Help: "Total workflow runs started, by workflow name",
		},
		[]string{"workflow"},
	)

	runsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentflow_workflow_runs_finished_total",
			Help: "Total workflow runs finished, by workflow name and final status",
		},
		[]string{"workflow", "status"},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentflow_step_duration_seconds",
			Help:    "Wall-clock duration of individual step executions, by action kind and outcome",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"action", "status"},
	)

	stepRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentflow_step_retries_total",
			Help: "Total step attempts beyond the first, by action kind",
		},
		[]string{"action"},
	)
)

func recordRunStarted(workflow string) { runsStarted.WithLabelValues(workflow).Inc() }

func recordRunFinished(workflow string, status Status) {
	runsFinished.WithLabelValues(workflow, string(status)).Inc()
}

func recordStep(action, status string, d time.Duration) {
	stepDuration.WithLabelValues(action, status).Observe(d.Seconds())
}

func recordStepRetry(action string) { stepRetries.WithLabelValues(action).Inc() }
