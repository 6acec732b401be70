package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// workflowsTotal counts finished workflows.
	// Labels: tier, path (direct, pending, staged), outcome
	workflowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rosguard",
		Name:      "workflows_total",
		Help:      "Workflows run, by risk tier, path and outcome",
	}, []string{"tier", "path", "outcome"})

	// workflowDuration measures wall time from request to record.
	// Labels: path
	workflowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rosguard",
		Name:      "workflow_duration_seconds",
		Help:      "Workflow duration in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"path"})
)

func observe(rec Record) {
	workflowsTotal.WithLabelValues(rec.Assessment.Tier.String(), string(rec.Path), string(rec.Outcome)).Inc()
	workflowDuration.WithLabelValues(string(rec.Path)).Observe(rec.CompletedAt.Sub(rec.StartedAt).Seconds())
}
