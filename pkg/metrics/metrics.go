// Package metrics holds the Prometheus instrumentation of the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retail_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"entry", "status"}, // status: success, unrecoverable, cancelled, error
	)

	runDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retail_pipeline_run_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"entry"},
	)

	stageInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retail_stage_invocations_total",
			Help: "Total number of stage invocations",
		},
		[]string{"stage", "status"}, // status: success, failure, setup_failure
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retail_stage_duration_seconds",
			Help:    "Stage invocation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	routingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retail_routing_decisions_total",
			Help: "Routing decisions taken after a stage finished",
		},
		[]string{"stage", "action"}, // action: advance, terminate, retry, fallback, unrecoverable
	)

	inflightRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "retail_pipeline_inflight_runs",
			Help: "Pipeline runs currently executing",
		},
	)

	webhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retail_webhook_requests_total",
			Help: "Webhook requests by route and response code",
		},
		[]string{"route", "code"},
	)
)

func RecordRun(entry, status string, d time.Duration) {
	runsTotal.WithLabelValues(entry, status).Inc()
	runDurationSeconds.WithLabelValues(entry).Observe(d.Seconds())
}

func RecordStage(stage, status string, d time.Duration) {
	stageInvocationsTotal.WithLabelValues(stage, status).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func RecordDecision(stage, action string) {
	routingDecisionsTotal.WithLabelValues(stage, action).Inc()
}

// RunStarted increments the in-flight gauge and returns the matching decrement.
func RunStarted() func() {
	inflightRuns.Inc()
	return inflightRuns.Dec
}

func RecordWebhook(route, code string) {
	webhookRequestsTotal.WithLabelValues(route, code).Inc()
}
