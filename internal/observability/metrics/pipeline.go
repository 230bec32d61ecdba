package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
)

// PipelineMetrics records stage, annotation and run telemetry of the analysis pipeline.
// It also tracks analysis jobs served by the worker.
type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	stageDuration    *prometheus.HistogramVec
	annotationsTotal *prometheus.CounterVec
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	retriesTotal     *prometheus.CounterVec
	jobsTotal        *prometheus.CounterVec
	jobsInFlight     prometheus.Gauge
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	return NewPipelineMetricsWithRegistry(service, prometheus.NewRegistry())
}

// NewPipelineMetricsWithRegistry registers the collectors on an existing registry so the
// API can serve pipeline and HTTP metrics from one endpoint.
func NewPipelineMetricsWithRegistry(service string, registry *prometheus.Registry) *PipelineMetrics {
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clause",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"service", "stage", "mode"},
	)
	annotationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clause",
			Subsystem: "pipeline",
			Name:      "annotation_batches_total",
			Help:      "Total annotator batches by stage and status.",
		},
		[]string{"service", "stage", "status"},
	)
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clause",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total finished analysis runs by outcome.",
		},
		[]string{"service", "outcome"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clause",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Analysis run duration in seconds by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clause",
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Total retried outbound calls by operation.",
		},
		[]string{"service", "operation"},
	)
	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clause",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Total analysis jobs served by status.",
		},
		[]string{"service", "status"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clause",
			Subsystem: "worker",
			Name:      "jobs_in_flight",
			Help:      "Number of in-flight analysis jobs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(stageDuration, annotationsTotal, runsTotal, runDuration, retriesTotal, jobsTotal, jobsInFlight)

	return &PipelineMetrics{
		registry:         registry,
		service:          service,
		stageDuration:    stageDuration,
		annotationsTotal: annotationsTotal,
		runsTotal:        runsTotal,
		runDuration:      runDuration,
		retriesTotal:     retriesTotal,
		jobsTotal:        jobsTotal,
		jobsInFlight:     jobsInFlight,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) ObserveStage(stage string, duration time.Duration, degraded bool) {
	mode := "model"
	if degraded {
		mode = "rules"
	}
	m.stageDuration.WithLabelValues(m.service, stage, mode).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveAnnotation(stage string, status string) {
	if status == "" {
		status = "unknown"
	}
	m.annotationsTotal.WithLabelValues(m.service, stage, status).Inc()
}

func (m *PipelineMetrics) ObserveRun(outcome domain.Outcome, duration time.Duration) {
	m.runsTotal.WithLabelValues(m.service, string(outcome)).Inc()
	m.runDuration.WithLabelValues(m.service, string(outcome)).Observe(duration.Seconds())
}

// RecordRetry matches resilience.RetryObserver.
func (m *PipelineMetrics) RecordRetry(operation string) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}

func (m *PipelineMetrics) StartJob() {
	m.jobsInFlight.Inc()
}

func (m *PipelineMetrics) FinishJob(err error) {
	m.jobsInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.jobsTotal.WithLabelValues(m.service, status).Inc()
}
