// Package observability exposes Prometheus collectors for the recon engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles all collectors so both binaries can register the set once
// and hand it to the components that record into it.
type Metrics struct {
	JobsStarted       prometheus.Counter
	JobsCompleted     prometheus.Counter
	JobsFailed        *prometheus.CounterVec
	JobDuration       prometheus.Histogram
	Classifications   *prometheus.CounterVec
	RowsNormalized    *prometheus.CounterVec
	RowsRejected      *prometheus.CounterVec
	ExceptionsOpen    prometheus.Gauge
	RuleApplications  *prometheus.CounterVec
	ConnectorFetches  *prometheus.CounterVec
	SnoozesReopened   prometheus.Counter
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// NewMetrics registers all collectors with the given registerer.
// Pass prometheus.DefaultRegisterer in main; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "recon_jobs_started_total",
			Help: "Number of recon jobs that began execution.",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "recon_jobs_completed_total",
			Help: "Number of recon jobs that finished successfully.",
		}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_jobs_failed_total",
			Help: "Number of recon jobs that ended in FAILED, by error code.",
		}, []string{"code"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "recon_job_duration_seconds",
			Help:    "Wall-clock duration of recon job execution.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_classifications_total",
			Help: "Match results produced, by match status.",
		}, []string{"status"}),
		RowsNormalized: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_rows_normalized_total",
			Help: "Raw rows successfully normalized, by source side.",
		}, []string{"side"}),
		RowsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_rows_rejected_total",
			Help: "Raw rows rejected during normalization, by issue code.",
		}, []string{"code"}),
		ExceptionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "recon_exceptions_open",
			Help: "Exceptions currently in a non-terminal status.",
		}),
		RuleApplications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_rule_applications_total",
			Help: "Rule engine actions applied, by rule name.",
		}, []string{"rule"}),
		ConnectorFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_connector_fetches_total",
			Help: "Source connector fetch attempts, by source and outcome.",
		}, []string{"source", "outcome"}),
		SnoozesReopened: factory.NewCounter(prometheus.CounterOpts{
			Name: "recon_snoozes_reopened_total",
			Help: "Snoozed exceptions automatically reopened after expiry.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_http_requests_total",
			Help: "HTTP requests served, by method, route and status class.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recon_http_request_duration_seconds",
			Help:    "HTTP request latency, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}
