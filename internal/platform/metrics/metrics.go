// Package metrics exposes Prometheus instrumentation for source attempts and
// scheduled job runs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	jobRuns         *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotekeeper_source_attempts_total",
			Help: "Source strategy attempts by entity, strategy and outcome.",
		}, []string{"entity", "strategy", "outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quotekeeper_source_attempt_seconds",
			Help:    "Duration of source strategy attempts.",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotekeeper_job_runs_total",
			Help: "Scheduled job executions by job, status and catch-up flag.",
		}, []string{"job", "status", "catch_up"}),
	}
	m.registry.MustRegister(m.attempts, m.attemptDuration, m.jobRuns)
	return m
}

// ObserveAttempt records one strategy attempt. err == nil counts as success.
func (m *Metrics) ObserveAttempt(entity, strategy string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.attempts.WithLabelValues(entity, strategy, outcome).Inc()
	m.attemptDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

func (m *Metrics) ObserveJobRun(job, status string, catchUp bool) {
	m.jobRuns.WithLabelValues(job, status, strconv.FormatBool(catchUp)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
