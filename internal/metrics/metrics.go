// Package metrics exposes Prometheus counters for the vault client and the
// record store. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gophvault"

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	ReconcilePassesTotal   *prometheus.CounterVec
	ReconcileUploadsTotal  prometheus.Counter
	ReconcileMergedRecords prometheus.Gauge
	BreachChecksTotal      *prometheus.CounterVec
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	SoftDeletePurgedTotal  prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ReconcilePassesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_passes_total",
			Help:      "Reconcile passes by result (ok, skipped, offline, failed).",
		}, []string{"result"}),
		ReconcileUploadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_uploads_total",
			Help:      "Pending records confirmed by the remote store.",
		}),
		ReconcileMergedRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_merged_records",
			Help:      "Record count after the last successful reconcile.",
		}),
		BreachChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breach_checks_total",
			Help:      "Breach reputation checks by status.",
		}, []string{"status"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by route and status code.",
		}, []string{"method", "route", "code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		SoftDeletePurgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "soft_delete_purged_total",
			Help:      "Soft-deleted credential rows purged by the cleaner.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ReconcilePassesTotal,
		m.ReconcileUploadsTotal,
		m.ReconcileMergedRecords,
		m.BreachChecksTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SoftDeletePurgedTotal,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ReconcilePass counts one pass with the given result label.
func (m *Metrics) ReconcilePass(result string, uploaded, merged int) {
	if m == nil {
		return
	}
	m.ReconcilePassesTotal.WithLabelValues(result).Inc()
	m.ReconcileUploadsTotal.Add(float64(uploaded))
	if result == "ok" {
		m.ReconcileMergedRecords.Set(float64(merged))
	}
}

// BreachCheck counts one outbound check.
func (m *Metrics) BreachCheck(status string) {
	if m == nil {
		return
	}
	m.BreachChecksTotal.WithLabelValues(status).Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Purged counts rows removed by the soft-delete cleaner.
func (m *Metrics) Purged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SoftDeletePurgedTotal.Add(float64(n))
}
