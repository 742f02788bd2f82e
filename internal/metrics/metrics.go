// Package metrics provides Prometheus metrics for the token service.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the service.
type Metrics struct {
	OperationsTotal     *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	CleanedTokensTotal  *prometheus.CounterVec
	NotificationsTotal  *prometheus.CounterVec
	NotificationsQueued prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "examaccess_operations_total",
				Help: "Total number of token operations by operation and result.",
			},
			[]string{"operation", "result"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "examaccess_operation_duration_seconds",
				Help:    "Token operation duration by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		CleanedTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "examaccess_cleaned_tokens_total",
				Help: "Total number of expired tokens deleted by cleanup.",
			},
			[]string{"used"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "examaccess_notifications_total",
				Help: "Total number of token notifications by result.",
			},
			[]string{"result"},
		),
		NotificationsQueued: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "examaccess_notifications_queued",
				Help: "Number of notifications waiting for delivery.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.OperationsTotal)
	reg.MustRegister(m.OperationDuration)
	reg.MustRegister(m.CleanedTokensTotal)
	reg.MustRegister(m.NotificationsTotal)
	reg.MustRegister(m.NotificationsQueued)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordOperation(operation, result string) {
	m.OperationsTotal.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) ObserveDuration(operation string, seconds float64) {
	m.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

func (m *Metrics) RecordCleanup(used, unused int) {
	m.CleanedTokensTotal.WithLabelValues(strconv.FormatBool(true)).Add(float64(used))
	m.CleanedTokensTotal.WithLabelValues(strconv.FormatBool(false)).Add(float64(unused))
}

func (m *Metrics) RecordNotification(result string) {
	m.NotificationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetNotificationsQueued(count int) {
	m.NotificationsQueued.Set(float64(count))
}
