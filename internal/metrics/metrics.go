// Package metrics exposes Prometheus counters for the auth use cases.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Namespace = "authd"

	OperationLabel = "operation"
	OutcomeLabel   = "outcome"
	MethodLabel    = "method"
	RouteLabel     = "route"
	StatusLabel    = "status"
)

// Metrics owns a private registry so tests and multiple instances do not
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	outcomes        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	sessionsSwept   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "operations_total",
				Help:      "Auth use-case invocations by operation and outcome",
			},
			[]string{OperationLabel, OutcomeLabel},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route and status",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{MethodLabel, RouteLabel, StatusLabel},
		),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_swept_total",
			Help:      "Expired sessions physically removed by the sweeper",
		}),
	}
	m.registry.MustRegister(
		m.outcomes,
		m.requestDuration,
		m.sessionsSwept,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOutcome counts one finished use case.
func (m *Metrics) ObserveOutcome(operation, outcome string) {
	m.outcomes.WithLabelValues(operation, outcome).Inc()
}

// ObserveRequest records the latency of one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requestDuration.WithLabelValues(method, route, http.StatusText(status)).Observe(d.Seconds())
}

// AddSwept counts sessions removed by a sweep.
func (m *Metrics) AddSwept(n int64) {
	if n > 0 {
		m.sessionsSwept.Add(float64(n))
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
