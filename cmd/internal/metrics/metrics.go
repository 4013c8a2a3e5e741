// Package metrics holds secretwall's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "secretwall"

// Auth schemes and outcomes used as label values.
const (
	SchemeLocal    = "local"
	SchemeGoogle   = "google"
	SchemeRegister = "register"

	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
)

// Metrics is the set of collectors registered on one registry.
type Metrics struct {
	reg *prometheus.Registry

	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	authAttempts *prometheus.CounterVec
	secrets      prometheus.Counter
}

// New registers secretwall collectors plus the Go and process collectors on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status class.",
		}, []string{"method", "route", "class"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		authAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Registration and login attempts by scheme and result.",
		}, []string{"scheme", "result"}),
		secrets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secrets_submitted_total",
			Help:      "Secrets written to the wall.",
		}),
	}
}

// ObserveRequest records one finished HTTP request. route should be a bounded
// value such as the matched mux pattern.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) AuthAttempt(scheme, result string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(scheme, result).Inc()
}

func (m *Metrics) SecretSubmitted() {
	if m == nil {
		return
	}
	m.secrets.Inc()
}

// WatchGauge exposes a value sampled at scrape time, such as live viewers.
func (m *Metrics) WatchGauge(name, help string, fn func() float64) {
	if m == nil || fn == nil {
		return
	}
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
