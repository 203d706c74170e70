package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const metricsNamespace = "helpdesk"

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec
	delivered       *prometheus.CounterVec
	dropped         *prometheus.CounterVec
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Requests  map[string]int64 `json:"requests"`
	Errors    map[string]int64 `json:"errors"`
	Delivered map[string]int64 `json:"delivered"`
	Dropped   map[string]int64 `json:"dropped"`
}

// NewMetrics registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "Error responses by route, method and error code.",
		}, []string{"path", "method", "code"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "delivered_total",
			Help:      "Events handed to a connection, by event name.",
		}, []string{"event"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "dropped_total",
			Help:      "Events a connection could not accept, by event name.",
		}, []string{"event"}),
	}
	m.registry.MustRegister(m.requestCount, m.requestDuration, m.errorCount, m.delivered, m.dropped)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRequest counts a request and observes its latency.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(path, method, code).Inc()
}

// RecordDelivery counts an event handed to one connection.
func (m *Metrics) RecordDelivery(event string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(event).Inc()
}

// RecordDrop counts an event a connection could not accept.
func (m *Metrics) RecordDrop(event string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(event).Inc()
}

// Snapshot flattens the counters into maps keyed by their labels joined with "|".
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	snap := MetricsSnapshot{
		Requests:  map[string]int64{},
		Errors:    map[string]int64{},
		Delivered: map[string]int64{},
		Dropped:   map[string]int64{},
	}
	families, err := m.registry.Gather()
	if err != nil {
		return snap
	}
	prefix := metricsNamespace + "_"
	for _, family := range families {
		var (
			dst    map[string]int64
			labels []string
		)
		switch strings.TrimPrefix(family.GetName(), prefix) {
		case "http_requests_total":
			dst, labels = snap.Requests, []string{"path", "method", "status"}
		case "http_errors_total":
			dst, labels = snap.Errors, []string{"path", "method", "code"}
		case "realtime_delivered_total":
			dst, labels = snap.Delivered, []string{"event"}
		case "realtime_dropped_total":
			dst, labels = snap.Dropped, []string{"event"}
		default:
			continue
		}
		for _, metric := range family.GetMetric() {
			dst[labelKey(metric, labels)] = int64(metric.GetCounter().GetValue())
		}
	}
	return snap
}

// labelKey joins label values in the given order; Gather sorts labels by name.
func labelKey(metric *dto.Metric, names []string) string {
	values := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		values[pair.GetName()] = pair.GetValue()
	}
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = values[name]
	}
	return strings.Join(parts, "|")
}
