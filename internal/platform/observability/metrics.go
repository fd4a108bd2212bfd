package observability

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxLabelLen = 64

func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

// Metrics holds the Prometheus collectors for the server.
type Metrics struct {
	registry *prometheus.Registry

	inspections        *prometheus.CounterVec
	inspectionDuration *prometheus.HistogramVec
	inflight           prometheus.Gauge
	intakeRejections   *prometheus.CounterVec
	telemetryReadings  *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	eventsPublished    *prometheus.CounterVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the process-wide metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = NewMetrics()
	})
	return metricsInstance
}

// NewMetrics builds a metrics set on its own registry. Tests use it to avoid
// sharing counters with the process-wide instance.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inspections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sunforge",
				Name:      "inspection_total",
				Help:      "Inspection requests by outcome (success or failure kind)",
			},
			[]string{"outcome"},
		),
		inspectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sunforge",
				Name:      "inspection_duration_seconds",
				Help:      "Wall time of inference calls by provider",
				Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 90, 120},
			},
			[]string{"provider"},
		),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sunforge",
			Name:      "inspection_inflight",
			Help:      "Inference calls currently outstanding",
		}),
		intakeRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sunforge",
				Name:      "intake_rejections_total",
				Help:      "Uploads rejected before inference by reason",
			},
			[]string{"reason"},
		),
		telemetryReadings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sunforge",
				Name:      "telemetry_readings_total",
				Help:      "Telemetry readings accepted by device",
			},
			[]string{"device"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sunforge",
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "path", "status"},
		),
		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sunforge",
				Name:      "events_published_total",
				Help:      "Domain events published by topic",
			},
			[]string{"topic"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.inspections,
		m.inspectionDuration,
		m.inflight,
		m.intakeRejections,
		m.telemetryReadings,
		m.httpRequests,
		m.eventsPublished,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordInspection(outcome string) {
	m.inspections.WithLabelValues(sanitizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveInference(provider string, d time.Duration) {
	m.inspectionDuration.WithLabelValues(sanitizeLabel(provider)).Observe(d.Seconds())
}

// TrackInflight increments the inflight gauge and returns its decrement.
func (m *Metrics) TrackInflight() func() {
	m.inflight.Inc()
	return m.inflight.Dec
}

func (m *Metrics) RecordIntakeRejection(reason string) {
	m.intakeRejections.WithLabelValues(sanitizeLabel(reason)).Inc()
}

func (m *Metrics) RecordTelemetryReading(deviceID string) {
	m.telemetryReadings.WithLabelValues(sanitizeLabel(deviceID)).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int) {
	m.httpRequests.WithLabelValues(method, sanitizeLabel(path), statusLabel(status)).Inc()
}

func (m *Metrics) RecordEvent(topic string) {
	m.eventsPublished.WithLabelValues(sanitizeLabel(topic)).Inc()
}

func statusLabel(status int) string {
	if status < 100 || status > 999 {
		return "unknown"
	}
	return strconv.Itoa(status)
}
