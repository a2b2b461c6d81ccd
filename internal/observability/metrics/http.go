package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docflow"

// routeTemplates are the API routes as registered on the mux. Literal
// segments win over placeholders because they are listed first.
var routeTemplates = [][]string{
	split("/healthz"),
	split("/metrics"),
	split("/openapi.yaml"),
	split("/v1/documents"),
	split("/v1/documents/import"),
	split("/v1/documents/{id}"),
	split("/v1/documents/{id}/file"),
	split("/v1/documents/{id}/transitions"),
	split("/v1/documents/{id}/versions"),
	split("/v1/documents/{id}/comments"),
	split("/v1/audit"),
	split("/v1/rules"),
	split("/v1/notifications"),
	split("/v1/users/{id}/roles"),
	split("/v1/users/{id}/roles/{role}"),
	split("/v1/roles/{role}/capabilities"),
}

// otherRoute labels everything that matches no template, so scanners hitting
// random paths cannot blow up series cardinality.
const otherRoute = "other"

type HTTPServerMetrics struct {
	service  string
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	inFlight  prometheus.Gauge
	rejected  *prometheus.CounterVec
	bodyBytes *prometheus.HistogramVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	m := &HTTPServerMetrics{
		service:  service,
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"service", "method", "path", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "method", "path"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{"service": service},
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rejected_total",
			Help:      "Requests rejected by traffic control before reaching a handler.",
		}, []string{"service", "reason", "path"}),
		bodyBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_body_bytes",
			Help:      "Declared request body size for uploads and imports.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}, []string{"service", "path"}),
	}
	m.registry.MustRegister(m.requests, m.latency, m.inFlight, m.rejected, m.bodyBytes)
	return m
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registerer lets the workflow and resilience collectors share the API's
// /metrics endpoint.
func (m *HTTPServerMetrics) Registerer() prometheus.Registerer {
	return m.registry
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := RouteLabel(r.URL.Path)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if r.ContentLength > 0 && r.Method != http.MethodGet {
			m.bodyBytes.WithLabelValues(m.service, route).Observe(float64(r.ContentLength))
		}

		m.inFlight.Inc()
		defer m.inFlight.Dec()
		next.ServeHTTP(rec, r)

		m.requests.WithLabelValues(m.service, r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.latency.WithLabelValues(m.service, r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordRejected counts a request turned away by rate limiting or
// backpressure.
func (m *HTTPServerMetrics) RecordRejected(reason, path string) {
	m.rejected.WithLabelValues(m.service, reason, RouteLabel(path)).Inc()
}

// RouteLabel maps a request path to its route template.
func RouteLabel(path string) string {
	parts := split(path)
	for _, tmpl := range routeTemplates {
		if matchRoute(tmpl, parts) {
			return "/" + strings.Join(tmpl, "/")
		}
	}
	return otherRoute
}

func matchRoute(tmpl, parts []string) bool {
	if len(tmpl) != len(parts) {
		return false
	}
	for i, seg := range tmpl {
		if strings.HasPrefix(seg, "{") {
			if parts[i] == "" {
				return false
			}
			continue
		}
		if seg != parts[i] {
			return false
		}
	}
	return true
}

func split(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach Flush and deadlines on file
// downloads.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
