// Package metrics exposes Prometheus registries for the API and worker
// binaries.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServerMetrics covers the API surface plus the answering pipeline.
// It implements the use case metrics hooks.
type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	answersTotal       *prometheus.CounterVec
	answerDuration     *prometheus.HistogramVec
	backendFailures    *prometheus.CounterVec
	transformFallbacks *prometheus.CounterVec
	contextChars       prometheus.Histogram
	contextCitations   prometheus.Histogram
	indexedTotal       *prometheus.CounterVec
	indexDuration      *prometheus.HistogramVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "query",
			Name:      "answers_total",
			Help:      "Finished answer requests by terminal state and degradation.",
		},
		[]string{"service", "state", "degraded"},
	)
	answerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "query",
			Name:      "answer_duration_seconds",
			Help:      "End-to-end answer latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "state"},
	)
	backendFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "retrieval",
			Name:      "backend_failures_total",
			Help:      "Retrieval backend failures by backend name.",
		},
		[]string{"service", "backend"},
	)
	transformFallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "query",
			Name:      "transform_fallbacks_total",
			Help:      "Query rewrites that fell back to the original question.",
		},
		[]string{"service", "reason"},
	)
	contextChars := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "query",
			Name:      "context_chars",
			Help:      "Assembled context size in characters.",
			Buckets:   []float64{0, 500, 2000, 5000, 10000, 20000, 40000},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	contextCitations := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "query",
			Name:      "context_citations",
			Help:      "Citations per assembled context.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 16},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	indexedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "index",
			Name:      "documents_total",
			Help:      "Indexed documents by status.",
		},
		[]string{"service", "status"},
	)
	indexDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "index",
			Name:      "document_duration_seconds",
			Help:      "Per-document indexing duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		answersTotal,
		answerDuration,
		backendFailures,
		transformFallbacks,
		contextChars,
		contextCitations,
		indexedTotal,
		indexDuration,
	)

	return &HTTPServerMetrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		answersTotal:       answersTotal,
		answerDuration:     answerDuration,
		backendFailures:    backendFailures,
		transformFallbacks: transformFallbacks,
		contextChars:       contextChars,
		contextCitations:   contextCitations,
		indexedTotal:       indexedTotal,
		indexDuration:      indexDuration,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses per-session paths to keep label cardinality bounded.
func normalizePath(path string) string {
	if strings.HasPrefix(path, "/v1/sessions/") {
		rest := strings.TrimPrefix(path, "/v1/sessions/")
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return "/v1/sessions/{session_id}" + rest[i:]
		}
		return "/v1/sessions/{session_id}"
	}
	return path
}

type QueryRecorder struct {
	metrics *HTTPServerMetrics
	service string
}

// QueryRecorder binds the pipeline hooks to one service label.
func (m *HTTPServerMetrics) QueryRecorder(service string) *QueryRecorder {
	return &QueryRecorder{metrics: m, service: service}
}

func (r *QueryRecorder) AnswerFinished(state string, degraded bool, duration time.Duration) {
	r.metrics.answersTotal.WithLabelValues(r.service, state, strconv.FormatBool(degraded)).Inc()
	r.metrics.answerDuration.WithLabelValues(r.service, state).Observe(duration.Seconds())
}

func (r *QueryRecorder) ContextAssembled(chars, citations int) {
	r.metrics.contextChars.Observe(float64(chars))
	r.metrics.contextCitations.Observe(float64(citations))
}

func (r *QueryRecorder) BackendFailure(backend string) {
	r.metrics.backendFailures.WithLabelValues(r.service, backend).Inc()
}

func (r *QueryRecorder) TransformFallback(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	r.metrics.transformFallbacks.WithLabelValues(r.service, reason).Inc()
}

func (r *QueryRecorder) DocumentIndexed(status string, chunks int, duration time.Duration) {
	r.metrics.indexedTotal.WithLabelValues(r.service, status).Inc()
	r.metrics.indexDuration.WithLabelValues(r.service, status).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
