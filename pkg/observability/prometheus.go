package observability

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matzehuels/metaextract/pkg/errors"
)

// Metrics implements PipelineHooks, CacheHooks and HTTPHooks with Prometheus
// collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	extractions     *prometheus.CounterVec
	extractDuration *prometheus.HistogramVec
	attempts        *prometheus.CounterVec
	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	cacheEvents     *prometheus.CounterVec
	cacheBytes      *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec
}

var (
	_ PipelineHooks = (*Metrics)(nil)
	_ CacheHooks    = (*Metrics)(nil)
	_ HTTPHooks     = (*Metrics)(nil)
)

// NewMetrics creates the collectors under namespace and registers them,
// together with the Go runtime and process collectors, on a new registry.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Archive extractions by detected format and result code",
		}, []string{"format", "code"}),
		extractDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extract_duration_seconds",
			Help:      "Archive extraction latency by detected format",
			Buckets:   prometheus.DefBuckets,
		}, []string{"format"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_script_attempts_total",
			Help:      "Build script subprocess spawns by attempt number and result",
		}, []string{"attempt", "result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_script_runs_total",
			Help:      "Build script runs by result code and whether the encoding retry was used",
		}, []string{"code", "retried"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_script_duration_seconds",
			Help:      "Build script run latency including retries",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_events_total",
			Help:      "Cache lookups and writes by key type and event",
		}, []string{"key_type", "event"}),
		cacheBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_written_bytes_total",
			Help:      "Bytes written to the cache by key type",
		}, []string{"key_type"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Failed HTTP requests by method/route/error code",
		}, []string{"method", "route", "code"}),
	}

	m.registry.MustRegister(
		m.extractions, m.extractDuration,
		m.attempts, m.runs, m.runDuration,
		m.cacheEvents, m.cacheBytes,
		m.requests, m.requestLatency, m.requestErrors,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) OnExtractStart(context.Context, string) {}

func (m *Metrics) OnExtractComplete(_ context.Context, _ string, format string, d time.Duration, err error) {
	if format == "" {
		format = "unknown"
	}
	m.extractions.WithLabelValues(format, codeLabel(err)).Inc()
	m.extractDuration.WithLabelValues(format).Observe(d.Seconds())
}

func (m *Metrics) OnRunAttempt(_ context.Context, attempt int, _ time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.attempts.WithLabelValues(strconv.Itoa(attempt), result).Inc()
}

func (m *Metrics) OnRunComplete(_ context.Context, _ int, retried bool, d time.Duration, err error) {
	m.runs.WithLabelValues(codeLabel(err), strconv.FormatBool(retried)).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) OnCacheHit(_ context.Context, keyType string) {
	m.cacheEvents.WithLabelValues(keyType, "hit").Inc()
}

func (m *Metrics) OnCacheMiss(_ context.Context, keyType string) {
	m.cacheEvents.WithLabelValues(keyType, "miss").Inc()
}

func (m *Metrics) OnCacheSet(_ context.Context, keyType string, size int) {
	m.cacheEvents.WithLabelValues(keyType, "set").Inc()
	m.cacheBytes.WithLabelValues(keyType).Add(float64(size))
}

func (m *Metrics) OnRequest(context.Context, string, string) {}

func (m *Metrics) OnResponse(_ context.Context, method, route string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) OnError(_ context.Context, method, route string, err error) {
	m.requestErrors.WithLabelValues(method, route, codeLabel(err)).Inc()
}

// codeLabel maps an error to a bounded label value.
func codeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.GetCode(err) != "":
		return string(errors.GetCode(err))
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return "CANCELED"
	default:
		return string(errors.ErrCodeInternal)
	}
}
