package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-edge/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	profilingActive prometheus.Gauge
	configWarnings  prometheus.Gauge

	// edge admission
	ratelimitDeniedTotal     *prometheus.CounterVec
	ratelimitCapacityTotal   prometheus.Counter
	ratelimitStoreErrorTotal prometheus.Counter

	// content API client
	upstreamTotal    *prometheus.CounterVec
	upstreamDuration prometheus.Histogram

	cspReportsTotal  *prometheus.CounterVec
	cspRejectedTotal *prometheus.CounterVec
	cspDroppedTotal  prometheus.Counter

	revalidateTotal       *prometheus.CounterVec
	cacheInvalidatedTotal prometheus.Counter
}

// New returns a fresh registry with the Go and process collectors, HTTP
// server metrics and the edge's own counters. Labels are bounded: routes
// come from chi patterns, categories and directives are folded to fixed sets.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		configWarnings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "config_warnings",
			Help: "Number of integration config warnings reported at startup",
		}),
		ratelimitDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by the rate limiter by category and reason",
		}, []string{"category", "reason"}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times the rate limiter ran out of room for new clients",
		}),
		ratelimitStoreErrorTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Rate limit store failures (requests were allowed)",
		}),
		upstreamTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Content API fetches by outcome (ok or rejection kind)",
		}, []string{"outcome"}),
		upstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Content API fetch latency including validation",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		cspReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "csp_violation_reports_total",
			Help: "CSP violations received by directive",
		}, []string{"directive"}),
		cspRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "csp_violation_reports_rejected_total",
			Help: "CSP report submissions rejected by reason",
		}, []string{"reason"}),
		cspDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "csp_violation_reports_dropped_total",
			Help: "CSP report batches that could not be archived",
		}),
		revalidateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "revalidate_requests_total",
			Help: "Revalidate webhook calls by result",
		}, []string{"result"}),
		cacheInvalidatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "content_cache_invalidated_entries_total",
			Help: "Content cache entries dropped by revalidation",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.configWarnings,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.ratelimitStoreErrorTotal,
		m.upstreamTotal,
		m.upstreamDuration,
		m.cspReportsTotal,
		m.cspRejectedTotal,
		m.cspDroppedTotal,
		m.revalidateTotal,
		m.cacheInvalidatedTotal,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	m.buildInfo.With(prometheus.Labels{
		"app":        app,
		"component":  component,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_date": vi.BuildDate,
		"go_version": vi.GoVersion,
		"vcs_dirty":  vi.DirtyLabel(),
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}

func (m *ServerMetrics) SetConfigWarnings(n int) {
	m.configWarnings.Set(float64(n))
}

// IncRateLimitDenied counts a denial. category is the request's first path
// segment and is folded to api, root or page.
func (m *ServerMetrics) IncRateLimitDenied(category, reason string) {
	m.ratelimitDeniedTotal.WithLabelValues(foldCategory(category), reason).Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitStoreError() {
	m.ratelimitStoreErrorTotal.Inc()
}

// ObserveUpstream records one content API fetch.
func (m *ServerMetrics) ObserveUpstream(outcome string, d time.Duration) {
	m.upstreamTotal.WithLabelValues(outcome).Inc()
	m.upstreamDuration.Observe(d.Seconds())
}

func (m *ServerMetrics) IncCSPReport(directive string) {
	m.cspReportsTotal.WithLabelValues(directive).Inc()
}

func (m *ServerMetrics) IncCSPReportRejected(reason string) {
	m.cspRejectedTotal.WithLabelValues(reason).Inc()
}

func (m *ServerMetrics) IncCSPReportDropped() {
	m.cspDroppedTotal.Inc()
}

func (m *ServerMetrics) IncRevalidate(result string) {
	m.revalidateTotal.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) AddCacheInvalidations(n int) {
	if n > 0 {
		m.cacheInvalidatedTotal.Add(float64(n))
	}
}

func foldCategory(c string) string {
	switch c {
	case "api", "root":
		return c
	default:
		return "page"
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
