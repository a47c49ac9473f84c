package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestTotal    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	QueriesTotal    *prometheus.CounterVec
	CompileDuration prometheus.Histogram
	ExecuteDuration *prometheus.HistogramVec
	CacheLookups    *prometheus.CounterVec
	RateLimited     prometheus.Counter
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dealq_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dealq_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		QueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dealq_queries_total",
			Help: "Transaction queries by render mode and outcome",
		}, []string{"mode", "outcome"}),
		CompileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealq_compile_duration_seconds",
			Help:    "Time spent parsing and compiling a request",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		}),
		ExecuteDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dealq_execute_duration_seconds",
			Help:    "Data-store execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"engine", "mode"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dealq_cache_lookups_total",
			Help: "Result cache lookups by result",
		}, []string{"result"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "dealq_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.RequestTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveCacheLookup records a cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}
