// Package metrics registers the process's prometheus collectors, following
// the promauto pattern: New (or NewWithRegisterer) registers every collector
// once and hands the resulting collectors out through a single Metrics struct.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the proxy emits.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	UpstreamRequests    *prometheus.CounterVec
	UpstreamDuration    *prometheus.HistogramVec
	BreakerState        *prometheus.GaugeVec
	CoalescedRequests   *prometheus.CounterVec
	BytesServed         *prometheus.CounterVec
	ActiveConnections   prometheus.Gauge
}

// New registers every collector against the default registry. Calling it
// more than once within a process panics, as promauto registration does.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers every collector against reg, so tests can pass
// a fresh prometheus.NewRegistry() instead of colliding on the global default.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yatagarasu",
			Name:      "requests_total",
			Help:      "Total HTTP requests served, by method, route and status.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "yatagarasu",
			Name:      "request_duration_seconds",
			Help:      "Request handling latency, by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		CacheHitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yatagarasu",
			Name:      "cache_hits_total",
			Help:      "Cache hits, by layer.",
		}, []string{"layer"}),

		CacheMissesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yatagarasu",
			Name:      "cache_misses_total",
			Help:      "Cache misses, by layer.",
		}, []string{"layer"}),

		UpstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yatagarasu",
			Name:      "upstream_requests_total",
			Help:      "Upstream requests issued, by bucket, replica and status.",
		}, []string{"bucket", "replica", "status"}),

		UpstreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "yatagarasu",
			Name:      "upstream_duration_seconds",
			Help:      "Upstream round-trip latency, by bucket and replica.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"bucket", "replica"}),

		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "yatagarasu",
			Name:      "breaker_state",
			Help:      "Circuit breaker state by bucket and replica (0=closed, 1=half-open, 2=open).",
		}, []string{"bucket", "replica"}),

		CoalescedRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yatagarasu",
			Name:      "coalesced_requests_total",
			Help:      "Requests that joined an in-flight upstream fetch instead of starting their own, by bucket.",
		}, []string{"bucket"}),

		BytesServed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yatagarasu",
			Name:      "bytes_served_total",
			Help:      "Bytes transferred, by direction (upstream, downstream).",
		}, []string{"direction"}),

		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "yatagarasu",
			Name:      "active_connections",
			Help:      "Requests currently being served.",
		}),
	}
}

// Handler exposes the default registry at the conventional /metrics path.
func Handler() http.Handler {
	return promhttp.Handler()
}
