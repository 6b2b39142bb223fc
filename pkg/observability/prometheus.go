package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus implements every hook category with client_golang collectors.
type Prometheus struct {
	refreshDuration *prometheus.HistogramVec
	refreshFailures *prometheus.CounterVec
	snapshotEntries *prometheus.GaugeVec
	snapshotBuilt   *prometheus.GaugeVec
	snapshotStale   *prometheus.GaugeVec

	analysisDuration *prometheus.HistogramVec
	analysisInFlight prometheus.Gauge

	cacheEvents *prometheus.CounterVec
	cacheBytes  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpErrors   *prometheus.CounterVec
}

// NewPrometheus registers the cratestatus collectors with reg. Pass
// prometheus.DefaultRegisterer in production and prometheus.NewRegistry() in
// tests.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		refreshDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cratestatus_refresh_seconds",
			Help:    "Duration of snapshot refresh cycles.",
			Buckets: prometheus.DefBuckets,
		}, []string{"store"}),
		refreshFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cratestatus_refresh_failures_total",
			Help: "Refresh cycles that failed and kept the previous snapshot.",
		}, []string{"store"}),
		snapshotEntries: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cratestatus_snapshot_entries",
			Help: "Number of crates (index) or advisories (advisory) in the live snapshot.",
		}, []string{"store"}),
		snapshotBuilt: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cratestatus_snapshot_built_timestamp_seconds",
			Help: "Unix time at which the live snapshot was built.",
		}, []string{"store"}),
		snapshotStale: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cratestatus_snapshot_stale",
			Help: "1 when the last refresh of the store failed.",
		}, []string{"store"}),
		analysisDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cratestatus_analysis_seconds",
			Help:    "Duration of full analysis computations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		analysisInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "cratestatus_analysis_in_flight",
			Help: "Analysis computations currently running.",
		}),
		cacheEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cratestatus_cache_events_total",
			Help: "Cache lookups by key type and outcome (hit, miss, shared, set).",
		}, []string{"key_type", "event"}),
		cacheBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cratestatus_cache_written_bytes_total",
			Help: "Bytes written to cache backends.",
		}, []string{"key_type"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cratestatus_upstream_requests_total",
			Help: "Outgoing HTTP requests by host and status code.",
		}, []string{"host", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cratestatus_upstream_request_seconds",
			Help:    "Latency of outgoing HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"host"}),
		httpErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cratestatus_upstream_errors_total",
			Help: "Outgoing HTTP requests that failed before a response.",
		}, []string{"host"}),
	}
}

func (p *Prometheus) OnRefresh(_ context.Context, store string, d time.Duration, err error) {
	p.refreshDuration.WithLabelValues(store).Observe(d.Seconds())
	if err != nil {
		p.refreshFailures.WithLabelValues(store).Inc()
	}
}

func (p *Prometheus) OnSwap(_ context.Context, store string, entries int, builtAt time.Time) {
	p.snapshotEntries.WithLabelValues(store).Set(float64(entries))
	p.snapshotBuilt.WithLabelValues(store).Set(float64(builtAt.Unix()))
}

func (p *Prometheus) OnStale(_ context.Context, store string, stale bool) {
	v := 0.0
	if stale {
		v = 1
	}
	p.snapshotStale.WithLabelValues(store).Set(v)
}

func (p *Prometheus) OnAnalysisStart(context.Context, string) {
	p.analysisInFlight.Inc()
}

func (p *Prometheus) OnAnalysisComplete(_ context.Context, _ string, _ int, d time.Duration, err error) {
	p.analysisInFlight.Dec()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.analysisDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (p *Prometheus) OnCacheHit(_ context.Context, keyType string) {
	p.cacheEvents.WithLabelValues(keyType, "hit").Inc()
}

func (p *Prometheus) OnCacheMiss(_ context.Context, keyType string) {
	p.cacheEvents.WithLabelValues(keyType, "miss").Inc()
}

func (p *Prometheus) OnCacheSet(_ context.Context, keyType string, size int) {
	p.cacheEvents.WithLabelValues(keyType, "set").Inc()
	p.cacheBytes.WithLabelValues(keyType).Add(float64(size))
}

func (p *Prometheus) OnCacheShared(_ context.Context, keyType string) {
	p.cacheEvents.WithLabelValues(keyType, "shared").Inc()
}

func (p *Prometheus) OnRequest(context.Context, string, string, string) {}

func (p *Prometheus) OnResponse(_ context.Context, _, host, _ string, code int, d time.Duration) {
	p.httpRequests.WithLabelValues(host, statusLabel(code)).Inc()
	p.httpDuration.WithLabelValues(host).Observe(d.Seconds())
}

func (p *Prometheus) OnError(_ context.Context, _, host, _ string, _ error) {
	p.httpErrors.WithLabelValues(host).Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

var _ All = (*Prometheus)(nil)
