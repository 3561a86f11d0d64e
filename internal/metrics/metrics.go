// Package metrics exposes Prometheus collectors for the emote pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upload results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// EmoterMetrics collects counters for rewrites, uploads, evictions and
// sync runs. A nil *EmoterMetrics is valid and records nothing.
type EmoterMetrics struct {
	registry *prometheus.Registry

	messagesRewritten prometheus.Counter
	substitutions     *prometheus.CounterVec
	uploadsTotal      *prometheus.CounterVec
	evictionsTotal    *prometheus.CounterVec
	syncRunsTotal     *prometheus.CounterVec
	syncDuration      *prometheus.HistogramVec
	cacheSlotsUsed    *prometheus.GaugeVec
	cacheSlotsMax     *prometheus.GaugeVec
	httpRequestsTotal *prometheus.CounterVec
}

// NewEmoterMetrics creates the collectors and registers them.
func NewEmoterMetrics(registry *prometheus.Registry) (*EmoterMetrics, error) {
	m := &EmoterMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EmoterMetrics) initMetrics() {
	m.messagesRewritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emoter_messages_rewritten_total",
		Help: "Messages reposted with at least one emote substitution",
	})

	m.substitutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emoter_substitutions_total",
			Help: "Resolved emote tokens by where they were found",
		},
		[]string{"source"}, // source: cache, directory
	)

	m.uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emoter_uploads_total",
			Help: "Emote uploads to the cache guild",
		},
		[]string{"result"},
	)

	m.evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emoter_evictions_total",
			Help: "Cache entries deleted to keep free slots",
		},
		[]string{"partition"},
	)

	m.syncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emoter_sync_runs_total",
			Help: "Synchronizer runs",
		},
		[]string{"job", "result"},
	)

	m.syncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emoter_sync_duration_seconds",
			Help:    "Synchronizer run time",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"job"},
	)

	m.cacheSlotsUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "emoter_cache_slots_used",
			Help: "Occupied custom emoji slots in the cache guild",
		},
		[]string{"partition"},
	)

	m.cacheSlotsMax = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "emoter_cache_slots_max",
			Help: "Custom emoji slot limit in the cache guild",
		},
		[]string{"partition"},
	)

	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emoter_admin_http_requests_total",
			Help: "Admin API requests",
		},
		[]string{"method", "status"},
	)
}

// Describe implements prometheus.Collector
func (m *EmoterMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.messagesRewritten.Describe(ch)
	m.substitutions.Describe(ch)
	m.uploadsTotal.Describe(ch)
	m.evictionsTotal.Describe(ch)
	m.syncRunsTotal.Describe(ch)
	m.syncDuration.Describe(ch)
	m.cacheSlotsUsed.Describe(ch)
	m.cacheSlotsMax.Describe(ch)
	m.httpRequestsTotal.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *EmoterMetrics) Collect(ch chan<- prometheus.Metric) {
	m.messagesRewritten.Collect(ch)
	m.substitutions.Collect(ch)
	m.uploadsTotal.Collect(ch)
	m.evictionsTotal.Collect(ch)
	m.syncRunsTotal.Collect(ch)
	m.syncDuration.Collect(ch)
	m.cacheSlotsUsed.Collect(ch)
	m.cacheSlotsMax.Collect(ch)
	m.httpRequestsTotal.Collect(ch)
}

// Handler serves the registry in the Prometheus text format.
func (m *EmoterMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *EmoterMetrics) RecordRewrite(cacheHits, directoryHits int) {
	if m == nil {
		return
	}
	m.messagesRewritten.Inc()
	m.substitutions.WithLabelValues("cache").Add(float64(cacheHits))
	m.substitutions.WithLabelValues("directory").Add(float64(directoryHits))
}

func (m *EmoterMetrics) RecordUpload(result string) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(result).Inc()
}

func (m *EmoterMetrics) RecordEviction(partition string, n int) {
	if m == nil {
		return
	}
	m.evictionsTotal.WithLabelValues(partition).Add(float64(n))
}

func (m *EmoterMetrics) RecordSync(job, result string, seconds float64) {
	if m == nil {
		return
	}
	m.syncRunsTotal.WithLabelValues(job, result).Inc()
	m.syncDuration.WithLabelValues(job).Observe(seconds)
}

func (m *EmoterMetrics) SetCacheSlots(partition string, used, max int) {
	if m == nil {
		return
	}
	m.cacheSlotsUsed.WithLabelValues(partition).Set(float64(used))
	m.cacheSlotsMax.WithLabelValues(partition).Set(float64(max))
}

func (m *EmoterMetrics) RecordHTTPRequest(method, status string) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, status).Inc()
}
