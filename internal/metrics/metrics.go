// Package metrics provides the Prometheus collectors for ranking, bucketing
// and variant resolution.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricRankRequests        = "feed_rank_requests_total"
	MetricRankDuration        = "feed_rank_duration_seconds"
	MetricRankDegraded        = "feed_rank_degraded_total"
	MetricRankedItems         = "feed_ranked_items"
	MetricAssignments         = "experiment_assignments_total"
	MetricConversions         = "experiment_conversions_total"
	MetricVariantCacheHits    = "variant_cache_hits_total"
	MetricVariantCacheMisses  = "variant_cache_misses_total"
	MetricWinProbCacheHits    = "win_probability_cache_hits_total"
	MetricWinProbCacheMisses  = "win_probability_cache_misses_total"
	MetricHTTPRequestDuration = "http_request_duration_seconds"
)

// Metrics contains the collectors. A nil *Metrics is valid and records
// nothing, so packages can take one optionally.
type Metrics struct {
	rankRequests        *prometheus.CounterVec
	rankDuration        *prometheus.HistogramVec
	rankDegraded        *prometheus.CounterVec
	rankedItems         prometheus.Histogram
	assignments         *prometheus.CounterVec
	conversions         *prometheus.CounterVec
	variantCacheHits    prometheus.Counter
	variantCacheMisses  prometheus.Counter
	winProbCacheHits    prometheus.Counter
	winProbCacheMisses  prometheus.Counter
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the collectors. They are not registered; call Register.
func New() *Metrics {
	return &Metrics{
		rankRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankRequests,
				Help: "Total number of feed ranking requests by variant",
			},
			[]string{"variant"},
		),
		rankDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricRankDuration,
				Help:    "Feed ranking duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"variant"},
		),
		rankDegraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankDegraded,
				Help: "Total number of ranking requests that fell back to the default ordering",
			},
			[]string{"variant"},
		),
		rankedItems: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricRankedItems,
				Help:    "Number of items returned per ranking request",
				Buckets: prometheus.ExponentialBuckets(1, 4, 7), // 1 to 4096
			},
		),
		assignments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAssignments,
				Help: "Total number of variant assignments by experiment and variant",
			},
			[]string{"experiment", "variant"},
		),
		conversions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricConversions,
				Help: "Total number of recorded conversions by experiment and goal",
			},
			[]string{"experiment", "goal"},
		),
		variantCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricVariantCacheHits,
				Help: "Total number of variant resolutions served from the in-process cache",
			},
		),
		variantCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricVariantCacheMisses,
				Help: "Total number of variant resolutions that assembled a new config",
			},
		),
		winProbCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricWinProbCacheHits,
				Help: "Total number of win probability lookups served from cache",
			},
		),
		winProbCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricWinProbCacheMisses,
				Help: "Total number of win probability computations",
			},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1.0, 2.0},
			},
			[]string{"method", "path", "status"},
		),
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rankRequests,
		m.rankDuration,
		m.rankDegraded,
		m.rankedItems,
		m.assignments,
		m.conversions,
		m.variantCacheHits,
		m.variantCacheMisses,
		m.winProbCacheHits,
		m.winProbCacheMisses,
		m.httpRequestDuration,
	}
}

// ObserveRank records one ranking request.
func (m *Metrics) ObserveRank(variant string, seconds float64, items int, degraded bool) {
	if m == nil {
		return
	}
	m.rankRequests.WithLabelValues(variant).Inc()
	m.rankDuration.WithLabelValues(variant).Observe(seconds)
	m.rankedItems.Observe(float64(items))
	if degraded {
		m.rankDegraded.WithLabelValues(variant).Inc()
	}
}

func (m *Metrics) IncAssignment(experiment, variant string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(experiment, variant).Inc()
}

func (m *Metrics) IncConversion(experiment, goal string) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(experiment, goal).Inc()
}

// VariantCache records a variant cache lookup.
func (m *Metrics) VariantCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.variantCacheHits.Inc()
		return
	}
	m.variantCacheMisses.Inc()
}

// WinProbabilityCache records a win probability cache lookup.
func (m *Metrics) WinProbabilityCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.winProbCacheHits.Inc()
		return
	}
	m.winProbCacheMisses.Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequestDuration.WithLabelValues(method, path, status).Observe(seconds)
}
