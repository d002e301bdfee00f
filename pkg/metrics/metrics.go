// Package metrics defines the Prometheus collectors for join runs and exposes
// an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors of the join tooling.
type Metrics struct {
	RecordsPrepared        *prometheus.CounterVec
	IndexEntries           prometheus.Gauge
	Lookups                prometheus.Counter
	IndexEntriesSeen       prometheus.Counter
	CandidatesPrefixFilter prometheus.Counter
	CandidatesVerified     prometheus.Counter
	PairsEmitted           prometheus.Counter
	PhaseDuration          *prometheus.HistogramVec
	ShardsRunning          prometheus.Gauge
	SinkErrors             *prometheus.CounterVec
	CacheHitsTotal         prometheus.Counter
	CacheMissesTotal       prometheus.Counter

	registry *prometheus.Registry
}

// JoinCounters is the subset of join statistics the collectors track. It
// matches join.Statistics field for field so callers can convert directly.
type JoinCounters struct {
	Lookups                uint64
	IndexEntriesSeen       uint64
	CandidatesPrefixFilter uint64
	CandidatesVerified     uint64
	PairsEmitted           uint64
}

// New creates all collectors and registers them on a private registry, so
// several instances can coexist in one process.
func New() *Metrics {
	m := &Metrics{
		RecordsPrepared: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssjoin_records_prepared_total",
				Help: "Records ranked and prepared, by collection (indexed, foreign).",
			},
			[]string{"collection"},
		),
		IndexEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ssjoin_index_entries",
				Help: "Entries in the inverted index of the last join.",
			},
		),
		Lookups: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ssjoin_index_lookups_total",
				Help: "Inverted-list lookups made by probe records.",
			},
		),
		IndexEntriesSeen: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ssjoin_index_entries_seen_total",
				Help: "Index entries examined across all lookups.",
			},
		),
		CandidatesPrefixFilter: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ssjoin_candidates_prefix_filter_total",
				Help: "Distinct candidates that survived the prefix filter.",
			},
		),
		CandidatesVerified: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ssjoin_candidates_verified_total",
				Help: "Candidates handed to suffix verification.",
			},
		),
		PairsEmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ssjoin_pairs_emitted_total",
				Help: "Pairs whose similarity reached the threshold.",
			},
		),
		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssjoin_phase_duration_seconds",
				Help:    "Wall time of each pipeline phase.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"phase"},
		),
		ShardsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ssjoin_shards_running",
				Help: "Join shards currently probing.",
			},
		),
		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssjoin_sink_errors_total",
				Help: "Failed sink writes by sink type.",
			},
			[]string{"sink"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ssjoin_cache_hits_total",
				Help: "Join results served from the result cache.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ssjoin_cache_misses_total",
				Help: "Join results computed because the cache had none.",
			},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.RecordsPrepared,
		m.IndexEntries,
		m.Lookups,
		m.IndexEntriesSeen,
		m.CandidatesPrefixFilter,
		m.CandidatesVerified,
		m.PairsEmitted,
		m.PhaseDuration,
		m.ShardsRunning,
		m.SinkErrors,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)
	return m
}

// ObserveJoin adds one finished join's counters.
func (m *Metrics) ObserveJoin(c JoinCounters) {
	m.Lookups.Add(float64(c.Lookups))
	m.IndexEntriesSeen.Add(float64(c.IndexEntriesSeen))
	m.CandidatesPrefixFilter.Add(float64(c.CandidatesPrefixFilter))
	m.CandidatesVerified.Add(float64(c.CandidatesVerified))
	m.PairsEmitted.Add(float64(c.PairsEmitted))
}

// ObservePhase records how long a pipeline phase took.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the Prometheus scrape HTTP handler for m.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
