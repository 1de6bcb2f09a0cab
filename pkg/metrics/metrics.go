// Package metrics defines the Prometheus metric collectors used by the
// indexer and search paths and exposes an HTTP handler for scraping.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	DocsIndexedTotal   prometheus.Counter
	KeysDerivedTotal   *prometheus.CounterVec
	IndexFlushesTotal  *prometheus.CounterVec
	ActiveSegments     *prometheus.GaugeVec
	ShardDocCount      *prometheus.GaugeVec
	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents indexed.",
			},
		),
		KeysDerivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "posting_keys_total",
				Help: "Distinct posting keys produced per indexed document, by variant.",
			},
			[]string{"variant"},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_flushes_total",
				Help: "Total index flush operations by status.",
			},
			[]string{"status"},
		),
		ActiveSegments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_active_segments",
				Help: "Number of open segment files per shard.",
			},
			[]string{"shard_id"},
		),
		ShardDocCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shard_document_count",
				Help: "Number of documents per shard.",
			},
			[]string{"shard_id"},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of matching documents per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 1000},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests by method, path, and status code.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being served.",
			},
		),
	}

	reg.MustRegister(
		m.DocsIndexedTotal,
		m.KeysDerivedTotal,
		m.IndexFlushesTotal,
		m.ActiveSegments,
		m.ShardDocCount,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
	)

	return m
}

// DocumentIndexed records one document and the keys it produced.
func (m *Metrics) DocumentIndexed(wordKeys, stemmedKeys int) {
	if m == nil {
		return
	}
	m.DocsIndexedTotal.Inc()
	m.KeysDerivedTotal.WithLabelValues("word").Add(float64(wordKeys))
	m.KeysDerivedTotal.WithLabelValues("stemmed").Add(float64(stemmedKeys))
}

func (m *Metrics) Flushed(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.IndexFlushesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ShardState(shardID, segments, docs int) {
	if m == nil {
		return
	}
	id := strconv.Itoa(shardID)
	m.ActiveSegments.WithLabelValues(id).Set(float64(segments))
	m.ShardDocCount.WithLabelValues(id).Set(float64(docs))
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

// SearchDone records a finished query.
func (m *Metrics) SearchDone(start time.Time, cacheStatus string, hits uint64, err error) {
	if m == nil {
		return
	}
	m.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		m.SearchQueriesTotal.WithLabelValues("error").Inc()
		return
	case hits == 0:
		m.SearchQueriesTotal.WithLabelValues("zero_result").Inc()
	default:
		m.SearchQueriesTotal.WithLabelValues("hit").Inc()
	}
	m.SearchResultsCount.Observe(float64(hits))
}

// RequestStarted marks a request in flight and returns the function that
// records its completion.
func (m *Metrics) RequestStarted(method, path string) func(status int) {
	if m == nil {
		return func(int) {}
	}
	start := time.Now()
	m.HTTPRequestsInFlight.Inc()
	return func(status int) {
		m.HTTPRequestsInFlight.Dec()
		m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
