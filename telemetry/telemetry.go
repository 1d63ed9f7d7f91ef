// Package telemetry defines Axon's metrics surface. It follows the same
// promauto.With(registerer) construction style used by the rest of the
// corpus: callers supply a prometheus.Registerer (or nil for a no-op
// collector) and get back a Metrics handle. axon.Store is the only caller
// that writes through it.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the counters and gauges for the write path (persister,
// WAL), the index path (HNSW, inverted index) and the query path (splitter,
// runner). Store calls the document, WAL-replay and query methods and
// registers both gauges; WalAppended, SegmentRotated, the HNSW methods,
// InvertedLookup and QueryResidualScanned have no caller in this module.
type Metrics struct {
	reg prometheus.Registerer

	documentsWritten      prometheus.Counter
	documentsRemoved      prometheus.Counter
	documentInsertLatency prometheus.Histogram
	documentRemoveLatency prometheus.Histogram
	writeBytes            prometheus.Counter
	walAppends            prometheus.Counter
	walBytesWritten       prometheus.Counter
	walReplays            prometheus.Counter
	walReplayedEntries    prometheus.Counter
	segmentRotations      *prometheus.CounterVec

	hnswInserts       prometheus.Counter
	hnswSearches      prometheus.Counter
	hnswSearchLatency prometheus.Histogram
	hnswGraphHops     prometheus.Counter

	invertedLookups prometheus.Counter

	queriesExecuted    prometheus.Counter
	queryResidualScans prometheus.Counter
	queryLatency       prometheus.Histogram
}

// New builds a Metrics handle that registers its collectors against reg.
// Passing a nil reg is valid and yields a handle whose collectors are
// registered against a fresh, unreferenced registry -- observations still
// work, they are simply never scraped, which is what callers want in tests
// and in embedders that don't run a /metrics endpoint.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	namespace := "axon"

	return &Metrics{
		reg: reg,
		documentsWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_written_total",
			Help:      "documents_written_total counts documents successfully added or updated.",
		}),
		documentsRemoved: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_removed_total",
			Help:      "documents_removed_total counts documents successfully removed.",
		}),
		documentInsertLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "document_insert_latency_seconds",
			Help:      "document_insert_latency_seconds observes the wall time of a single Add call.",
			Buckets:   prometheus.DefBuckets,
		}),
		documentRemoveLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "document_remove_latency_seconds",
			Help:      "document_remove_latency_seconds observes the wall time of a single Remove call.",
			Buckets:   prometheus.DefBuckets,
		}),
		writeBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_bytes_total",
			Help:      "write_bytes_total counts bytes appended across all per-field data logs.",
		}),
		walAppends: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wal_appends_total",
			Help:      "wal_appends_total counts write-ahead log entries appended.",
		}),
		walBytesWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wal_bytes_written_total",
			Help:      "wal_bytes_written_total counts bytes appended to the write-ahead log.",
		}),
		walReplays: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wal_replays_total",
			Help:      "wal_replays_total counts the number of recovery replays performed on Open.",
		}),
		walReplayedEntries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wal_replayed_entries_total",
			Help:      "wal_replayed_entries_total counts WAL entries left uncommitted by a prior crash and re-applied during recovery.",
		}),
		segmentRotations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segment_rotations_total",
				Help:      "segment_rotations_total counts how many times a new segment file was created, by store.",
			},
			[]string{"store"},
		),
		hnswInserts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hnsw_inserts_total",
			Help:      "hnsw_inserts_total counts vectors inserted into an HNSW index.",
		}),
		hnswSearches: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hnsw_searches_total",
			Help:      "hnsw_searches_total counts greedy/layer searches executed against an HNSW index.",
		}),
		hnswSearchLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hnsw_search_latency_seconds",
			Help:      "hnsw_search_latency_seconds observes the wall time of a single HNSW search.",
			Buckets:   prometheus.DefBuckets,
		}),
		hnswGraphHops: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hnsw_graph_hops_total",
			Help:      "hnsw_graph_hops_total counts node visits made during searchLayer across all searches.",
		}),
		invertedLookups: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inverted_lookups_total",
			Help:      "inverted_lookups_total counts term lookups resolved against an inverted index.",
		}),
		queriesExecuted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_executed_total",
			Help:      "queries_executed_total counts top-level Search calls.",
		}),
		queryResidualScans: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_residual_scans_total",
			Help:      "query_residual_scans_total counts documents evaluated against the residual matcher tree.",
		}),
		queryLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_latency_seconds",
			Help:      "query_latency_seconds observes end-to-end Search latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Noop returns a Metrics handle whose collectors are registered against a
// throwaway registry, for callers that don't want to wire Prometheus at all.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) DocumentWritten(bytes int) { m.documentsWritten.Inc(); m.writeBytes.Add(float64(bytes)) }
func (m *Metrics) DocumentRemoved()          { m.documentsRemoved.Inc() }
func (m *Metrics) DocumentInsertLatency(seconds float64) { m.documentInsertLatency.Observe(seconds) }
func (m *Metrics) DocumentRemoveLatency(seconds float64) { m.documentRemoveLatency.Observe(seconds) }

// RegisterDocumentCountFunc registers the DOCUMENT_COUNT gauge named in
// spec.md §6, sampling fn on every scrape. This mirrors the
// registerGauge(name, () -> Number) telemetry primitive the spec describes:
// Prometheus's GaugeFunc is the client library's equivalent. Call once per
// Metrics handle; fn is typically persister.AllInternalIDs's result length.
func (m *Metrics) RegisterDocumentCountFunc(fn func() float64) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "axon",
		Name:      "document_count",
		Help:      "document_count reports the number of live documents, sampled on scrape.",
	}, fn)
}

// RegisterInsertQueueFunc registers the DOCUMENT_INSERT_QUEUE gauge named in
// spec.md §6, sampling fn on every scrape. fn is typically the write fan-out
// depth reported by persister.DocumentPersister.InFlightWrites.
func (m *Metrics) RegisterInsertQueueFunc(fn func() float64) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "axon",
		Name:      "document_insert_queue",
		Help:      "document_insert_queue reports the current per-field write fan-out depth.",
	}, fn)
}

func (m *Metrics) WalAppended(bytes int)       { m.walAppends.Inc(); m.walBytesWritten.Add(float64(bytes)) }
func (m *Metrics) WalReplayed(entries int)     { m.walReplays.Inc(); m.walReplayedEntries.Add(float64(entries)) }
func (m *Metrics) SegmentRotated(store string) { m.segmentRotations.WithLabelValues(store).Inc() }

func (m *Metrics) HNSWInserted()                       { m.hnswInserts.Inc() }
func (m *Metrics) HNSWSearched(latencySeconds float64) { m.hnswSearches.Inc(); m.hnswSearchLatency.Observe(latencySeconds) }
func (m *Metrics) HNSWHop(n int)                       { m.hnswGraphHops.Add(float64(n)) }

func (m *Metrics) InvertedLookup() { m.invertedLookups.Inc() }

func (m *Metrics) QueryExecuted(latencySeconds float64) {
	m.queriesExecuted.Inc()
	m.queryLatency.Observe(latencySeconds)
}
func (m *Metrics) QueryResidualScanned(n int) { m.queryResidualScans.Add(float64(n)) }
