// Package metrics provides Prometheus metrics for the ingestion and query pipeline
package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion metrics
	DocumentsTotal   *prometheus.CounterVec
	ChunksTotal      *prometheus.CounterVec
	PointsUpserted   prometheus.Counter
	IngestDuration   prometheus.Histogram
	EmbeddingBatches *prometheus.CounterVec

	// Query metrics
	SearchDuration prometheus.Histogram
	SearchResults  prometheus.Histogram
	CacheRequests  *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.DocumentsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfrag_documents_total",
			Help: "Documents processed during ingestion by outcome",
		},
		[]string{"doc_type", "status"},
	)

	m.ChunksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfrag_chunks_total",
			Help: "Chunks produced by content type",
		},
		[]string{"content_type"},
	)

	m.PointsUpserted = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "pdfrag_points_upserted_total",
			Help: "Vectors written to the index",
		},
	)

	m.IngestDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pdfrag_ingest_duration_seconds",
			Help:    "Duration of ingestion runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	m.EmbeddingBatches = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfrag_embedding_batches_total",
			Help: "Embedding batches by outcome",
		},
		[]string{"status"},
	)

	m.SearchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pdfrag_search_duration_seconds",
			Help:    "Duration of vector searches in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	m.SearchResults = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pdfrag_search_results",
			Help:    "Results returned per search after thresholding",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		},
	)

	m.CacheRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfrag_cache_requests_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)

	return m
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordDocument(docType, status string) {
	if m == nil {
		return
	}
	m.DocumentsTotal.WithLabelValues(docType, status).Inc()
}

func (m *Metrics) RecordChunks(contentType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ChunksTotal.WithLabelValues(contentType).Add(float64(n))
}

func (m *Metrics) RecordUpserted(n int) {
	if m == nil {
		return
	}
	m.PointsUpserted.Add(float64(n))
}

func (m *Metrics) RecordEmbeddingBatch(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.EmbeddingBatches.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveIngest(d time.Duration) {
	if m == nil {
		return
	}
	m.IngestDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveSearch(d time.Duration, results int) {
	if m == nil {
		return
	}
	m.SearchDuration.Observe(d.Seconds())
	m.SearchResults.Observe(float64(results))
}

func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// Write dumps every collected family in the Prometheus text format
func (m *Metrics) Write(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
