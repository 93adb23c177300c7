package metrics

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordDocument("invoice", "ok")
	m.RecordDocument("invoice", "ok")
	m.RecordDocument("unknown", "failed")
	m.RecordChunks("table", 3)
	m.RecordUpserted(7)
	m.RecordEmbeddingBatch(nil)
	m.RecordEmbeddingBatch(errors.New("boom"))
	m.RecordCache(true)
	m.RecordCache(false)
	m.RecordCache(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DocumentsTotal.WithLabelValues("invoice", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsTotal.WithLabelValues("unknown", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ChunksTotal.WithLabelValues("table")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.PointsUpserted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbeddingBatches.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("miss")))
}

func TestMetrics_Write(t *testing.T) {
	m := NewMetrics()
	m.RecordUpserted(2)
	m.ObserveSearch(15*time.Millisecond, 4)
	m.ObserveIngest(3 * time.Second)

	var buf bytes.Buffer
	require.NoError(t, m.Write(&buf))
	out := buf.String()
	assert.Contains(t, out, "pdfrag_points_upserted_total 2")
	assert.Contains(t, out, "pdfrag_search_duration_seconds_count 1")
	assert.Contains(t, out, "pdfrag_ingest_duration_seconds_count 1")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDocument("general", "ok")
		m.RecordChunks("text", 1)
		m.RecordUpserted(1)
		m.RecordEmbeddingBatch(nil)
		m.ObserveIngest(time.Second)
		m.ObserveSearch(time.Second, 1)
		m.RecordCache(true)
	})
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.Write(&bytes.Buffer{}))
}
