package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/chromemdb"
	"pdf-rag/internal/index"
	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/source"
)

const (
	invoiceText = "Rechnung\nRechnungsnummer: R-2024-001\nRechnungsdatum: 01.02.2024\nGesamtbetrag: 119,00 EUR\nZahlbar innerhalb von 14 Tagen."
	leaseText   = "Mietvertrag\n§ 1 Vertragsparteien\nDie Parteien schließen diesen Vertrag.\n§ 2 Laufzeit\nDer Vertrag läuft zwei Jahre.\n§ 3 Kündigung\nKündigung mit drei Monaten Frist."
)

// memSource serves documents from memory in insertion order
type memSource struct {
	names []string
	files map[string]string
}

func newMemSource(pairs ...string) *memSource {
	s := &memSource{files: map[string]string{}}
	for i := 0; i+1 < len(pairs); i += 2 {
		s.names = append(s.names, pairs[i])
		s.files[pairs[i]] = pairs[i+1]
	}
	return s
}

func (s *memSource) List(context.Context) ([]source.Document, error) {
	docs := make([]source.Document, 0, len(s.names))
	for _, name := range s.names {
		docs = append(docs, source.Document{ID: name, Path: "mem://" + name, Name: name, Size: int64(len(s.files[name]))})
	}
	return docs, nil
}

func (s *memSource) Open(_ context.Context, doc source.Document) (io.ReadCloser, error) {
	content, ok := s.files[doc.Name]
	if !ok {
		return nil, fmt.Errorf("%s: not found", doc.Name)
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

var keywords = []string{"rechnung", "vertrag", "handbuch"}

// keywordEmbedder counts keyword occurrences, plus a small bias so no vector is zero
type keywordEmbedder struct {
	queries int
	fail    bool
}

func embedText(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, 0, len(keywords)+1)
	for _, kw := range keywords {
		v = append(v, float32(strings.Count(lower, kw)))
	}
	return append(v, 0.1)
}

func (e *keywordEmbedder) EmbedChunks(_ context.Context, chunks []models.Chunk) ([]models.EmbeddedChunk, error) {
	if e.fail {
		return nil, &models.EmbeddingError{Batch: 1, Err: errors.New("quota exceeded")}
	}
	out := make([]models.EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		out[i] = models.EmbeddedChunk{Chunk: c, Vector: embedText(c.Text)}
	}
	return out, nil
}

func (e *keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.queries++
	return embedText(text), nil
}

type fakeAnswerer struct {
	calls int
	hits  []models.SearchResult
}

func (a *fakeAnswerer) Answer(_ context.Context, question string, hits []models.SearchResult) (string, error) {
	a.calls++
	a.hits = hits
	return "Antwort auf: " + question, nil
}

type spyIndex struct {
	*index.Index
	clears int
}

func (s *spyIndex) Clear(ctx context.Context) error {
	s.clears++
	return s.Index.Clear(ctx)
}

type fixture struct {
	pipeline *Pipeline
	index    *spyIndex
	embedder *keywordEmbedder
	answerer *fakeAnswerer
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, src source.Source, opts ...Option) *fixture {
	t.Helper()
	backend, err := chromemdb.NewVectorDBManager("", "rag_test", true, false, "")
	require.NoError(t, err)

	f := &fixture{
		index:    &spyIndex{Index: index.New(backend, len(keywords)+1)},
		embedder: &keywordEmbedder{},
		answerer: &fakeAnswerer{},
		metrics:  metrics.NewMetrics(),
	}
	opts = append([]Option{WithMetrics(f.metrics)}, opts...)
	f.pipeline = New(src, parser.New(), f.embedder, f.index, f.answerer, opts...)
	return f
}

func defaultSource() *memSource {
	return newMemSource(
		"rechnung.txt", invoiceText,
		"bild.exe", "MZ",
		"vertrag.txt", leaseText,
		"leer.txt", "  \n ",
	)
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSource(), WithWorkers(3))

	res, err := f.pipeline.IngestAll(ctx, true)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, f.index.clears)
	assert.Equal(t, 2, res.Documents)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, map[string]int{"invoice": 1, "contract": 1}, res.DocumentsByType)
	assert.Equal(t, 1, res.ChunksByType["invoice"])
	assert.Equal(t, res.TotalChunks, res.ChunksByType["invoice"]+res.ChunksByType["contract"])
	assert.Equal(t, res.TotalChunks, res.PointsWritten)

	// reports keep the input order regardless of workers
	require.Len(t, res.Reports, 4)
	names := make([]string, len(res.Reports))
	for i, r := range res.Reports {
		names[i] = r.Filename
	}
	assert.Equal(t, []string{"rechnung.txt", "bild.exe", "vertrag.txt", "leer.txt"}, names)
	assert.Contains(t, res.Reports[1].Error, "unsupported file format")
	assert.Contains(t, res.Reports[3].Error, "no text extracted")
	assert.Equal(t, parser.MethodDigital, res.Reports[0].Method)

	stats, err := f.index.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.TotalChunks, stats.TotalVectors)
	assert.Equal(t, 1, stats.ContentTypeCounts[string(models.ContentTypeInvoicePage)])

	var out strings.Builder
	require.NoError(t, f.metrics.Write(&out))
	assert.Contains(t, out.String(), `pdfrag_documents_total{doc_type="invoice",status="ok"} 1`)
	assert.Contains(t, out.String(), `pdfrag_documents_total{doc_type="unknown",status="failed"} 2`)
}

func TestIngestTwiceConverges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSource())

	first, err := f.pipeline.IngestAll(ctx, false)
	require.NoError(t, err)
	second, err := f.pipeline.IngestAll(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, f.index.clears)
	assert.Equal(t, first.TotalChunks, second.TotalChunks)

	stats, err := f.index.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.TotalChunks, stats.TotalVectors)
}

func TestIngestNothingUsable(t *testing.T) {
	f := newFixture(t, newMemSource("bild.exe", "MZ"))
	res, err := f.pipeline.IngestAll(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Zero(t, res.TotalChunks)
	assert.Equal(t, 1, res.Failed)

	res, err = f.pipeline.Ingest(context.Background(), nil, false)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.Reports)
}

func TestIngestEmbeddingFailure(t *testing.T) {
	f := newFixture(t, defaultSource())
	f.embedder.fail = true

	_, err := f.pipeline.IngestAll(context.Background(), false)
	var embErr *models.EmbeddingError
	require.True(t, errors.As(err, &embErr))
	assert.Equal(t, 1, embErr.Batch)
}

func TestIngestCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFixture(t, defaultSource(), WithWorkers(2))
	_, err := f.pipeline.IngestAll(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSource())
	_, err := f.pipeline.IngestAll(ctx, true)
	require.NoError(t, err)

	res, err := f.pipeline.Query(ctx, "Wie hoch ist die Rechnung?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Antwort auf: Wie hoch ist die Rechnung?", res.Answer)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "rechnung.txt", res.Sources[0].Filename)
	assert.Equal(t, models.DocTypeInvoice, res.Sources[0].DocType)
	assert.False(t, res.Cached)
	for _, h := range f.answerer.hits {
		assert.GreaterOrEqual(t, h.Score, float32(index.DefaultScoreThreshold))
	}
}

func TestQueryFilterAndSourceCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSource())
	_, err := f.pipeline.IngestAll(ctx, true)
	require.NoError(t, err)

	both := "Rechnung oder Vertrag?"
	res, err := f.pipeline.Query(ctx, both, nil)
	require.NoError(t, err)
	assert.Len(t, res.Sources, 2)
	assert.Equal(t, 2, uniqueFiles(f.answerer.hits))

	res, err = f.pipeline.Query(ctx, both, models.Filter{models.FieldDocType: {"contract"}})
	require.NoError(t, err)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "vertrag.txt", res.Sources[0].Filename)
	for _, h := range f.answerer.hits {
		assert.Equal(t, models.DocTypeContract, h.Payload.DocType)
	}

	capped := newFixture(t, defaultSource(), WithMaxSources(1))
	_, err = capped.pipeline.IngestAll(ctx, true)
	require.NoError(t, err)
	res, err = capped.pipeline.Query(ctx, both, nil)
	require.NoError(t, err)
	assert.Len(t, res.Sources, 1)
}

func uniqueFiles(hits []models.SearchResult) int {
	seen := map[string]bool{}
	for _, h := range hits {
		seen[h.Payload.Filename] = true
	}
	return len(seen)
}

func TestQueryWithoutHits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSource())
	_, err := f.pipeline.IngestAll(ctx, true)
	require.NoError(t, err)

	res, err := f.pipeline.Query(ctx, "Wo ist das Handbuch?", nil)
	require.NoError(t, err)
	assert.Equal(t, models.NoResultsAnswer, res.Answer)
	assert.Empty(t, res.Sources)
	assert.NotNil(t, res.Sources)
	assert.Zero(t, f.answerer.calls)
}

func TestQueryErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultSource())

	_, err := f.pipeline.Query(ctx, "", nil)
	assert.Error(t, err)

	_, err = f.pipeline.Query(ctx, "Rechnung?", models.Filter{"section": {"General"}})
	var searchErr *models.SearchError
	require.True(t, errors.As(err, &searchErr))
	assert.ErrorIs(t, err, models.ErrInvalidFilter)
}

func TestQueryCache(t *testing.T) {
	ctx := context.Background()
	cache := NewResponseCache(time.Hour)
	f := newFixture(t, defaultSource(), WithCache(cache))
	_, err := f.pipeline.IngestAll(ctx, true)
	require.NoError(t, err)

	filter := models.Filter{models.FieldDocType: {"invoice", "contract"}}
	first, err := f.pipeline.Query(ctx, "Rechnung?", filter)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	reordered := models.Filter{models.FieldDocType: {"contract", "invoice"}}
	second, err := f.pipeline.Query(ctx, "Rechnung?", reordered)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, 1, f.embedder.queries)
	assert.Equal(t, 1, f.answerer.calls)

	var out strings.Builder
	require.NoError(t, f.metrics.Write(&out))
	assert.Contains(t, out.String(), `pdfrag_cache_requests_total{result="hit"} 1`)

	// new documents invalidate cached answers
	_, err = f.pipeline.IngestAll(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, cache.Len())
}
