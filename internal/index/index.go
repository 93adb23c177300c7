// Package index owns the vector collection: provisioning, deterministic-id
// upserts, filtered similarity search, listing and statistics. Storage is
// delegated to a Backend.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
)

const (
	DefaultBatchSize      = 100
	DefaultScoreThreshold = 0.6
	DefaultSearchLimit    = 5
	DefaultListLimit      = 20
	DefaultStatsScanLimit = 10000

	scrollPageSize = 1000
)

// Backend is a vector store holding one collection of cosine-compared vectors
// with secondary indexes on models.IndexedFields. Operations on a missing
// collection or index return models.ErrCollectionNotFound.
type Backend interface {
	// EnsureCollection creates the collection and its indexes if absent.
	// Concurrent calls must be safe.
	EnsureCollection(ctx context.Context, dimension int) error
	// DropCollection removes the collection. Dropping a missing collection is not an error.
	DropCollection(ctx context.Context) error
	// UpsertPoints writes all points as one acknowledged batch.
	UpsertPoints(ctx context.Context, points []models.Point) error
	// Query returns up to limit nearest points matching filter with score >= threshold.
	Query(ctx context.Context, vector []float32, limit int, filter models.Filter, threshold float32) ([]models.SearchResult, error)
	// Scroll pages through payloads matching filter in a stable order.
	Scroll(ctx context.Context, filter models.Filter, limit, offset int) ([]models.Payload, error)
	// Count returns the number of points matching filter.
	Count(ctx context.Context, filter models.Filter) (int, error)
}

// Index is the collection facade used by the pipeline
type Index struct {
	backend   Backend
	dimension int
	batchSize int
	threshold float32
	scanLimit int
	metrics   *metrics.Metrics
	now       func() time.Time

	ensured atomic.Bool
}

// Option configures an Index.
type Option func(*Index)

func WithBatchSize(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

func WithScoreThreshold(t float32) Option {
	return func(ix *Index) {
		if t >= 0 {
			ix.threshold = t
		}
	}
}

func WithStatsScanLimit(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.scanLimit = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Index) { ix.metrics = m }
}

func withClock(now func() time.Time) Option {
	return func(ix *Index) { ix.now = now }
}

// New wraps a backend. dimension is fixed for the collection's lifetime.
func New(backend Backend, dimension int, opts ...Option) *Index {
	ix := &Index{
		backend:   backend,
		dimension: dimension,
		batchSize: DefaultBatchSize,
		threshold: DefaultScoreThreshold,
		scanLimit: DefaultStatsScanLimit,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

func (ix *Index) Dimension() int          { return ix.dimension }
func (ix *Index) ScoreThreshold() float32 { return ix.threshold }

// PointID derives the stable id of a chunk from its filename, page and
// section. occurrence tells apart chunks sharing that triple within one
// document; 0 yields the plain triple hash.
func PointID(filename string, page *int, section string, occurrence int) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(filename)
	_, _ = d.WriteString("\x00")
	if page != nil {
		_, _ = d.WriteString(strconv.Itoa(*page))
	}
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(section)
	if occurrence > 0 {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(strconv.Itoa(occurrence))
	}
	return d.Sum64()
}

func (ix *Index) ensure(ctx context.Context) error {
	if ix.ensured.Load() {
		return nil
	}
	if err := ix.backend.EnsureCollection(ctx, ix.dimension); err != nil {
		return err
	}
	ix.ensured.Store(true)
	return nil
}

// withCollection runs fn against a provisioned collection. When fn finds the
// collection or an index missing it is recreated and fn runs once more.
func (ix *Index) withCollection(ctx context.Context, fn func() error) error {
	if err := ix.ensure(ctx); err != nil {
		return err
	}
	err := fn()
	if !errors.Is(err, models.ErrCollectionNotFound) {
		return err
	}
	log.Warn().Err(err).Msg("Collection missing, recreating")
	ix.ensured.Store(false)
	if err := ix.ensure(ctx); err != nil {
		return err
	}
	return fn()
}

type idKey struct {
	filename string
	page     int
	section  string
}

// Upsert writes records in batches and returns the number of points written.
// Records without a vector are skipped. A failing batch aborts the call;
// earlier batches stay committed.
func (ix *Index) Upsert(ctx context.Context, records []models.EmbeddedChunk) (int, error) {
	indexedAt := ix.now()
	seen := make(map[idKey]int, len(records))
	points := make([]models.Point, 0, len(records))

	for _, r := range records {
		key := idKey{filename: r.Chunk.Filename, page: -1, section: r.Chunk.Section}
		if r.Chunk.PageNumber != nil {
			key.page = *r.Chunk.PageNumber
		}
		occurrence := seen[key]
		seen[key]++

		if len(r.Vector) == 0 {
			log.Warn().
				Str("filename", r.Chunk.Filename).
				Int("chunk_index", r.Chunk.ChunkIndex).
				Msg("Skipping chunk without embedding")
			continue
		}
		if len(r.Vector) != ix.dimension {
			return 0, &models.StorageError{Op: "upsert", Err: fmt.Errorf("%w: chunk %d of %s has %d dimensions, collection has %d",
				models.ErrDimensionMismatch, r.Chunk.ChunkIndex, r.Chunk.Filename, len(r.Vector), ix.dimension)}
		}
		points = append(points, models.Point{
			ID:      PointID(r.Chunk.Filename, r.Chunk.PageNumber, r.Chunk.Section, occurrence),
			Vector:  r.Vector,
			Payload: models.NewPayload(r.Chunk, indexedAt),
		})
	}

	written := 0
	for start, batch := 0, 1; start < len(points); start, batch = start+ix.batchSize, batch+1 {
		end := min(start+ix.batchSize, len(points))
		err := ix.withCollection(ctx, func() error {
			return ix.backend.UpsertPoints(ctx, points[start:end])
		})
		if err != nil {
			return written, &models.StorageError{Op: "upsert", Batch: batch, Err: err}
		}
		written += end - start
		ix.metrics.RecordUpserted(end - start)
		log.Debug().Int("batch", batch).Int("points", end-start).Msg("Upserted batch")
	}

	log.Info().Int("points", written).Int("skipped", len(records)-len(points)).Msg("Upsert complete")
	return written, nil
}

// Clear drops and recreates the collection
func (ix *Index) Clear(ctx context.Context) error {
	if err := ix.backend.DropCollection(ctx); err != nil && !errors.Is(err, models.ErrCollectionNotFound) {
		return &models.StorageError{Op: "clear", Err: err}
	}
	ix.ensured.Store(false)
	if err := ix.ensure(ctx); err != nil {
		return &models.StorageError{Op: "clear", Err: err}
	}
	log.Info().Msg("Collection cleared")
	return nil
}

// Search returns the nearest chunks scoring at least the threshold, best
// first. No match is an empty result, not an error.
func (ix *Index) Search(ctx context.Context, vector []float32, limit int, filter models.Filter) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if err := filter.Validate(); err != nil {
		return nil, &models.SearchError{Err: err}
	}
	if len(vector) != ix.dimension {
		return nil, &models.SearchError{Err: fmt.Errorf("%w: query has %d dimensions, collection has %d",
			models.ErrDimensionMismatch, len(vector), ix.dimension)}
	}

	start := time.Now()
	var hits []models.SearchResult
	err := ix.withCollection(ctx, func() error {
		var err error
		hits, err = ix.backend.Query(ctx, vector, limit, filter, ix.threshold)
		return err
	})
	if err != nil {
		return nil, &models.SearchError{Err: err}
	}

	results := make([]models.SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < ix.threshold || !filter.Matches(h.Payload) {
			continue
		}
		results = append(results, h)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}

	ix.metrics.ObserveSearch(time.Since(start), len(results))
	log.Debug().Int("hits", len(hits)).Int("results", len(results)).Str("filter", filter.String()).Msg("Search complete")
	return results, nil
}

// ListByType pages through the chunks of one document type
func (ix *Index) ListByType(ctx context.Context, docType models.DocType, limit, offset int) (models.ListPage, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset = max(offset, 0)
	filter := models.Filter{models.FieldDocType: {string(docType)}}

	var page models.ListPage
	err := ix.withCollection(ctx, func() error {
		docs, err := ix.backend.Scroll(ctx, filter, limit, offset)
		if err != nil {
			return err
		}
		total, err := ix.backend.Count(ctx, filter)
		if err != nil {
			return err
		}
		page = models.ListPage{Documents: docs, Total: total, HasMore: len(docs) == limit}
		return nil
	})
	if err != nil {
		return models.ListPage{}, &models.StorageError{Op: "list", Err: err}
	}
	if page.Documents == nil {
		page.Documents = []models.Payload{}
	}
	return page, nil
}

// Stats counts all vectors and aggregates payload fields over at most the
// configured scan limit.
func (ix *Index) Stats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	err := ix.withCollection(ctx, func() error {
		stats = models.Stats{
			DocumentTypeCounts: map[string]int{},
			FileCounts:         map[string]int{},
			ContentTypeCounts:  map[string]int{},
		}
		total, err := ix.backend.Count(ctx, nil)
		if err != nil {
			return err
		}
		stats.TotalVectors = total

		for offset := 0; offset < ix.scanLimit; {
			size := min(scrollPageSize, ix.scanLimit-offset)
			page, err := ix.backend.Scroll(ctx, nil, size, offset)
			if err != nil {
				return err
			}
			for _, p := range page {
				stats.DocumentTypeCounts[string(p.DocType)]++
				stats.FileCounts[p.Filename]++
				stats.ContentTypeCounts[string(p.ContentType)]++
			}
			offset += len(page)
			stats.Scanned = offset
			if len(page) < size {
				break
			}
		}
		return nil
	})
	if err != nil {
		return models.Stats{}, &models.StorageError{Op: "stats", Err: err}
	}
	return stats, nil
}
