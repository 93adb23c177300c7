// Package rag wires extraction, classification, chunking, embedding and the
// vector index into the ingestion and question answering pipeline.
package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"pdf-rag/internal/chunker"
	"pdf-rag/internal/classifier"
	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/source"
)

const (
	DefaultSearchLimit = 5
	DefaultMaxSources  = 5
)

// Embedder turns chunks and questions into vectors
type Embedder interface {
	EmbedChunks(ctx context.Context, chunks []models.Chunk) ([]models.EmbeddedChunk, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores and searches embedded chunks
type VectorIndex interface {
	Upsert(ctx context.Context, records []models.EmbeddedChunk) (int, error)
	Clear(ctx context.Context) error
	Search(ctx context.Context, vector []float32, limit int, filter models.Filter) ([]models.SearchResult, error)
}

// Answerer writes an answer from retrieved chunks only
type Answerer interface {
	Answer(ctx context.Context, question string, results []models.SearchResult) (string, error)
}

// DocumentReport is the outcome of one document of an ingestion run
type DocumentReport struct {
	Filename string         `json:"filename"`
	DocType  models.DocType `json:"doc_type,omitempty"`
	Method   string         `json:"method,omitempty"`
	Pages    int            `json:"pages,omitempty"`
	Chunks   int            `json:"chunks"`
	Error    string         `json:"error,omitempty"`
}

// IngestResult summarises an ingestion run. Success is false when no
// document produced chunks.
type IngestResult struct {
	RunID           string           `json:"run_id"`
	Success         bool             `json:"success"`
	TotalChunks     int              `json:"total_chunks"`
	PointsWritten   int              `json:"points_written"`
	ChunksByType    map[string]int   `json:"chunks_by_type"`
	DocumentsByType map[string]int   `json:"documents_by_type"`
	Documents       int              `json:"documents"`
	Failed          int              `json:"failed"`
	Reports         []DocumentReport `json:"reports"`
	Elapsed         time.Duration    `json:"elapsed"`
}

// Source is one cited document of an answer
type Source struct {
	Filename string         `json:"filename"`
	DocType  models.DocType `json:"doc_type"`
	Score    float32        `json:"score"`
}

type QueryResult struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Cached  bool     `json:"cached"`
}

// Pipeline runs ingestion and queries
type Pipeline struct {
	source     source.Source
	extractor  parser.Extractor
	classifier *classifier.Classifier
	chunker    *chunker.Chunker
	embedder   Embedder
	index      VectorIndex
	answerer   Answerer
	cache      *ResponseCache
	metrics    *metrics.Metrics

	workers     int
	searchLimit int
	maxSources  int
}

type Option func(*Pipeline)

func WithClassifier(c *classifier.Classifier) Option {
	return func(p *Pipeline) { p.classifier = c }
}

func WithChunker(c *chunker.Chunker) Option {
	return func(p *Pipeline) { p.chunker = c }
}

// WithCache enables the response cache; nil disables it
func WithCache(c *ResponseCache) Option {
	return func(p *Pipeline) { p.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithWorkers extracts and chunks up to n documents at once
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithSearchLimit(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.searchLimit = n
		}
	}
}

func WithMaxSources(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxSources = n
		}
	}
}

func New(src source.Source, extractor parser.Extractor, embedder Embedder, index VectorIndex, answerer Answerer, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:      src,
		extractor:   extractor,
		classifier:  classifier.Default(),
		chunker:     chunker.New(),
		embedder:    embedder,
		index:       index,
		answerer:    answerer,
		workers:     1,
		searchLimit: DefaultSearchLimit,
		maxSources:  DefaultMaxSources,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IngestAll lists the source and ingests everything it returns
func (p *Pipeline) IngestAll(ctx context.Context, reset bool) (IngestResult, error) {
	docs, err := p.source.List(ctx)
	if err != nil {
		return IngestResult{}, fmt.Errorf("list documents: %w", err)
	}
	return p.Ingest(ctx, docs, reset)
}

type processed struct {
	report DocumentReport
	chunks []models.Chunk
	err    error
}

// Ingest extracts, classifies, chunks, embeds and stores docs. reset clears
// the collection first. Failing documents are logged, counted and skipped;
// embedding and storage failures abort the run.
func (p *Pipeline) Ingest(ctx context.Context, docs []source.Document, reset bool) (IngestResult, error) {
	start := time.Now()
	result := IngestResult{
		RunID:           uuid.NewString(),
		ChunksByType:    map[string]int{},
		DocumentsByType: map[string]int{},
		Reports:         []DocumentReport{},
	}
	logger := log.With().Str("run_id", result.RunID).Logger()
	logger.Info().Int("documents", len(docs)).Bool("reset", reset).Msg("Ingestion started")

	if reset {
		if err := p.index.Clear(ctx); err != nil {
			return result, err
		}
	}

	if len(docs) == 0 {
		logger.Warn().Err(models.ErrNoDocuments).Msg("Nothing to ingest")
		result.Elapsed = time.Since(start)
		return result, nil
	}

	outcomes := make([]processed, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, doc := range docs {
		g.Go(func() error {
			chunks, report, err := p.processDocument(gctx, doc)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			outcomes[i] = processed{report: report, chunks: chunks, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	var all []models.Chunk
	for _, o := range outcomes {
		if o.err != nil {
			result.Failed++
			o.report.Error = o.err.Error()
			logger.Warn().Err(o.err).Str("file", o.report.Filename).Msg("Skipping document")
			p.metrics.RecordDocument(string(models.DocTypeUnknown), "failed")
		} else {
			result.Documents++
			result.DocumentsByType[string(o.report.DocType)]++
			result.ChunksByType[string(o.report.DocType)] += len(o.chunks)
			p.metrics.RecordDocument(string(o.report.DocType), "ok")
			all = append(all, o.chunks...)
		}
		result.Reports = append(result.Reports, o.report)
	}
	result.TotalChunks = len(all)
	byContent := map[models.ContentType]int{}
	for _, c := range all {
		byContent[c.ContentType]++
	}
	for ct, n := range byContent {
		p.metrics.RecordChunks(string(ct), n)
	}

	if result.Documents == 0 {
		logger.Warn().Int("failed", result.Failed).Msg("No document could be processed")
		result.Elapsed = time.Since(start)
		return result, nil
	}

	embedded, err := p.embedder.EmbedChunks(ctx, all)
	if err != nil {
		return result, err
	}
	written, err := p.index.Upsert(ctx, embedded)
	result.PointsWritten = written
	if err != nil {
		return result, err
	}

	// answers cached before this run may miss the new documents
	p.cache.Clear()

	result.Success = true
	result.Elapsed = time.Since(start)
	p.metrics.ObserveIngest(result.Elapsed)
	logger.Info().
		Int("documents", result.Documents).
		Int("failed", result.Failed).
		Int("chunks", result.TotalChunks).
		Dur("elapsed", result.Elapsed).
		Msg("Ingestion complete")
	return result, nil
}

// processDocument turns one document into chunks
func (p *Pipeline) processDocument(ctx context.Context, doc source.Document) ([]models.Chunk, DocumentReport, error) {
	report := DocumentReport{Filename: doc.Name}

	data, err := p.read(ctx, doc)
	if err != nil {
		return nil, report, &models.ExtractionError{Path: doc.Path, Err: err}
	}
	res, err := p.extractor.Extract(ctx, doc.Name, data)
	if err != nil {
		return nil, report, err
	}
	report.Method, report.Pages = res.Method, res.Pages
	if parser.BodyLength(res.Text) == 0 {
		return nil, report, &models.ExtractionError{Path: doc.Path, Err: models.ErrEmptyText}
	}

	docType := p.classifier.Classify(res.Text)
	report.DocType = docType
	chunks := p.chunker.Chunk(res.Text, models.DocumentMeta{
		SourcePath: doc.Path,
		Filename:   doc.Name,
		DocType:    docType,
	}, "")
	report.Chunks = len(chunks)
	if len(chunks) == 0 {
		return nil, report, &models.ExtractionError{Path: doc.Path, Err: models.ErrEmptyText}
	}

	log.Debug().
		Str("file", doc.Name).
		Str("doc_type", string(docType)).
		Str("method", res.Method).
		Int("chunks", len(chunks)).
		Msg("Document processed")
	return chunks, report, nil
}

func (p *Pipeline) read(ctx context.Context, doc source.Document) ([]byte, error) {
	rc, err := p.source.Open(ctx, doc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Query answers question from the chunks matching filter. Cached results
// are returned with Cached set.
func (p *Pipeline) Query(ctx context.Context, question string, filter models.Filter) (QueryResult, error) {
	if question == "" {
		return QueryResult{}, errors.New("question is empty")
	}
	if cached, ok := p.cache.Get(question, filter); ok {
		p.metrics.RecordCache(true)
		cached.Cached = true
		return cached, nil
	}
	if p.cache != nil {
		p.metrics.RecordCache(false)
	}

	vector, err := p.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return QueryResult{}, err
	}
	hits, err := p.index.Search(ctx, vector, p.searchLimit, filter)
	if err != nil {
		return QueryResult{}, err
	}

	result := QueryResult{Sources: []Source{}}
	if len(hits) == 0 {
		result.Answer = models.NoResultsAnswer
	} else {
		result.Answer, err = p.answerer.Answer(ctx, question, hits)
		if err != nil {
			return QueryResult{}, err
		}
		result.Sources = p.sources(hits)
	}

	p.cache.Put(question, filter, result)
	log.Info().Int("hits", len(hits)).Int("sources", len(result.Sources)).Msg("Question answered")
	return result, nil
}

// sources keeps the first, best scoring hit per file
func (p *Pipeline) sources(hits []models.SearchResult) []Source {
	seen := make(map[string]bool, len(hits))
	out := make([]Source, 0, min(len(hits), p.maxSources))
	for _, h := range hits {
		if seen[h.Payload.Filename] {
			continue
		}
		seen[h.Payload.Filename] = true
		out = append(out, Source{Filename: h.Payload.Filename, DocType: h.Payload.DocType, Score: h.Score})
		if len(out) == p.maxSources {
			break
		}
	}
	return out
}
