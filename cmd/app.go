package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"pdf-rag/internal/chromemdb"
	"pdf-rag/internal/chunker"
	"pdf-rag/internal/config"
	"pdf-rag/internal/db"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/index"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/logger"
	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/qdrant"
	"pdf-rag/internal/rag"
	"pdf-rag/internal/source"
	"pdf-rag/internal/vision"
)

var (
	_ index.Backend = (*chromemdb.VectorDBManager)(nil)
	_ index.Backend = (*qdrant.Storage)(nil)
	_ index.Backend = (*db.Store)(nil)
)

// app builds the pipeline components from the loaded configuration
type app struct {
	cfg     *config.Config
	metrics *metrics.Metrics

	// set when the chromem backend is in use
	chromem *chromemdb.VectorDBManager
	closers []func() error
}

func newApp(cmd *cli.Command) (*app, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	logger.Init(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, WithCaller: cfg.Log.Caller})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Debug().Str("backend", cfg.Index.Backend).Str("source", cfg.Source.Type).Msg("Loaded config")
	return &app{cfg: cfg, metrics: metrics.NewMetrics()}, nil
}

// action loads the app around fn and closes it afterwards
func action(fn func(ctx context.Context, cmd *cli.Command, a *app) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		err = fn(ctx, cmd, a)
		if cmd.Bool("metrics") {
			if werr := a.metrics.Write(os.Stderr); werr != nil {
				log.Warn().Err(werr).Msg("Cannot write metrics")
			}
		}
		return err
	}
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func (a *app) backend(ctx context.Context) (index.Backend, error) {
	ic := a.cfg.Index
	switch ic.Backend {
	case "qdrant":
		return qdrant.NewStorage(qdrant.Config{
			URL:        ic.Qdrant.URL,
			APIKey:     ic.Qdrant.APIKey,
			Collection: ic.Collection,
			Timeout:    ic.Qdrant.Timeout.Std(),
		}), nil
	case "pgvector":
		bunDB := db.NewDB(db.ConnectDB(ic.Postgres.DSN, ic.Postgres.Password), ic.Postgres.Debug)
		a.closers = append(a.closers, bunDB.Close)
		return db.NewStore(bunDB, ic.Collection), nil
	default:
		m, err := chromemdb.NewVectorDBManager(ic.Chromem.Path, ic.Collection, ic.Chromem.InMemory, ic.Chromem.Compress, ic.Chromem.EncryptionKey)
		if err != nil {
			return nil, &models.StorageError{Op: "open", Err: err}
		}
		if ic.Chromem.InMemory && helper.FileExists(m.ExportPath()) {
			if err := m.Import(ctx, ""); err != nil {
				return nil, err
			}
			log.Info().Str("file", m.ExportPath()).Msg("Loaded exported collection")
		}
		a.chromem = m
		return m, nil
	}
}

func (a *app) index(ctx context.Context) (*index.Index, error) {
	backend, err := a.backend(ctx)
	if err != nil {
		return nil, err
	}
	ic := a.cfg.Index
	return index.New(backend, ic.Dimension,
		index.WithBatchSize(ic.BatchSize),
		index.WithScoreThreshold(ic.ScoreThreshold),
		index.WithStatsScanLimit(ic.StatsScanLimit),
		index.WithMetrics(a.metrics),
	), nil
}

func (a *app) source() source.Source {
	sc := a.cfg.Source
	if sc.Type == "dropbox" {
		return source.NewDropbox(sc.DropboxToken, sc.Path, sc.Extensions)
	}
	return source.NewDir(sc.Path, sc.Extensions)
}

// extractor reads text natively and falls back to OCR when vision is enabled
func (a *app) extractor(ctx context.Context) (parser.Extractor, error) {
	digital := parser.New(parser.WithMaxPages(a.cfg.Source.MaxPagesPerPDF))
	vc := a.cfg.Vision
	if !vc.Enabled {
		return digital, nil
	}
	ocr, err := vision.New(ctx, vc.CredentialsFile,
		vision.WithMaxPages(a.cfg.Source.MaxPagesPerPDF),
		vision.WithTimeout(vc.Timeout.Std()),
		vision.WithRateLimit(vc.RequestsPerSecond),
	)
	if err != nil {
		return nil, err
	}
	return parser.NewFallbackExtractor(digital, ocr, vc.MinChars), nil
}

func (a *app) embedder() (*embedding.Embedder, error) {
	ec := a.cfg.Embedding
	opts := []embedding.Option{
		embedding.WithBatchSize(ec.BatchSize),
		embedding.WithRateLimit(ec.RequestsPerSecond),
		embedding.WithMetrics(a.metrics),
	}
	if ec.Provider == "ollama" {
		return embedding.NewOllamaEmbedder(ec.BaseURL, ec.Model, opts...)
	}
	return embedding.NewOpenAIEmbedder(ec.Key, ec.BaseURL, ec.Model, opts...)
}

func (a *app) answerer() (*llmservice.Answerer, error) {
	lc := a.cfg.LLM
	opts := []llmservice.Option{
		llmservice.WithTemperature(lc.Temperature),
		llmservice.WithMaxTokens(lc.MaxTokens),
		llmservice.WithMaxContextTokens(lc.MaxContextTokens),
	}
	if lc.Provider == "ollama" {
		return llmservice.NewOllama(lc.BaseURL, lc.Model, opts...)
	}
	return llmservice.NewOpenAI(lc.Key, lc.BaseURL, lc.Model, opts...)
}

// pipeline wires every component. src and extractor may be nil for
// query-only use.
func (a *app) pipeline(ctx context.Context, src source.Source, extractor parser.Extractor) (*rag.Pipeline, error) {
	ix, err := a.index(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := a.embedder()
	if err != nil {
		return nil, &models.ConfigurationError{Field: "embedding", Msg: err.Error()}
	}
	answerer, err := a.answerer()
	if err != nil {
		return nil, &models.ConfigurationError{Field: "llm", Msg: err.Error()}
	}

	opts := []rag.Option{
		rag.WithChunker(chunker.New(
			chunker.WithChunkSize(a.cfg.Chunking.ChunkSize),
			chunker.WithOverlap(a.cfg.Chunking.ChunkOverlap),
		)),
		rag.WithWorkers(a.cfg.Ingest.Workers),
		rag.WithSearchLimit(a.cfg.Query.Limit),
		rag.WithMaxSources(a.cfg.Query.MaxSources),
		rag.WithMetrics(a.metrics),
	}
	if a.cfg.Cache.Enabled {
		opts = append(opts, rag.WithCache(rag.NewResponseCache(a.cfg.Cache.TTL.Std())))
	}
	return rag.New(src, extractor, embedder, ix, answerer, opts...), nil
}

// persist exports an in-memory chromem collection so the next run can load it
func (a *app) persist(ctx context.Context) error {
	if a.chromem == nil || !a.cfg.Index.Chromem.InMemory {
		return nil
	}
	path := a.chromem.ExportPath()
	if err := helper.CreateParent(path); err != nil {
		return err
	}
	if err := a.chromem.Export(ctx, path); err != nil {
		return fmt.Errorf("persist collection: %w", err)
	}
	return nil
}

// forget removes the export of an in-memory chromem collection
func (a *app) forget() error {
	if a.chromem == nil || !a.cfg.Index.Chromem.InMemory {
		return nil
	}
	if err := os.Remove(a.chromem.ExportPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
