// Package embedding turns chunk texts into vectors through an OpenAI-compatible
// or Ollama embedding endpoint, in fixed-size batches.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
)

const DefaultBatchSize = 20

// Embedder batches texts against an embeddings.EmbedderClient
type Embedder struct {
	client    embeddings.EmbedderClient
	batchSize int
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
}

var _ embeddings.Embedder = (*Embedder)(nil)

type Option func(*Embedder)

func WithBatchSize(n int) Option {
	return func(e *Embedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithRateLimit allows at most rps embedding requests per second; 0 disables the limit
func WithRateLimit(rps float64) Option {
	return func(e *Embedder) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Embedder) { e.metrics = m }
}

func New(client embeddings.EmbedderClient, opts ...Option) *Embedder {
	e := &Embedder{client: client, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewOpenAIEmbedder talks to an OpenAI-compatible API. An empty baseURL uses OpenAI itself.
func NewOpenAIEmbedder(token, baseURL, model string, opts ...Option) (*Embedder, error) {
	llmOpts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(token, "Bearer ")),
		openai.WithEmbeddingModel(model),
	}
	if baseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai embedder: %w", err)
	}
	log.Debug().Str("base_url", baseURL).Str("model", model).Msg("OpenAI embedder ready")
	return New(llm, opts...), nil
}

func NewOllamaEmbedder(serverURL, model string, opts ...Option) (*Embedder, error) {
	llm, err := ollama.New(ollama.WithServerURL(serverURL), ollama.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
	}
	log.Debug().Str("base_url", serverURL).Str("model", model).Msg("Ollama embedder ready")
	return New(llm, opts...), nil
}

// EmbedDocuments returns one vector per text. The first failing batch aborts
// with a *models.EmbeddingError numbered from 1.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, batch := range embeddings.BatchTexts(texts, e.batchSize) {
		if err := e.wait(ctx); err != nil {
			return nil, &models.EmbeddingError{Batch: i + 1, Err: err}
		}
		got, err := e.client.CreateEmbedding(ctx, batch)
		if err == nil && len(got) != len(batch) {
			err = fmt.Errorf("got %d embeddings for %d texts", len(got), len(batch))
		}
		e.metrics.RecordEmbeddingBatch(err)
		if err != nil {
			return nil, &models.EmbeddingError{Batch: i + 1, Err: err}
		}
		vectors = append(vectors, got...)
		log.Debug().Int("batch", i+1).Int("texts", len(batch)).Msg("Embedded batch")
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := e.wait(ctx); err != nil {
		return nil, &models.EmbeddingError{Batch: 1, Err: err}
	}
	got, err := e.client.CreateEmbedding(ctx, []string{text})
	if err == nil && len(got) != 1 {
		err = fmt.Errorf("got %d embeddings for 1 text", len(got))
	}
	if err != nil {
		return nil, &models.EmbeddingError{Batch: 1, Err: err}
	}
	return got[0], nil
}

func (e *Embedder) wait(ctx context.Context) error {
	if e.limiter == nil {
		return ctx.Err()
	}
	return e.limiter.Wait(ctx)
}

// EmbedChunks embeds the chunk texts and pairs each chunk with its vector
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []models.Chunk) ([]models.EmbeddedChunk, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks to embed")
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := e.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]models.EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		out[i] = models.EmbeddedChunk{Chunk: c, Vector: vectors[i]}
	}
	return out, nil
}
