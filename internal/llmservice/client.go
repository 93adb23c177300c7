// Package llmservice answers questions from retrieved chunks with a chat model.
package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pdf-rag/internal/models"
)

const (
	DefaultMaxContextTokens = 15000
	DefaultTemperature      = 0.2
	DefaultMaxTokens        = 1000
)

// TokenCounter returns the number of model tokens in text
type TokenCounter func(text string) int

// Answerer builds a bounded context from search results and asks the model
type Answerer struct {
	llm              llms.Model
	model            string
	maxContextTokens int
	temperature      float64
	maxTokens        int
	countTokens      TokenCounter
}

type Option func(*Answerer)

func WithMaxContextTokens(n int) Option {
	return func(a *Answerer) {
		if n > 0 {
			a.maxContextTokens = n
		}
	}
}

func WithTemperature(t float64) Option {
	return func(a *Answerer) {
		if t >= 0 {
			a.temperature = t
		}
	}
}

func WithMaxTokens(n int) Option {
	return func(a *Answerer) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

func WithTokenCounter(fn TokenCounter) Option {
	return func(a *Answerer) { a.countTokens = fn }
}

// New wraps llm. model selects the tokenizer used for the context budget.
func New(llm llms.Model, model string, opts ...Option) *Answerer {
	a := &Answerer{
		llm:              llm,
		model:            model,
		maxContextTokens: DefaultMaxContextTokens,
		temperature:      DefaultTemperature,
		maxTokens:        DefaultMaxTokens,
	}
	a.countTokens = func(text string) int { return llms.CountTokens(a.model, text) }
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewOpenAI talks to an OpenAI-compatible chat API. An empty baseURL uses OpenAI itself.
func NewOpenAI(token, baseURL, model string, opts ...Option) (*Answerer, error) {
	llmOpts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(token, "Bearer ")),
		openai.WithModel(model),
	}
	if baseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai chat model: %w", err)
	}
	return New(llm, model, opts...), nil
}

func NewOllama(serverURL, model string, opts ...Option) (*Answerer, error) {
	llm, err := ollama.New(ollama.WithServerURL(serverURL), ollama.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama chat model: %w", err)
	}
	return New(llm, model, opts...), nil
}

// BuildContext renders each hit as one paragraph naming its file
func BuildContext(results []models.SearchResult) string {
	paragraphs := make([]string, 0, len(results))
	for _, r := range results {
		paragraphs = append(paragraphs, fmt.Sprintf(models.SourcePrefixFmt, r.Payload.Filename, r.Payload.Text))
	}
	return strings.Join(paragraphs, models.ContextSeparator)
}

// ContextBudget is the number of tokens left for documents after the system
// prompt, the question and a fixed buffer.
func (a *Answerer) ContextBudget(question string) int {
	return a.maxContextTokens - a.countTokens(models.AnswerSystemPrompt) - a.countTokens(question) - models.ContextTokenBuffer
}

// TruncateContext keeps leading paragraphs while they fit the budget and
// drops everything from the first paragraph that does not.
func (a *Answerer) TruncateContext(context, question string) string {
	budget := a.ContextBudget(question)
	total := a.countTokens(context)
	if total <= budget {
		return context
	}

	var kept []string
	used := 0
	for _, para := range strings.Split(context, models.ContextSeparator) {
		n := a.countTokens(para)
		if used+n > budget {
			break
		}
		kept = append(kept, para)
		used += n
	}
	log.Warn().Int("tokens", total).Int("budget", budget).Int("paragraphs", len(kept)).Msg("Context truncated")
	return strings.Join(kept, models.ContextSeparator)
}

// Answer asks the model to answer question from results only. Without
// results it returns the fixed no-results reply and makes no call.
func (a *Answerer) Answer(ctx context.Context, question string, results []models.SearchResult) (string, error) {
	if len(results) == 0 {
		return models.NoResultsAnswer, nil
	}

	docs := a.TruncateContext(BuildContext(results), question)
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, models.AnswerSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(models.AnswerPromptTemplate, docs, question)),
	}

	resp, err := a.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(a.temperature),
		llms.WithMaxTokens(a.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("generate answer: model returned no choices")
	}
	log.Info().Int("sources", len(results)).Msg("Answer generated")
	return resp.Choices[0].Content, nil
}
