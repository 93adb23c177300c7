// Package config loads the application settings from a YAML or TOML file,
// a .env file and the environment, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"pdf-rag/internal/models"
)

// Duration is a time.Duration written as "90s" or "1h" in config files
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type SourceConfig struct {
	// Type is "dir" or "dropbox"
	Type           string   `yaml:"type" toml:"type"`
	Path           string   `yaml:"path" toml:"path"`
	Extensions     []string `yaml:"extensions" toml:"extensions"`
	DropboxToken   string   `yaml:"dropbox_token" toml:"dropbox_token"`
	MaxPagesPerPDF int      `yaml:"max_pages_per_pdf" toml:"max_pages_per_pdf"`
}

type VisionConfig struct {
	Enabled           bool     `yaml:"enabled" toml:"enabled"`
	CredentialsFile   string   `yaml:"credentials_file" toml:"credentials_file"`
	Timeout           Duration `yaml:"timeout" toml:"timeout"`
	MinChars          int      `yaml:"min_chars" toml:"min_chars"`
	RequestsPerSecond float64  `yaml:"requests_per_second" toml:"requests_per_second"`
}

type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size" toml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" toml:"chunk_overlap"`
}

// LLMConfig configures an OpenAI-compatible or Ollama endpoint. BatchSize
// and RequestsPerSecond apply to embeddings, the rest to chat.
type LLMConfig struct {
	Provider          string  `yaml:"provider" toml:"provider"`
	BaseURL           string  `yaml:"base_url" toml:"base_url"`
	Key               string  `yaml:"key" toml:"key"`
	Model             string  `yaml:"model" toml:"model"`
	BatchSize         int     `yaml:"batch_size,omitempty" toml:"batch_size,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" toml:"requests_per_second,omitempty"`
	Temperature       float64 `yaml:"temperature,omitempty" toml:"temperature,omitempty"`
	MaxTokens         int     `yaml:"max_tokens,omitempty" toml:"max_tokens,omitempty"`
	MaxContextTokens  int     `yaml:"max_context_tokens,omitempty" toml:"max_context_tokens,omitempty"`
}

type ChromemConfig struct {
	Path          string `yaml:"path" toml:"path"`
	InMemory      bool   `yaml:"in_memory" toml:"in_memory"`
	Compress      bool   `yaml:"compress" toml:"compress"`
	EncryptionKey string `yaml:"encryption_key" toml:"encryption_key"`
}

type QdrantConfig struct {
	URL     string   `yaml:"url" toml:"url"`
	APIKey  string   `yaml:"api_key" toml:"api_key"`
	Timeout Duration `yaml:"timeout" toml:"timeout"`
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn" toml:"dsn"`
	Password string `yaml:"password" toml:"password"`
	Debug    bool   `yaml:"debug" toml:"debug"`
}

type IndexConfig struct {
	// Backend is "chromem", "qdrant" or "pgvector"
	Backend        string         `yaml:"backend" toml:"backend"`
	Collection     string         `yaml:"collection" toml:"collection"`
	Dimension      int            `yaml:"dimension" toml:"dimension"`
	ScoreThreshold float32        `yaml:"score_threshold" toml:"score_threshold"`
	BatchSize      int            `yaml:"batch_size" toml:"batch_size"`
	StatsScanLimit int            `yaml:"stats_scan_limit" toml:"stats_scan_limit"`
	Chromem        ChromemConfig  `yaml:"chromem" toml:"chromem"`
	Qdrant         QdrantConfig   `yaml:"qdrant" toml:"qdrant"`
	Postgres       PostgresConfig `yaml:"postgres" toml:"postgres"`
}

type IngestConfig struct {
	Workers int `yaml:"workers" toml:"workers"`
}

type QueryConfig struct {
	Limit      int `yaml:"limit" toml:"limit"`
	MaxSources int `yaml:"max_sources" toml:"max_sources"`
}

type CacheConfig struct {
	Enabled bool     `yaml:"enabled" toml:"enabled"`
	TTL     Duration `yaml:"ttl" toml:"ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Pretty bool   `yaml:"pretty" toml:"pretty"`
	Caller bool   `yaml:"caller" toml:"caller"`
}

// Config is the root configuration
type Config struct {
	Source    SourceConfig   `yaml:"source" toml:"source"`
	Vision    VisionConfig   `yaml:"vision" toml:"vision"`
	Chunking  ChunkingConfig `yaml:"chunking" toml:"chunking"`
	Embedding LLMConfig      `yaml:"embedding" toml:"embedding"`
	LLM       LLMConfig      `yaml:"llm" toml:"llm"`
	Index     IndexConfig    `yaml:"index" toml:"index"`
	Ingest    IngestConfig   `yaml:"ingest" toml:"ingest"`
	Query     QueryConfig    `yaml:"query" toml:"query"`
	Cache     CacheConfig    `yaml:"cache" toml:"cache"`
	Log       LogConfig      `yaml:"log" toml:"log"`
}

// Default returns the settings used when no file sets them
func Default() *Config {
	return &Config{
		Source: SourceConfig{Type: "dir", Path: "./documents", Extensions: []string{".pdf"}},
		Vision: VisionConfig{Timeout: Duration(300 * time.Second), MinChars: 50},
		Chunking: ChunkingConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Embedding: LLMConfig{Provider: "openai", Model: "text-embedding-3-small", BatchSize: 20},
		LLM: LLMConfig{
			Provider:         "openai",
			Model:            "gpt-4o-mini",
			Temperature:      0.2,
			MaxTokens:        1000,
			MaxContextTokens: 15000,
		},
		Index: IndexConfig{
			Backend:        "chromem",
			Collection:     "pdf_documents",
			Dimension:      1536,
			ScoreThreshold: 0.6,
			BatchSize:      100,
			StatsScanLimit: 10000,
			Chromem:        ChromemConfig{Path: "./data/chromem"},
			Qdrant:         QdrantConfig{URL: "http://localhost:6333", Timeout: Duration(30 * time.Second)},
		},
		Ingest: IngestConfig{Workers: 1},
		Query:  QueryConfig{Limit: 5, MaxSources: 5},
		Cache:  CacheConfig{Enabled: true, TTL: Duration(time.Hour)},
		Log:    LogConfig{Level: "info", Pretty: true},
	}
}

// Load reads path over the defaults, then applies .env and environment
// overrides. A missing file is not an error; the defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	// a missing .env is fine
	_ = godotenv.Load()
	if err := cfg.applyEnv(nil); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// envOverrides lists the variables a deployment may set. Unset or empty
// variables leave the pointer nil and the file value in place.
type envOverrides struct {
	DropboxToken      *string `env:"DROPBOX_ACCESS_TOKEN"`
	DropboxPath       *string `env:"DROPBOX_PDF_PATH"`
	VisionCredentials *string `env:"GOOGLE_VISION_CREDENTIALS_PATH"`
	OpenAIKey         *string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     *string `env:"OPENAI_BASE_URL"`
	EmbeddingModel    *string `env:"OPENAI_EMBEDDING_MODEL"`
	ChatModel         *string `env:"OPENAI_MODEL"`
	Backend           *string `env:"VECTOR_BACKEND"`
	QdrantURL         *string `env:"QDRANT_URL"`
	QdrantAPIKey      *string `env:"QDRANT_API_KEY"`
	Collection        *string `env:"QDRANT_COLLECTION_NAME"`
	DatabaseURL       *string `env:"DATABASE_URL"`
	DatabasePassword  *string `env:"DATABASE_PASSWORD"`
	LogLevel          *string `env:"LOG_LEVEL"`

	ChunkSize     *int  `env:"CHUNK_SIZE"`
	ChunkOverlap  *int  `env:"CHUNK_OVERLAP"`
	MaxPages      *int  `env:"MAX_PAGES_PER_PDF"`
	MaxSources    *int  `env:"MAX_SOURCES_IN_RESPONSE"`
	Dimension     *int  `env:"VECTOR_DIMENSION"`
	IngestWorkers *int  `env:"INGEST_WORKERS"`
	CacheSeconds  *int  `env:"CACHE_EXPIRATION_SECONDS"`
	VisionSeconds *int  `env:"GOOGLE_VISION_REQUEST_TIMEOUT"`
	CacheEnabled  *bool `env:"ENABLE_RESPONSE_CACHE"`
	VisionEnabled *bool `env:"ENABLE_VISION"`
}

// applyEnv overrides file values with the variables the deployment sets.
// A nil environ reads the process environment.
func (c *Config) applyEnv(environ map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return envError(err)
	}

	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&c.Source.DropboxToken, o.DropboxToken)
	set(&c.Source.Path, o.DropboxPath)
	set(&c.Vision.CredentialsFile, o.VisionCredentials)
	set(&c.Embedding.Key, o.OpenAIKey)
	set(&c.LLM.Key, o.OpenAIKey)
	set(&c.Embedding.BaseURL, o.OpenAIBaseURL)
	set(&c.LLM.BaseURL, o.OpenAIBaseURL)
	set(&c.Embedding.Model, o.EmbeddingModel)
	set(&c.LLM.Model, o.ChatModel)
	set(&c.Index.Backend, o.Backend)
	set(&c.Index.Qdrant.URL, o.QdrantURL)
	set(&c.Index.Qdrant.APIKey, o.QdrantAPIKey)
	set(&c.Index.Collection, o.Collection)
	set(&c.Index.Postgres.DSN, o.DatabaseURL)
	set(&c.Index.Postgres.Password, o.DatabasePassword)
	set(&c.Log.Level, o.LogLevel)

	for dst, v := range map[*int]*int{
		&c.Chunking.ChunkSize:    o.ChunkSize,
		&c.Chunking.ChunkOverlap: o.ChunkOverlap,
		&c.Source.MaxPagesPerPDF: o.MaxPages,
		&c.Query.MaxSources:      o.MaxSources,
		&c.Index.Dimension:       o.Dimension,
		&c.Ingest.Workers:        o.IngestWorkers,
	} {
		if v != nil {
			*dst = *v
		}
	}
	if o.CacheEnabled != nil {
		c.Cache.Enabled = *o.CacheEnabled
	}
	if o.VisionEnabled != nil {
		c.Vision.Enabled = *o.VisionEnabled
	}
	if o.CacheSeconds != nil && *o.CacheSeconds >= 0 {
		c.Cache.TTL = Duration(time.Duration(*o.CacheSeconds) * time.Second)
	}
	if o.VisionSeconds != nil && *o.VisionSeconds >= 0 {
		c.Vision.Timeout = Duration(time.Duration(*o.VisionSeconds) * time.Second)
	}
	return nil
}

// envError reports the first unparsable variable by its name
func envError(err error) error {
	var agg env.AggregateError
	if errors.As(err, &agg) && len(agg.Errors) > 0 {
		err = agg.Errors[0]
	}
	var pe env.ParseError
	if errors.As(err, &pe) {
		key := pe.Name
		if f, ok := reflect.TypeOf(envOverrides{}).FieldByName(pe.Name); ok {
			key = f.Tag.Get("env")
		}
		return &models.ConfigurationError{Field: key, Msg: fmt.Sprintf("not a valid %s: %v", pe.Type, pe.Err)}
	}
	return &models.ConfigurationError{Field: "environment", Msg: err.Error()}
}

// applyDefaults fills settings a file left at zero
func (c *Config) applyDefaults() {
	d := Default()
	if c.Source.Type == "" {
		c.Source.Type = d.Source.Type
	}
	if len(c.Source.Extensions) == 0 {
		c.Source.Extensions = d.Source.Extensions
	}
	if c.Vision.Timeout <= 0 {
		c.Vision.Timeout = d.Vision.Timeout
	}
	if c.Vision.MinChars <= 0 {
		c.Vision.MinChars = d.Vision.MinChars
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = d.Embedding.Provider
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = d.Embedding.BatchSize
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = d.LLM.Provider
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = d.LLM.MaxTokens
	}
	if c.LLM.MaxContextTokens <= 0 {
		c.LLM.MaxContextTokens = d.LLM.MaxContextTokens
	}
	if c.Index.Backend == "" {
		c.Index.Backend = d.Index.Backend
	}
	if c.Index.Collection == "" {
		c.Index.Collection = d.Index.Collection
	}
	if c.Index.BatchSize <= 0 {
		c.Index.BatchSize = d.Index.BatchSize
	}
	if c.Index.StatsScanLimit <= 0 {
		c.Index.StatsScanLimit = d.Index.StatsScanLimit
	}
	if c.Index.Qdrant.Timeout <= 0 {
		c.Index.Qdrant.Timeout = d.Index.Qdrant.Timeout
	}
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 1
	}
	if c.Query.Limit <= 0 {
		c.Query.Limit = d.Query.Limit
	}
	if c.Query.MaxSources <= 0 {
		c.Query.MaxSources = d.Query.MaxSources
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = d.Cache.TTL
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// Validate reports the first missing or inconsistent setting as a
// *models.ConfigurationError.
func (c *Config) Validate() error {
	invalid := func(field, msg string, args ...any) error {
		return &models.ConfigurationError{Field: field, Msg: fmt.Sprintf(msg, args...)}
	}

	switch c.Source.Type {
	case "dir":
		if c.Source.Path == "" {
			return invalid("source.path", "required for the dir source")
		}
	case "dropbox":
		if c.Source.DropboxToken == "" {
			return invalid("source.dropbox_token", "required for the dropbox source (DROPBOX_ACCESS_TOKEN)")
		}
	default:
		return invalid("source.type", "unknown source %q", c.Source.Type)
	}
	if c.Source.MaxPagesPerPDF < 0 {
		return invalid("source.max_pages_per_pdf", "must not be negative")
	}

	if c.Chunking.ChunkSize <= 0 {
		return invalid("chunking.chunk_size", "must be positive")
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return invalid("chunking.chunk_overlap", "must be between 0 and chunk_size")
	}

	for name, llm := range map[string]LLMConfig{"embedding": c.Embedding, "llm": c.LLM} {
		switch llm.Provider {
		case "openai":
			if llm.Key == "" {
				return invalid(name+".key", "required for the openai provider (OPENAI_API_KEY)")
			}
		case "ollama":
			if llm.BaseURL == "" {
				return invalid(name+".base_url", "required for the ollama provider")
			}
		default:
			return invalid(name+".provider", "unknown provider %q", llm.Provider)
		}
		if llm.Model == "" {
			return invalid(name+".model", "required")
		}
	}

	if c.Index.Dimension <= 0 {
		return invalid("index.dimension", "must be positive")
	}
	if c.Index.ScoreThreshold < 0 || c.Index.ScoreThreshold > 1 {
		return invalid("index.score_threshold", "must be between 0 and 1")
	}
	switch c.Index.Backend {
	case "chromem":
		if !c.Index.Chromem.InMemory && c.Index.Chromem.Path == "" {
			return invalid("index.chromem.path", "required unless in_memory is set")
		}
	case "qdrant":
		if c.Index.Qdrant.URL == "" {
			return invalid("index.qdrant.url", "required for the qdrant backend (QDRANT_URL)")
		}
	case "pgvector":
		if c.Index.Postgres.DSN == "" {
			return invalid("index.postgres.dsn", "required for the pgvector backend (DATABASE_URL)")
		}
	default:
		return invalid("index.backend", "unknown backend %q", c.Index.Backend)
	}
	return nil
}
