package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "")
	path := writeFile(t, "config.yaml", `
source:
  type: dropbox
  path: /Rechnungen
chunking:
  chunk_size: 800
index:
  backend: qdrant
  score_threshold: 0.7
  qdrant:
    url: http://qdrant:6333
    timeout: 10s
cache:
  ttl: 15m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dropbox", cfg.Source.Type)
	assert.Equal(t, "/Rechnungen", cfg.Source.Path)
	assert.Equal(t, []string{".pdf"}, cfg.Source.Extensions)
	assert.Equal(t, 800, cfg.Chunking.ChunkSize)
	assert.Equal(t, 200, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, "qdrant", cfg.Index.Backend)
	assert.InDelta(t, 0.7, cfg.Index.ScoreThreshold, 1e-6)
	assert.Equal(t, 10*time.Second, cfg.Index.Qdrant.Timeout.Std())
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL.Std())
	assert.Equal(t, "pdf_documents", cfg.Index.Collection)
	assert.Equal(t, 20, cfg.Embedding.BatchSize)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[index]
backend = "pgvector"
dimension = 768

[index.postgres]
dsn = "postgres://rag@localhost:5432/rag?sslmode=disable"

[vision]
enabled = true
timeout = "2m"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pgvector", cfg.Index.Backend)
	assert.Equal(t, 768, cfg.Index.Dimension)
	assert.Equal(t, "postgres://rag@localhost:5432/rag?sslmode=disable", cfg.Index.Postgres.DSN)
	assert.True(t, cfg.Vision.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Vision.Timeout.Std())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "chromem", cfg.Index.Backend)
	assert.Equal(t, 1, cfg.Ingest.Workers)
}

func TestLoadBadFile(t *testing.T) {
	_, err := Load(writeFile(t, "config.yaml", "index: [unterminated"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"OPENAI_API_KEY":           "sk-test",
		"QDRANT_URL":               "https://qdrant.example.com",
		"DROPBOX_ACCESS_TOKEN":     "dbx",
		"CHUNK_SIZE":               "1200",
		"CHUNK_OVERLAP":            "",
		"MAX_PAGES_PER_PDF":        "3",
		"ENABLE_RESPONSE_CACHE":    "false",
		"CACHE_EXPIRATION_SECONDS": "60",
	}
	cfg := Default()
	require.NoError(t, cfg.applyEnv(env))

	assert.Equal(t, "sk-test", cfg.Embedding.Key)
	assert.Equal(t, "sk-test", cfg.LLM.Key)
	assert.Equal(t, "https://qdrant.example.com", cfg.Index.Qdrant.URL)
	assert.Equal(t, "dbx", cfg.Source.DropboxToken)
	assert.Equal(t, 1200, cfg.Chunking.ChunkSize)
	assert.Equal(t, 200, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, 3, cfg.Source.MaxPagesPerPDF)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, time.Minute, cfg.Cache.TTL.Std())
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	tests := map[string]string{
		"CHUNK_SIZE":               "viel",
		"ENABLE_VISION":            "vielleicht",
		"CACHE_EXPIRATION_SECONDS": "1h",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			err := Default().applyEnv(map[string]string{key: value})

			var cfgErr *models.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, key, cfgErr.Field)
		})
	}
}

func TestApplyEnvLeavesUnsetValues(t *testing.T) {
	cfg := Default()
	cfg.Index.Qdrant.URL = "http://from-file:6333"
	require.NoError(t, cfg.applyEnv(map[string]string{
		"ENABLE_VISION":                 "true",
		"GOOGLE_VISION_REQUEST_TIMEOUT": "45",
		"OPENAI_MODEL":                  "gpt-4o",
	}))

	assert.Equal(t, "http://from-file:6333", cfg.Index.Qdrant.URL)
	assert.True(t, cfg.Vision.Enabled)
	assert.Equal(t, 45*time.Second, cfg.Vision.Timeout.Std())
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1000, cfg.Chunking.ChunkSize)
}

func TestLoadReadsProcessEnvironment(t *testing.T) {
	t.Setenv("VECTOR_DIMENSION", "768")
	t.Setenv("QDRANT_COLLECTION_NAME", "rechnungen")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 768, cfg.Index.Dimension)
	assert.Equal(t, "rechnungen", cfg.Index.Collection)
}

func validConfig() *Config {
	cfg := Default()
	cfg.Embedding.Key = "sk"
	cfg.LLM.Key = "sk"
	return cfg
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		field  string
		mutate func(*Config)
	}{
		{"source.type", func(c *Config) { c.Source.Type = "ftp" }},
		{"source.dropbox_token", func(c *Config) { c.Source.Type = "dropbox" }},
		{"source.max_pages_per_pdf", func(c *Config) { c.Source.MaxPagesPerPDF = -1 }},
		{"chunking.chunk_size", func(c *Config) { c.Chunking.ChunkSize = 0 }},
		{"chunking.chunk_overlap", func(c *Config) { c.Chunking.ChunkOverlap = 1000 }},
		{"embedding.key", func(c *Config) { c.Embedding.Key = "" }},
		{"llm.provider", func(c *Config) { c.LLM.Provider = "bard" }},
		{"llm.base_url", func(c *Config) { c.LLM.Provider = "ollama" }},
		{"index.dimension", func(c *Config) { c.Index.Dimension = 0 }},
		{"index.score_threshold", func(c *Config) { c.Index.ScoreThreshold = 1.5 }},
		{"index.backend", func(c *Config) { c.Index.Backend = "faiss" }},
		{"index.qdrant.url", func(c *Config) { c.Index.Backend = "qdrant"; c.Index.Qdrant.URL = "" }},
		{"index.postgres.dsn", func(c *Config) { c.Index.Backend = "pgvector" }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			var cfgErr *models.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
