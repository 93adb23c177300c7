package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
)

var errNoEmbeddingFunc = errors.New("chromemdb: documents and queries must carry embeddings")

// noEmbedding keeps chromem from calling a remote embedding API on our behalf
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// VectorDBManager is the embedded vector store backend
type VectorDBManager struct {
	db             *chromem.DB
	collectionName string
	dbPath         string
	compress       bool
	encryptionKey  string

	mu        sync.Mutex
	dimension int
}

// NewVectorDBManager opens a persistent database under dbPath, or an
// in-memory one when inMemory is set.
func NewVectorDBManager(dbPath, collectionName string, inMemory, compress bool, encryptionKey string) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &VectorDBManager{
		db:             db,
		collectionName: collectionName,
		dbPath:         dbPath,
		compress:       compress,
		encryptionKey:  encryptionKey,
	}, nil
}

func (m *VectorDBManager) collection() (*chromem.Collection, error) {
	c := m.db.GetCollection(m.collectionName, noEmbedding)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrCollectionNotFound, m.collectionName)
	}
	return c, nil
}

// EnsureCollection creates the collection if absent. chromem matches
// metadata by exact value, so no separate payload indexes are needed. An
// existing collection holding vectors of another length is rejected with
// models.ErrDimensionMismatch.
func (m *VectorDBManager) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	meta := map[string]string{
		"dimension": strconv.Itoa(dimension),
		"metric":    "cosine",
	}
	c, err := m.db.GetOrCreateCollection(m.collectionName, meta, noEmbedding)
	if err != nil {
		return fmt.Errorf("failed to create/get collection: %w", err)
	}
	if err := m.checkDimension(ctx, c, dimension); err != nil {
		return err
	}
	m.mu.Lock()
	m.dimension = dimension
	m.mu.Unlock()
	return nil
}

// checkDimension compares dimension with a stored vector. chromem keeps the
// collection metadata private, so the vectors are the only record of it.
func (m *VectorDBManager) checkDimension(ctx context.Context, c *chromem.Collection, dimension int) error {
	if c.Count() == 0 {
		return nil
	}
	unit := make([]float32, dimension)
	unit[0] = 1
	res, err := c.QueryEmbedding(ctx, unit, 1, nil, nil)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err == nil && (len(res) == 0 || len(res[0].Embedding) == dimension) {
		return nil
	}
	return fmt.Errorf("%w: collection %s does not hold %d-dimensional vectors", models.ErrDimensionMismatch, m.collectionName, dimension)
}

// DropCollection deletes the collection and its persisted documents
func (m *VectorDBManager) DropCollection(ctx context.Context) error {
	if err := m.db.DeleteCollection(m.collectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// UpsertPoints adds all points in one call. Existing ids are replaced.
func (m *VectorDBManager) UpsertPoints(ctx context.Context, points []models.Point) error {
	c, err := m.collection()
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		docs[i] = chromem.Document{
			ID:        strconv.FormatUint(p.ID, 10),
			Content:   p.Payload.Text,
			Metadata:  p.Payload.Metadata(),
			Embedding: p.Vector,
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Query scores the whole collection, narrowing single-valued conditions with
// chromem's where clause and the rest in Go.
func (m *VectorDBManager) Query(ctx context.Context, vector []float32, limit int, filter models.Filter, threshold float32) ([]models.SearchResult, error) {
	results, err := m.queryAll(ctx, vector, filter)
	if err != nil {
		return nil, err
	}

	hits := make([]models.SearchResult, 0, min(limit, len(results)))
	for _, r := range results {
		if r.Similarity < threshold {
			continue
		}
		hit, err := toSearchResult(r)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(hit.Payload) {
			continue
		}
		hits = append(hits, hit)
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

// Scroll lists payloads ordered by filename, chunk index and id
func (m *VectorDBManager) Scroll(ctx context.Context, filter models.Filter, limit, offset int) ([]models.Payload, error) {
	all, err := m.matching(ctx, filter)
	if err != nil {
		return nil, err
	}
	if offset >= len(all) {
		return []models.Payload{}, nil
	}
	end := min(offset+limit, len(all))
	page := make([]models.Payload, 0, end-offset)
	for _, hit := range all[offset:end] {
		page = append(page, hit.Payload)
	}
	return page, nil
}

// Count returns the number of documents matching filter
func (m *VectorDBManager) Count(ctx context.Context, filter models.Filter) (int, error) {
	if len(filter) == 0 {
		c, err := m.collection()
		if err != nil {
			return 0, err
		}
		return c.Count(), nil
	}
	all, err := m.matching(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// matching returns every document satisfying filter in scroll order
func (m *VectorDBManager) matching(ctx context.Context, filter models.Filter) ([]models.SearchResult, error) {
	m.mu.Lock()
	dim := m.dimension
	m.mu.Unlock()
	if dim == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrCollectionNotFound, m.collectionName)
	}

	// similarity is irrelevant here, any non-zero vector returns all documents
	ones := make([]float32, dim)
	for i := range ones {
		ones[i] = 1
	}
	results, err := m.queryAll(ctx, ones, filter)
	if err != nil {
		return nil, err
	}

	hits := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		hit, err := toSearchResult(r)
		if err != nil {
			return nil, err
		}
		if filter.Matches(hit.Payload) {
			hits = append(hits, hit)
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i].Payload, hits[j].Payload
		if a.Filename != b.Filename {
			return a.Filename < b.Filename
		}
		if a.ChunkIndex != b.ChunkIndex {
			return a.ChunkIndex < b.ChunkIndex
		}
		return hits[i].ID < hits[j].ID
	})
	return hits, nil
}

func (m *VectorDBManager) queryAll(ctx context.Context, vector []float32, filter models.Filter) ([]chromem.Result, error) {
	c, err := m.collection()
	if err != nil {
		return nil, err
	}
	n := c.Count()
	if n == 0 {
		return nil, nil
	}

	var where map[string]string
	for field, values := range filter {
		if len(values) == 1 {
			if where == nil {
				where = map[string]string{}
			}
			where[field] = values[0]
		}
	}

	results, err := c.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return results, nil
}

func toSearchResult(r chromem.Result) (models.SearchResult, error) {
	id, err := strconv.ParseUint(r.ID, 10, 64)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("unexpected document id %q: %w", r.ID, err)
	}
	return models.SearchResult{
		ID:      id,
		Score:   r.Similarity,
		Payload: models.PayloadFromMetadata(r.Content, r.Metadata),
	}, nil
}

// ExportPath is the default export file for the collection. chromem detects
// gzip by the .gz suffix on import.
func (m *VectorDBManager) ExportPath() string {
	name := m.collectionName + ".gob"
	if m.compress {
		name += ".gz"
	}
	return filepath.Join(m.dbPath, name)
}

// Export writes the collection to a single file, encrypted when a key is configured
func (m *VectorDBManager) Export(ctx context.Context, filePath string) error {
	if _, err := m.collection(); err != nil {
		return err
	}
	if filePath == "" {
		filePath = m.ExportPath()
	}

	log.Debug().
		Str("collection", m.collectionName).
		Str("file", filePath).
		Bool("compress", m.compress).
		Bool("encrypted", m.encryptionKey != "").
		Msg("Exporting collection")

	if err := m.db.ExportToFile(filePath, m.compress, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads the collection from a file written by Export
func (m *VectorDBManager) Import(ctx context.Context, filePath string) error {
	if filePath == "" {
		filePath = m.ExportPath()
	}
	if err := m.db.ImportFromFile(filePath, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	return nil
}
