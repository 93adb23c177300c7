// Package db stores chunks in Postgres with the pgvector extension.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"pdf-rag/internal/models"
)

const undefinedTable = "42P01"

var chunkColumns = []string{
	"id", "chunk_text", "section", "content_type", "doc_type", "source", "filename",
	"page_number", "invoice_number", "invoice_date", "invoice_total",
	"chunk_index", "total_chunks", "indexed_at",
}

// ChunkRow is one point of the collection. Point ids are stored bit-cast to
// bigint.
type ChunkRow struct {
	bun.BaseModel `bun:"alias:c"`

	ID            int64           `bun:"id,pk"`
	Embedding     pgvector.Vector `bun:"embedding"`
	Text          string          `bun:"chunk_text"`
	Section       string          `bun:"section"`
	ContentType   string          `bun:"content_type"`
	DocType       string          `bun:"doc_type"`
	Source        string          `bun:"source"`
	Filename      string          `bun:"filename"`
	PageNumber    *int            `bun:"page_number"`
	InvoiceNumber string          `bun:"invoice_number"`
	InvoiceDate   string          `bun:"invoice_date"`
	InvoiceTotal  string          `bun:"invoice_total"`
	ChunkIndex    int             `bun:"chunk_index"`
	TotalChunks   int             `bun:"total_chunks"`
	IndexedAt     time.Time       `bun:"indexed_at"`

	Score float32 `bun:"score,scanonly"`
}

func rowFromPoint(p models.Point) ChunkRow {
	return ChunkRow{
		ID:            int64(p.ID),
		Embedding:     pgvector.NewVector(p.Vector),
		Text:          p.Payload.Text,
		Section:       p.Payload.Section,
		ContentType:   string(p.Payload.ContentType),
		DocType:       string(p.Payload.DocType),
		Source:        p.Payload.SourcePath,
		Filename:      p.Payload.Filename,
		PageNumber:    p.Payload.PageNumber,
		InvoiceNumber: p.Payload.InvoiceNumber,
		InvoiceDate:   p.Payload.InvoiceDate,
		InvoiceTotal:  p.Payload.InvoiceTotal,
		ChunkIndex:    p.Payload.ChunkIndex,
		TotalChunks:   p.Payload.TotalChunks,
		IndexedAt:     p.Payload.IndexedAt.UTC(),
	}
}

func (r ChunkRow) payload() models.Payload {
	return models.Payload{
		Text:          r.Text,
		Section:       r.Section,
		ContentType:   models.ContentType(r.ContentType),
		DocType:       models.DocType(r.DocType),
		SourcePath:    r.Source,
		Filename:      r.Filename,
		PageNumber:    r.PageNumber,
		InvoiceNumber: r.InvoiceNumber,
		InvoiceDate:   r.InvoiceDate,
		InvoiceTotal:  r.InvoiceTotal,
		ChunkIndex:    r.ChunkIndex,
		TotalChunks:   r.TotalChunks,
		IndexedAt:     r.IndexedAt.UTC(),
	}
}

// NewDB wraps a connection with the Postgres dialect. debug logs every query.
func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens a lazy connection pool; password overrides the one in dsn
func ConnectDB(dsn, password string) *sql.DB {
	opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
	if password != "" {
		opts = append(opts, pgdriver.WithPassword(password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...))
}

// Store is the pgvector backend of the vector index, one table per collection
type Store struct {
	db    *bun.DB
	table string
}

func NewStore(db *bun.DB, table string) *Store {
	return &Store{db: db, table: table}
}

func (s *Store) model(dest any) *bun.SelectQuery {
	return s.db.NewSelect().Model(dest).ModelTableExpr("? AS c", bun.Ident(s.table))
}

// EnsureCollection creates the extension, the table and its indexes
func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	stmts := []struct {
		query string
		args  []any
	}{
		{"CREATE EXTENSION IF NOT EXISTS vector", nil},
		{`CREATE TABLE IF NOT EXISTS ? (
			id bigint PRIMARY KEY,
			embedding vector(?) NOT NULL,
			chunk_text text NOT NULL,
			section text NOT NULL,
			content_type text NOT NULL,
			doc_type text NOT NULL,
			source text NOT NULL,
			filename text NOT NULL,
			page_number integer,
			invoice_number text NOT NULL DEFAULT '',
			invoice_date text NOT NULL DEFAULT '',
			invoice_total text NOT NULL DEFAULT '',
			chunk_index integer NOT NULL,
			total_chunks integer NOT NULL,
			indexed_at timestamptz NOT NULL
		)`, []any{bun.Ident(s.table), dimension}},
		{"CREATE INDEX IF NOT EXISTS ? ON ? USING hnsw (embedding vector_cosine_ops)",
			[]any{bun.Ident(s.table + "_embedding_idx"), bun.Ident(s.table)}},
	}
	for _, field := range models.IndexedFields {
		stmts = append(stmts, struct {
			query string
			args  []any
		}{"CREATE INDEX IF NOT EXISTS ? ON ? (?)",
			[]any{bun.Ident(s.table + "_" + field + "_idx"), bun.Ident(s.table), bun.Ident(field)}})
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, st := range stmts {
			if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
				return fmt.Errorf("failed to provision %s: %w", s.table, err)
			}
		}
		log.Debug().Str("table", s.table).Int("dimension", dimension).Msg("Collection table ready")
		return nil
	})
}

// DropCollection drops the table if it exists
func (s *Store) DropCollection(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS ?", bun.Ident(s.table))
	return err
}

// UpsertPoints writes one batch in a transaction, replacing rows with the same id
func (s *Store) UpsertPoints(ctx context.Context, points []models.Point) error {
	if len(points) == 0 {
		return nil
	}
	rows := make([]ChunkRow, len(points))
	for i, p := range points {
		rows[i] = rowFromPoint(p)
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewInsert().
			Model(&rows).
			ModelTableExpr("? AS c", bun.Ident(s.table)).
			On("CONFLICT (id) DO UPDATE")
		for _, col := range append([]string{"embedding"}, chunkColumns[1:]...) {
			q = q.Set("? = EXCLUDED.?", bun.Ident(col), bun.Ident(col))
		}
		_, err := q.Exec(ctx)
		return err
	})
	return mapError(err)
}

func (s *Store) searchQuery(rows *[]ChunkRow, vector []float32, limit int, filter models.Filter, threshold float32) *bun.SelectQuery {
	vec := pgvector.NewVector(vector)
	q := s.model(rows).
		Column(chunkColumns...).
		ColumnExpr("1 - (c.embedding <=> ?) AS score", vec).
		Where("1 - (c.embedding <=> ?) >= ?", vec, threshold).
		OrderExpr("c.embedding <=> ?", vec).
		Limit(limit)
	return applyFilter(q, filter)
}

// Query ranks rows by cosine similarity, best first
func (s *Store) Query(ctx context.Context, vector []float32, limit int, filter models.Filter, threshold float32) ([]models.SearchResult, error) {
	var rows []ChunkRow
	if err := s.searchQuery(&rows, vector, limit, filter, threshold).Scan(ctx); err != nil {
		return nil, mapError(err)
	}
	results := make([]models.SearchResult, len(rows))
	for i, r := range rows {
		results[i] = models.SearchResult{ID: uint64(r.ID), Score: r.Score, Payload: r.payload()}
	}
	return results, nil
}

func (s *Store) scrollQuery(rows *[]ChunkRow, filter models.Filter, limit, offset int) *bun.SelectQuery {
	q := s.model(rows).
		Column(chunkColumns...).
		Order("filename", "chunk_index", "id").
		Limit(limit).
		Offset(offset)
	return applyFilter(q, filter)
}

// Scroll pages through rows ordered by filename, chunk index and id
func (s *Store) Scroll(ctx context.Context, filter models.Filter, limit, offset int) ([]models.Payload, error) {
	var rows []ChunkRow
	if err := s.scrollQuery(&rows, filter, limit, offset).Scan(ctx); err != nil {
		return nil, mapError(err)
	}
	payloads := make([]models.Payload, len(rows))
	for i, r := range rows {
		payloads[i] = r.payload()
	}
	return payloads, nil
}

func (s *Store) Count(ctx context.Context, filter models.Filter) (int, error) {
	n, err := applyFilter(s.model((*ChunkRow)(nil)), filter).Count(ctx)
	return n, mapError(err)
}

func applyFilter(q *bun.SelectQuery, filter models.Filter) *bun.SelectQuery {
	for _, field := range filter.Fields() {
		q = q.Where("c.? IN (?)", bun.Ident(field), bun.In(filter[field]))
	}
	return q
}

// mapError turns an undefined table into models.ErrCollectionNotFound
func mapError(err error) error {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.Field('C') == undefinedTable {
		return fmt.Errorf("%w: %s", models.ErrCollectionNotFound, pgErr.Field('M'))
	}
	return err
}
