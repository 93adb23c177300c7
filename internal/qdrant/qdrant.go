// Package qdrant is a minimal REST client to Qdrant used as a vector index backend.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
)

const scrollBatch = 256

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Storage talks to one Qdrant collection with cosine distance and keyword
// payload indexes on models.IndexedFields.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// statusError is a non-2xx answer from Qdrant
type statusError struct {
	method, path string
	code         int
	body         string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %d %s", e.method, e.path, e.code, e.body)
}

func (e *statusError) Is(target error) bool {
	return target == models.ErrCollectionNotFound && e.code == http.StatusNotFound
}

func (s *Storage) collectionPath(suffix string) string {
	return "/collections/" + s.collection + suffix
}

type collectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
		PayloadSchema map[string]json.RawMessage `json:"payload_schema"`
	} `json:"result"`
}

// EnsureCollection creates the collection and any missing payload index.
// A concurrent creator winning the race is not an error.
func (s *Storage) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}

	var info collectionInfo
	err := s.do(ctx, http.MethodGet, s.collectionPath(""), nil, &info)
	switch {
	case errors.Is(err, models.ErrCollectionNotFound):
		body := map[string]any{
			"vectors": map[string]any{
				"size":     dimension,
				"distance": "Cosine",
			},
		}
		if err := s.do(ctx, http.MethodPut, s.collectionPath(""), body, nil); err != nil && !alreadyExists(err) {
			return err
		}
		log.Info().Str("collection", s.collection).Int("dimension", dimension).Msg("Created qdrant collection")
	case err != nil:
		return err
	default:
		if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != dimension {
			return fmt.Errorf("%w: collection %s has %d dimensions, want %d", models.ErrDimensionMismatch, s.collection, size, dimension)
		}
	}

	for _, field := range models.IndexedFields {
		if _, ok := info.Result.PayloadSchema[field]; ok {
			continue
		}
		body := map[string]any{
			"field_name":   field,
			"field_schema": "keyword",
		}
		if err := s.do(ctx, http.MethodPut, s.collectionPath("/index?wait=true"), body, nil); err != nil {
			return fmt.Errorf("create payload index %s: %w", field, err)
		}
	}
	return nil
}

func alreadyExists(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.code == http.StatusConflict ||
		(se.code == http.StatusBadRequest && strings.Contains(se.body, "already exists"))
}

// DropCollection deletes the collection; a missing one is fine
func (s *Storage) DropCollection(ctx context.Context) error {
	err := s.do(ctx, http.MethodDelete, s.collectionPath(""), nil, nil)
	if errors.Is(err, models.ErrCollectionNotFound) {
		return nil
	}
	return err
}

type point struct {
	ID      uint64         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload models.Payload `json:"payload"`
}

// UpsertPoints writes one batch and waits until Qdrant has applied it
func (s *Storage) UpsertPoints(ctx context.Context, points []models.Point) error {
	body := struct {
		Points []point `json:"points"`
	}{Points: make([]point, len(points))}
	for i, p := range points {
		body.Points[i] = point{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}
	return s.do(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), body, nil)
}

type scoredPoint struct {
	ID      json.Number    `json:"id"`
	Score   float32        `json:"score"`
	Payload models.Payload `json:"payload"`
}

func (p scoredPoint) result() (models.SearchResult, error) {
	id, err := strconv.ParseUint(p.ID.String(), 10, 64)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("unexpected point id %q: %w", p.ID, err)
	}
	return models.SearchResult{ID: id, Score: p.Score, Payload: p.Payload}, nil
}

// Query runs a filtered nearest-neighbour search with a score threshold
func (s *Storage) Query(ctx context.Context, vector []float32, limit int, filter models.Filter, threshold float32) ([]models.SearchResult, error) {
	req := map[string]any{
		"vector":          vector,
		"limit":           limit,
		"with_payload":    true,
		"score_threshold": threshold,
	}
	if f := buildFilter(filter); f != nil {
		req["filter"] = f
	}

	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	results := make([]models.SearchResult, 0, len(resp.Result))
	for _, p := range resp.Result {
		r, err := p.result()
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// Scroll pages through payloads in point id order. Qdrant pages by point id,
// so a numeric offset is reached by skipping.
func (s *Storage) Scroll(ctx context.Context, filter models.Filter, limit, offset int) ([]models.Payload, error) {
	var (
		payloads []models.Payload
		next     json.RawMessage
		skipped  int
	)
	for len(payloads) < limit {
		req := map[string]any{
			"limit":        min(scrollBatch, offset-skipped+limit-len(payloads)),
			"with_payload": true,
			"with_vector":  false,
		}
		if f := buildFilter(filter); f != nil {
			req["filter"] = f
		}
		if next != nil {
			req["offset"] = next
		}

		var resp struct {
			Result struct {
				Points         []scoredPoint   `json:"points"`
				NextPageOffset json.RawMessage `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/scroll"), req, &resp); err != nil {
			return nil, err
		}
		for _, p := range resp.Result.Points {
			if skipped < offset {
				skipped++
				continue
			}
			if len(payloads) < limit {
				payloads = append(payloads, p.Payload)
			}
		}
		next = resp.Result.NextPageOffset
		if len(next) == 0 || string(next) == "null" {
			break
		}
	}
	if payloads == nil {
		payloads = []models.Payload{}
	}
	return payloads, nil
}

// Count returns the exact number of points matching filter
func (s *Storage) Count(ctx context.Context, filter models.Filter) (int, error) {
	req := map[string]any{"exact": true}
	if f := buildFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/count"), req, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// buildFilter turns a Filter into Qdrant must-conditions, one per field
func buildFilter(filter models.Filter) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(filter))
	for _, field := range filter.Fields() {
		values := filter[field]
		match := map[string]any{"any": values}
		if len(values) == 1 {
			match = map[string]any{"value": values[0]}
		}
		must = append(must, map[string]any{"key": field, "match": match})
	}
	return map[string]any{"must": must}
}

func (s *Storage) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.url+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{method: method, path: path, code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(out)
}
