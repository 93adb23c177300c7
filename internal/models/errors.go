package models

import (
	"errors"
	"fmt"
)

var (
	// ErrCollectionNotFound is returned by a backend when the collection or
	// one of its indexes is missing.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidFilter indicates a filter on a field that has no index, or with no values.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrDimensionMismatch indicates a vector whose length differs from the collection's.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrUnsupportedFormat indicates a file type no extractor handles.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrEmptyText indicates extraction succeeded but produced no text.
	ErrEmptyText = errors.New("no text extracted")

	// ErrNoDocuments indicates the source listed nothing to ingest.
	ErrNoDocuments = errors.New("no documents found")
)

// ConfigurationError reports a missing or invalid setting. It is fatal.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Msg)
}

// ExtractionError wraps a per-document extraction failure. The document is skipped.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingError is fatal for the batch it occurred in
type EmbeddingError struct {
	Batch int
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding batch %d: %v", e.Batch, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// StorageError is fatal for the enclosing write. Batches written before it stay committed.
type StorageError struct {
	Op    string
	Batch int
	Err   error
}

func (e *StorageError) Error() string {
	if e.Batch > 0 {
		return fmt.Sprintf("storage %s (batch %d): %v", e.Op, e.Batch, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// SearchError is a failed search. An empty result is not a SearchError.
type SearchError struct {
	Err error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search: %v", e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }
