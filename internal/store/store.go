// Package store persists chunk records with embeddings and answers
// nearest-neighbor queries by cosine distance.
package store

import (
	"context"
	"fmt"
)

// ChunkRecord is the persisted unit: one chunk of one document version.
type ChunkRecord struct {
	ID          string            `json:"id"`
	Document    string            `json:"document"` // absolute note path
	Fingerprint string            `json:"fingerprint"`
	ChunkIndex  int               `json:"chunk_index"`
	TotalChunks int               `json:"total_chunks"`
	Content     string            `json:"content"`
	FrontMatter map[string]string `json:"front_matter,omitempty"`
	Embedding   []float32         `json:"-"`
}

// Match is a nearest-neighbor hit with its raw cosine distance.
type Match struct {
	Chunk    *ChunkRecord
	Distance float64
}

// Stats summarizes store contents.
type Stats struct {
	TotalChunks     int64 `json:"total_chunks"`
	UniqueDocuments int64 `json:"unique_documents"`
}

// Store persists chunks, embeddings, and metadata. Upsert replaces all
// records for a document as one unit; re-insertion with the same chunk
// identity replaces rather than duplicates.
type Store interface {
	Upsert(ctx context.Context, document string, records []ChunkRecord) error
	Delete(ctx context.Context, document string) error
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// DimensionMismatchError indicates a vector whose length does not match the
// store's fixed dimensionality. It implies a provider or config change and
// is a data-integrity fault, not a retryable I/O error.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: got %d, expected %d", e.Got, e.Want)
}

// WriteError indicates a backend I/O failure during upsert or delete. The
// affected document stays un-indexed and is retried on the next sync.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
