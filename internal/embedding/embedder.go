// Package embedding provides text embedding providers and caching.
package embedding

import (
	"context"
	"errors"
)

// ErrProviderUnavailable indicates the embedding backend is down or
// unreachable. Syncs abort and the document stays eligible for retry.
var ErrProviderUnavailable = errors.New("embedding provider unavailable")

// Embedder turns text into fixed-length vectors.
type Embedder interface {
	// Embed returns the vector for a single query text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, order-preserving.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// HealthCheck reports whether the backend is reachable.
	HealthCheck(ctx context.Context) bool
	// Dimensions is the fixed vector length this provider produces.
	Dimensions() int
	Close() error
}
