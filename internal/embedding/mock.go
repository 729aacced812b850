package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"sync/atomic"
)

// MockEmbedder is a deterministic embedder for tests and offline use. The
// same text always gets the same unit-length vector. Call counters let tests
// assert how much embedding work actually happened.
type MockEmbedder struct {
	dimensions int
	healthy    bool

	embedCalls int64
	batchCalls int64
}

// NewMockEmbedder returns a deterministic embedder with the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &MockEmbedder{dimensions: dimensions, healthy: true}
}

// SetHealthy toggles what HealthCheck reports.
func (e *MockEmbedder) SetHealthy(healthy bool) { e.healthy = healthy }

// EmbedCalls returns how many times Embed was invoked.
func (e *MockEmbedder) EmbedCalls() int64 { return atomic.LoadInt64(&e.embedCalls) }

// BatchCalls returns how many times EmbedBatch was invoked.
func (e *MockEmbedder) BatchCalls() int64 { return atomic.LoadInt64(&e.batchCalls) }

// Embed returns a deterministic embedding derived from the text hash.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt64(&e.embedCalls, 1)
	return e.vector(text), nil
}

// EmbedBatch embeds each text deterministically, in order.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt64(&e.batchCalls, 1)
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.vector(text)
	}
	return vectors, nil
}

func (e *MockEmbedder) vector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float32, e.dimensions)
	for i := range vec {
		vec[i] = float32(math.Sin(float64(seed%100003)*float64(i+1))*0.1 + 0.01)
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	if sum > 0 {
		norm := 1.0 / math.Sqrt(sum)
		for i := range vec {
			vec[i] *= float32(norm)
		}
	}
	return vec
}

// HealthCheck reports the configured health state (true by default).
func (e *MockEmbedder) HealthCheck(ctx context.Context) bool { return e.healthy }

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int { return e.dimensions }

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error { return nil }
