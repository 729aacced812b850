// Package search answers similarity queries against the indexed vault.
package search

import (
	"context"
	"fmt"

	"github.com/kagelab/kioku/internal/config"
	"github.com/kagelab/kioku/internal/embedding"
	"github.com/kagelab/kioku/internal/relevance"
	"github.com/kagelab/kioku/internal/store"
	"go.uber.org/zap"
)

// Metadata describes where a chunk came from.
type Metadata struct {
	Document    string            `json:"document"`
	Fingerprint string            `json:"fingerprint"`
	ChunkIndex  int               `json:"chunk_index"`
	TotalChunks int               `json:"total_chunks"`
	FrontMatter map[string]string `json:"front_matter,omitempty"`
}

// Result is a single chunk matched by a query, with its raw cosine distance
// and its relevance score within this result set.
type Result struct {
	Text      string   `json:"text"`
	Metadata  Metadata `json:"metadata"`
	Distance  float64  `json:"distance"`
	Relevance float64  `json:"relevance"`
}

// Stats summarizes the index.
type Stats struct {
	UniqueDocuments int64 `json:"unique_documents"`
	TotalChunks     int64 `json:"total_chunks"`
}

// Service embeds queries and ranks chunks from the store.
type Service struct {
	embedder embedding.Embedder
	store    store.Store
	cfg      *config.SearchConfig
	logger   *zap.Logger
}

// NewService creates a search service.
func NewService(embedder embedding.Embedder, st store.Store, cfg *config.SearchConfig, logger *zap.Logger) *Service {
	return &Service{embedder: embedder, store: st, cfg: cfg, logger: logger}
}

// Search embeds query and returns the top limit chunks ordered by ascending
// cosine distance, each with a relevance score. limit <= 0 uses the default
// limit; limits above the configured maximum are clamped.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.store.Query(ctx, vector, limit)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []Result{}, nil
	}

	distances := make([]float64, len(matches))
	for i, m := range matches {
		distances[i] = m.Distance
	}
	scores := relevance.Scores(distances)

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{
			Text: m.Chunk.Content,
			Metadata: Metadata{
				Document:    m.Chunk.Document,
				Fingerprint: m.Chunk.Fingerprint,
				ChunkIndex:  m.Chunk.ChunkIndex,
				TotalChunks: m.Chunk.TotalChunks,
				FrontMatter: m.Chunk.FrontMatter,
			},
			Distance:  m.Distance,
			Relevance: scores[i],
		}
	}
	s.logger.Debug("search complete", zap.String("query", query), zap.Int("limit", limit), zap.Int("results", len(results)))
	return results, nil
}

// Stats reports index-wide counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{UniqueDocuments: st.UniqueDocuments, TotalChunks: st.TotalChunks}, nil
}
