// Package integration exercises the full index-and-search pipeline against
// real storage on disk.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kagelab/kioku/internal/chunker"
	"github.com/kagelab/kioku/internal/config"
	"github.com/kagelab/kioku/internal/embedding"
	"github.com/kagelab/kioku/internal/indexer"
	"github.com/kagelab/kioku/internal/search"
	"github.com/kagelab/kioku/internal/store"
	"github.com/kagelab/kioku/internal/tracker"
	"go.uber.org/zap"
)

type pipeline struct {
	coordinator *indexer.Coordinator
	bulk        *indexer.BulkIndexer
	searcher    *search.Service
	store       *store.SQLiteStore
	embedder    embedding.Embedder
}

func newPipeline(t *testing.T, dataDir, vault string) *pipeline {
	t.Helper()
	cfg := &config.Config{}
	cfg.Vault.Path = vault
	cfg.Vault.Extensions = []string{".md"}
	cfg.Indexing.ChunkSize = 200
	cfg.Indexing.ChunkOverlap = 40
	cfg.Indexing.Workers = 2
	cfg.Search.DefaultLimit = 5
	cfg.Search.MaxLimit = 50
	cfg.Embedding = config.EmbeddingConfig{Provider: "mock", Dimensions: 16, CacheSize: 100}

	st, err := store.NewSQLiteStore(filepath.Join(dataDir, "chunks.db"), cfg.Embedding.Dimensions)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	embedder, err := embedding.New(&cfg.Embedding)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = embedder.Close() })

	ch, err := chunker.New(cfg.Indexing.ChunkSize, cfg.Indexing.ChunkOverlap)
	if err != nil {
		t.Fatal(err)
	}
	tr := tracker.New(filepath.Join(dataDir, "state.json"))
	coordinator, err := indexer.NewCoordinator(context.Background(), tr, embedder, st, ch)
	if err != nil {
		t.Fatal(err)
	}
	return &pipeline{
		coordinator: coordinator,
		bulk:        indexer.NewBulkIndexer(coordinator, cfg, zap.NewNop()),
		searcher:    search.NewService(embedder, st, &cfg.Search, zap.NewNop()),
		store:       st,
		embedder:    embedder,
	}
}

func writeVault(t *testing.T, vault string, notes map[string]string) {
	t.Helper()
	if err := os.MkdirAll(vault, 0755); err != nil {
		t.Fatal(err)
	}
	for name, content := range notes {
		path := filepath.Join(vault, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPipeline_indexSearchUpdateRemove(t *testing.T) {
	dir := t.TempDir()
	vault := filepath.Join(dir, "vault")
	writeVault(t, vault, map[string]string{
		"birds.md":        "---\ntitle: Garden Birds\n---\nRobins and blue tits return to the garden feeder in early march.",
		"daily/monday.md": "Stand-up notes: discussed the quarterly planning deadline with the team.",
		"recipes/soup.md": "Leek and potato soup: sweat the leeks, add stock, simmer twenty minutes.",
	})
	p := newPipeline(t, dir, vault)
	ctx := context.Background()

	indexed, failed, err := p.bulk.IndexVault(ctx, vault)
	if err != nil {
		t.Fatal(err)
	}
	if indexed != 3 || failed != 0 {
		t.Fatalf("indexed=%d failed=%d, want 3/0", indexed, failed)
	}

	// Query with a note's exact text: the mock embedder maps identical text
	// to identical vectors, so that note must rank first.
	results, err := p.searcher.Search(ctx, "Robins and blue tits return to the garden feeder in early march.", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	top := results[0]
	if filepath.Base(top.Metadata.Document) != "birds.md" {
		t.Errorf("top result = %q, want birds.md", top.Metadata.Document)
	}
	if top.Relevance != 1.0 {
		t.Errorf("top relevance = %v, want 1.0", top.Relevance)
	}
	if top.Metadata.FrontMatter["title"] != "Garden Birds" {
		t.Errorf("front matter lost: %v", top.Metadata.FrontMatter)
	}

	// Edit a note and re-sync: the index follows the new content.
	soup := filepath.Join(vault, "recipes", "soup.md")
	if err := os.WriteFile(soup, []byte("Tomato soup now: roast tomatoes, blend, season."), 0600); err != nil {
		t.Fatal(err)
	}
	if err := p.coordinator.Sync(ctx, soup); err != nil {
		t.Fatal(err)
	}
	results, err = p.searcher.Search(ctx, "Tomato soup now: roast tomatoes, blend, season.", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || filepath.Base(results[0].Metadata.Document) != "soup.md" {
		t.Errorf("updated note not found: %+v", results)
	}

	// Remove a note: its chunks disappear from stats and results.
	if err := p.coordinator.Remove(ctx, filepath.Join(vault, "daily", "monday.md")); err != nil {
		t.Fatal(err)
	}
	stats, err := p.searcher.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.UniqueDocuments != 2 {
		t.Errorf("documents after remove = %d, want 2", stats.UniqueDocuments)
	}
}

func TestPipeline_restartPreservesIndexAndSkipsResync(t *testing.T) {
	dir := t.TempDir()
	vault := filepath.Join(dir, "vault")
	writeVault(t, vault, map[string]string{
		"a.md": "First note about gardening and compost.",
		"b.md": "Second note about bicycle maintenance.",
	})

	p1 := newPipeline(t, dir, vault)
	ctx := context.Background()
	if _, _, err := p1.bulk.IndexVault(ctx, vault); err != nil {
		t.Fatal(err)
	}

	// A fresh pipeline over the same data directory sees the persisted index
	// and the tracker state: nothing is re-embedded.
	p2 := newPipeline(t, dir, vault)
	mock := freshMock(t, p2)
	if _, _, err := p2.bulk.IndexVault(ctx, vault); err != nil {
		t.Fatal(err)
	}
	if mock.BatchCalls() != 0 {
		t.Errorf("restart re-embedded unchanged notes: %d batch calls", mock.BatchCalls())
	}

	stats, err := p2.searcher.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.UniqueDocuments != 2 {
		t.Errorf("documents after restart = %d, want 2", stats.UniqueDocuments)
	}
}

// freshMock digs the mock provider out of the pipeline's cached embedder.
func freshMock(t *testing.T, p *pipeline) *embedding.MockEmbedder {
	t.Helper()
	type unwrapper interface{ Inner() embedding.Embedder }
	e := p.embedder
	if u, ok := e.(unwrapper); ok {
		e = u.Inner()
	}
	mock, ok := e.(*embedding.MockEmbedder)
	if !ok {
		t.Fatalf("embedder is %T, want mock", e)
	}
	return mock
}
