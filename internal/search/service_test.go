package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kagelab/kioku/internal/config"
	"github.com/kagelab/kioku/internal/embedding"
	"github.com/kagelab/kioku/internal/store"
	"go.uber.org/zap"
)

func testService(t *testing.T) (*Service, *store.SQLiteStore, *embedding.MockEmbedder) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "chunks.db"), 8)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	embedder := embedding.NewMockEmbedder(8)
	cfg := &config.SearchConfig{DefaultLimit: 3, MaxLimit: 5}
	return NewService(embedder, st, cfg, zap.NewNop()), st, embedder
}

// seed indexes each text as a one-chunk document whose embedding comes from
// the same mock embedder the service queries with.
func seed(t *testing.T, st *store.SQLiteStore, embedder *embedding.MockEmbedder, texts map[string]string) {
	t.Helper()
	ctx := context.Background()
	for doc, text := range texts {
		v, err := embedder.Embed(ctx, text)
		if err != nil {
			t.Fatal(err)
		}
		rec := store.ChunkRecord{
			ID:          doc + "#0",
			Document:    doc,
			Fingerprint: "fp",
			ChunkIndex:  0,
			TotalChunks: 1,
			Content:     text,
			Embedding:   v,
		}
		if err := st.Upsert(ctx, doc, []store.ChunkRecord{rec}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSearch_exactTextRanksFirst(t *testing.T) {
	svc, st, embedder := testService(t)
	seed(t, st, embedder, map[string]string{
		"/vault/birds.md":  "robins return to the garden in march",
		"/vault/garden.md": "planting tomatoes and peppers in spring",
		"/vault/work.md":   "quarterly planning meeting notes",
	})

	results, err := svc.Search(context.Background(), "robins return to the garden in march", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Metadata.Document != "/vault/birds.md" {
		t.Errorf("top result = %q, want /vault/birds.md", results[0].Metadata.Document)
	}
	if results[0].Relevance != 1.0 {
		t.Errorf("top relevance = %v, want 1.0", results[0].Relevance)
	}
	for i := 0; i < len(results)-1; i++ {
		if results[i].Distance > results[i+1].Distance {
			t.Error("results not ordered by ascending distance")
		}
		if results[i].Relevance < results[i+1].Relevance {
			t.Error("relevance not monotone with distance")
		}
	}
}

func TestSearch_limitDefaultsAndClamp(t *testing.T) {
	svc, st, embedder := testService(t)
	texts := make(map[string]string)
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		texts["/vault/"+name+".md"] = "note about topic " + name
	}
	seed(t, st, embedder, texts)
	ctx := context.Background()

	results, err := svc.Search(ctx, "topic", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Errorf("default limit returned %d results, want 3", len(results))
	}

	results, err = svc.Search(ctx, "topic", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 5 {
		t.Errorf("clamped limit returned %d results, want 5", len(results))
	}
}

func TestSearch_emptyIndex(t *testing.T) {
	svc, _, _ := testService(t)
	results, err := svc.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty index", len(results))
	}
}

func TestStats_passthrough(t *testing.T) {
	svc, st, embedder := testService(t)
	seed(t, st, embedder, map[string]string{
		"/vault/a.md": "first note",
		"/vault/b.md": "second note",
	})
	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.UniqueDocuments != 2 || stats.TotalChunks != 2 {
		t.Errorf("stats = %+v, want 2/2", stats)
	}
}
