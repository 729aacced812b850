// Package indexer orchestrates loading, chunking, embedding, and storing
// documents, keeping the vector store consistent with files on disk.
package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/kagelab/kioku/internal/chunker"
	"github.com/kagelab/kioku/internal/docid"
	"github.com/kagelab/kioku/internal/embedding"
	"github.com/kagelab/kioku/internal/notes"
	"github.com/kagelab/kioku/internal/store"
	"github.com/kagelab/kioku/internal/tracker"
	"go.uber.org/zap"
)

// Coordinator is the single writer to the vector store. Sync and Remove are
// idempotent; syncs for the same document are serialized by a per-path lock.
type Coordinator struct {
	tracker  *tracker.Tracker
	embedder embedding.Embedder
	store    store.Store
	chunker  *chunker.Chunker
	logger   *zap.Logger // optional; when set, logs sync events

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets a logger for sync/remove events.
func WithLogger(l *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a coordinator after verifying the embedding provider
// is reachable. A failing health check returns ErrProviderUnavailable so the
// process fails fast instead of silently indexing nothing.
func NewCoordinator(
	ctx context.Context,
	tr *tracker.Tracker,
	embedder embedding.Embedder,
	st store.Store,
	ch *chunker.Chunker,
	opts ...CoordinatorOption,
) (*Coordinator, error) {
	if !embedder.HealthCheck(ctx) {
		return nil, fmt.Errorf("health check failed: %w", embedding.ErrProviderUnavailable)
	}
	c := &Coordinator{
		tracker:  tr,
		embedder: embedder,
		store:    st,
		chunker:  ch,
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// pathLock returns the mutex owning all sync/remove work for path.
func (c *Coordinator) pathLock(path string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[path]
	if !ok {
		l = &sync.Mutex{}
		c.locks[path] = l
	}
	return l
}

// Sync brings the store in line with the file at path. Unchanged documents
// short-circuit without embedding work. Otherwise: load, chunk, embed, upsert,
// then commit the tracker snapshot — in that order, so any failure leaves the
// document stale and eligible for retry.
func (c *Coordinator) Sync(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	lock := c.pathLock(absPath)
	lock.Lock()
	defer lock.Unlock()

	status, snap, err := c.tracker.Check(absPath)
	if err != nil {
		return err
	}
	if status == tracker.StatusCurrent {
		if c.logger != nil {
			c.logger.Debug("sync skipped, document unchanged", zap.String("path", absPath))
		}
		return nil
	}

	note, err := notes.Load(absPath)
	if err != nil {
		return err
	}
	texts := c.chunker.Split(note.Text)
	id := docid.DocID(absPath)
	records := make([]store.ChunkRecord, len(texts))
	for i, text := range texts {
		records[i] = store.ChunkRecord{
			ID:          docid.ChunkID(id, i),
			Document:    absPath,
			Fingerprint: snap.Fingerprint,
			ChunkIndex:  i,
			TotalChunks: len(texts),
			Content:     text,
			FrontMatter: note.FrontMatter,
		}
	}
	if len(records) > 0 {
		vectors, err := c.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed document: %w", err)
		}
		if len(vectors) != len(records) {
			return fmt.Errorf("embedding count mismatch: got %d for %d chunks", len(vectors), len(records))
		}
		for i := range records {
			records[i].Embedding = vectors[i]
		}
	}
	if err := c.store.Upsert(ctx, absPath, records); err != nil {
		return err
	}
	if err := c.tracker.Commit(absPath, snap); err != nil {
		return err
	}
	if c.logger != nil {
		c.logger.Debug("document synced",
			zap.String("path", absPath),
			zap.String("status", status.String()),
			zap.Int("chunks", len(records)),
		)
	}
	return nil
}

// Remove drops all records and tracker state for the file at path.
// Removing an unindexed document is a no-op, not an error.
func (c *Coordinator) Remove(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	lock := c.pathLock(absPath)
	lock.Lock()
	defer lock.Unlock()

	if err := c.store.Delete(ctx, absPath); err != nil {
		return err
	}
	if err := c.tracker.Forget(absPath); err != nil {
		return err
	}
	if c.logger != nil {
		c.logger.Debug("document removed", zap.String("path", absPath))
	}
	return nil
}
