package indexer

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/kagelab/kioku/internal/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BulkIndexer walks the vault and syncs every eligible note. Per-file
// failures are logged and counted but never abort the walk.
type BulkIndexer struct {
	coordinator *Coordinator
	cfg         *config.Config
	logger      *zap.Logger
}

// NewBulkIndexer creates a bulk indexer over the given coordinator.
func NewBulkIndexer(c *Coordinator, cfg *config.Config, logger *zap.Logger) *BulkIndexer {
	return &BulkIndexer{coordinator: c, cfg: cfg, logger: logger}
}

// IndexVault syncs every indexable file under root, running up to the
// configured number of workers concurrently. Returns the number of files
// synced and the number that failed.
func (b *BulkIndexer) IndexVault(ctx context.Context, root string) (indexed, failed int64, err error) {
	start := time.Now()

	var paths []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			b.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && b.cfg.Vault.Excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !b.cfg.Vault.ExtensionAllowed(path) || b.cfg.Vault.Excluded(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if walkErr != nil {
		return 0, 0, walkErr
	}

	var okCount, failCount int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Indexing.Workers)
	for _, path := range paths {
		g.Go(func() error {
			if err := b.coordinator.Sync(gctx, path); err != nil {
				atomic.AddInt64(&failCount, 1)
				b.logger.Warn("failed to index file", zap.String("path", path), zap.Error(err))
				return nil
			}
			atomic.AddInt64(&okCount, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return okCount, failCount, err
	}

	b.logger.Info("bulk index complete",
		zap.Int64("indexed", okCount),
		zap.Int64("failed", failCount),
		zap.Int("candidates", len(paths)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return okCount, failCount, nil
}
