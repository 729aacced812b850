// Package main is the Kioku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/kagelab/kioku/internal/chunker"
	"github.com/kagelab/kioku/internal/config"
	"github.com/kagelab/kioku/internal/embedding"
	"github.com/kagelab/kioku/internal/funnel"
	"github.com/kagelab/kioku/internal/indexer"
	"github.com/kagelab/kioku/internal/search"
	"github.com/kagelab/kioku/internal/server"
	"github.com/kagelab/kioku/internal/store"
	"github.com/kagelab/kioku/internal/tracker"
	"github.com/kagelab/kioku/internal/watcher"
	"github.com/kagelab/kioku/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so that "kioku serve" from the project dir uses the project's
// config (including debug). Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "serve":
		runServe()
	case "index":
		runIndex()
	case "search":
		runSearch()
	case "remove":
		runRemove()
	case "stats":
		runStats()
	case "version", "--version", "-v":
		fmt.Printf("kioku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (file events, sync decisions, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Vault.Path == "" {
		fmt.Println("vault.path is required for serve")
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("vault", cfg.Vault.Path),
		zap.Bool("debug", debugMode),
	)

	// One serve process per data directory. A second instance would corrupt
	// the tracker state and race the store.
	lock, err := acquireDataLock(cfg)
	if err != nil {
		logger.Fatal("Failed to lock data directory (is another kioku serve running?)", zap.Error(err))
	}
	defer lock.Unlock()

	components, err := initializeComponents(context.Background(), cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if cfg.Vault.IndexOnStartOrDefault() {
		bulk := indexer.NewBulkIndexer(components.Coordinator, cfg, logger)
		if _, _, err := bulk.IndexVault(context.Background(), cfg.Vault.Path); err != nil {
			logger.Fatal("Initial vault index failed", zap.Error(err))
		}
	}

	watchOpts := []watcher.WatcherOption{}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.NewWatcher(cfg.Vault.Path, cfg.Vault.Extensions, watchOpts...)

	fn := funnel.New(
		components.Coordinator,
		time.Duration(cfg.Indexing.DebounceMS)*time.Millisecond,
		cfg.Indexing.Workers,
		funnel.WithLogger(logger),
		funnel.WithExclusion(cfg.Vault.Excluded),
	)

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go fn.Run(watchCtx, watchSvc.Events())

	srv := server.NewServer(
		components.Searcher,
		components.Coordinator,
		components.Embedder,
		&cfg.Server,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchSvc.Stop()
	watchCancel()
	fn.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// acquireDataLock takes a non-blocking lock on the data directory holding the
// chunk database.
func acquireDataLock(cfg *config.Config) (*flock.Flock, error) {
	dataDir := filepath.Dir(cfg.Storage.DatabasePath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(dataDir, "kioku.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("lock already held: %s", lock.Path())
	}
	return lock, nil
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(context.Background(), cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()

	// With a path argument, sync just that file; otherwise index the vault.
	if fs.NArg() >= 1 {
		path := fs.Arg(0)
		if err := components.Coordinator.Sync(ctx, path); err != nil {
			fmt.Printf("Indexing failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Indexed: %s\n", path)
		return
	}
	if cfg.Vault.Path == "" {
		fmt.Println("Usage: kioku index [flags] [file]  (vault.path must be set to index the whole vault)")
		os.Exit(1)
	}
	bulk := indexer.NewBulkIndexer(components.Coordinator, cfg, logger)
	indexed, failed, err := bulk.IndexVault(ctx, cfg.Vault.Path)
	if err != nil {
		fmt.Printf("Indexing vault failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Indexed %d file(s) from %s (%d failed)\n", indexed, cfg.Vault.Path, failed)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8800", "server URL (empty = use direct storage when server is not running)")
	limit := fs.Int("limit", 0, "number of results (0 = config default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku search [flags] <query>")
		os.Exit(1)
	}
	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		fmt.Println("Usage: kioku search [flags] <query>")
		os.Exit(1)
	}

	var results []search.Result
	if *serverURL != "" {
		// Use the HTTP API when the server is running (avoids the data lock).
		res, err := searchViaHTTP(*serverURL, queryStr, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		results = res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(context.Background(), cfg, logger, cfg.Debug)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()
		results, err = components.Searcher.Search(context.Background(), queryStr, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		if len(results) == 0 {
			fmt.Println("No results.")
			return
		}
		for i, r := range results {
			fmt.Printf("%d. %s (chunk %d/%d, relevance %.3f)\n",
				i+1, r.Metadata.Document, r.Metadata.ChunkIndex+1, r.Metadata.TotalChunks, r.Relevance)
			fmt.Printf("   %s\n", snippet(r.Text, 200))
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

// snippet truncates s for single-line display.
func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

func searchViaHTTP(serverURL, query string, limit int) ([]search.Result, error) {
	body, err := json.Marshal(map[string]interface{}{"query": query, "limit": limit})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response struct {
		Results []search.Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return response.Results, nil
}

func runRemove() {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku remove [flags] <file>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(context.Background(), cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	if err := components.Coordinator.Remove(context.Background(), path); err != nil {
		fmt.Printf("Removal failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Removed: %s\n", path)
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8800", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var stats search.Stats
	if *serverURL != "" {
		res, err := statsViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
			os.Exit(1)
		}
		stats = *res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(context.Background(), cfg, logger, cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		stats, err = components.Searcher.Stats(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
			os.Exit(1)
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("documents: %d\n", stats.UniqueDocuments)
		fmt.Printf("chunks:    %d\n", stats.TotalChunks)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statsViaHTTP(serverURL string) (*search.Stats, error) {
	resp, err := http.Get(serverURL + "/api/v1/stats")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s search.Stats
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Store       store.Store
	Embedder    embedding.Embedder
	Tracker     *tracker.Tracker
	Coordinator *indexer.Coordinator
	Searcher    *search.Service
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	st, err := store.NewSQLiteStore(cfg.Storage.DatabasePath, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	embedder, err := embedding.New(&cfg.Embedding)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	tr := tracker.New(cfg.Storage.StatePath)

	ch, err := chunker.New(cfg.Indexing.ChunkSize, cfg.Indexing.ChunkOverlap)
	if err != nil {
		_ = st.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}

	coordOpts := []indexer.CoordinatorOption{}
	if debug && logger != nil {
		coordOpts = append(coordOpts, indexer.WithLogger(logger))
	}
	coordinator, err := indexer.NewCoordinator(ctx, tr, embedder, st, ch, coordOpts...)
	if err != nil {
		_ = st.Close()
		_ = embedder.Close()
		return nil, err
	}

	searcher := search.NewService(embedder, st, &cfg.Search, logger)

	return &Components{
		Store:       st,
		Embedder:    embedder,
		Tracker:     tr,
		Coordinator: coordinator,
		Searcher:    searcher,
	}, nil
}

func printUsage() {
	fmt.Println(`kioku - Local semantic search for your notes

Usage:
  kioku serve [flags]             Watch the vault and serve the search API
  kioku index [flags] [file]      Index the whole vault, or a single file
  kioku search [flags] <query>    Search indexed notes
  kioku remove [flags] <file>     Remove a note from the index
  kioku stats [flags]             Show index statistics
  kioku version                   Show version
  kioku help                      Show this help

Serve Flags:
  --config string    Config file path (default: /usr/local/etc/kioku/config.yaml)
  --debug            Enable debug logging (file events, sync decisions, etc.)

Search Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8800). Use empty (--server "") when the server is not running.
  --limit int        Number of results (0 = config default)
  --output string    Output format: text or json (default: text)

Stats Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8800). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (default: text)

Examples:
  kioku serve
  kioku index
  kioku index notes/ideas.md
  kioku search "garden birds in winter"
  kioku search --output json "project deadlines"
  kioku remove notes/old.md
  kioku stats`)
}
