// Package server provides the HTTP API for Kioku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kagelab/kioku/internal/config"
	"github.com/kagelab/kioku/internal/embedding"
	"github.com/kagelab/kioku/internal/indexer"
	"github.com/kagelab/kioku/internal/search"
	"go.uber.org/zap"
)

// Server is the HTTP server for the Kioku API.
type Server struct {
	searcher    *search.Service
	coordinator *indexer.Coordinator
	embedder    embedding.Embedder
	config      *config.ServerConfig
	logger      *zap.Logger
	server      *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	searcher *search.Service,
	coordinator *indexer.Coordinator,
	embedder embedding.Embedder,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		searcher:    searcher,
		coordinator: coordinator,
		embedder:    embedder,
		config:      cfg,
		logger:      logger,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/search", s.handleSearch)
	r.Get("/api/v1/stats", s.handleStats)
	r.Post("/api/v1/sync", s.handleSync)
	r.Get("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
