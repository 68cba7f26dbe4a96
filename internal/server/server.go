// Package server provides the HTTP API for Kensaku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/broker"
	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/watcher"
)

// Server is the HTTP server for the Kensaku API.
type Server struct {
	broker *broker.Broker
	watch  *watcher.StoreWatcher
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server over the broker. watch may be nil when
// external change detection is disabled.
func NewServer(b *broker.Broker, watch *watcher.StoreWatcher, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		broker: b,
		watch:  watch,
		config: cfg,
		logger: logger,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(360 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/search", s.handleSearch)
	r.Post("/api/v1/embeddings", s.handleInsert)
	r.Post("/api/v1/embeddings/batch", s.handleInsertBatch)
	r.Post("/api/v1/index/rebuild", s.handleRebuild)
	r.Get("/api/v1/index/stats", s.handleStats)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
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
