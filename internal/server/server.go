// Package server exposes the engine over HTTP: status and model
// management, document listing and ingestion, and streamed RAG queries.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wherespace/internal/catalog"
	"github.com/fyrsmithlabs/wherespace/internal/ingest"
	"github.com/fyrsmithlabs/wherespace/internal/modelstate"
	"github.com/fyrsmithlabs/wherespace/internal/querycache"
	"github.com/fyrsmithlabs/wherespace/internal/scanner"
	"github.com/fyrsmithlabs/wherespace/internal/store"
)

// Store is the vector store surface the facade needs.
type Store interface {
	ListDocuments(ctx context.Context) ([]store.DocSummary, error)
	DeleteDocument(ctx context.Context, filePath string) (int64, error)
	FlushAll(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int, error)
	CountDocuments(ctx context.Context) (int, error)
	Search(ctx context.Context, embedding []float32, params store.SearchParams) ([]store.Hit, error)
	Reindex(ctx context.Context) error
}

// Retriever runs the retrieval pipeline for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, useCache bool) ([]store.Hit, error)
}

// Generator streams chat tokens from the model server.
type Generator interface {
	ChatStream(ctx context.Context, model, prompt string, fn func(token string) error) error
}

// Embedder embeds raw search queries.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Ingester runs directory ingestion.
type Ingester interface {
	IngestDirectory(ctx context.Context, dir string, maxDocuments int) (*ingest.Report, error)
}

// Deps bundles everything the facade serves.
type Deps struct {
	Store     Store
	Retriever Retriever
	Generator Generator
	Embedder  Embedder
	Ingester  Ingester
	Catalog   *catalog.Catalog
	State     *modelstate.State
	Cache     *querycache.Cache
	Scanner   *scanner.Scanner

	EmbeddingModel  string
	MaxPromptTokens int
	DefaultTopK     int
	MinSimilarity   float64
}

// Server is the HTTP facade.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
}

// New builds the echo app with routes and middleware registered.
func New(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	e.Use(noStore)

	s := &Server{echo: e, deps: deps, logger: logger}

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/models", s.handleModels)
	api.POST("/set_model", s.handleSetModel)
	api.GET("/list_documents", s.handleListDocuments)
	api.POST("/delete_document", s.handleDeleteDocument)
	api.POST("/flush_documents", s.handleFlushDocuments)
	api.POST("/query_stream", s.handleQueryStream)
	api.POST("/query_direct_stream", s.handleQueryDirectStream)
	api.POST("/ingest_directory", s.handleIngestDirectory)
	api.POST("/scan_directory", s.handleScanDirectory)
	api.POST("/search", s.handleSearch)
	api.GET("/cache_stats", s.handleCacheStats)
	api.POST("/clear_cache", s.handleClearCache)
	api.POST("/reindex", s.handleReindex)

	return s
}

// Start serves on addr until the listener fails or Shutdown is called.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// requestLogger logs one structured line per request.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Resolve the status before logging it.
				c.Error(err)
			}
			took := time.Since(start)
			requestDuration.WithLabelValues(c.Request().Method, c.Path()).Observe(took.Seconds())
			logger.Info("request",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Duration("took", took))
			return nil
		}
	}
}

// noStore marks every dynamic response uncacheable.
func noStore(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set("Cache-Control", "no-store")
		return next(c)
	}
}
