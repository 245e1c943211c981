// Wherespaced is the WhereSpace daemon: a self-hosted retrieval engine
// over local documents, backed by Postgres/pgvector for storage and an
// Ollama-compatible model server for embeddings and generation.
//
// Configuration comes from an optional YAML file (-config) overridden
// by WHERESPACE_* environment variables. See internal/config.
//
// Usage:
//
//	# Start with defaults (postgres on localhost, ollama on :11434)
//	wherespaced
//
//	# Configure via file and environment
//	WHERESPACE_HTTP_PORT=8080 wherespaced -config /etc/wherespace.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wherespace/internal/catalog"
	"github.com/fyrsmithlabs/wherespace/internal/chunker"
	"github.com/fyrsmithlabs/wherespace/internal/config"
	"github.com/fyrsmithlabs/wherespace/internal/embedder"
	"github.com/fyrsmithlabs/wherespace/internal/extract"
	"github.com/fyrsmithlabs/wherespace/internal/ingest"
	"github.com/fyrsmithlabs/wherespace/internal/logging"
	"github.com/fyrsmithlabs/wherespace/internal/modelserver"
	"github.com/fyrsmithlabs/wherespace/internal/modelstate"
	"github.com/fyrsmithlabs/wherespace/internal/querycache"
	"github.com/fyrsmithlabs/wherespace/internal/retriever"
	"github.com/fyrsmithlabs/wherespace/internal/scanner"
	"github.com/fyrsmithlabs/wherespace/internal/server"
	"github.com/fyrsmithlabs/wherespace/internal/store"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

const (
	exitOK       = 0
	exitError    = 1
	exitSignaled = 130
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("wherespaced %s (%s)\n", version, gitCommit)
		os.Exit(exitOK)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := run(ctx, *configPath)
	if code == exitOK && ctx.Err() != nil {
		code = exitSignaled
	}
	os.Exit(code)
}

// run wires the engine together and blocks until shutdown. It returns
// the process exit code.
func run(ctx context.Context, configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wherespaced: %v\n", err)
		return exitError
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wherespaced: init logging: %v\n", err)
		return exitError
	}
	defer logging.Sync(logger)

	logger.Info("starting wherespaced",
		zap.String("version", version),
		zap.String("model_server", cfg.ModelServer.URL),
		zap.String("db_host", cfg.DB.Host))

	st, err := store.New(ctx, store.Config{
		Host:             cfg.DB.Host,
		Port:             cfg.DB.Port,
		Name:             cfg.DB.Name,
		User:             cfg.DB.User,
		Password:         cfg.DB.Password,
		PoolMin:          cfg.DB.PoolMin,
		PoolMax:          cfg.DB.PoolMax,
		Dimension:        cfg.ModelServer.EmbeddingDim,
		AllowSchemaReset: cfg.DB.AllowSchemaReset,
	}, logger)
	if err != nil {
		if errors.Is(err, store.ErrSchemaMismatch) {
			logger.Error("schema mismatch; set allow_schema_reset to rebuild the index", zap.Error(err))
		} else {
			logger.Error("vector store init failed", zap.Error(err))
		}
		return exitError
	}
	defer st.Close()

	client := modelserver.New(cfg.ModelServer.URL, cfg.ModelServer.EmbeddingDim, logger)
	state := modelstate.Load(cfg.ModelServer.StatePath, cfg.ModelServer.DefaultModel, logger)
	cache := querycache.New(cfg.Cache.Size, cfg.Cache.TTL)
	cat := catalog.New(client)

	embedText := func(ctx context.Context, text string) ([]float32, error) {
		return client.Embed(ctx, cfg.ModelServer.EmbeddingModel, text)
	}
	coordinator := ingest.New(
		extract.New(cfg.Ingest.MaxDocumentSize, logger),
		chunker.New(cfg.Chunker.Size, cfg.Chunker.Overlap),
		embedder.New(embedText, cfg.Ingest.MaxWorkersEmbed, cfg.Ingest.EmbedBatchSize, logger),
		st,
		ingest.Options{
			MaxWorkersExtract:  cfg.Ingest.MaxWorkersExtract,
			MaxDocumentsPerRun: cfg.Ingest.MaxDocumentsPerRun,
			SkipExisting:       true,
		},
		logger,
	)

	rtr := retriever.New(client, st, cache, retriever.Options{
		EmbeddingModel: cfg.ModelServer.EmbeddingModel,
		TopK:           cfg.Retrieval.TopK,
		MinSimilarity:  cfg.Retrieval.MinSimilarity,
		NearDedup:      cfg.Retrieval.NearDedup,
	}, logger)

	srv := server.New(server.Deps{
		Store:           st,
		Retriever:       rtr,
		Generator:       client,
		Embedder:        client,
		Ingester:        coordinator,
		Catalog:         cat,
		State:           state,
		Cache:           cache,
		Scanner:         scanner.New(nil, logger),
		EmbeddingModel:  cfg.ModelServer.EmbeddingModel,
		MaxPromptTokens: cfg.Retrieval.MaxPromptTokens,
		DefaultTopK:     cfg.Retrieval.TopK,
		MinSimilarity:   cfg.Retrieval.MinSimilarity,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.HTTP.Host, cfg.HTTP.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
			return exitError
		}
		return exitOK
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.HTTP.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return exitOK
}
