// Package config provides configuration loading for wherespace.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (WHERESPACE_DB_HOST, WHERESPACE_CHUNK_SIZE, ...)
//  2. Optional YAML config file
//  3. Hardcoded defaults
package config

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/fyrsmithlabs/wherespace/internal/logging"
)

// Config holds the complete wherespace configuration.
type Config struct {
	DB          DBConfig
	ModelServer ModelServerConfig
	Chunker     ChunkerConfig
	Ingest      IngestConfig
	Cache       CacheConfig
	Retrieval   RetrievalConfig
	HTTP        HTTPConfig
	Logging     logging.Config
}

// DBConfig holds vector store connection settings.
type DBConfig struct {
	Host             string
	Port             int
	Name             string
	User             string
	Password         string
	PoolMin          int
	PoolMax          int
	AllowSchemaReset bool
}

// ModelServerConfig holds model server client settings.
type ModelServerConfig struct {
	URL            string
	EmbeddingModel string
	EmbeddingDim   int
	DefaultModel   string
	StatePath      string
}

// ChunkerConfig holds text chunking parameters.
type ChunkerConfig struct {
	Size    int
	Overlap int
}

// IngestConfig holds ingestion coordinator settings.
type IngestConfig struct {
	MaxWorkersExtract  int
	MaxWorkersEmbed    int
	EmbedBatchSize     int
	MaxDocumentsPerRun int
	MaxDocumentSize    int64
}

// CacheConfig holds query cache bounds.
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// RetrievalConfig holds retriever settings.
type RetrievalConfig struct {
	TopK            int
	MinSimilarity   float64
	MaxPromptTokens int
	NearDedup       bool
}

// HTTPConfig holds HTTP facade settings.
type HTTPConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// Default returns the built-in defaults before file and env overrides.
func Default() *Config {
	extractWorkers := runtime.NumCPU() - 1
	if extractWorkers < 1 {
		extractWorkers = 1
	}
	return &Config{
		DB: DBConfig{
			Host:    "localhost",
			Port:    5432,
			Name:    "vectordb",
			User:    "postgres",
			PoolMin: 2,
			PoolMax: 10,
		},
		ModelServer: ModelServerConfig{
			URL:            "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
			EmbeddingDim:   768,
			DefaultModel:   "llama3.1",
			StatePath:      "model_state.json",
		},
		Chunker: ChunkerConfig{Size: 512, Overlap: 100},
		Ingest: IngestConfig{
			MaxWorkersExtract:  extractWorkers,
			MaxWorkersEmbed:    4,
			EmbedBatchSize:     20,
			MaxDocumentsPerRun: 50,
			MaxDocumentSize:    10 << 20,
		},
		Cache: CacheConfig{Size: 1000, TTL: 300 * time.Second},
		Retrieval: RetrievalConfig{
			TopK:            10,
			MinSimilarity:   0.3,
			MaxPromptTokens: 2000,
			NearDedup:       true,
		},
		HTTP: HTTPConfig{
			Host:            "127.0.0.1",
			Port:            5000,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d (must be 1-65535)", c.HTTP.Port)
	}
	if c.DB.PoolMin < 1 || c.DB.PoolMax < c.DB.PoolMin {
		return fmt.Errorf("invalid pool bounds: min=%d max=%d", c.DB.PoolMin, c.DB.PoolMax)
	}
	if c.ModelServer.EmbeddingDim < 1 {
		return errors.New("embedding dimension must be positive")
	}
	if c.Chunker.Size < 1 {
		return errors.New("chunk size must be positive")
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		return fmt.Errorf("chunk overlap %d must be in [0, chunk_size)", c.Chunker.Overlap)
	}
	if c.Cache.Size < 1 {
		return errors.New("query cache size must be positive")
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("min similarity %.2f must be in [0, 1]", c.Retrieval.MinSimilarity)
	}
	if c.Ingest.MaxWorkersEmbed < 1 || c.Ingest.MaxWorkersExtract < 1 {
		return errors.New("worker counts must be positive")
	}
	return c.Logging.Validate()
}
