package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from environment variables before key lookup,
// so WHERESPACE_DB_HOST becomes the key "db_host".
const envPrefix = "WHERESPACE_"

// Load loads configuration from an optional YAML file and the environment.
//
// configPath may be empty, in which case only defaults and environment
// variables apply. Recognized keys use the flat option names from the
// YAML file (db_host, chunk_size, top_k, ...); environment variables are
// the same names uppercased with the WHERESPACE_ prefix.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := Default()
	applyOverrides(cfg, k)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyOverrides copies every key present in k onto cfg, leaving
// defaults in place for absent keys.
func applyOverrides(cfg *Config, k *koanf.Koanf) {
	setString(k, "db_host", &cfg.DB.Host)
	setInt(k, "db_port", &cfg.DB.Port)
	setString(k, "db_name", &cfg.DB.Name)
	setString(k, "db_user", &cfg.DB.User)
	setString(k, "db_password", &cfg.DB.Password)
	setInt(k, "pool_min", &cfg.DB.PoolMin)
	setInt(k, "pool_max", &cfg.DB.PoolMax)
	setBool(k, "allow_schema_reset", &cfg.DB.AllowSchemaReset)

	setString(k, "model_server_url", &cfg.ModelServer.URL)
	setString(k, "embedding_model", &cfg.ModelServer.EmbeddingModel)
	setInt(k, "embedding_dim", &cfg.ModelServer.EmbeddingDim)
	setString(k, "default_model", &cfg.ModelServer.DefaultModel)
	setString(k, "model_state_path", &cfg.ModelServer.StatePath)

	setInt(k, "chunk_size", &cfg.Chunker.Size)
	setInt(k, "chunk_overlap", &cfg.Chunker.Overlap)

	setInt(k, "max_workers_extract", &cfg.Ingest.MaxWorkersExtract)
	setInt(k, "max_workers_embed", &cfg.Ingest.MaxWorkersEmbed)
	setInt(k, "embed_batch_size", &cfg.Ingest.EmbedBatchSize)
	setInt(k, "max_documents_per_run", &cfg.Ingest.MaxDocumentsPerRun)
	setInt64(k, "max_document_size", &cfg.Ingest.MaxDocumentSize)

	setInt(k, "query_cache_size", &cfg.Cache.Size)
	if k.Exists("query_cache_ttl_sec") {
		cfg.Cache.TTL = time.Duration(k.Int("query_cache_ttl_sec")) * time.Second
	}

	setInt(k, "top_k", &cfg.Retrieval.TopK)
	setFloat(k, "min_similarity", &cfg.Retrieval.MinSimilarity)
	setInt(k, "max_prompt_tokens", &cfg.Retrieval.MaxPromptTokens)
	setBool(k, "near_dedup", &cfg.Retrieval.NearDedup)

	setString(k, "http_host", &cfg.HTTP.Host)
	setInt(k, "http_port", &cfg.HTTP.Port)
	if k.Exists("shutdown_timeout") {
		cfg.HTTP.ShutdownTimeout = k.Duration("shutdown_timeout")
	}

	setString(k, "log_level", &cfg.Logging.Level)
	setString(k, "log_format", &cfg.Logging.Format)
}

func setString(k *koanf.Koanf, key string, dst *string) {
	if k.Exists(key) {
		*dst = k.String(key)
	}
}

func setInt(k *koanf.Koanf, key string, dst *int) {
	if k.Exists(key) {
		*dst = k.Int(key)
	}
}

func setInt64(k *koanf.Koanf, key string, dst *int64) {
	if k.Exists(key) {
		*dst = k.Int64(key)
	}
}

func setBool(k *koanf.Koanf, key string, dst *bool) {
	if k.Exists(key) {
		*dst = k.Bool(key)
	}
}

func setFloat(k *koanf.Koanf, key string, dst *float64) {
	if k.Exists(key) {
		*dst = k.Float64(key)
	}
}
