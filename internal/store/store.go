// Package store persists document chunks and their embeddings in
// Postgres with the pgvector extension.
//
// A single `documents` table holds one row per chunk, keyed by
// (file_path, chunk_index), with the file metadata denormalized onto
// every row so document listings need no join. Similarity search orders
// by cosine distance through an IVFFlat index.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// insertPageSize bounds the number of rows per INSERT batch so statement
// size stays predictable for very large documents.
const insertPageSize = 1000

// retryDelays are the backoff steps for transient failures.
var retryDelays = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// Config holds vector store connection settings.
type Config struct {
	Host             string
	Port             int
	Name             string
	User             string
	Password         string
	PoolMin          int
	PoolMax          int
	Dimension        int
	AllowSchemaReset bool
}

// DSN renders the pgx connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Name)
}

// Store is the pooled adapter over the documents table.
type Store struct {
	pool   *pgxpool.Pool
	dim    int
	logger *zap.Logger
}

// New connects to Postgres and returns a Store. The pool lives for the
// process lifetime; call Close on shutdown.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.PoolMin > 0 {
		poolCfg.MinConns = int32(cfg.PoolMin)
	}
	if cfg.PoolMax > 0 {
		poolCfg.MaxConns = int32(cfg.PoolMax)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	s := &Store{
		pool:   pool,
		dim:    cfg.Dimension,
		logger: logger.Named("store"),
	}

	if err := s.initSchema(ctx, cfg.AllowSchemaReset); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// initSchema idempotently ensures the vector extension, the documents
// table, and its indexes. If the table exists with a different embedding
// dimension it is dropped and recreated only when allowReset is set;
// otherwise ErrSchemaMismatch is returned.
func (s *Store) initSchema(ctx context.Context, allowReset bool) error {
	if err := s.execRetry(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("enable vector extension: %w", err)
	}

	existingDim, exists, err := s.tableDimension(ctx)
	if err != nil {
		return err
	}
	if exists && existingDim != s.dim {
		if !allowReset {
			return fmt.Errorf("%w: table has vector(%d), configured dimension is %d (set allow_schema_reset to rebuild)",
				ErrSchemaMismatch, existingDim, s.dim)
		}
		s.logger.Warn("embedding dimension changed, dropping documents table",
			zap.Int("existing_dim", existingDim),
			zap.Int("configured_dim", s.dim))
		if err := s.execRetry(ctx, `DROP TABLE documents`); err != nil {
			return fmt.Errorf("drop mismatched table: %w", err)
		}
		exists = false
	}

	if !exists {
		createTable := fmt.Sprintf(`
			CREATE TABLE documents (
				id BIGSERIAL PRIMARY KEY,
				file_path TEXT NOT NULL,
				chunk_index INT NOT NULL,
				file_name TEXT NOT NULL,
				file_type TEXT NOT NULL,
				content_preview TEXT NOT NULL,
				chunk_content TEXT NOT NULL,
				file_size BIGINT NOT NULL,
				modified_time DOUBLE PRECISION NOT NULL,
				embedding vector(%d) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (file_path, chunk_index)
			)`, s.dim)
		if err := s.execRetry(ctx, createTable); err != nil {
			return fmt.Errorf("create documents table: %w", err)
		}
		s.logger.Info("created documents table", zap.Int("dimension", s.dim))
	}

	if err := s.execRetry(ctx,
		`CREATE INDEX IF NOT EXISTS documents_file_path_idx ON documents (file_path)`); err != nil {
		return fmt.Errorf("create file_path index: %w", err)
	}

	count, err := s.CountChunks(ctx)
	if err != nil {
		return err
	}
	indexSQL := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS documents_embedding_idx
		 ON documents USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`,
		listsFor(count))
	if err := s.execRetry(ctx, indexSQL); err != nil {
		// IVFFlat creation can fail on tiny tables; sequential scan
		// still answers queries correctly, so log and continue.
		s.logger.Warn("ivfflat index creation failed, continuing without ANN index", zap.Error(err))
	}
	return nil
}

// tableDimension reports the embedding dimension of an existing
// documents table. pgvector stores the dimension as the column typmod.
func (s *Store) tableDimension(ctx context.Context) (dim int, exists bool, err error) {
	var reg *string
	if err := s.pool.QueryRow(ctx, `SELECT to_regclass('public.documents')::text`).Scan(&reg); err != nil {
		return 0, false, fmt.Errorf("%w: check documents table: %v", ErrStorage, err)
	}
	if reg == nil {
		return 0, false, nil
	}

	var typmod int
	err = s.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'public.documents'::regclass AND attname = 'embedding'`).Scan(&typmod)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: read embedding dimension: %v", ErrStorage, err)
	}
	return typmod, true, nil
}

// listsFor selects the IVFFlat lists parameter from the chunk count.
func listsFor(count int) int {
	switch {
	case count <= 1_000:
		return 50
	case count <= 10_000:
		return 100
	case count <= 100_000:
		return int(math.Ceil(math.Sqrt(float64(count))))
	default:
		return 1000
	}
}

// Reindex rebuilds the ANN index with a lists parameter derived from the
// current chunk count. Not automatic; exposed for manual re-tuning.
func (s *Store) Reindex(ctx context.Context) error {
	count, err := s.CountChunks(ctx)
	if err != nil {
		return err
	}
	lists := listsFor(count)
	s.logger.Info("rebuilding ann index", zap.Int("chunks", count), zap.Int("lists", lists))

	if err := s.execRetry(ctx, `DROP INDEX IF EXISTS documents_embedding_idx`); err != nil {
		return fmt.Errorf("drop ann index: %w", err)
	}
	indexSQL := fmt.Sprintf(
		`CREATE INDEX documents_embedding_idx
		 ON documents USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`, lists)
	if err := s.execRetry(ctx, indexSQL); err != nil {
		return fmt.Errorf("create ann index: %w", err)
	}
	return nil
}

// ReplaceDocumentChunks atomically replaces every chunk of a document:
// delete-then-insert inside one transaction, inserting in pages of at
// most insertPageSize rows. Readers never observe a partial chunk set.
func (s *Store) ReplaceDocumentChunks(ctx context.Context, meta DocumentMeta, rows []ChunkRow) error {
	start := time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE file_path = $1`, meta.FilePath); err != nil {
		return fmt.Errorf("%w: delete existing chunks: %v", ErrStorage, err)
	}

	for offset := 0; offset < len(rows); offset += insertPageSize {
		end := offset + insertPageSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := &pgx.Batch{}
		for _, row := range rows[offset:end] {
			if len(row.Embedding) != s.dim {
				return fmt.Errorf("%w: chunk %d has embedding of length %d, want %d",
					ErrStorage, row.Index, len(row.Embedding), s.dim)
			}
			batch.Queue(`
				INSERT INTO documents
					(file_path, chunk_index, file_name, file_type, content_preview,
					 chunk_content, file_size, modified_time, embedding)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				meta.FilePath, row.Index, meta.FileName, meta.FileType,
				preview(row.Content), row.Content, meta.FileSize, meta.ModifiedTime,
				pgvector.NewVector(row.Embedding))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("%w: insert chunks: %v", ErrStorage, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStorage, err)
	}

	replaceDuration.Observe(time.Since(start).Seconds())
	s.logger.Debug("replaced document chunks",
		zap.String("file_path", meta.FilePath),
		zap.Int("chunks", len(rows)),
		zap.Duration("took", time.Since(start)))
	return nil
}

// Search returns up to TopK hits ordered by descending cosine similarity,
// filtered by the minimum similarity floor and an optional file type.
func (s *Store) Search(ctx context.Context, embedding []float32, params SearchParams) ([]Hit, error) {
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("%w: query embedding has length %d, want %d", ErrStorage, len(embedding), s.dim)
	}
	start := time.Now()

	query := `
		SELECT file_path, chunk_index, file_name, file_type, content_preview,
		       chunk_content, file_size, 1 - (embedding <=> $1) AS similarity
		FROM documents
		WHERE 1 - (embedding <=> $1) >= $2`
	args := []any{pgvector.NewVector(embedding), params.MinSimilarity}
	if params.FileType != "" {
		query += ` AND file_type = $3`
		args = append(args, params.FileType)
	}
	query += fmt.Sprintf(` ORDER BY embedding <=> $1 LIMIT %d`, params.TopK)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: similarity search: %v", ErrStorage, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.FilePath, &h.ChunkIndex, &h.FileName, &h.FileType,
			&h.ContentPreview, &h.Content, &h.FileSize, &h.Similarity); err != nil {
			return nil, fmt.Errorf("%w: scan hit: %v", ErrStorage, err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate hits: %v", ErrStorage, err)
	}

	searchesTotal.Inc()
	searchDuration.Observe(time.Since(start).Seconds())
	return hits, nil
}

// ListDocuments returns one summary per distinct file_path.
func (s *Store) ListDocuments(ctx context.Context) ([]DocSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT file_path, max(file_name), max(file_type), max(file_size),
		       max(modified_time), count(*)::int
		FROM documents
		GROUP BY file_path
		ORDER BY file_path`)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", ErrStorage, err)
	}
	defer rows.Close()

	var docs []DocSummary
	for rows.Next() {
		var d DocSummary
		if err := rows.Scan(&d.FilePath, &d.FileName, &d.FileType, &d.FileSize,
			&d.ModifiedTime, &d.ChunkCount); err != nil {
			return nil, fmt.Errorf("%w: scan document summary: %v", ErrStorage, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate documents: %v", ErrStorage, err)
	}
	return docs, nil
}

// DeleteDocument removes every chunk of one document and reports the
// number of rows deleted.
func (s *Store) DeleteDocument(ctx context.Context, filePath string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE file_path = $1`, filePath)
	if err != nil {
		return 0, fmt.Errorf("%w: delete document: %v", ErrStorage, err)
	}
	return tag.RowsAffected(), nil
}

// FlushAll deletes every chunk and reports the number of rows deleted.
func (s *Store) FlushAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents`)
	if err != nil {
		return 0, fmt.Errorf("%w: flush documents: %v", ErrStorage, err)
	}
	s.logger.Info("flushed all documents", zap.Int64("deleted", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

// CountChunks returns the total number of chunk rows.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*)::int FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count chunks: %v", ErrStorage, err)
	}
	return n, nil
}

// CountDocuments returns the number of distinct documents.
func (s *Store) CountDocuments(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(DISTINCT file_path)::int FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count documents: %v", ErrStorage, err)
	}
	return n, nil
}

// execRetry runs a statement, retrying transient failures with bounded
// exponential backoff. Permanent errors surface immediately.
func (s *Store) execRetry(ctx context.Context, sql string, args ...any) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		_, err := s.pool.Exec(ctx, sql, args...)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt >= len(retryDelays) || !isTransient(err) {
			return lastErr
		}
		s.logger.Warn("transient store error, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelays[attempt]):
		}
	}
}

// isTransient reports whether an error is worth retrying.
func isTransient(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exceptions.
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}
	return false
}
