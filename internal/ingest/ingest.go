// Package ingest coordinates the document pipeline: extract in
// parallel, chunk, embed with the worker pool, and persist each
// document atomically. One bad document never sinks the run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/wherespace/internal/chunker"
	"github.com/fyrsmithlabs/wherespace/internal/embedder"
	"github.com/fyrsmithlabs/wherespace/internal/extract"
	"github.com/fyrsmithlabs/wherespace/internal/store"
)

// DefaultMaxDocumentsPerRun is the soft cap on documents per call.
const DefaultMaxDocumentsPerRun = 50

// Store is the persistence surface the coordinator needs.
type Store interface {
	ReplaceDocumentChunks(ctx context.Context, meta store.DocumentMeta, rows []store.ChunkRow) error
	ListDocuments(ctx context.Context) ([]store.DocSummary, error)
}

// Options tune one coordinator.
type Options struct {
	// MaxWorkersExtract bounds concurrent file extraction. Zero means
	// cpu count minus one, floored at one.
	MaxWorkersExtract int
	// MaxDocumentsPerRun soft-caps enumeration. Zero means the default.
	MaxDocumentsPerRun int
	// SkipExisting skips documents whose (size, modified time) match
	// what is already persisted.
	SkipExisting bool
}

// Failure records why one document was not ingested.
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report is the outcome of one ingestion run.
type Report struct {
	RunID    string        `json:"run_id"`
	Ingested int           `json:"ingested"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Chunks   int           `json:"chunks"`
	Took     time.Duration `json:"-"`
	TookSec  float64       `json:"took_sec"`
	Failures []Failure     `json:"failures,omitempty"`
}

// Coordinator runs ingestion.
type Coordinator struct {
	extractor *extract.Extractor
	chunker   *chunker.Chunker
	batcher   *embedder.Batcher
	store     Store
	opts      Options
	logger    *zap.Logger
}

// New returns a Coordinator.
func New(ex *extract.Extractor, ch *chunker.Chunker, ba *embedder.Batcher, st Store, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxWorkersExtract <= 0 {
		opts.MaxWorkersExtract = runtime.NumCPU() - 1
		if opts.MaxWorkersExtract < 1 {
			opts.MaxWorkersExtract = 1
		}
	}
	if opts.MaxDocumentsPerRun <= 0 {
		opts.MaxDocumentsPerRun = DefaultMaxDocumentsPerRun
	}
	return &Coordinator{
		extractor: ex,
		chunker:   ch,
		batcher:   ba,
		store:     st,
		opts:      opts,
		logger:    logger.Named("ingest"),
	}
}

// extracted is one document that survived extraction and chunking.
type extracted struct {
	meta   store.DocumentMeta
	chunks []string
}

// Run ingests the given paths. maxDocuments, when positive, lowers the
// per-run cap for this call only.
func (c *Coordinator) Run(ctx context.Context, paths []string, maxDocuments int) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.NewString()}
	log := c.logger.With(zap.String("run_id", report.RunID))

	limit := c.opts.MaxDocumentsPerRun
	if maxDocuments > 0 && maxDocuments < limit {
		limit = maxDocuments
	}
	if len(paths) > limit {
		log.Info("capping run", zap.Int("requested", len(paths)), zap.Int("cap", limit))
		paths = paths[:limit]
	}

	existing, err := c.existingIndex(ctx)
	if err != nil {
		return nil, err
	}

	// Phase 1: extract and chunk in parallel. Workers write only their
	// own slots, so no locking is needed; outcomes are tallied after.
	docs := make([]*extracted, len(paths))
	skips := make([]bool, len(paths))
	reasons := make([]string, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.MaxWorkersExtract)
	for i, path := range paths {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			docs[i], skips[i], reasons[i] = c.prepare(path, existing)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, path := range paths {
		if docs[i] != nil {
			continue
		}
		if skips[i] {
			report.Skipped++
		} else {
			c.fail(report, path, reasons[i])
		}
	}

	// Phase 2: flatten chunks and embed them all in one batch, keeping
	// back-pointers to reassemble per document.
	var texts []string
	type ref struct{ doc, local int }
	var refs []ref
	for di, doc := range docs {
		if doc == nil {
			continue
		}
		for li, chunk := range doc.chunks {
			texts = append(texts, chunk)
			refs = append(refs, ref{doc: di, local: li})
		}
	}

	total := len(texts)
	embeddings := c.batcher.EmbedMany(ctx, texts, func(completed, _ int, rate float64) {
		log.Info("embedding progress",
			zap.Int("completed", completed),
			zap.Int("total", total),
			zap.Float64("per_sec", rate))
	})

	rowsByDoc := make(map[int][]store.ChunkRow)
	failedDocs := make(map[int]bool)
	for i, emb := range embeddings {
		r := refs[i]
		if emb == nil {
			failedDocs[r.doc] = true
			continue
		}
		rowsByDoc[r.doc] = append(rowsByDoc[r.doc], store.ChunkRow{
			Index:     r.local,
			Content:   texts[i],
			Embedding: emb,
		})
	}

	// Phase 3: persist, one transaction per document.
	for di, doc := range docs {
		if doc == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if failedDocs[di] {
			c.fail(report, doc.meta.FilePath, "embedding failed for one or more chunks")
			continue
		}
		if err := c.store.ReplaceDocumentChunks(ctx, doc.meta, rowsByDoc[di]); err != nil {
			if errors.Is(err, store.ErrSchemaMismatch) {
				return nil, err
			}
			c.fail(report, doc.meta.FilePath, fmt.Sprintf("storage: %v", err))
			continue
		}
		report.Ingested++
		report.Chunks += len(rowsByDoc[di])
	}

	report.Took = time.Since(start)
	report.TookSec = report.Took.Seconds()
	documentsIngested.Add(float64(report.Ingested))
	documentsFailed.Add(float64(report.Failed))
	log.Info("ingestion run finished",
		zap.Int("ingested", report.Ingested),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("chunks", report.Chunks),
		zap.Duration("took", report.Took))
	return report, nil
}

// IngestDirectory enumerates supported documents directly under and
// beneath dir, in sorted order, and runs them.
func (c *Coordinator) IngestDirectory(ctx context.Context, dir string, maxDocuments int) (*Report, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("ingest directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ingest directory: %s is not a directory", dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			c.logger.Debug("skipping unreadable entry", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if extract.Supported(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return c.Run(ctx, paths, maxDocuments)
}

// prepare stats, deduplicates against the index, extracts, and chunks
// one document.
func (c *Coordinator) prepare(path string, existing map[string]store.DocSummary) (doc *extracted, skipped bool, reason string) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, fmt.Sprintf("stat: %v", err)
	}
	modified := store.UnixSeconds(info.ModTime())

	if c.opts.SkipExisting {
		if prev, ok := existing[path]; ok &&
			prev.FileSize == info.Size() && prev.ModifiedTime == modified {
			return nil, true, ""
		}
	}

	text, ok := c.extractor.Extract(path)
	if !ok {
		return nil, false, "no extractable content"
	}

	chunks := c.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, false, "no chunks produced"
	}

	return &extracted{
		meta: store.DocumentMeta{
			FilePath:     path,
			FileName:     filepath.Base(path),
			FileType:     strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")),
			FileSize:     info.Size(),
			ModifiedTime: modified,
		},
		chunks: chunks,
	}, false, ""
}

// existingIndex loads the persisted document summaries keyed by path,
// only when skip detection needs them.
func (c *Coordinator) existingIndex(ctx context.Context) (map[string]store.DocSummary, error) {
	if !c.opts.SkipExisting {
		return nil, nil
	}
	docs, err := c.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list existing documents: %w", err)
	}
	index := make(map[string]store.DocSummary, len(docs))
	for _, d := range docs {
		index[d.FilePath] = d
	}
	return index, nil
}

// fail records one failed document.
func (c *Coordinator) fail(report *Report, path, reason string) {
	report.Failed++
	report.Failures = append(report.Failures, Failure{Path: path, Reason: reason})
	c.logger.Warn("document failed", zap.String("path", path), zap.String("reason", reason))
}
