// Package embedder fans embedding requests out over a bounded worker
// pool while preserving input order.
package embedder

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxWorkers = 4
	DefaultBatchSize  = 20
)

// EmbedFunc computes one embedding. Implemented by modelserver.Client.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Progress reports completion counts to an optional callback.
type Progress func(completed, total int, ratePerSec float64)

// Batcher runs EmbedFunc over slices of texts with bounded parallelism.
type Batcher struct {
	embed      EmbedFunc
	maxWorkers int
	batchSize  int
	logger     *zap.Logger
}

// New returns a Batcher. Non-positive knobs fall back to defaults.
func New(embed EmbedFunc, maxWorkers, batchSize int, logger *zap.Logger) *Batcher {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		embed:      embed,
		maxWorkers: maxWorkers,
		batchSize:  batchSize,
		logger:     logger.Named("embedder"),
	}
}

// EmbedMany embeds texts and returns a slice of the same length and
// order. A nil at position i means texts[i] failed; per-item failures
// never abort the batch. Cancelling ctx stops workers between items;
// completed slots keep their values.
func (b *Batcher) EmbedMany(ctx context.Context, texts []string, onProgress Progress) [][]float32 {
	results := make([][]float32, len(texts))
	if len(texts) == 0 {
		return results
	}

	workers := b.maxWorkers
	if workers > len(texts) {
		workers = len(texts)
	}

	var completed atomic.Int64
	start := time.Now()
	report := func() {
		if onProgress == nil {
			return
		}
		done := int(completed.Load())
		elapsed := time.Since(start).Seconds()
		rate := 0.0
		if elapsed > 0 {
			rate = float64(done) / elapsed
		}
		onProgress(done, len(texts), rate)
	}

	// Contiguous per-worker ranges: worker w owns indexes
	// [w*span, min((w+1)*span, len)).
	span := (len(texts) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * span
		hi := lo + span
		if hi > len(texts) {
			hi = len(texts)
		}
		if lo >= hi {
			break
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if gctx.Err() != nil {
					return nil
				}
				vec, err := b.embed(gctx, texts[i])
				if err != nil {
					b.logger.Warn("embedding failed",
						zap.Int("index", i), zap.Error(err))
				} else {
					results[i] = vec
				}
				if n := completed.Add(1); n%int64(b.batchSize) == 0 {
					report()
				}
			}
			return nil
		})
	}
	g.Wait()

	report()
	return results
}
