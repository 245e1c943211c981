// Package retriever runs the end-to-end retrieval pipeline: embed the
// query, consult the cache, search the vector store with headroom,
// re-rank lexically, deduplicate, and truncate to top-k.
package retriever

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wherespace/internal/store"
)

// Score weights for reranking. Vector similarity dominates; lexical
// term coverage breaks semantic near-ties toward chunks that actually
// contain the query's words.
const (
	similarityWeight = 0.7
	coverageWeight   = 0.3

	// nearDupThreshold is the TF cosine similarity above which two
	// chunks count as near-duplicates.
	nearDupThreshold = 0.95
)

// Embedder computes a query embedding.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Searcher is the vector store surface the retriever needs.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, params store.SearchParams) ([]store.Hit, error)
}

// Cache memoizes retrievals per (embedding, top_k).
type Cache interface {
	Get(embedding []float32, topK int) ([]store.Hit, bool)
	Put(embedding []float32, topK int, hits []store.Hit)
}

// Options are the per-retriever tuning knobs.
type Options struct {
	EmbeddingModel string
	TopK           int
	MinSimilarity  float64
	NearDedup      bool
}

// Retriever wires the pipeline stages together.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	cache    Cache
	opts     Options
	logger   *zap.Logger
}

// New returns a Retriever. cache may be nil to disable memoization.
func New(embedder Embedder, searcher Searcher, cache Cache, opts Options, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		cache:    cache,
		opts:     opts,
		logger:   logger.Named("retriever"),
	}
}

// Retrieve returns the top-k reranked, deduplicated hits for a query.
// useCache skips both cache read and write when false.
func (r *Retriever) Retrieve(ctx context.Context, query string, useCache bool) ([]store.Hit, error) {
	embedding, err := r.embedder.Embed(ctx, r.opts.EmbeddingModel, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	if useCache && r.cache != nil {
		if hits, ok := r.cache.Get(embedding, r.opts.TopK); ok {
			r.logger.Debug("cache hit", zap.Int("hits", len(hits)))
			return hits, nil
		}
	}

	// Over-fetch so reranking and dedup have candidates to discard.
	candidates, err := r.searcher.Search(ctx, embedding, store.SearchParams{
		TopK:          2 * r.opts.TopK,
		MinSimilarity: r.opts.MinSimilarity,
	})
	if err != nil {
		return nil, err
	}

	hits := rerank(query, candidates)
	hits = dedup(hits, r.opts.NearDedup)
	if len(hits) > r.opts.TopK {
		hits = hits[:r.opts.TopK]
	}

	if useCache && r.cache != nil {
		r.cache.Put(embedding, r.opts.TopK, hits)
	}
	return hits, nil
}

// rerank orders candidates by a weighted blend of vector similarity and
// lexical term coverage. Ties break by file path, then chunk index, so
// results are deterministic for fixed store contents.
func rerank(query string, hits []store.Hit) []store.Hit {
	queryTerms := termSet(query)

	type scored struct {
		hit   store.Hit
		score float64
	}
	items := make([]scored, len(hits))
	for i, h := range hits {
		items[i] = scored{
			hit:   h,
			score: similarityWeight*h.Similarity + coverageWeight*coverage(queryTerms, h.Content),
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		if items[i].hit.FilePath != items[j].hit.FilePath {
			return items[i].hit.FilePath < items[j].hit.FilePath
		}
		return items[i].hit.ChunkIndex < items[j].hit.ChunkIndex
	})

	out := make([]store.Hit, len(items))
	for i, it := range items {
		out[i] = it.hit
	}
	return out
}

// termSet lowercases and whitespace-tokenizes text into a set.
func termSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		set[tok] = struct{}{}
	}
	return set
}

// coverage is the fraction of query terms present in the chunk.
func coverage(queryTerms map[string]struct{}, content string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	chunkTerms := termSet(content)
	matched := 0
	for term := range queryTerms {
		if _, ok := chunkTerms[term]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

// dedup drops exact-content duplicates by hash and, when near is set,
// near-duplicates by term-frequency cosine against every kept chunk.
// First occurrence wins, which after reranking is the highest scored.
func dedup(hits []store.Hit, near bool) []store.Hit {
	seen := make(map[[32]byte]struct{}, len(hits))
	var kept []store.Hit
	var keptFreqs []map[string]int

	for _, h := range hits {
		sum := sha256.Sum256([]byte(h.Content))
		if _, dup := seen[sum]; dup {
			continue
		}

		if near {
			freq := termFreq(h.Content)
			isNearDup := false
			for _, kf := range keptFreqs {
				if cosine(freq, kf) >= nearDupThreshold {
					isNearDup = true
					break
				}
			}
			if isNearDup {
				continue
			}
			keptFreqs = append(keptFreqs, freq)
		}

		seen[sum] = struct{}{}
		kept = append(kept, h)
	}
	return kept
}

// termFreq counts lowercased whitespace tokens.
func termFreq(text string) map[string]int {
	freq := make(map[string]int)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		freq[tok]++
	}
	return freq
}

// cosine is the cosine similarity of two term-frequency vectors.
func cosine(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for term, fa := range a {
		normA += float64(fa * fa)
		if fb, ok := b[term]; ok {
			dot += float64(fa * fb)
		}
	}
	for _, fb := range b {
		normB += float64(fb * fb)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
