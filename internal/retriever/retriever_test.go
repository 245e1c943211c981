package retriever

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wherespace/internal/store"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string, string) ([]float32, error) {
	return f.vec, f.err
}

type fakeSearcher struct {
	hits   []store.Hit
	params store.SearchParams
	err    error
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, params store.SearchParams) ([]store.Hit, error) {
	f.params = params
	return f.hits, f.err
}

type fakeCache struct {
	stored map[int][]store.Hit
	gets   int
	puts   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{stored: make(map[int][]store.Hit)}
}

func (f *fakeCache) Get(_ []float32, topK int) ([]store.Hit, bool) {
	f.gets++
	hits, ok := f.stored[topK]
	return hits, ok
}

func (f *fakeCache) Put(_ []float32, topK int, hits []store.Hit) {
	f.puts++
	f.stored[topK] = hits
}

func hit(path string, idx int, sim float64, content string) store.Hit {
	return store.Hit{
		FilePath:   path,
		ChunkIndex: idx,
		FileName:   path[strings.LastIndex(path, "/")+1:],
		Content:    content,
		Similarity: sim,
	}
}

func TestRetrievePipeline(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{0.1, 0.2}}
	search := &fakeSearcher{hits: []store.Hit{
		hit("/d/a.txt", 0, 0.9, "postgres connection pooling guide"),
		hit("/d/b.txt", 0, 0.8, "unrelated cooking recipe"),
	}}
	cache := newFakeCache()

	r := New(emb, search, cache, Options{TopK: 5, MinSimilarity: 0.3}, zap.NewNop())
	hits, err := r.Retrieve(context.Background(), "postgres pooling", true)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// Over-fetch with headroom for dedup.
	assert.Equal(t, 10, search.params.TopK)
	assert.Equal(t, 0.3, search.params.MinSimilarity)

	// Result was cached.
	assert.Equal(t, 1, cache.puts)
}

func TestRetrieveCacheHit(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{0.1}}
	search := &fakeSearcher{err: errors.New("store should not be called")}
	cache := newFakeCache()
	cached := []store.Hit{hit("/d/cached.txt", 0, 0.99, "cached content")}
	cache.stored[5] = cached

	r := New(emb, search, cache, Options{TopK: 5}, zap.NewNop())
	hits, err := r.Retrieve(context.Background(), "q", true)
	require.NoError(t, err)
	assert.Equal(t, cached, hits)
}

func TestRetrieveCacheBypass(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{0.1}}
	search := &fakeSearcher{hits: []store.Hit{hit("/d/a.txt", 0, 0.9, "fresh")}}
	cache := newFakeCache()
	cache.stored[5] = []store.Hit{hit("/d/stale.txt", 0, 0.5, "stale")}

	r := New(emb, search, cache, Options{TopK: 5}, zap.NewNop())
	hits, err := r.Retrieve(context.Background(), "q", false)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "/d/a.txt", hits[0].FilePath)
	assert.Equal(t, 0, cache.gets)
	assert.Equal(t, 0, cache.puts)
}

func TestRetrieveEmbedFailure(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("model down")}
	r := New(emb, &fakeSearcher{}, nil, Options{TopK: 5}, zap.NewNop())

	_, err := r.Retrieve(context.Background(), "q", true)
	assert.Error(t, err)
}

func TestRerank(t *testing.T) {
	t.Run("lexical coverage lifts matching chunks", func(t *testing.T) {
		hits := []store.Hit{
			hit("/d/vague.txt", 0, 0.80, "something about databases in general"),
			hit("/d/exact.txt", 0, 0.78, "tuning postgres vacuum settings for heavy writes"),
		}
		ranked := rerank("postgres vacuum settings", hits)
		// 0.7*0.78 + 0.3*1.0 = 0.846 beats 0.7*0.80 + 0.3*0 = 0.56.
		assert.Equal(t, "/d/exact.txt", ranked[0].FilePath)
	})

	t.Run("ties break deterministically", func(t *testing.T) {
		hits := []store.Hit{
			hit("/d/b.txt", 2, 0.5, "same words here"),
			hit("/d/b.txt", 1, 0.5, "same words here"),
			hit("/d/a.txt", 9, 0.5, "same words here"),
		}
		ranked := rerank("nothing matches", hits)
		assert.Equal(t, "/d/a.txt", ranked[0].FilePath)
		assert.Equal(t, 1, ranked[1].ChunkIndex)
		assert.Equal(t, 2, ranked[2].ChunkIndex)
	})
}

func TestDedup(t *testing.T) {
	t.Run("exact duplicates removed", func(t *testing.T) {
		hits := []store.Hit{
			hit("/d/a.txt", 0, 0.9, "identical content"),
			hit("/d/b.txt", 0, 0.8, "identical content"),
			hit("/d/c.txt", 0, 0.7, "different content"),
		}
		out := dedup(hits, false)
		require.Len(t, out, 2)
		assert.Equal(t, "/d/a.txt", out[0].FilePath)
		assert.Equal(t, "/d/c.txt", out[1].FilePath)
	})

	t.Run("near duplicates removed when enabled", func(t *testing.T) {
		base := strings.Repeat("the same long paragraph of words repeated ", 5)
		hits := []store.Hit{
			hit("/d/a.txt", 0, 0.9, base),
			hit("/d/b.txt", 0, 0.8, base+"extra"),
			hit("/d/c.txt", 0, 0.7, "completely unrelated text about gardening tips"),
		}
		out := dedup(hits, true)
		require.Len(t, out, 2)
		assert.Equal(t, "/d/a.txt", out[0].FilePath)
		assert.Equal(t, "/d/c.txt", out[1].FilePath)
	})

	t.Run("near duplicates kept when disabled", func(t *testing.T) {
		base := strings.Repeat("the same long paragraph of words repeated ", 5)
		hits := []store.Hit{
			hit("/d/a.txt", 0, 0.9, base),
			hit("/d/b.txt", 0, 0.8, base+"extra"),
		}
		assert.Len(t, dedup(hits, false), 2)
	})
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	var many []store.Hit
	for i := 0; i < 8; i++ {
		many = append(many, hit("/d/a.txt", i, 0.9-float64(i)*0.01,
			strings.Repeat("word", i+1)))
	}
	emb := &fakeEmbedder{vec: []float32{0.1}}
	r := New(emb, &fakeSearcher{hits: many}, nil, Options{TopK: 3}, zap.NewNop())

	hits, err := r.Retrieve(context.Background(), "q", true)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}
