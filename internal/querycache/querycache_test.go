package querycache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/wherespace/internal/store"
)

func embeddingFor(seed float32) []float32 {
	vec := make([]float32, 16)
	for i := range vec {
		vec[i] = seed + float32(i)*0.01
	}
	return vec
}

func someHits(n int) []store.Hit {
	hits := make([]store.Hit, n)
	for i := range hits {
		hits[i] = store.Hit{
			FilePath:   fmt.Sprintf("/docs/file%d.txt", i),
			ChunkIndex: i,
			Similarity: 0.9 - float64(i)*0.1,
		}
	}
	return hits
}

func TestGetPut(t *testing.T) {
	c := New(10, time.Minute)
	emb := embeddingFor(0.5)

	_, ok := c.Get(emb, 5)
	assert.False(t, ok)

	c.Put(emb, 5, someHits(3))

	got, ok := c.Get(emb, 5)
	require.True(t, ok)
	assert.Len(t, got, 3)
	assert.Equal(t, "/docs/file0.txt", got[0].FilePath)

	// Different top_k is a different key.
	_, ok = c.Get(emb, 7)
	assert.False(t, ok)
}

func TestGetReturnsCopy(t *testing.T) {
	c := New(10, time.Minute)
	emb := embeddingFor(0.1)
	c.Put(emb, 5, someHits(2))

	first, ok := c.Get(emb, 5)
	require.True(t, ok)
	first[0].FilePath = "mutated"

	second, ok := c.Get(emb, 5)
	require.True(t, ok)
	assert.Equal(t, "/docs/file0.txt", second[0].FilePath)
}

func TestTTLExpiry(t *testing.T) {
	c := New(10, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	emb := embeddingFor(0.2)
	c.Put(emb, 5, someHits(1))

	_, ok := c.Get(emb, 5)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(emb, 5)
	assert.False(t, ok)

	// The expired entry was dropped.
	assert.Equal(t, 0, c.Stats().Size)
}

func TestLRUEviction(t *testing.T) {
	c := New(2, time.Minute)

	a, b, d := embeddingFor(1), embeddingFor(2), embeddingFor(3)
	c.Put(a, 5, someHits(1))
	c.Put(b, 5, someHits(1))

	// Touch a so b becomes least recently used.
	_, ok := c.Get(a, 5)
	require.True(t, ok)

	c.Put(d, 5, someHits(1))

	_, ok = c.Get(a, 5)
	assert.True(t, ok)
	_, ok = c.Get(b, 5)
	assert.False(t, ok)
	_, ok = c.Get(d, 5)
	assert.True(t, ok)
}

func TestClearAndStats(t *testing.T) {
	c := New(10, time.Minute)
	emb := embeddingFor(0.7)
	c.Put(emb, 5, someHits(1))

	c.Get(emb, 5)             // hit
	c.Get(emb, 9)             // miss
	c.Get(embeddingFor(9), 5) // miss

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.InDelta(t, 1.0/3.0, stats.HitRate, 1e-9)

	c.Clear()
	stats = c.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, int64(1), stats.Hits)
}
