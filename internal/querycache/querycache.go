// Package querycache memoizes recent retrieval results keyed by query
// embedding. It is best-effort: keys hash only a prefix of the
// embedding, so collisions return stale but well-typed hits, and a
// short TTL bounds how stale.
package querycache

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fyrsmithlabs/wherespace/internal/store"
)

const (
	DefaultSize = 1000
	DefaultTTL  = 300 * time.Second

	// keyComponents is how many leading embedding components enter the
	// cache key.
	keyComponents = 10
)

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

type entry struct {
	hits     []store.Hit
	storedAt time.Time
}

// Cache is an LRU of recent retrievals with TTL expiry.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.Cache[string, entry]
	ttl    time.Duration
	hits   int64
	misses int64

	// now is swappable for tests.
	now func() time.Time
}

// New returns a Cache. Non-positive size or TTL fall back to defaults.
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	l, _ := lru.New[string, entry](size)
	return &Cache{lru: l, ttl: ttl, now: time.Now}
}

// key hashes the first keyComponents of the embedding together with
// topK.
func key(embedding []float32, topK int) string {
	h := sha256.New()
	var buf [4]byte
	n := keyComponents
	if n > len(embedding) {
		n = len(embedding)
	}
	for _, v := range embedding[:n] {
		binary.LittleEndian.PutUint32(buf[:], uint32(int32(v*1e6)))
		h.Write(buf[:])
	}
	binary.LittleEndian.PutUint32(buf[:], uint32(topK))
	h.Write(buf[:])
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get returns a copy of the cached hits for (embedding, topK), or
// ok=false on miss or TTL expiry. A hit refreshes LRU order.
func (c *Cache) Get(embedding []float32, topK int) ([]store.Hit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key(embedding, topK))
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		c.lru.Remove(key(embedding, topK))
		c.misses++
		return nil, false
	}
	c.hits++

	// Callers may mutate results during reranking; hand out a copy.
	out := make([]store.Hit, len(e.hits))
	copy(out, e.hits)
	return out, true
}

// Put stores hits for (embedding, topK), evicting the least recently
// used entry when full.
func (c *Cache) Put(embedding []float32, topK int, hits []store.Hit) {
	stored := make([]store.Hit, len(hits))
	copy(stored, hits)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key(embedding, topK), entry{hits: stored, storedAt: c.now()})
}

// Clear drops every entry. Hit and miss counters survive.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Stats reports current size and hit ratio.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Size:    c.lru.Len(),
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: rate,
	}
}
