package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	"booksearch/internal/domain"
)

// QueryCache is an LRU cache of fused rankings with a TTL. Entries are tagged
// with the index generation they were computed against and are dropped once
// the index moves on.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	results    []domain.FusedResult
	timestamp  time.Time
	generation uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// cacheKey covers every request field that shapes the fused list. TopN only
// truncates the stream, so it is left out.
func cacheKey(req domain.RetrieveRequest) string {
	h := sha256.New()
	var buf [8]byte
	for _, n := range []int{req.DenseTopK, req.SparseTopK, req.TopK} {
		binary.BigEndian.PutUint64(buf[:], uint64(n))
		h.Write(buf[:])
	}
	h.Write([]byte(req.Query))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

func (c *QueryCache) Get(req domain.RetrieveRequest, generation uint64) ([]domain.FusedResult, bool) {
	key := cacheKey(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}

	if c.now().Sub(entry.timestamp) > c.ttl || entry.generation != generation {
		delete(c.entries, key)
		c.removeFromOrder(key)
		return nil, false
	}

	c.moveToEnd(key)
	return clone(entry.results), true
}

func (c *QueryCache) Put(req domain.RetrieveRequest, generation uint64, results []domain.FusedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(req)
	entry := &cacheEntry{
		results:    clone(results),
		timestamp:  c.now(),
		generation: generation,
	}

	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry
		c.moveToEnd(key)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = entry
	c.order = append(c.order, key)
}

func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
}

func (c *QueryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *QueryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *QueryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *QueryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func clone(results []domain.FusedResult) []domain.FusedResult {
	out := make([]domain.FusedResult, len(results))
	copy(out, results)
	return out
}
