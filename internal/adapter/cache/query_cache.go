package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"campusbot/internal/domain"
	"campusbot/internal/port"
)

// QueryCache is a small LRU of vector search results with a TTL. Invalidate
// bumps a generation counter so results computed before a store mutation
// are never served afterwards.
type QueryCache struct {
	mu      sync.Mutex
	entries map[queryKey]*list.Element
	lru     *list.List // front is most recently used
	maxSize int
	ttl     time.Duration
	gen     uint64
	now     func() time.Time
}

// queryKey identifies a search by its normalized text and result count.
type queryKey struct {
	query string
	topK  int
}

type cacheEntry struct {
	key     queryKey
	results []domain.SearchResult
	stored  time.Time
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[queryKey]*list.Element, maxSize),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func keyFor(query string, topK int) queryKey {
	return queryKey{query: strings.Join(strings.Fields(strings.ToLower(query)), " "), topK: topK}
}

// Get returns the cached results for query, refreshing its recency.
func (c *QueryCache) Get(query string, topK int) ([]domain.SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[keyFor(query, topK)]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.now().Sub(entry.stored) > c.ttl {
		c.remove(el)
		return nil, false
	}
	c.lru.MoveToFront(el)
	return entry.results, true
}

// Put stores results computed at generation gen. Results from an earlier
// generation are discarded; it reports whether they were stored.
func (c *QueryCache) Put(query string, topK int, gen uint64, results []domain.SearchResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return false
	}
	key := keyFor(query, topK)
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.results, entry.stored = results, c.now()
		c.lru.MoveToFront(el)
		return true
	}

	for c.lru.Len() >= c.maxSize {
		c.remove(c.lru.Back())
	}
	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, results: results, stored: c.now()})
	return true
}

// Invalidate drops every entry and starts a new generation.
func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
	c.lru.Init()
	c.gen++
}

func (c *QueryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Generation returns the current invalidation generation.
func (c *QueryCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *QueryCache) remove(el *list.Element) {
	c.lru.Remove(el)
	delete(c.entries, el.Value.(*cacheEntry).key)
}

// CachedSearcher serves repeated searches from a QueryCache.
type CachedSearcher struct {
	searcher port.Searcher
	cache    *QueryCache
}

func NewCachedSearcher(searcher port.Searcher, cache *QueryCache) *CachedSearcher {
	return &CachedSearcher{
		searcher: searcher,
		cache:    cache,
	}
}

func (r *CachedSearcher) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if results, hit := r.cache.Get(query, k); hit {
		return results, nil
	}

	gen := r.cache.Generation()
	results, err := r.searcher.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	r.cache.Put(query, k, gen, results)
	return results, nil
}
