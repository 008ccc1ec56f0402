package analyzer

import (
	"container/list"
	"sync"
	"time"
)

// Cache bounds. A pane whose content hasn't changed within the TTL reuses
// the prior analysis instead of paying for another model call.
const (
	cacheTTL     = 5 * time.Second
	cacheMaxSize = 100
)

type cacheEntry struct {
	key      string
	analysis Analysis
	at       time.Time
}

// resultCache is a TTL-bounded LRU keyed by content hash.
type resultCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	cap   int
	order *list.List
	items map[string]*list.Element
	now   func() time.Time
}

func newResultCache(ttl time.Duration, size int) *resultCache {
	return &resultCache{
		ttl:   ttl,
		cap:   size,
		order: list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
	}
}

func (c *resultCache) Get(key string) (Analysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return Analysis{}, false
	}
	entry := el.Value.(*cacheEntry)
	if c.now().Sub(entry.at) > c.ttl {
		c.order.Remove(el)
		delete(c.items, key)
		return Analysis{}, false
	}
	c.order.MoveToFront(el)
	return entry.analysis, true
}

func (c *resultCache) Put(key string, a Analysis) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.analysis = a
		entry.at = c.now()
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{key: key, analysis: a, at: c.now()})
	c.items[key] = el
	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *resultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
