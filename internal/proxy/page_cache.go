package proxy

import (
	"sync"
	"time"
)

type cacheEntry struct {
	data    []byte
	url     string
	created time.Time
}

// pageCache holds cleaned pages for a fixed time. A zero ttl disables it.
type pageCache struct {
	mu   sync.RWMutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]cacheEntry
}

func newPageCache(ttl time.Duration, now func() time.Time) *pageCache {
	if now == nil {
		now = time.Now
	}
	return &pageCache{
		ttl:  ttl,
		now:  now,
		data: make(map[string]cacheEntry),
	}
}

func cacheKey(target string, js, preview bool) string {
	key := target
	if js {
		key += "|js"
	}
	if preview {
		key += "|preview"
	}
	return key
}

func (c *pageCache) Store(key, finalURL string, data []byte) {
	if c.ttl <= 0 || len(data) == 0 {
		return
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.data {
		if now.Sub(e.created) >= c.ttl {
			delete(c.data, k)
		}
	}
	c.data[key] = cacheEntry{
		data:    append([]byte(nil), data...),
		url:     finalURL,
		created: now,
	}
}

func (c *pageCache) Select(key string) ([]byte, string, bool) {
	if c.ttl <= 0 {
		return nil, "", false
	}
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.created) >= c.ttl {
		return nil, "", false
	}
	return append([]byte(nil), entry.data...), entry.url, true
}

func (c *pageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
