package rag

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"

	"pdf-rag/internal/models"
)

const DefaultCacheTTL = time.Hour

// ResponseCache keeps query results for a fixed time, keyed by the question
// and the canonical filter. Hits do not extend an entry's lifetime. A nil
// *ResponseCache caches nothing.
type ResponseCache struct {
	ttl   time.Duration
	items *ttlcache.Cache[uint64, QueryResult]
}

func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ResponseCache{
		ttl: ttl,
		items: ttlcache.New[uint64, QueryResult](
			ttlcache.WithTTL[uint64, QueryResult](ttl),
			ttlcache.WithDisableTouchOnHit[uint64, QueryResult](),
		),
	}
}

// CacheKey hashes the question and the filter. Filters with the same fields
// and values in any order share a key.
func CacheKey(question string, filter models.Filter) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(question)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(filter.String())
	return d.Sum64()
}

// Get returns a result stored less than ttl ago
func (c *ResponseCache) Get(question string, filter models.Filter) (QueryResult, bool) {
	if c == nil {
		return QueryResult{}, false
	}
	item := c.items.Get(CacheKey(question, filter))
	if item == nil {
		return QueryResult{}, false
	}
	return item.Value(), true
}

// Put stores result and drops expired entries
func (c *ResponseCache) Put(question string, filter models.Filter, result QueryResult) {
	if c == nil {
		return
	}
	c.items.DeleteExpired()
	c.items.Set(CacheKey(question, filter), result, ttlcache.DefaultTTL)
}

// Clear drops every entry
func (c *ResponseCache) Clear() {
	if c == nil {
		return
	}
	c.items.DeleteAll()
}

// Len counts live entries
func (c *ResponseCache) Len() int {
	if c == nil {
		return 0
	}
	c.items.DeleteExpired()
	return c.items.Len()
}
