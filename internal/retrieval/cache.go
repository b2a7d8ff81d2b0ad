package retrieval

import (
	"fmt"
	"sync"
	"time"

	"github.com/ragmind/backend/internal/storage/models"
	"github.com/ragmind/backend/pkg/utils"
)

const resultCacheTTL = 45 * time.Second

type cachedResult struct {
	result  RetrievalResult
	expires time.Time
}

// resultCache absorbs repeated retrievals within one multi-turn session.
// Entries expire on read; there is no background eviction.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cachedResult
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[string]cachedResult)}
}

func cacheKey(kbID string, strategy models.Strategy, query string, topK int) string {
	return utils.HashString(fmt.Sprintf("%s|%s|%s|%d", kbID, strategy, query, topK))
}

func (c *resultCache) get(key string) (RetrievalResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return RetrievalResult{}, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, key)
		return RetrievalResult{}, false
	}
	return entry.result, true
}

func (c *resultCache) set(key string, result RetrievalResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedResult{result: result, expires: time.Now().Add(resultCacheTTL)}
}
