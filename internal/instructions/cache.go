package instructions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aiy-labs/aiy/internal/logging"
)

// BlobStore is the backing capability for static instruction documents.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type entry struct {
	content   string
	fetchedAt time.Time
}

// Cache memoizes instruction documents fetched from a blob store for a TTL.
// A failed refresh resolves to unavailable rather than returning stale
// content: once an entry has expired it is dropped on the fetch attempt even
// if the refresh fails.
type Cache struct {
	store  BlobStore
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]entry
}

func NewCache(store BlobStore, ttl time.Duration) *Cache {
	return &Cache{
		store:   store,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
		logger:  logging.NewModuleLogger("instructions", "cache"),
	}
}

// Fetch returns the cached content while fresh, refreshing from the backing
// store otherwise. ok is false when the document is unavailable.
func (c *Cache) Fetch(ctx context.Context, key string) (content string, ok bool) {
	c.mu.Lock()
	if cached, present := c.entries[key]; present {
		if c.now().Sub(cached.fetchedAt) < c.ttl {
			c.mu.Unlock()
			return cached.content, true
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	data, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("instruction fetch failed", "key", key, "error", err)
		return "", false
	}

	content = string(data)
	c.mu.Lock()
	c.entries[key] = entry{content: content, fetchedAt: c.now()}
	c.mu.Unlock()
	return content, true
}
