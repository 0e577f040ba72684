// Package cache holds the category page caches that sit between the API
// layer and Douban: a Redis cache when REDIS_URL is configured and a TTL
// memory cache otherwise.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/example/video-portal/internal/douban"
)

// Pages is the read/write interface for cached category pages.
// Implementations must be safe for concurrent use.
type Pages interface {
	Get(ctx context.Context, key string) ([]douban.Item, bool)
	Set(ctx context.Context, key string, items []douban.Item)
}

// Key addresses one page of one category listing.
func Key(kind, category, typ string, start, limit int) string {
	return fmt.Sprintf("category:%s:%s:%s:%d:%d", kind, category, typ, start, limit)
}

type memoryItem struct {
	items     []douban.Item
	expiresAt time.Time
}

// TTLCache is an in-memory Pages cache with per-entry expiry and optional
// NATS key-level invalidation.
type TTLCache struct {
	mu    sync.RWMutex
	pages map[string]memoryItem
	ttl   time.Duration
}

// NewTTLCache creates a TTLCache and wires up NATS invalidation when nc is
// non-nil. Publishing an empty payload or "ALL" on subj flushes everything;
// any other payload evicts that key.
func NewTTLCache(ttl time.Duration, nc *nats.Conn, subj string) *TTLCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	c := &TTLCache{
		pages: make(map[string]memoryItem),
		ttl:   ttl,
	}
	if nc != nil && subj != "" {
		_, _ = nc.Subscribe(subj, func(m *nats.Msg) {
			key := string(m.Data)
			c.mu.Lock()
			defer c.mu.Unlock()
			if key == "" || strings.EqualFold(key, "ALL") {
				c.pages = make(map[string]memoryItem)
				return
			}
			delete(c.pages, key)
		})
	}
	return c
}

func (c *TTLCache) Get(_ context.Context, key string) ([]douban.Item, bool) {
	c.mu.RLock()
	it, ok := c.pages[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(it.expiresAt) {
		c.mu.Lock()
		if cur, ok2 := c.pages[key]; ok2 && time.Now().After(cur.expiresAt) {
			delete(c.pages, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return it.items, true
}

func (c *TTLCache) Set(_ context.Context, key string, items []douban.Item) {
	c.mu.Lock()
	c.pages[key] = memoryItem{items: items, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}
