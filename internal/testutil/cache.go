package testutil

import (
	"context"
	"sync"

	"github.com/rl1809/order-engine/internal/port"
)

// MemoryCache is an in-process port.CacheRepository with the same version
// compare-and-set rule as the Redis adapter.
type MemoryCache struct {
	mu       sync.Mutex
	stock    map[string]int
	versions map[string]int
	keys     map[string]bool

	// Err, when set, is returned from every call.
	Err error
}

var _ port.CacheRepository = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		stock:    make(map[string]int),
		versions: make(map[string]int),
		keys:     make(map[string]bool),
	}
}

func (c *MemoryCache) GetStock(ctx context.Context, itemID string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, false, c.Err
	}
	stock, ok := c.stock[itemID]
	return stock, ok, nil
}

func (c *MemoryCache) SetStock(ctx context.Context, itemID string, stock, version int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return false, c.Err
	}
	if current, ok := c.versions[itemID]; ok && current >= version {
		return false, nil
	}
	c.stock[itemID] = stock
	c.versions[itemID] = version
	return true, nil
}

func (c *MemoryCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return false, c.Err
	}
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *MemoryCache) ReleaseIdempotency(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	delete(c.keys, key)
	return nil
}

// HasKey reports whether an idempotency key is currently held.
func (c *MemoryCache) HasKey(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[key]
}
