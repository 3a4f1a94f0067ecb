// Package cache holds DispatchCache implementations used to suppress
// duplicate notifications.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/garyjia/printshop-workflow/internal/application/port"
)

// MemoryDispatchCache is a process-local DispatchCache with per-key expiry
type MemoryDispatchCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryDispatchCache creates an empty cache
func NewMemoryDispatchCache() *MemoryDispatchCache {
	return &MemoryDispatchCache{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (c *MemoryDispatchCache) Seen(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	if !c.now().Before(expires) {
		delete(c.entries, key)
		return false, nil
	}
	return true, nil
}

func (c *MemoryDispatchCache) Mark(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = now.Add(ttl)

	// drop expired keys while holding the lock anyway
	for k, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, k)
		}
	}
	return nil
}

// Len returns the number of live keys
func (c *MemoryDispatchCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

var _ port.DispatchCache = (*MemoryDispatchCache)(nil)
