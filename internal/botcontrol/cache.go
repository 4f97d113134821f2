package botcontrol

import (
	"sync"
	"time"
)

type cachedSnapshot struct {
	snapshot  Snapshot
	expiresAt time.Time
}

// statusCache keeps recent snapshots per principal. Entries are dropped on
// every write made through the controller and expire after ttl otherwise.
type statusCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cachedSnapshot
}

func newStatusCache(ttl time.Duration) *statusCache {
	return &statusCache{
		ttl:     ttl,
		entries: make(map[string]cachedSnapshot),
	}
}

func (c *statusCache) get(userID string, now time.Time) (Snapshot, bool) {
	if c.ttl <= 0 {
		return Snapshot{}, false
	}
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok || !now.Before(entry.expiresAt) {
		return Snapshot{}, false
	}
	return entry.snapshot, true
}

func (c *statusCache) put(userID string, snap Snapshot, now time.Time) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[userID] = cachedSnapshot{snapshot: snap, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
}

func (c *statusCache) invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// sweep drops expired entries so the map does not grow with idle principals
func (c *statusCache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}
