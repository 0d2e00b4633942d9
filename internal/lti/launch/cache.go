// internal/lti/launch/cache.go
package launch

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

/*
Short-lived state for the OIDC flow.

Three things live here, all keyed by (kind, value) with a TTL:

  - "state":  minted at login initiation, consumed exactly once at launch
  - "nonce":  single-use marker preventing id_token replay
  - "launch": the validated launch session, read on each follow-up request

A process-local implementation backs dev and single-instance deployments.
Anything multi-instance should satisfy Cache with a shared store instead.
*/

// Cache stores short-lived values and enforces single-use semantics.
type Cache interface {
	// Put stores value under (kind, key) for ttl, replacing any prior entry.
	Put(kind, key string, value []byte, ttl time.Duration) error
	// Get returns the live value under (kind, key), ok=false when absent or
	// expired.
	Get(kind, key string) ([]byte, bool, error)
	// Take returns and atomically removes the live value under (kind, key).
	Take(kind, key string) ([]byte, bool, error)
	// Use marks (kind, value) as consumed for ttl and returns true if this is
	// the first time it is seen (or the previous entry expired). It returns
	// false when the same (kind, value) is reused before it expires.
	Use(kind, value string, ttl time.Duration) (bool, error)
}

type cacheEntry struct {
	value []byte
	until time.Time
}

// InMemoryCache is a process-local Cache. It is safe for concurrent use and
// performs opportunistic purging on writes.
type InMemoryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry

	useCount uint64
	purgeN   uint64

	// Clock (for tests)
	Now func() time.Time
}

// NewInMemoryCache creates an in-memory cache. purgeEvery controls how often
// (every N writes) expired entries are purged; <=0 means 1024.
func NewInMemoryCache(purgeEvery int) *InMemoryCache {
	if purgeEvery <= 0 {
		purgeEvery = 1024
	}
	return &InMemoryCache{
		entries: make(map[string]cacheEntry, 1024),
		purgeN:  uint64(purgeEvery),
	}
}

func (c *InMemoryCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func cacheKey(kind, key string) (string, error) {
	kind = strings.TrimSpace(strings.ToLower(kind))
	key = strings.TrimSpace(key)
	if kind == "" || key == "" {
		return "", fmt.Errorf("cache: kind and key are required")
	}
	return kind + "|" + key, nil
}

func (c *InMemoryCache) Put(kind, key string, value []byte, ttl time.Duration) error {
	k, err := cacheKey(kind, key)
	if err != nil {
		return err
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybePurgeLocked(now)
	c.entries[k] = cacheEntry{value: value, until: now.Add(ttl)}
	return nil
}

func (c *InMemoryCache) Get(kind, key string) ([]byte, bool, error) {
	k, err := cacheKey(kind, key)
	if err != nil {
		return nil, false, err
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok || !e.until.After(now) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *InMemoryCache) Take(kind, key string) ([]byte, bool, error) {
	k, err := cacheKey(kind, key)
	if err != nil {
		return nil, false, err
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok || !e.until.After(now) {
		return nil, false, nil
	}
	delete(c.entries, k)
	return e.value, true, nil
}

func (c *InMemoryCache) Use(kind, value string, ttl time.Duration) (bool, error) {
	k, err := cacheKey(kind, value)
	if err != nil {
		return false, err
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybePurgeLocked(now)
	if e, ok := c.entries[k]; ok && e.until.After(now) {
		// seen and not expired -> replay
		return false, nil
	}
	c.entries[k] = cacheEntry{until: now.Add(ttl)}
	return true, nil
}

func (c *InMemoryCache) maybePurgeLocked(now time.Time) {
	c.useCount++
	if c.useCount%c.purgeN != 0 {
		return
	}
	for k, e := range c.entries {
		if !e.until.After(now) {
			delete(c.entries, k)
		}
	}
}
