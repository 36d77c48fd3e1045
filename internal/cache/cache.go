// Package cache memoizes finished workflow outcomes for a short time, keyed by
// a fingerprint of the request.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"agentforge/internal/logging"
	"agentforge/internal/types"
)

const (
	DefaultTTL      = 5 * time.Minute
	DefaultCapacity = 100
)

// Clock returns the current time.
type Clock func() time.Time

type entry struct {
	value    types.Outcome
	storedAt time.Time
}

// Cache is a bounded TTL map with insertion-order eviction. Entries are
// written once and never mutated, so one mutex covers every operation.
// Expired entries are only dropped when read or when capacity forces it.
type Cache struct {
	ttl      time.Duration
	capacity int
	now      Clock

	mu      sync.Mutex
	entries map[string]entry
	order   []string // insertion order, oldest first
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now.
func WithClock(c Clock) Option {
	return func(ca *Cache) { ca.now = c }
}

// New returns an empty cache.
func New(ttl time.Duration, capacity int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		entries:  make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the outcome stored under key if it is younger than the TTL.
func (c *Cache) Get(key string) (types.Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return types.Outcome{}, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		c.remove(key)
		logging.CacheDebug("stale entry %s evicted on read", short(key))
		return types.Outcome{}, false
	}
	logging.CacheDebug("hit %s", short(key))
	return e.value, true
}

// Set stores value under key. If the cache then exceeds capacity the
// oldest-inserted entry is evicted.
func (c *Cache) Set(key string, value types.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.remove(key)
	}
	c.entries[key] = entry{value: value, storedAt: c.now()}
	c.order = append(c.order, key)

	if len(c.entries) > c.capacity {
		oldest := c.order[0]
		c.remove(oldest)
		logging.CacheDebug("capacity %d reached, evicted %s", c.capacity, short(oldest))
	}
}

// Len returns the number of stored entries, stale ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// remove deletes key; callers hold mu.
func (c *Cache) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Fingerprint derives the cache key from the normalized request.
func Fingerprint(req types.WorkflowRequest) string {
	n := req.Normalized()
	data, _ := json.Marshal(struct {
		Prompt    string `json:"prompt"`
		ProjectID string `json:"project_id"`
	}{n.Prompt, n.ProjectID})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func short(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
