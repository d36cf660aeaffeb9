package cache

import (
	"context"
	"sync"
	"time"
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

func (it item[V]) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// Options configures a Cache
type Options struct {
	// TTL applied by Set; zero keeps entries until evicted
	TTL time.Duration
	// CleanupInterval is the janitor period used by Start
	CleanupInterval time.Duration
	// MaxItems bounds the cache; zero means unbounded
	MaxItems int
	Clock    func() time.Time
}

// Cache is a thread-safe in-memory cache with expiration.
// Expired entries are invisible to Get; the janitor started by Start removes them.
type Cache[V any] struct {
	mu        sync.RWMutex
	items     map[string]item[V]
	ttl       time.Duration
	interval  time.Duration
	maxItems  int
	now       func() time.Time
	onEvicted func(string, V)

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an empty cache
func New[V any](opts Options) *Cache[V] {
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Cache[V]{
		items:    make(map[string]item[V]),
		ttl:      opts.TTL,
		interval: opts.CleanupInterval,
		maxItems: opts.MaxItems,
		now:      opts.Clock,
	}
}

// Set stores value under key with the default TTL
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with an explicit TTL
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		c.evictOldest()
	}
	c.items[key] = item[V]{value: value, expiresAt: exp}
}

// Get returns the live value stored under key
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || it.expired(c.now()) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Delete removes key
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if it, ok := c.items[key]; ok {
		delete(c.items, key)
		c.evicted(key, it.value)
	}
}

// Flush removes every entry
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, it := range c.items {
		c.evicted(k, it.value)
	}
	c.items = make(map[string]item[V])
}

// Count returns the number of stored entries, expired ones included
func (c *Cache[V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// SetOnEvicted registers a callback invoked for every removed entry
func (c *Cache[V]) SetOnEvicted(f func(string, V)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvicted = f
}

// DeleteExpired removes expired entries and returns how many were removed
func (c *Cache[V]) DeleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, it := range c.items {
		if it.expired(now) {
			delete(c.items, k)
			c.evicted(k, it.value)
			removed++
		}
	}
	return removed
}

// Start launches the janitor. Calling Start twice is a no-op.
func (c *Cache[V]) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.janitor(ctx, c.done)
}

// Stop halts the janitor and waits for it to exit
func (c *Cache[V]) Stop() {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Cache[V]) janitor(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.DeleteExpired()
		}
	}
}

// evictOldest removes the entry closest to expiry; entries without expiry go last.
// Caller holds mu.
func (c *Cache[V]) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, it := range c.items {
		if !found || earlier(it.expiresAt, oldest) {
			oldestKey, oldest, found = k, it.expiresAt, true
		}
	}
	if !found {
		return
	}
	it := c.items[oldestKey]
	delete(c.items, oldestKey)
	c.evicted(oldestKey, it.value)
}

func earlier(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	if b.IsZero() {
		return true
	}
	return a.Before(b)
}

func (c *Cache[V]) evicted(key string, value V) {
	if c.onEvicted != nil {
		c.onEvicted(key, value)
	}
}
