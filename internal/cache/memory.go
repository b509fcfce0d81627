package cache

import (
	"context"
	"sync"
	"time"
)

var _ CacheManager = (*MemoryCache)(nil)

type memEntry struct {
	entry     *CacheEntry
	createdAt time.Time
	expiresAt time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is a bounded in-process tier with TTL expiry.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

// Option configures a MemoryCache
type Option func(*MemoryCache)

// WithMaxSize sets the maximum number of entries
func WithMaxSize(n int) Option {
	return func(c *MemoryCache) {
		c.maxSize = n
	}
}

// WithTTL sets the entry lifetime; zero disables expiry
func WithTTL(d time.Duration) Option {
	return func(c *MemoryCache) {
		c.ttl = d
	}
}

func NewMemoryCache(opts ...Option) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]*memEntry),
		maxSize: 1000,
		ttl:     time.Hour,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryCache) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := key.Hash()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[h]
	if !ok {
		c.misses++
		return nil, ErrCacheMiss
	}
	if e.expired(c.now()) {
		delete(c.entries, h)
		c.misses++
		return nil, ErrCacheMiss
	}
	c.hits++
	return e.entry, nil
}

func (c *MemoryCache) Put(ctx context.Context, entry *CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h := entry.Key.Hash()
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[h]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = now.Add(c.ttl)
	}
	c.entries[h] = &memEntry{entry: entry, createdAt: now, expiresAt: expiresAt}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key CacheKey) error {
	c.mu.Lock()
	delete(c.entries, key.Hash())
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats holds hit/miss counters.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Size      int     `json:"size"`
	Evictions int64   `json:"evictions"`
}

func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Hits: c.hits, Misses: c.misses, Size: len(c.entries), Evictions: c.evictions}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// must be called with mu held
func (c *MemoryCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.createdAt.Before(oldest) {
			oldestKey = k
			oldest = e.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}
