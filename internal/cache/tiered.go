package cache

import (
	"context"
	"errors"
	"log/slog"
)

var _ CacheManager = (*TieredCache)(nil)

// TieredCache checks a fast tier before a slow one and warms the fast tier
// on a slow-tier hit. Writes go to both.
type TieredCache struct {
	fast CacheManager
	slow CacheManager
}

func NewTieredCache(fast, slow CacheManager) *TieredCache {
	return &TieredCache{fast: fast, slow: slow}
}

func (c *TieredCache) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	entry, err := c.fast.Get(ctx, key)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return nil, err
	}

	entry, err = c.slow.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if putErr := c.fast.Put(ctx, entry); putErr != nil {
		slog.Warn("warming fast cache tier", "err", putErr)
	}
	return entry, nil
}

func (c *TieredCache) Put(ctx context.Context, entry *CacheEntry) error {
	if err := c.fast.Put(ctx, entry); err != nil {
		return err
	}
	return c.slow.Put(ctx, entry)
}

func (c *TieredCache) Delete(ctx context.Context, key CacheKey) error {
	fastErr := c.fast.Delete(ctx, key)
	slowErr := c.slow.Delete(ctx, key)
	return errors.Join(fastErr, slowErr)
}
