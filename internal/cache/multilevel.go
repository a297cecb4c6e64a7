package cache

import (
	"context"
	"errors"
	"log"
	"time"
)

const (
	defaultL1Size = 10000
	l1TTL         = 30 * time.Second
)

type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) error
	Stats() map[string]interface{}
	Health(ctx context.Context) error
	Close() error
}

// MultiLevelCache keeps a short-lived in-process copy in front of Redis.
// Redis is optional and guarded by a circuit breaker: while it is failing
// the cache degrades to L1 only instead of returning errors.
type MultiLevelCache struct {
	l1      *MemoryCache
	l2      *RedisCache
	breaker *CircuitBreaker
	metrics *CacheMetrics
}

func NewMultiLevelCache(redisCache *RedisCache) *MultiLevelCache {
	return &MultiLevelCache{
		l1:      NewMemoryCache(defaultL1Size),
		l2:      redisCache,
		breaker: NewCircuitBreaker(nil),
		metrics: NewCacheMetrics(),
	}
}

func (c *MultiLevelCache) l1TTL(ttl time.Duration) time.Duration {
	if c.l2 != nil && (ttl <= 0 || ttl > l1TTL) {
		return l1TTL
	}
	return ttl
}

func (c *MultiLevelCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.metrics.RecordSet()
	if err := c.l1.Set(key, value, c.l1TTL(ttl)); err != nil {
		c.metrics.RecordError()
		return err
	}

	if c.l2 != nil {
		c.l2Call("set", func() error { return c.l2.Set(ctx, key, value, ttl) })
	}
	return nil
}

func (c *MultiLevelCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := c.l1.Get(key, dest); err == nil {
		c.metrics.RecordHit()
		return nil
	}

	if c.l2 != nil {
		var missed bool
		err := c.l2Call("get", func() error {
			err := c.l2.Get(ctx, key, dest)
			if errors.Is(err, ErrCacheMiss) {
				missed = true
				return nil
			}
			return err
		})
		if err == nil && !missed {
			c.metrics.RecordHit()
			if err := c.l1.Set(key, dest, l1TTL); err != nil {
				log.Printf("Failed to promote %s to memory cache: %v", key, err)
			}
			return nil
		}
	}

	c.metrics.RecordMiss()
	return ErrCacheMiss
}

func (c *MultiLevelCache) Delete(ctx context.Context, key string) error {
	c.metrics.RecordDelete()
	c.l1.Delete(key)

	if c.l2 != nil {
		return c.l2Call("delete", func() error { return c.l2.Delete(ctx, key) })
	}
	return nil
}

func (c *MultiLevelCache) DeletePattern(ctx context.Context, pattern string) error {
	c.metrics.RecordDelete()
	c.l1.DeletePattern(pattern)

	if c.l2 != nil {
		return c.l2Call("delete pattern", func() error { return c.l2.DeletePattern(ctx, pattern) })
	}
	return nil
}

// l2Call runs fn through the breaker. Failures are logged and counted; an
// open breaker is reported as ErrCacheDown.
func (c *MultiLevelCache) l2Call(op string, fn func() error) error {
	err := c.breaker.Execute(fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCircuitBreakerOpen):
		return ErrCacheDown
	default:
		c.metrics.RecordError()
		log.Printf("Redis cache %s failed: %v", op, err)
		return err
	}
}

func (c *MultiLevelCache) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"l1":      c.l1.Stats(),
		"metrics": c.metrics.Snapshot(),
		"breaker": c.breaker.GetStats(),
	}
	if c.l2 != nil {
		stats["l2"] = c.l2.Stats()
	}
	return stats
}

func (c *MultiLevelCache) Health(ctx context.Context) error {
	if c.l2 == nil {
		return nil
	}
	if c.breaker.GetState() == CircuitBreakerOpen {
		return ErrCacheDown
	}
	return c.l2.Health(ctx)
}

func (c *MultiLevelCache) Close() error {
	if c.l2 != nil {
		return c.l2.Close()
	}
	return nil
}
