// Package resultcache caches serialized optimization results in a two-tier
// cache: an in-memory LRU in front of a persistent store (Redis or local
// SQLite). The cache is strictly best-effort: every backend failure degrades
// to a miss or a no-op with a warning, never an error to the caller.
package resultcache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// Store is the persistent tier. Get returns (nil, nil) on a miss.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, body []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context) error
	Close() error
}

// entry is an LRU value with its own expiry; the memory tier honors the TTL
// even when the backend (e.g. Redis) expires entries on its own.
type entry struct {
	body      []byte
	expiresAt time.Time
}

func (e entry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// Cache is the two-tier result cache.
type Cache struct {
	memory *lru.Cache[string, entry]
	store  Store
	ttl    time.Duration
}

// New builds a cache with the given persistent store (nil for memory-only),
// TTL in seconds, and memory tier capacity.
func New(store Store, ttlSeconds, memoryEntries int) (*Cache, error) {
	if memoryEntries <= 0 {
		memoryEntries = 1024
	}
	if ttlSeconds <= 0 {
		ttlSeconds = 600
	}

	memory, err := lru.New[string, entry](memoryEntries)
	if err != nil {
		return nil, fmt.Errorf("resultcache: creating LRU: %w", err)
	}

	return &Cache{
		memory: memory,
		store:  store,
		ttl:    time.Duration(ttlSeconds) * time.Second,
	}, nil
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached body for key, or (nil, false) on a miss. Hits in
// the persistent tier are promoted to memory.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if e, ok := c.memory.Get(key); ok {
		if !e.expired() {
			return e.body, true
		}
		c.memory.Remove(key)
	}

	if c.store == nil {
		return nil, false
	}

	body, err := c.store.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("result cache get failed")
		return nil, false
	}
	if body == nil {
		return nil, false
	}

	c.memory.Add(key, entry{body: body, expiresAt: time.Now().Add(c.ttl)})
	return body, true
}

// Set stores the body under key in both tiers. Backend failures are logged
// and swallowed.
func (c *Cache) Set(ctx context.Context, key string, body []byte) {
	c.memory.Add(key, entry{body: body, expiresAt: time.Now().Add(c.ttl)})

	if c.store == nil {
		return
	}
	if err := c.store.Set(ctx, key, body, c.ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("result cache set failed")
	}
}

// Invalidate drops a key from both tiers.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.memory.Remove(key)
	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("result cache invalidate failed")
	}
}

// Close releases the persistent store.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// StartPurger runs a background loop that evicts expired entries from both
// tiers every 5 minutes until the context is cancelled. The returned channel
// closes when the goroutine exits so shutdown can drain it before closing
// the store.
func (c *Cache) StartPurger(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Error().Interface("panic", r).Msg("result cache purger: recovered from panic")
						}
					}()
					c.purge(ctx)
				}()
			}
		}
	}()
	return done
}

func (c *Cache) purge(ctx context.Context) {
	if c.store != nil {
		if err := c.store.DeleteExpired(ctx); err != nil {
			log.Warn().Err(err).Msg("result cache purge failed")
		}
	}

	for _, key := range c.memory.Keys() {
		if e, ok := c.memory.Peek(key); ok && e.expired() {
			c.memory.Remove(key)
		}
	}
}
