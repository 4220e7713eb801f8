// Package cache provides the response cache consulted by the Reddit client
// before network calls.
//
// Backends implement Store and report failures as errors. Callers go through
// Cache, which never surfaces them: a failed read is a miss and a failed write
// is a no-op.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/TobiSchelling/SubCrawler/internal/clock"
	"github.com/TobiSchelling/SubCrawler/internal/config"
)

// ErrMiss is returned by Store.Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is a key/value store with per-entry TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Cache wraps a Store and degrades every failure to a miss or no-op.
// A nil *Cache always misses.
type Cache struct {
	store Store
}

// New wraps store.
func New(store Store) *Cache {
	return &Cache{store: store}
}

// Get returns the cached value for key, if any.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	v, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			log.Printf("Cache read failed for %s: %v", key, err)
		}
		return nil, false
	}
	return v, true
}

// Set stores value under key for ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c == nil || c.store == nil {
		return
	}
	if err := c.store.Set(ctx, key, value, ttl); err != nil {
		log.Printf("Cache write failed for %s: %v", key, err)
	}
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c == nil || c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, key); err != nil {
		log.Printf("Cache delete failed for %s: %v", key, err)
	}
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Close()
}

// Open builds the cache selected by cfg.Backend. The "none" backend returns a
// nil *Cache, which always misses.
func Open(ctx context.Context, cfg config.Cache) (*Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return New(NewMemory(clock.Real())), nil
	case "redis":
		return New(NewRedis(cfg.Redis.Addr, cfg.Redis.Password(), cfg.Redis.DB, cfg.Redis.Prefix)), nil
	case "mongo":
		m, err := NewMongo(ctx, cfg.Mongo.URI(), cfg.Mongo.Database, cfg.Mongo.Collection)
		if err != nil {
			return nil, err
		}
		return New(m), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}
