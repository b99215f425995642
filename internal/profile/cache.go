package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryCache keeps the snapshot in process memory.
type MemoryCache struct {
	mu   sync.RWMutex
	snap Snapshot
}

// Get implements [Cache].
func (c *MemoryCache) Get(context.Context) (Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return nil, ErrNotCached
	}
	return append(Snapshot(nil), c.snap...), nil
}

// Store implements [Cache].
func (c *MemoryCache) Store(_ context.Context, snap Snapshot) error {
	c.mu.Lock()
	c.snap = append(Snapshot(nil), snap...)
	c.mu.Unlock()
	return nil
}

// FileCache persists the snapshot to a single file so it survives restarts.
type FileCache struct {
	Path string
	mu   sync.RWMutex
}

// Get implements [Cache].
func (c *FileCache) Get(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, err := os.ReadFile(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("profile: read cache file: %w", err)
	}
	return Snapshot(data), nil
}

// Store writes snap atomically via a temp file and rename.
func (c *FileCache) Store(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dir := filepath.Dir(c.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("profile: create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".persona-*")
	if err != nil {
		return fmt.Errorf("profile: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(snap); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("profile: write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("profile: write cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.Path); err != nil {
		return fmt.Errorf("profile: replace cache file: %w", err)
	}
	return nil
}

// RedisOption configures a [RedisCache].
type RedisOption func(*RedisCache)

// WithTTL sets the expiry of the cached snapshot. Zero means no expiry.
func WithTTL(ttl time.Duration) RedisOption { return func(c *RedisCache) { c.ttl = ttl } }

// WithKey sets the Redis key. Default "finvoice:user_persona".
func WithKey(key string) RedisOption { return func(c *RedisCache) { c.key = key } }

// RedisCache shares the snapshot between processes through Redis.
type RedisCache struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisCache returns a cache storing under "finvoice:user_persona" with a
// 30 minute TTL unless overridden.
func NewRedisCache(client redis.UniversalClient, opts ...RedisOption) *RedisCache {
	c := &RedisCache{client: client, key: "finvoice:user_persona", ttl: 30 * time.Minute}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get implements [Cache].
func (c *RedisCache) Get(ctx context.Context) (Snapshot, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("profile: redis get: %w", err)
	}
	return Snapshot(data), nil
}

// Store implements [Cache].
func (c *RedisCache) Store(ctx context.Context, snap Snapshot) error {
	if err := c.client.Set(ctx, c.key, []byte(snap), c.ttl).Err(); err != nil {
		return fmt.Errorf("profile: redis set: %w", err)
	}
	return nil
}
