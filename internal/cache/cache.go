// Package cache holds the read-through caches in front of queue views, positions,
// location stats and waitlist listings. Cached values are advisory: every mutation
// invalidates the keys it affects, and anything that guards a mutation reads the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/hackgods/clinic-queue-scheduling/internal/metrics"
)

// Cache is a JSON value cache with per-key generations. Delete bumps the
// generation of every key it drops, and SetIfGeneration only writes while the
// generation is still the one the caller read before loading.
type Cache interface {
	// Get decodes the cached value into dest; it reports false on a miss.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Generation(ctx context.Context, key string) (int64, error)
	SetIfGeneration(ctx context.Context, key string, gen int64, value any, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// generationTTL outlives any load, so an invalidation is never forgotten while
// a loader that started before it can still write.
const generationTTL = 10 * time.Minute

func generationKey(key string) string { return key + "#gen" }

var setIfGenerationScript = redis.NewScript(`
local g = redis.call("GET", KEYS[2])
if (g or "0") ~= ARGV[1] then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
  redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

type RedisCache struct {
	client redis.Cmdable
}

func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (c *RedisCache) Generation(ctx context.Context, key string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache generation %s: %w", key, err)
	}
	return gen, nil
}

func (c *RedisCache) SetIfGeneration(ctx context.Context, key string, gen int64, value any, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("cache encode %s: %w", key, err)
	}
	n, err := setIfGenerationScript.Run(ctx, c.client, []string{key, generationKey(key)},
		strconv.FormatInt(gen, 10), string(data), ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("cache set %s: %w", key, err)
	}
	return n == 1, nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		for _, k := range keys {
			pipe.Incr(ctx, generationKey(k))
			pipe.Expire(ctx, generationKey(k), generationTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Fetch returns the cached value for key or loads, stores and returns it.
// Concurrent misses on the same key share one load. A value is only stored when
// no Delete of key happened during the load. Cache failures fall through to the
// loader; only the loader's error is returned.
func Fetch[T any](ctx context.Context, c Cache, group *singleflight.Group, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	hit, err := c.Get(ctx, key, &cached)
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues("error").Inc()
	case hit:
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	default:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	v, err, _ := group.Do(key, func() (any, error) {
		gen, genErr := c.Generation(ctx, key)
		fresh, err := load(ctx)
		if err != nil {
			return fresh, err
		}
		if genErr == nil {
			if stored, _ := c.SetIfGeneration(ctx, key, gen, fresh, ttl); !stored {
				metrics.CacheLookups.WithLabelValues("stale").Inc()
			}
		}
		return fresh, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Memory is a process-local Cache. It stores the JSON encoding so values come back
// as copies, matching RedisCache semantics.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	gens  map[string]int64
	now   func() time.Time
}

type memoryItem struct {
	data    []byte
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]memoryItem), gens: make(map[string]int64), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	item, ok := m.items[key]
	if ok && !item.expires.IsZero() && !m.now().Before(item.expires) {
		delete(m.items, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(item.data, dest)
}

func (m *Memory) Generation(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gens[key], nil
}

func (m *Memory) SetIfGeneration(_ context.Context, key string, gen int64, value any, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	item := memoryItem{data: data}
	if ttl > 0 {
		item.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gens[key] != gen {
		return false, nil
	}
	m.items[key] = item
	return true, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.items, k)
		m.gens[k]++
	}
	m.mu.Unlock()
	return nil
}

// Has reports whether key currently holds an unexpired value.
func (m *Memory) Has(key string) bool {
	var raw json.RawMessage
	ok, _ := m.Get(context.Background(), key, &raw)
	return ok
}
