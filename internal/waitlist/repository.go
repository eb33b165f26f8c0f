package waitlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// Repository persists waitlist entries per tenant.
type Repository interface {
	Create(ctx context.Context, tenant string, e Entry) error
	Get(ctx context.Context, tenant, id string) (Entry, error)
	// Save overwrites an existing entry; ErrEntryNotFound when it is gone.
	Save(ctx context.Context, tenant string, e Entry) error
	Delete(ctx context.Context, tenant, id string) error
	// List returns every entry in creation order.
	List(ctx context.Context, tenant string) ([]Entry, error)
}

func entryKey(tenant, id string) string { return fmt.Sprintf("waitlist:%s:entry:%s", tenant, id) }
func indexKey(tenant string) string     { return fmt.Sprintf("waitlist:%s:entries", tenant) }

type RedisRepository struct {
	client redis.Cmdable
}

func NewRedisRepository(client redis.Cmdable) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Create(ctx context.Context, tenant string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode waitlist entry %s: %w", e.ID, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entryKey(tenant, e.ID), data, 0)
		pipe.ZAdd(ctx, indexKey(tenant), redis.Z{Score: float64(e.CreatedAt.UnixNano()), Member: e.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrStoreUnavailable, e.ID, err)
	}
	return nil
}

func (r *RedisRepository) Get(ctx context.Context, tenant, id string) (Entry, error) {
	raw, err := r.client.Get(ctx, entryKey(tenant, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("%w: get %s: %v", ErrStoreUnavailable, id, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("decode waitlist entry %s: %w", id, err)
	}
	return e, nil
}

func (r *RedisRepository) Save(ctx context.Context, tenant string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode waitlist entry %s: %w", e.ID, err)
	}
	ok, err := r.client.SetXX(ctx, entryKey(tenant, e.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: save %s: %v", ErrStoreUnavailable, e.ID, err)
	}
	if !ok {
		return ErrEntryNotFound
	}
	return nil
}

func (r *RedisRepository) Delete(ctx context.Context, tenant, id string) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, entryKey(tenant, id))
		pipe.ZRem(ctx, indexKey(tenant), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStoreUnavailable, id, err)
	}
	if del.Val() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *RedisRepository) List(ctx context.Context, tenant string) ([]Entry, error) {
	ids, err := r.client.ZRange(ctx, indexKey(tenant), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return []Entry{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = entryKey(tenant, id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStoreUnavailable, err)
	}

	out := make([]Entry, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// index member without a blob; removed concurrently
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode waitlist entry %s: %w", ids[i], err)
		}
		out = append(out, e)
	}
	// scores lose sub-microsecond precision
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
