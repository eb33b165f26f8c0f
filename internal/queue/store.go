package queue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the ordered list of entries per doctor/date plus the appointment index
// that keeps each appointment in at most one queue. It is the source of truth for order.
type Store interface {
	// Range returns entries start..stop inclusive; negative indexes count from the tail.
	Range(ctx context.Context, key Key, start, stop int64) ([]Entry, error)
	Append(ctx context.Context, key Key, e Entry) error
	// Replace swaps the whole list for entries and applies ch in the same transaction.
	Replace(ctx context.Context, key Key, entries []Entry, ch Changes) error
	// Keys lists the queues that currently hold entries for tenant.
	Keys(ctx context.Context, tenant string) ([]Key, error)

	// Claim records appointmentID as living in key; false means it is already claimed.
	Claim(ctx context.Context, key Key, appointmentID string) (bool, error)
	// Reclaim moves a claim from stale to key, only while it still points at stale.
	Reclaim(ctx context.Context, key Key, appointmentID string, stale Key) (bool, error)
	Release(ctx context.Context, tenant string, appointmentIDs ...string) error
	Lookup(ctx context.Context, tenant, appointmentID string) (Key, bool, error)

	Completed(ctx context.Context, tenant, locationID string) (int64, error)
}

// Changes are the index and counter updates committed together with a new list.
type Changes struct {
	// Released appointment ids lose their index claims.
	Released []string
	// Completed names the location whose completed counter goes up by one.
	Completed string
}

func queueIndexKey(tenant string) string   { return "queueidx:" + tenant }
func appointmentsKey(tenant string) string { return "queueappt:" + tenant }
func completedKey(tenant string) string    { return "queuedone:" + tenant }

type RedisStore struct {
	client    redis.Cmdable
	retention time.Duration
}

// NewRedisStore keeps each queue list for retention after its last write.
func NewRedisStore(client redis.Cmdable, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	return &RedisStore{client: client, retention: retention}
}

func (s *RedisStore) Range(ctx context.Context, key Key, start, stop int64) ([]Entry, error) {
	raws, err := s.client.LRange(ctx, key.String(), start, stop).Result()
	if err != nil {
		return nil, storeErr("range", err)
	}
	return decodeAll(raws)
}

func (s *RedisStore) Append(ctx context.Context, key Key, e Entry) error {
	raw, err := EncodeEntry(e)
	if err != nil {
		return err
	}
	k := key.String()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, k, raw)
		pipe.Expire(ctx, k, s.retention)
		pipe.SAdd(ctx, queueIndexKey(key.Tenant), k)
		return nil
	})
	if err != nil {
		return storeErr("append", err)
	}
	return nil
}

func (s *RedisStore) Replace(ctx context.Context, key Key, entries []Entry, ch Changes) error {
	values, err := encodeAll(entries)
	if err != nil {
		return err
	}
	k := key.String()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		if len(values) > 0 {
			pipe.RPush(ctx, k, values...)
			pipe.Expire(ctx, k, s.retention)
			pipe.SAdd(ctx, queueIndexKey(key.Tenant), k)
		} else {
			pipe.SRem(ctx, queueIndexKey(key.Tenant), k)
		}
		if len(ch.Released) > 0 {
			pipe.HDel(ctx, appointmentsKey(key.Tenant), ch.Released...)
		}
		if ch.Completed != "" {
			pipe.HIncrBy(ctx, completedKey(key.Tenant), ch.Completed, 1)
		}
		return nil
	})
	if err != nil {
		return storeErr("replace", err)
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context, tenant string) ([]Key, error) {
	members, err := s.client.SMembers(ctx, queueIndexKey(tenant)).Result()
	if err != nil {
		return nil, storeErr("keys", err)
	}
	keys := make([]Key, 0, len(members))
	for _, m := range members {
		k, err := ParseKey(m)
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *RedisStore) Claim(ctx context.Context, key Key, appointmentID string) (bool, error) {
	idx := appointmentsKey(key.Tenant)
	ok, err := s.client.HSetNX(ctx, idx, appointmentID, key.String()).Result()
	if err != nil {
		return false, storeErr("claim", err)
	}
	if ok {
		// the index lives as long as the tenant keeps queueing
		s.client.Expire(ctx, idx, s.retention)
	}
	return ok, nil
}

var reclaimScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
  redis.call("HSET", KEYS[1], ARGV[1], ARGV[3])
  return 1
end
return 0
`)

func (s *RedisStore) Reclaim(ctx context.Context, key Key, appointmentID string, stale Key) (bool, error) {
	n, err := reclaimScript.Run(ctx, s.client, []string{appointmentsKey(key.Tenant)}, appointmentID, stale.String(), key.String()).Int64()
	if err != nil {
		return false, storeErr("reclaim", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, tenant string, appointmentIDs ...string) error {
	if len(appointmentIDs) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, appointmentsKey(tenant), appointmentIDs...).Err(); err != nil {
		return storeErr("release", err)
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, tenant, appointmentID string) (Key, bool, error) {
	raw, err := s.client.HGet(ctx, appointmentsKey(tenant), appointmentID).Result()
	if errors.Is(err, redis.Nil) {
		return Key{}, false, nil
	}
	if err != nil {
		return Key{}, false, storeErr("lookup", err)
	}
	k, err := ParseKey(raw)
	if err != nil {
		return Key{}, false, nil
	}
	return k, true, nil
}

func (s *RedisStore) Completed(ctx context.Context, tenant, locationID string) (int64, error) {
	raw, err := s.client.HGet(ctx, completedKey(tenant), locationID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("completed", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: completed counter %q", ErrCorruptEntry, raw)
	}
	return n, nil
}

// storeErr maps a Redis failure onto the store taxonomy.
func storeErr(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %v", ErrStoreTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
