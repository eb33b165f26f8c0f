package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockUnavailable = errors.New("lock backend unavailable")
)

// Locker guards read-modify-write sections on a single queue or waitlist entry.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type redisLocker struct {
	client   redis.Cmdable
	ttl      time.Duration
	newToken func() string
}

// NewRedisLocker creates a locker backed by one Redis key per guarded resource.
func NewRedisLocker(client redis.Cmdable, ttl time.Duration) Locker {
	return &redisLocker{
		client:   client,
		ttl:      ttl,
		newToken: uuid.NewString,
	}
}

// QueueLockKey names the lock held while mutating one doctor/date queue.
func QueueLockKey(tenant, doctorID, date string) string {
	return fmt.Sprintf("lock:queue:%s:%s:%s", tenant, doctorID, date)
}

// WaitlistEntryLockKey names the lock held while changing one waitlist entry.
func WaitlistEntryLockKey(tenant, entryID string) string {
	return fmt.Sprintf("lock:waitlist:%s:entry:%s", tenant, entryID)
}

// WaitlistSlotLockKey names the lock held while a waitlist run books into one doctor's day.
func WaitlistSlotLockKey(tenant, doctorID, date string) string {
	return fmt.Sprintf("lock:waitlist:%s:slot:%s:%s", tenant, doctorID, date)
}

func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := l.newToken()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: acquire lock %s: %v", ErrLockUnavailable, key, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		// release with a fresh context so a cancelled caller still frees the key
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
