package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/cache"
	"github.com/hackgods/clinic-queue-scheduling/internal/events"
	redisclient "github.com/hackgods/clinic-queue-scheduling/internal/redis"
)

// memStore is an in-process Store. failRange and failReplace make the next
// calls fail with the given error.
type memStore struct {
	mu        sync.Mutex
	lists     map[Key][]Entry
	index     map[string]map[string]Key
	completed map[string]int64

	failRange   []error
	failReplace []error
}

func newMemStore() *memStore {
	return &memStore{
		lists:     make(map[Key][]Entry),
		index:     make(map[string]map[string]Key),
		completed: make(map[string]int64),
	}
}

func (s *memStore) Range(_ context.Context, key Key, start, stop int64) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failRange) > 0 {
		err := s.failRange[0]
		s.failRange = s.failRange[1:]
		return nil, err
	}
	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return []Entry{}, nil
	}
	return append([]Entry(nil), list[start:stop+1]...), nil
}

func (s *memStore) Append(_ context.Context, key Key, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], e)
	return nil
}

func (s *memStore) Replace(_ context.Context, key Key, entries []Entry, ch Changes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failReplace) > 0 {
		err := s.failReplace[0]
		s.failReplace = s.failReplace[1:]
		return err
	}
	if len(entries) == 0 {
		delete(s.lists, key)
	} else {
		s.lists[key] = append([]Entry(nil), entries...)
	}
	for _, id := range ch.Released {
		delete(s.index[key.Tenant], id)
	}
	if ch.Completed != "" {
		s.completed[key.Tenant+"/"+ch.Completed]++
	}
	return nil
}

func (s *memStore) Keys(_ context.Context, tenant string) ([]Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []Key
	for k, list := range s.lists {
		if k.Tenant == tenant && len(list) > 0 {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *memStore) Claim(_ context.Context, key Key, appointmentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[key.Tenant]
	if !ok {
		idx = make(map[string]Key)
		s.index[key.Tenant] = idx
	}
	if _, taken := idx[appointmentID]; taken {
		return false, nil
	}
	idx[appointmentID] = key
	return true, nil
}

func (s *memStore) Reclaim(_ context.Context, key Key, appointmentID string, stale Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.index[key.Tenant][appointmentID]; !ok || cur != stale {
		return false, nil
	}
	s.index[key.Tenant][appointmentID] = key
	return true, nil
}

// dropList removes a queue list and leaves its index claims behind, as when the
// list key expires in Redis.
func (s *memStore) dropList(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, key)
}

func (s *memStore) Release(_ context.Context, tenant string, appointmentIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range appointmentIDs {
		delete(s.index[tenant], id)
	}
	return nil
}

func (s *memStore) Lookup(_ context.Context, tenant, appointmentID string) (Key, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.index[tenant][appointmentID]
	return k, ok, nil
}

func (s *memStore) Completed(_ context.Context, tenant, locationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[tenant+"/"+locationID], nil
}

func (s *memStore) ids(key Key) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.lists[key]))
	for _, e := range s.lists[key] {
		out = append(out, e.AppointmentID)
	}
	return out
}

// passLocker runs the callback without coordination.
type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// keyLocker serializes callbacks per key, like the Redis lock does across processes.
type keyLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocker() *keyLocker { return &keyLocker{locks: make(map[string]*sync.Mutex)} }

func (l *keyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// busyLocker reports the lock as held by someone else for the first busy attempts.
type busyLocker struct {
	mu       sync.Mutex
	busy     int
	attempts int
}

func (l *busyLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.attempts++
	held := l.attempts <= l.busy
	l.mu.Unlock()
	if held {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return events.Event{}
	}
	return p.events[len(p.events)-1]
}

func (p *recordingPublisher) count(t events.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

var testNow = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

type harness struct {
	store   *memStore
	cache   *cache.Memory
	pub     *recordingPublisher
	manager *Manager
	tracker *Tracker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: newMemStore(), cache: cache.NewMemory(), pub: &recordingPublisher{}}
	opts := Options{BaseMinutesPerPatient: 15, MaxRetries: 3}
	h.manager = NewManager(h.store, passLocker{}, h.cache, h.pub, opts, zerolog.Nop())
	h.manager.now = func() time.Time { return testNow }
	h.manager.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	h.tracker = NewTracker(h.store, h.cache, h.pub, opts, zerolog.Nop())
	return h
}

func (h *harness) enqueue(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := h.manager.Enqueue(context.Background(), "acme", "doc-1", "2026-10-19", Entry{AppointmentID: id, PatientID: "p-" + id}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
}
