package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/hackgods/clinic-queue-scheduling/internal/cache"
	"github.com/hackgods/clinic-queue-scheduling/internal/events"
	"github.com/hackgods/clinic-queue-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-queue-scheduling/internal/redis"
)

type Options struct {
	BaseMinutesPerPatient int
	QueueCacheTTL         time.Duration
	PositionCacheTTL      time.Duration
	StatsCacheTTL         time.Duration
	StoreTimeout          time.Duration
	MaxRetries            int
	LocationCapacity      int
}

func (o Options) withDefaults() Options {
	if o.BaseMinutesPerPatient <= 0 {
		o.BaseMinutesPerPatient = 15
	}
	if o.QueueCacheTTL <= 0 {
		o.QueueCacheTTL = 5 * time.Minute
	}
	if o.PositionCacheTTL <= 0 {
		o.PositionCacheTTL = time.Minute
	}
	if o.StatsCacheTTL <= 0 {
		o.StatsCacheTTL = 5 * time.Minute
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 2 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.LocationCapacity <= 0 {
		o.LocationCapacity = 50
	}
	return o
}

func viewCacheKey(k Key) string {
	return fmt.Sprintf("queueview:%s:%s:%s", k.Tenant, k.DoctorID, k.Date)
}

func positionCacheKey(tenant, appointmentID string) string {
	return fmt.Sprintf("position:%s:%s", tenant, appointmentID)
}

// Manager owns every mutation of the doctor/date queues.
//
// Mutations hold the queue's Redis lock for their whole read-modify-write, build
// the complete new list in memory and commit it in a single transaction, so a
// failed or timed-out attempt leaves the stored queue untouched.
type Manager struct {
	store  Store
	locker redisclient.Locker
	cache  cache.Cache
	events events.Publisher
	opts   Options
	logger zerolog.Logger

	now        func() time.Time
	newBackOff func() backoff.BackOff
	views      singleflight.Group
}

func NewManager(store Store, locker redisclient.Locker, c cache.Cache, pub events.Publisher, opts Options, logger zerolog.Logger) *Manager {
	return &Manager{
		store:      store,
		locker:     locker,
		cache:      c,
		events:     pub,
		opts:       opts.withDefaults(),
		logger:     logger.With().Str("component", "queue").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}

// Enqueue appends e to the tail of the doctor's queue for date.
func (m *Manager) Enqueue(ctx context.Context, tenant, doctorID, date string, e Entry) (Entry, error) {
	started := time.Now()
	key, err := NewKey(tenant, doctorID, date)
	if err != nil {
		return Entry{}, err
	}
	if e.AppointmentID == "" {
		return Entry{}, fmt.Errorf("%w: appointment id is required", ErrInvalidRequest)
	}
	switch e.Status {
	case "":
		e.Status = StatusWaiting
	case StatusWaiting, StatusConfirmed:
	default:
		return Entry{}, fmt.Errorf("%w: cannot enqueue with status %s", ErrInvalidRequest, e.Status)
	}
	e.DoctorID = doctorID
	if e.CheckedInAt.IsZero() {
		e.CheckedInAt = m.now()
	}

	var queued []Entry
	err = m.retry(ctx, func(ctx context.Context) error {
		return m.locker.WithLock(ctx, lockKey(key), func(lockCtx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(lockCtx, m.opts.StoreTimeout)
			defer cancel()

			current, err := m.store.Range(attemptCtx, key, 0, -1)
			if err != nil {
				return err
			}
			if err := m.claim(attemptCtx, key, e.AppointmentID); err != nil {
				return err
			}
			if err := m.store.Append(attemptCtx, key, e); err != nil {
				releaseCtx, cancelRelease := context.WithTimeout(context.WithoutCancel(ctx), m.opts.StoreTimeout)
				defer cancelRelease()
				if relErr := m.store.Release(releaseCtx, tenant, e.AppointmentID); relErr != nil {
					m.logger.Error().Err(relErr).Str("appointment_id", e.AppointmentID).Msg("failed to release appointment claim")
				}
				return err
			}
			queued = append(current, e)
			return nil
		})
	})
	metrics.TrackOperation("enqueue", started, err)
	if err != nil {
		return Entry{}, err
	}

	positioned := withPositions(queued, m.opts.BaseMinutesPerPatient)
	m.invalidate(ctx, key, positioned)
	m.publish(ctx, events.Event{
		Type:          events.TypeQueueUpdated,
		Tenant:        tenant,
		DoctorID:      doctorID,
		Date:          date,
		AppointmentID: e.AppointmentID,
		Positions:     positionsOf(positioned, ""),
	})

	m.logger.Info().
		Str("tenant", tenant).
		Str("doctor_id", doctorID).
		Str("date", date).
		Str("appointment_id", e.AppointmentID).
		Int("position", len(positioned)).
		Msg("patient queued")
	return positioned[len(positioned)-1], nil
}

// claim indexes appointmentID under key. A claim left behind by a queue that no
// longer holds the appointment (expired list, failed append) is taken over.
func (m *Manager) claim(ctx context.Context, key Key, appointmentID string) error {
	claimed, err := m.store.Claim(ctx, key, appointmentID)
	if err != nil || claimed {
		return err
	}
	holder, ok, err := m.store.Lookup(ctx, key.Tenant, appointmentID)
	if err != nil {
		return err
	}
	if !ok {
		// released between the two calls
		if claimed, err = m.store.Claim(ctx, key, appointmentID); err != nil || claimed {
			return err
		}
		return ErrDuplicateEntry
	}
	held, err := m.store.Range(ctx, holder, 0, -1)
	if err != nil {
		return err
	}
	if indexOf(held, appointmentID) >= 0 {
		return ErrDuplicateEntry
	}
	moved, err := m.store.Reclaim(ctx, key, appointmentID, holder)
	if err != nil {
		return err
	}
	if !moved {
		return ErrDuplicateEntry
	}
	m.logger.Warn().
		Str("appointment_id", appointmentID).
		Str("stale_queue", holder.String()).
		Str("queue", key.String()).
		Msg("stale appointment claim taken over")
	return nil
}

// GetQueue returns the ordered queue, optionally narrowed to one location.
// Positions always refer to the full queue. Store failures degrade to an empty list.
func (m *Manager) GetQueue(ctx context.Context, tenant, doctorID, date, locationID string) ([]Entry, error) {
	key, err := NewKey(tenant, doctorID, date)
	if err != nil {
		return nil, err
	}

	entries, err := cache.Fetch(ctx, m.cache, &m.views, viewCacheKey(key), m.opts.QueueCacheTTL, func(ctx context.Context) ([]Entry, error) {
		ctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
		defer cancel()
		raw, err := m.store.Range(ctx, key, 0, -1)
		if err != nil {
			return nil, err
		}
		return withPositions(raw, m.opts.BaseMinutesPerPatient), nil
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("queue", key.String()).Msg("queue read degraded to empty")
		return []Entry{}, nil
	}

	if locationID == "" {
		return entries, nil
	}
	filtered := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.LocationID == locationID {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// Snapshot summarizes the doctor's queue for date.
func (m *Manager) Snapshot(ctx context.Context, tenant, doctorID, date string) (Snapshot, error) {
	entries, err := m.GetQueue(ctx, tenant, doctorID, date, "")
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{DoctorID: doctorID, Date: date, Total: len(entries)}
	for _, e := range entries {
		switch e.Status {
		case StatusWaiting:
			snap.Waiting++
		case StatusConfirmed:
			snap.Confirmed++
		case StatusInProgress:
			snap.InProgress++
		case StatusEmergency:
			snap.Emergency++
		}
	}
	snap.AverageWaitTime = AverageWaitTime(entries)
	return snap, nil
}

func (m *Manager) Confirm(ctx context.Context, tenant, appointmentID string) (Entry, error) {
	started := time.Now()
	now := m.now()
	_, after, err := m.mutateAppointment(ctx, tenant, appointmentID, "", func(current []Entry, idx int) ([]Entry, Changes, error) {
		e := &current[idx]
		switch e.Status {
		case StatusWaiting, StatusConfirmed:
			e.Status = StatusConfirmed
		case StatusEmergency:
			// confirmation does not undo an escalation
		default:
			return nil, Changes{}, fmt.Errorf("%w: cannot confirm %s entry", ErrInvalidTransition, e.Status)
		}
		confirmedAt := now
		e.ConfirmedAt = &confirmedAt
		return current, Changes{}, nil
	})
	metrics.TrackOperation("confirm", started, err)
	if err != nil {
		return Entry{}, err
	}
	return after[indexOf(after, appointmentID)], nil
}

// StartConsultation moves the appointment into IN_PROGRESS for doctorID.
func (m *Manager) StartConsultation(ctx context.Context, tenant, appointmentID, doctorID string) (Entry, error) {
	started := time.Now()
	now := m.now()
	key, after, err := m.mutateAppointment(ctx, tenant, appointmentID, doctorID, func(current []Entry, idx int) ([]Entry, Changes, error) {
		e := &current[idx]
		if e.Status == StatusInProgress || e.Status == StatusCompleted {
			return nil, Changes{}, fmt.Errorf("%w: consultation already started", ErrInvalidTransition)
		}
		e.Status = StatusInProgress
		startedAt := now
		e.StartedAt = &startedAt
		waited := int(now.Sub(e.CheckedInAt).Minutes())
		if waited < 0 {
			waited = 0
		}
		e.ActualWaitTime = &waited
		return current, Changes{}, nil
	})
	metrics.TrackOperation("start_consultation", started, err)
	if err != nil {
		return Entry{}, err
	}

	m.publish(ctx, events.Event{
		Type:          events.TypeQueueUpdated,
		Tenant:        tenant,
		DoctorID:      key.DoctorID,
		Date:          key.Date,
		AppointmentID: appointmentID,
		Positions:     positionsOf(after, appointmentID),
	})
	return after[indexOf(after, appointmentID)], nil
}

// Reorder replaces the queue order with newOrder, which must be a permutation of
// the current appointment ids.
func (m *Manager) Reorder(ctx context.Context, tenant, doctorID, date string, newOrder []string) ([]Entry, error) {
	started := time.Now()
	key, err := NewKey(tenant, doctorID, date)
	if err != nil {
		return nil, err
	}
	after, err := m.mutate(ctx, key, func(current []Entry) ([]Entry, Changes, error) {
		next, err := applyOrder(current, newOrder)
		return next, Changes{}, err
	})
	metrics.TrackOperation("reorder", started, err)
	if err != nil {
		return nil, err
	}

	m.publish(ctx, events.Event{
		Type:      events.TypeQueueReordered,
		Tenant:    tenant,
		DoctorID:  doctorID,
		Date:      date,
		Positions: positionsOf(after, ""),
	})
	m.logger.Info().Str("queue", key.String()).Strs("order", newOrder).Msg("queue reordered")
	return after, nil
}

// EscalateEmergency moves the appointment to the front of its queue as EMERGENCY.
func (m *Manager) EscalateEmergency(ctx context.Context, tenant, appointmentID string, priority int) (Entry, error) {
	started := time.Now()
	key, after, err := m.mutateAppointment(ctx, tenant, appointmentID, "", func(current []Entry, idx int) ([]Entry, Changes, error) {
		e := current[idx]
		if e.Status == StatusInProgress || e.Status == StatusCompleted {
			return nil, Changes{}, fmt.Errorf("%w: cannot escalate %s entry", ErrInvalidTransition, e.Status)
		}
		e.Status = StatusEmergency
		e.Priority = priority

		next := make([]Entry, 0, len(current))
		next = append(next, e)
		next = append(next, current[:idx]...)
		next = append(next, current[idx+1:]...)
		return next, Changes{}, nil
	})
	metrics.TrackOperation("escalate_emergency", started, err)
	if err != nil {
		return Entry{}, err
	}

	m.publish(ctx, events.Event{
		Type:          events.TypeQueueReordered,
		Tenant:        tenant,
		DoctorID:      key.DoctorID,
		Date:          key.Date,
		AppointmentID: appointmentID,
		Positions:     positionsOf(after, ""),
	})
	m.logger.Warn().
		Str("queue", key.String()).
		Str("appointment_id", appointmentID).
		Int("priority", priority).
		Msg("emergency escalation")
	return after[0], nil
}

// Complete removes a finished appointment from its queue and frees its id.
func (m *Manager) Complete(ctx context.Context, tenant, appointmentID string) (Entry, error) {
	started := time.Now()
	var done Entry
	key, after, err := m.mutateAppointment(ctx, tenant, appointmentID, "", func(current []Entry, idx int) ([]Entry, Changes, error) {
		done = current[idx]
		next := make([]Entry, 0, len(current)-1)
		next = append(next, current[:idx]...)
		next = append(next, current[idx+1:]...)
		return next, Changes{Released: []string{appointmentID}, Completed: done.LocationID}, nil
	})
	metrics.TrackOperation("complete", started, err)
	if err != nil {
		return Entry{}, err
	}

	done.Status = StatusCompleted
	done.Position = 0
	done.EstimatedWaitTime = 0

	m.publish(ctx, events.Event{
		Type:          events.TypeQueueUpdated,
		Tenant:        tenant,
		DoctorID:      key.DoctorID,
		Date:          key.Date,
		AppointmentID: appointmentID,
		Positions:     positionsOf(after, ""),
	})
	return done, nil
}

// mutation derives the next arrangement of a queue from the current one, along
// with the index and counter changes committed with it.
type mutation func(current []Entry) (next []Entry, ch Changes, err error)

func (m *Manager) mutate(ctx context.Context, key Key, fn mutation) ([]Entry, error) {
	var before, after []Entry
	err := m.retry(ctx, func(ctx context.Context) error {
		return m.locker.WithLock(ctx, lockKey(key), func(lockCtx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(lockCtx, m.opts.StoreTimeout)
			defer cancel()

			current, err := m.store.Range(attemptCtx, key, 0, -1)
			if err != nil {
				return err
			}
			next, ch, err := fn(current)
			if err != nil {
				return err
			}
			if err := m.store.Replace(attemptCtx, key, next, ch); err != nil {
				return err
			}
			before, after = current, next
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	positioned := withPositions(after, m.opts.BaseMinutesPerPatient)
	m.invalidate(ctx, key, before, positioned)
	return positioned, nil
}

// mutateAppointment applies fn to the queue holding appointmentID. A non-empty
// doctorID must own that queue.
func (m *Manager) mutateAppointment(ctx context.Context, tenant, appointmentID, doctorID string, fn func(current []Entry, idx int) ([]Entry, Changes, error)) (Key, []Entry, error) {
	if tenant == "" || appointmentID == "" {
		return Key{}, nil, fmt.Errorf("%w: tenant and appointment id are required", ErrInvalidRequest)
	}

	var key Key
	err := m.retry(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
		defer cancel()
		k, _, err := findKey(ctx, m.store, tenant, appointmentID)
		key = k
		return err
	})
	if err != nil {
		return Key{}, nil, err
	}
	if doctorID != "" && key.DoctorID != doctorID {
		return Key{}, nil, ErrNotFound
	}

	after, err := m.mutate(ctx, key, func(current []Entry) ([]Entry, Changes, error) {
		idx := indexOf(current, appointmentID)
		if idx < 0 {
			return nil, Changes{}, ErrNotFound
		}
		return fn(current, idx)
	})
	if err != nil {
		return Key{}, nil, err
	}
	return key, after, nil
}

// retry runs op until it succeeds, fails with a caller error, or runs out of attempts.
func (m *Manager) retry(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op(ctx)
		switch {
		case err == nil:
			return struct{}{}, nil
		case Retryable(err), errors.Is(err, redisclient.ErrLockUnavailable):
			metrics.QueueRetries.WithLabelValues("store").Inc()
			return struct{}{}, err
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			metrics.QueueRetries.WithLabelValues("lock").Inc()
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(m.newBackOff()), backoff.WithMaxTries(uint(m.opts.MaxRetries+1)))
	return err
}

func (m *Manager) invalidate(ctx context.Context, key Key, sets ...[]Entry) {
	keys := []string{viewCacheKey(key)}
	seen := make(map[string]struct{})
	for _, set := range sets {
		for _, e := range set {
			if _, ok := seen[e.AppointmentID]; ok {
				continue
			}
			seen[e.AppointmentID] = struct{}{}
			keys = append(keys, positionCacheKey(key.Tenant, e.AppointmentID))
		}
	}
	if err := m.cache.Delete(ctx, keys...); err != nil {
		m.logger.Warn().Err(err).Str("queue", key.String()).Msg("cache invalidation failed")
	}
}

func (m *Manager) publish(ctx context.Context, ev events.Event) {
	if err := m.events.Publish(ctx, ev); err != nil {
		m.logger.Warn().Err(err).
			Str("event_type", string(ev.Type)).
			Str("appointment_id", ev.AppointmentID).
			Msg("event not emitted")
	}
}

func lockKey(k Key) string {
	return redisclient.QueueLockKey(k.Tenant, k.DoctorID, k.Date)
}

// findKey locates the queue holding appointmentID, trusting the appointment index
// first and scanning the tenant's queues when the index misses.
func findKey(ctx context.Context, store Store, tenant, appointmentID string) (Key, []Entry, error) {
	indexed, ok, err := store.Lookup(ctx, tenant, appointmentID)
	if err != nil {
		return Key{}, nil, err
	}
	if ok {
		entries, err := store.Range(ctx, indexed, 0, -1)
		if err != nil {
			return Key{}, nil, err
		}
		if indexOf(entries, appointmentID) >= 0 {
			return indexed, entries, nil
		}
	}

	keys, err := store.Keys(ctx, tenant)
	if err != nil {
		return Key{}, nil, err
	}
	for _, k := range keys {
		if ok && k == indexed {
			continue
		}
		entries, err := store.Range(ctx, k, 0, -1)
		if err != nil {
			return Key{}, nil, err
		}
		if indexOf(entries, appointmentID) >= 0 {
			return k, entries, nil
		}
	}
	return Key{}, nil, ErrNotFound
}
