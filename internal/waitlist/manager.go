package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/hackgods/clinic-queue-scheduling/internal/cache"
	"github.com/hackgods/clinic-queue-scheduling/internal/events"
	"github.com/hackgods/clinic-queue-scheduling/internal/metrics"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
	redisclient "github.com/hackgods/clinic-queue-scheduling/internal/redis"
)

const timeLayout = "15:04"

// Enqueuer places a promoted entry into a doctor's daily queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, tenant, doctorID, date string, e queue.Entry) (queue.Entry, error)
}

// Oracle answers whether a doctor can take one more patient.
type Oracle interface {
	IsAvailable(ctx context.Context, tenant, doctorID, date string, preferredTime *string) (bool, error)
}

type Options struct {
	CacheTTL     time.Duration
	StoreTimeout time.Duration
	// MaxRetries bounds the extra attempts made while an entry or slot lock is held elsewhere.
	MaxRetries int
	// Promote enqueues entries found available before marking them scheduled.
	Promote bool
}

// Manager owns the waitlist entries. Every change to an existing entry happens
// under that entry's lock, and a processing run books a doctor's day under the
// day's slot lock, so operator edits and concurrent runs never overwrite each other.
type Manager struct {
	repo   Repository
	queue  Enqueuer
	oracle Oracle
	locker redisclient.Locker
	cache  cache.Cache
	events events.Publisher
	opts   Options
	logger zerolog.Logger

	now        func() time.Time
	newID      func() string
	newBackOff func() backoff.BackOff
	lists      singleflight.Group
}

func NewManager(repo Repository, q Enqueuer, oracle Oracle, locker redisclient.Locker, c cache.Cache, pub events.Publisher, opts Options, logger zerolog.Logger) *Manager {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Manager{
		repo:   repo,
		queue:  q,
		oracle: oracle,
		locker: locker,
		cache:  c,
		events: pub,
		opts:   opts,
		logger: logger.With().Str("component", "waitlist").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
	}
}

func orAll(s string) string {
	if s == "" {
		return "all"
	}
	return s
}

func listCacheKey(tenant string, f Filter) string {
	return fmt.Sprintf("waitlist:%s:list:%s:%s:%s", tenant, orAll(f.DoctorID), orAll(f.ClinicID), orAll(string(f.Status)))
}

func (m *Manager) AddEntry(ctx context.Context, tenant string, in AddInput) (Entry, error) {
	if tenant == "" || in.PatientID == "" || in.DoctorID == "" || in.ClinicID == "" {
		return Entry{}, fmt.Errorf("%w: tenant, patient, doctor and clinic are required", ErrInvalidEntry)
	}
	if err := validateSchedule(in.PreferredDate, in.PreferredTime); err != nil {
		return Entry{}, err
	}
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	if !in.Priority.Valid() {
		return Entry{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidEntry, in.Priority)
	}

	now := m.now()
	e := Entry{
		ID:            m.newID(),
		PatientID:     in.PatientID,
		DoctorID:      in.DoctorID,
		ClinicID:      in.ClinicID,
		PreferredDate: in.PreferredDate,
		PreferredTime: in.PreferredTime,
		Priority:      in.Priority,
		Reason:        in.Reason,
		Status:        StatusWaiting,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	storeCtx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	err := m.repo.Create(storeCtx, tenant, e)
	cancel()
	if err != nil {
		return Entry{}, err
	}
	m.invalidate(ctx, tenant, e)

	m.logger.Info().
		Str("tenant", tenant).
		Str("entry_id", e.ID).
		Str("doctor_id", e.DoctorID).
		Str("priority", string(e.Priority)).
		Msg("waitlist entry added")
	return e, nil
}

// List returns matching entries in creation order. Listings are cached and advisory.
func (m *Manager) List(ctx context.Context, tenant string, f Filter) ([]Entry, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidEntry, f.Status)
	}
	return cache.Fetch(ctx, m.cache, &m.lists, listCacheKey(tenant, f), m.opts.CacheTTL, func(ctx context.Context) ([]Entry, error) {
		all, err := m.list(ctx, tenant)
		if err != nil {
			return nil, err
		}
		out := make([]Entry, 0, len(all))
		for _, e := range all {
			if f.matches(e) {
				out = append(out, e)
			}
		}
		return out, nil
	})
}

// Process walks the waiting entries of one doctor and clinic by priority and age,
// scheduling those the oracle finds room for and notifying the rest.
func (m *Manager) Process(ctx context.Context, tenant, doctorID, clinicID string) (ProcessResult, error) {
	started := time.Now()
	if tenant == "" || doctorID == "" || clinicID == "" {
		return ProcessResult{}, fmt.Errorf("%w: tenant, doctor and clinic are required", ErrInvalidEntry)
	}
	all, err := m.list(ctx, tenant)
	if err != nil {
		metrics.TrackOperation("waitlist_process", started, err)
		return ProcessResult{}, err
	}
	pending := make([]Entry, 0)
	for _, e := range all {
		if e.Status == StatusWaiting && e.DoctorID == doctorID && e.ClinicID == clinicID {
			pending = append(pending, e)
		}
	}
	res := m.process(ctx, tenant, pending)
	metrics.TrackOperation("waitlist_process", started, nil)
	return res, nil
}

// ProcessAll runs Process for every doctor and clinic pair with waiting entries.
func (m *Manager) ProcessAll(ctx context.Context, tenant string) (ProcessResult, error) {
	started := time.Now()
	all, err := m.list(ctx, tenant)
	if err != nil {
		metrics.TrackOperation("waitlist_process_all", started, err)
		return ProcessResult{}, err
	}

	type pair struct{ doctor, clinic string }
	groups := make(map[pair][]Entry)
	var order []pair
	for _, e := range all {
		if e.Status != StatusWaiting {
			continue
		}
		p := pair{e.DoctorID, e.ClinicID}
		if _, ok := groups[p]; !ok {
			order = append(order, p)
		}
		groups[p] = append(groups[p], e)
	}

	var total ProcessResult
	for _, p := range order {
		if err := ctx.Err(); err != nil {
			metrics.TrackOperation("waitlist_process_all", started, err)
			return total, err
		}
		total.add(m.process(ctx, tenant, groups[p]))
	}
	metrics.TrackOperation("waitlist_process_all", started, nil)
	return total, nil
}

func (m *Manager) process(ctx context.Context, tenant string, pending []Entry) ProcessResult {
	SortForProcessing(pending)

	var res ProcessResult
	for _, e := range pending {
		res.Processed++
		log := m.logger.With().Str("tenant", tenant).Str("entry_id", e.ID).Logger()

		var next Entry
		changed := false
		err := m.locked(ctx, redisclient.WaitlistEntryLockKey(tenant, e.ID), func(ctx context.Context) error {
			var err error
			next, changed, err = m.processEntry(ctx, tenant, e.ID)
			return err
		})
		if err != nil || !changed {
			if err != nil {
				log.Warn().Err(err).Msg("waitlist entry left waiting")
			} else {
				log.Debug().Msg("entry no longer waiting, skipped")
			}
			res.Skipped++
			metrics.WaitlistOutcomes.WithLabelValues("skipped").Inc()
			continue
		}
		m.invalidate(ctx, tenant, next)

		evType := events.TypeWaitlistNotified
		if next.Status == StatusScheduled {
			evType = events.TypeWaitlistScheduled
			res.Scheduled++
			metrics.WaitlistOutcomes.WithLabelValues("scheduled").Inc()
		} else {
			res.Notified++
			metrics.WaitlistOutcomes.WithLabelValues("notified").Inc()
		}
		if err := m.events.Publish(ctx, events.Event{
			Type:          evType,
			Tenant:        tenant,
			DoctorID:      next.DoctorID,
			Date:          next.PreferredDate,
			AppointmentID: next.ID,
		}); err != nil {
			log.Warn().Err(err).Str("event_type", string(evType)).Msg("event not emitted")
		}
	}

	if res.Processed > 0 {
		m.logger.Info().
			Str("tenant", tenant).
			Int("processed", res.Processed).
			Int("scheduled", res.Scheduled).
			Int("notified", res.Notified).
			Int("skipped", res.Skipped).
			Msg("waitlist processed")
	}
	return res
}

// processEntry re-reads entry id under its lock and, if it is still waiting,
// schedules or notifies it. The availability check, promotion and save run under
// the slot lock of the entry's doctor and day so concurrent runs cannot both take
// the last place. changed is false when the entry was edited or removed since the
// run listed it.
func (m *Manager) processEntry(ctx context.Context, tenant, id string) (next Entry, changed bool, err error) {
	e, err := m.get(ctx, tenant, id)
	if errors.Is(err, ErrEntryNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if e.Status != StatusWaiting {
		return e, false, nil
	}

	err = m.locker.WithLock(ctx, redisclient.WaitlistSlotLockKey(tenant, e.DoctorID, e.PreferredDate), func(ctx context.Context) error {
		available, err := m.oracle.IsAvailable(ctx, tenant, e.DoctorID, e.PreferredDate, e.PreferredTime)
		if err != nil {
			return fmt.Errorf("availability unknown: %w", err)
		}

		now := m.now()
		next = e
		next.UpdatedAt = now
		if available {
			if err := m.promote(ctx, tenant, e); err != nil {
				return fmt.Errorf("promote to queue: %w", err)
			}
			next.Status = StatusScheduled
			next.ScheduledAt = &now
		} else {
			next.Status = StatusNotified
			next.NotifiedAt = &now
		}
		return m.save(ctx, tenant, next)
	})
	if err != nil {
		return Entry{}, false, err
	}
	return next, true, nil
}

func (m *Manager) promote(ctx context.Context, tenant string, e Entry) error {
	if !m.opts.Promote {
		return nil
	}
	_, err := m.queue.Enqueue(ctx, tenant, e.DoctorID, e.PreferredDate, queue.Entry{
		AppointmentID: e.ID,
		PatientID:     e.PatientID,
		LocationID:    e.ClinicID,
		Priority:      e.Priority.Rank(),
	})
	if errors.Is(err, queue.ErrDuplicateEntry) {
		// promoted by an earlier run that failed to save the status
		return nil
	}
	return err
}

func (m *Manager) Remove(ctx context.Context, tenant, id string) error {
	var removed Entry
	err := m.locked(ctx, redisclient.WaitlistEntryLockKey(tenant, id), func(ctx context.Context) error {
		e, err := m.get(ctx, tenant, id)
		if err != nil {
			return err
		}
		storeCtx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
		defer cancel()
		if err := m.repo.Delete(storeCtx, tenant, id); err != nil {
			return err
		}
		removed = e
		return nil
	})
	if err != nil {
		return err
	}
	m.invalidate(ctx, tenant, removed)
	return nil
}

func (m *Manager) Update(ctx context.Context, tenant, id string, p Patch) (Entry, error) {
	var before, next Entry
	err := m.locked(ctx, redisclient.WaitlistEntryLockKey(tenant, id), func(ctx context.Context) error {
		e, err := m.get(ctx, tenant, id)
		if err != nil {
			return err
		}
		patched, err := applyPatch(e, p)
		if err != nil {
			return err
		}
		patched.UpdatedAt = m.now()
		if err := m.save(ctx, tenant, patched); err != nil {
			return err
		}
		before, next = e, patched
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	m.invalidate(ctx, tenant, before)
	return next, nil
}

func applyPatch(e Entry, p Patch) (Entry, error) {
	next := e
	if p.PreferredDate != nil {
		next.PreferredDate = *p.PreferredDate
	}
	if p.PreferredTime != nil {
		if *p.PreferredTime == "" {
			next.PreferredTime = nil
		} else {
			t := *p.PreferredTime
			next.PreferredTime = &t
		}
	}
	if err := validateSchedule(next.PreferredDate, next.PreferredTime); err != nil {
		return Entry{}, err
	}
	if p.Priority != nil {
		if !p.Priority.Valid() {
			return Entry{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidEntry, *p.Priority)
		}
		next.Priority = *p.Priority
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return Entry{}, fmt.Errorf("%w: unknown status %q", ErrInvalidEntry, *p.Status)
		}
		next.Status = *p.Status
	}
	if p.Reason != nil {
		next.Reason = *p.Reason
	}
	return next, nil
}

// locked runs fn under key, retrying while the lock is held elsewhere.
func (m *Manager) locked(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := m.locker.WithLock(ctx, key, fn)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, redisclient.ErrLockNotAcquired), errors.Is(err, redisclient.ErrLockUnavailable):
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(m.newBackOff()), backoff.WithMaxTries(uint(m.opts.MaxRetries+1)))
	return err
}

func (m *Manager) get(ctx context.Context, tenant, id string) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()
	return m.repo.Get(ctx, tenant, id)
}

func (m *Manager) save(ctx context.Context, tenant string, e Entry) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()
	return m.repo.Save(ctx, tenant, e)
}

func (m *Manager) list(ctx context.Context, tenant string) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()
	return m.repo.List(ctx, tenant)
}

// Metrics summarizes the matching entries. Rates are percentages of the total.
func (m *Manager) Metrics(ctx context.Context, tenant string, f Filter) (Metrics, error) {
	entries, err := m.List(ctx, tenant, f)
	if err != nil {
		return Metrics{}, err
	}
	return buildMetrics(entries, m.now()), nil
}

func buildMetrics(entries []Entry, now time.Time) Metrics {
	out := Metrics{
		Total:      len(entries),
		ByPriority: make(map[Priority]int, len(priorities)),
		ByStatus:   make(map[Status]int, len(statuses)),
	}
	for _, p := range priorities {
		out.ByPriority[p] = 0
	}
	for _, s := range statuses {
		out.ByStatus[s] = 0
	}

	var waitedHours float64
	for _, e := range entries {
		out.ByPriority[e.Priority]++
		out.ByStatus[e.Status]++
		if e.Status == StatusWaiting {
			waitedHours += now.Sub(e.CreatedAt).Hours()
		}
	}
	if n := out.ByStatus[StatusWaiting]; n > 0 {
		out.AverageWaitTime = waitedHours / float64(n)
	}
	if out.Total > 0 {
		out.NotificationRate = float64(out.ByStatus[StatusNotified]) / float64(out.Total) * 100
		out.SchedulingRate = float64(out.ByStatus[StatusScheduled]) / float64(out.Total) * 100
	}
	return out
}

// invalidate drops every listing that could include e.
func (m *Manager) invalidate(ctx context.Context, tenant string, entries ...Entry) {
	var keys []string
	for _, e := range entries {
		for _, doctor := range []string{e.DoctorID, ""} {
			for _, clinic := range []string{e.ClinicID, ""} {
				keys = append(keys, listCacheKey(tenant, Filter{DoctorID: doctor, ClinicID: clinic}))
				for _, s := range statuses {
					keys = append(keys, listCacheKey(tenant, Filter{DoctorID: doctor, ClinicID: clinic, Status: s}))
				}
			}
		}
	}
	if err := m.cache.Delete(ctx, keys...); err != nil {
		m.logger.Warn().Err(err).Str("tenant", tenant).Msg("waitlist cache invalidation failed")
	}
}

func validateSchedule(date string, preferredTime *string) error {
	if _, err := time.Parse(queue.DateLayout, date); err != nil {
		return fmt.Errorf("%w: preferred date %q is not YYYY-MM-DD", ErrInvalidEntry, date)
	}
	if preferredTime != nil {
		if _, err := time.Parse(timeLayout, *preferredTime); err != nil {
			return fmt.Errorf("%w: preferred time %q is not HH:MM", ErrInvalidEntry, *preferredTime)
		}
	}
	return nil
}
