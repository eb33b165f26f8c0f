package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/hackgods/clinic-queue-scheduling/internal/cache"
	"github.com/hackgods/clinic-queue-scheduling/internal/events"
	"github.com/hackgods/clinic-queue-scheduling/internal/metrics"
)

// Tracker answers where an appointment currently stands across all queues of a tenant.
type Tracker struct {
	store  Store
	cache  cache.Cache
	events events.Publisher
	opts   Options
	logger zerolog.Logger
	group  singleflight.Group
}

func NewTracker(store Store, c cache.Cache, pub events.Publisher, opts Options, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		cache:  c,
		events: pub,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "tracker").Logger(),
	}
}

// Locate reports the position of appointmentID. Results are cached briefly, and each
// successful call emits a best-effort position update.
func (t *Tracker) Locate(ctx context.Context, tenant, appointmentID string) (Location, error) {
	started := time.Now()
	if tenant == "" || appointmentID == "" {
		return Location{}, fmt.Errorf("%w: tenant and appointment id are required", ErrInvalidRequest)
	}

	loc, err := cache.Fetch(ctx, t.cache, &t.group, positionCacheKey(tenant, appointmentID), t.opts.PositionCacheTTL, func(ctx context.Context) (Location, error) {
		ctx, cancel := context.WithTimeout(ctx, t.opts.StoreTimeout)
		defer cancel()

		key, entries, err := findKey(ctx, t.store, tenant, appointmentID)
		if err != nil {
			return Location{}, err
		}
		position := indexOf(entries, appointmentID) + 1
		return Location{
			AppointmentID:     appointmentID,
			DoctorID:          key.DoctorID,
			Date:              key.Date,
			Position:          position,
			TotalInQueue:      len(entries),
			EstimatedWaitTime: EstimatedWaitTime(position, t.opts.BaseMinutesPerPatient),
		}, nil
	})
	metrics.TrackOperation("locate", started, err)
	if err != nil {
		return Location{}, err
	}

	ev := events.Event{
		Type:          events.TypePositionUpdated,
		Tenant:        tenant,
		DoctorID:      loc.DoctorID,
		Date:          loc.Date,
		AppointmentID: appointmentID,
		Positions: []events.Position{{
			AppointmentID:     appointmentID,
			Position:          loc.Position,
			EstimatedWaitTime: loc.EstimatedWaitTime,
		}},
	}
	if err := t.events.Publish(ctx, ev); err != nil {
		t.logger.Warn().Err(err).Str("appointment_id", appointmentID).Msg("position update not emitted")
	}
	return loc, nil
}
