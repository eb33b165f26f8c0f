package queue

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/hackgods/clinic-queue-scheduling/internal/cache"
)

// Aggregator derives per-location statistics from queue state. It never mutates
// queues and its answers are advisory.
type Aggregator struct {
	store  Store
	cache  cache.Cache
	opts   Options
	logger zerolog.Logger
	group  singleflight.Group
}

func NewAggregator(store Store, c cache.Cache, opts Options, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		cache:  c,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "stats").Logger(),
	}
}

func statsCacheKey(tenant, locationID string) string {
	return fmt.Sprintf("stats:%s:%s", tenant, locationID)
}

// LocationStats never fails: on store errors it returns a zeroed, unhealthy snapshot.
func (a *Aggregator) LocationStats(ctx context.Context, tenant, locationID string) LocationStats {
	stats, err := cache.Fetch(ctx, a.cache, &a.group, statsCacheKey(tenant, locationID), a.opts.StatsCacheTTL, func(ctx context.Context) (LocationStats, error) {
		ctx, cancel := context.WithTimeout(ctx, a.opts.StoreTimeout)
		defer cancel()
		return a.compute(ctx, tenant, locationID)
	})
	if err != nil {
		a.logger.Warn().Err(err).Str("tenant", tenant).Str("location_id", locationID).Msg("location stats unavailable")
		return LocationStats{LocationID: locationID}
	}
	return stats
}

func (a *Aggregator) compute(ctx context.Context, tenant, locationID string) (LocationStats, error) {
	keys, err := a.store.Keys(ctx, tenant)
	if err != nil {
		return LocationStats{}, err
	}

	var waiting, completed, waitSum int
	for _, k := range keys {
		entries, err := a.store.Range(ctx, k, 0, -1)
		if err != nil {
			return LocationStats{}, err
		}
		for _, e := range withPositions(entries, a.opts.BaseMinutesPerPatient) {
			if e.LocationID != locationID {
				continue
			}
			switch e.Status {
			case StatusWaiting:
				waiting++
				waitSum += e.EstimatedWaitTime
			case StatusCompleted:
				completed++
			}
		}
	}

	done, err := a.store.Completed(ctx, tenant, locationID)
	if err != nil {
		return LocationStats{}, err
	}
	completed += int(done)

	return buildLocationStats(locationID, waiting, waitSum, completed, a.opts.LocationCapacity), nil
}

func buildLocationStats(locationID string, waiting, waitSum, completed, capacity int) LocationStats {
	s := LocationStats{
		LocationID:     locationID,
		TotalWaiting:   waiting,
		CompletedCount: completed,
		Healthy:        true,
	}
	if waiting > 0 {
		s.AverageWaitTime = float64(waitSum) / float64(waiting)
	}
	if completed+waiting > 0 {
		s.Efficiency = float64(completed) / float64(completed+waiting) * 100
	}
	if capacity > 0 {
		s.Utilization = math.Min(float64(waiting)/float64(capacity)*100, 100)
	}
	return s
}
