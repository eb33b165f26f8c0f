// Package app assembles the queue engine from configuration for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/cache"
	"github.com/hackgods/clinic-queue-scheduling/internal/config"
	"github.com/hackgods/clinic-queue-scheduling/internal/engine"
	"github.com/hackgods/clinic-queue-scheduling/internal/events"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
	redisclient "github.com/hackgods/clinic-queue-scheduling/internal/redis"
	"github.com/hackgods/clinic-queue-scheduling/internal/waitlist"
)

// ConnectTimeout bounds startup connections.
const ConnectTimeout = 10 * time.Second

// NewLogger returns the root logger: JSON in production, console output in dev.
func NewLogger(env, service string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger()
	if env == "dev" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Str("service", service).Logger()
	}
	return logger
}

type App struct {
	Engine   *engine.Engine
	Queues   *queue.Manager
	Tracker  *queue.Tracker
	Stats    *queue.Aggregator
	Waitlist *waitlist.Manager

	dispatcher *events.Dispatcher
	closeSink  func() error
}

// Build wires every component on top of the given connections.
func Build(cfg config.Config, rdb *redis.Client, pool *pgxpool.Pool, logger zerolog.Logger) (*App, error) {
	sink, closeSink, err := newSink(cfg, rdb)
	if err != nil {
		return nil, err
	}
	dispatcher := events.NewDispatcher(sink, cfg.EventBuffer, cfg.EventTimeout, logger)

	c := cache.NewRedisCache(rdb)
	store := queue.NewRedisStore(rdb, cfg.QueueRetention)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	opts := queue.Options{
		BaseMinutesPerPatient: cfg.BaseMinutesPerPatient,
		QueueCacheTTL:         cfg.QueueCacheTTL,
		PositionCacheTTL:      cfg.PositionCacheTTL,
		StatsCacheTTL:         cfg.StatsCacheTTL,
		StoreTimeout:          cfg.StoreTimeout,
		MaxRetries:            cfg.StoreMaxRetries,
		LocationCapacity:      cfg.LocationCapacity,
	}

	queues := queue.NewManager(store, locker, c, dispatcher, opts, logger)
	tracker := queue.NewTracker(store, c, dispatcher, opts, logger)
	stats := queue.NewAggregator(store, c, opts, logger)

	waiting := waitlist.NewRedisRepository(rdb)
	oracle := availability.NewOracle(availability.NewPgRepository(pool), waitlist.NewReservations(waiting, cfg.StoreTimeout),
		cfg.DefaultMaxAppointmentsPerDay, cfg.OracleTimeout, logger)
	wl := waitlist.NewManager(waiting, queues, oracle, locker, c, dispatcher, waitlist.Options{
		CacheTTL:     cfg.WaitlistCacheTTL,
		StoreTimeout: cfg.StoreTimeout,
		MaxRetries:   cfg.StoreMaxRetries,
		Promote:      cfg.WaitlistPromote,
	}, logger)

	return &App{
		Engine:     engine.New(queues, tracker, wl, stats, logger),
		Queues:     queues,
		Tracker:    tracker,
		Stats:      stats,
		Waitlist:   wl,
		dispatcher: dispatcher,
		closeSink:  closeSink,
	}, nil
}

// Close drains pending events and releases the event sink.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.dispatcher.Close(ctx), a.closeSink())
}

func newSink(cfg config.Config, rdb *redis.Client) (events.Publisher, func() error, error) {
	noop := func() error { return nil }
	switch cfg.EventSink {
	case "redis":
		return events.NewRedisPublisher(rdb), noop, nil
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, nil, fmt.Errorf("EVENT_SINK=kafka needs EVENT_KAFKA_BROKERS")
		}
		p := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaEventTopic)
		return p, p.Close, nil
	case "none":
		return events.Nop{}, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown event sink %q", cfg.EventSink)
	}
}
