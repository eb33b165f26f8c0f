package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/metrics"
)

var (
	ErrBufferFull = errors.New("event buffer full")
	ErrClosed     = errors.New("event dispatcher closed")
)

// Dispatcher is a Publisher that hands events to a sink asynchronously.
type Dispatcher struct {
	sink    Publisher
	timeout time.Duration
	logger  zerolog.Logger

	queue     chan Event
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

func NewDispatcher(sink Publisher, buffer int, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	d := &Dispatcher{
		sink:    sink,
		timeout: timeout,
		logger:  logger.With().Str("component", "events").Logger(),
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues ev for delivery. It never waits on the sink.
func (d *Dispatcher) Publish(_ context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- ev:
		return nil
	default:
		metrics.EventsDispatched.WithLabelValues(string(ev.Type), "dropped").Inc()
		return ErrBufferFull
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.sink.Publish(ctx, ev)
		cancel()
		if err != nil {
			metrics.EventsDispatched.WithLabelValues(string(ev.Type), "error").Inc()
			d.logger.Warn().Err(err).
				Str("event_type", string(ev.Type)).
				Str("tenant", ev.Tenant).
				Str("appointment_id", ev.AppointmentID).
				Msg("event delivery failed")
			continue
		}
		metrics.EventsDispatched.WithLabelValues(string(ev.Type), "delivered").Inc()
	}
}

// Close stops accepting events and waits until the buffer drains or ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
