// Package engine routes typed commands to the queue, tracker, waitlist and stats components.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
	"github.com/hackgods/clinic-queue-scheduling/internal/waitlist"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingTenant  = errors.New("tenant is required")
)

type Queues interface {
	Enqueue(ctx context.Context, tenant, doctorID, date string, e queue.Entry) (queue.Entry, error)
	GetQueue(ctx context.Context, tenant, doctorID, date, locationID string) ([]queue.Entry, error)
	Snapshot(ctx context.Context, tenant, doctorID, date string) (queue.Snapshot, error)
	Confirm(ctx context.Context, tenant, appointmentID string) (queue.Entry, error)
	StartConsultation(ctx context.Context, tenant, appointmentID, doctorID string) (queue.Entry, error)
	Reorder(ctx context.Context, tenant, doctorID, date string, newOrder []string) ([]queue.Entry, error)
	EscalateEmergency(ctx context.Context, tenant, appointmentID string, priority int) (queue.Entry, error)
	Complete(ctx context.Context, tenant, appointmentID string) (queue.Entry, error)
}

type Positions interface {
	Locate(ctx context.Context, tenant, appointmentID string) (queue.Location, error)
}

type Waitlist interface {
	AddEntry(ctx context.Context, tenant string, in waitlist.AddInput) (waitlist.Entry, error)
	List(ctx context.Context, tenant string, f waitlist.Filter) ([]waitlist.Entry, error)
	Process(ctx context.Context, tenant, doctorID, clinicID string) (waitlist.ProcessResult, error)
	ProcessAll(ctx context.Context, tenant string) (waitlist.ProcessResult, error)
	Remove(ctx context.Context, tenant, id string) error
	Update(ctx context.Context, tenant, id string, p waitlist.Patch) (waitlist.Entry, error)
	Metrics(ctx context.Context, tenant string, f waitlist.Filter) (waitlist.Metrics, error)
}

type Stats interface {
	LocationStats(ctx context.Context, tenant, locationID string) queue.LocationStats
}

type Engine struct {
	queues    Queues
	positions Positions
	waitlist  Waitlist
	stats     Stats
	logger    zerolog.Logger
	tracer    trace.Tracer
}

func New(queues Queues, positions Positions, wl Waitlist, stats Stats, logger zerolog.Logger) *Engine {
	return &Engine{
		queues:    queues,
		positions: positions,
		waitlist:  wl,
		stats:     stats,
		logger:    logger.With().Str("component", "engine").Logger(),
		tracer:    otel.Tracer("github.com/hackgods/clinic-queue-scheduling/internal/engine"),
	}
}

// Execute runs cmd for tenant and returns the component's result value.
func (e *Engine) Execute(ctx context.Context, tenant string, cmd Command) (any, error) {
	if cmd == nil {
		return nil, ErrUnknownCommand
	}
	name := Name(cmd)
	ctx, span := e.tracer.Start(ctx, "engine."+name, trace.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("command", name),
	))
	defer span.End()

	if tenant == "" {
		span.SetStatus(codes.Error, ErrMissingTenant.Error())
		return nil, ErrMissingTenant
	}

	result, err := e.dispatch(ctx, tenant, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debug().Err(err).Str("tenant", tenant).Str("command", name).Msg("command failed")
		return nil, err
	}
	return result, nil
}

func (e *Engine) dispatch(ctx context.Context, tenant string, cmd Command) (any, error) {
	switch c := cmd.(type) {
	case Enqueue:
		return e.queues.Enqueue(ctx, tenant, c.DoctorID, c.Date, c.Entry)
	case GetQueue:
		return e.queues.GetQueue(ctx, tenant, c.DoctorID, c.Date, c.LocationID)
	case QueueSnapshot:
		return e.queues.Snapshot(ctx, tenant, c.DoctorID, c.Date)
	case Confirm:
		return e.queues.Confirm(ctx, tenant, c.AppointmentID)
	case StartConsultation:
		return e.queues.StartConsultation(ctx, tenant, c.AppointmentID, c.DoctorID)
	case Reorder:
		return e.queues.Reorder(ctx, tenant, c.DoctorID, c.Date, c.NewOrder)
	case EscalateEmergency:
		return e.queues.EscalateEmergency(ctx, tenant, c.AppointmentID, c.Priority)
	case Complete:
		return e.queues.Complete(ctx, tenant, c.AppointmentID)
	case Locate:
		return e.positions.Locate(ctx, tenant, c.AppointmentID)
	case AddWaitlistEntry:
		return e.waitlist.AddEntry(ctx, tenant, c.Input)
	case ListWaitlist:
		return e.waitlist.List(ctx, tenant, c.Filter)
	case ProcessWaitlist:
		if c.DoctorID == "" && c.ClinicID == "" {
			return e.waitlist.ProcessAll(ctx, tenant)
		}
		return e.waitlist.Process(ctx, tenant, c.DoctorID, c.ClinicID)
	case RemoveWaitlistEntry:
		return nil, e.waitlist.Remove(ctx, tenant, c.ID)
	case UpdateWaitlistEntry:
		return e.waitlist.Update(ctx, tenant, c.ID, c.Patch)
	case WaitlistMetrics:
		return e.waitlist.Metrics(ctx, tenant, c.Filter)
	case LocationStats:
		return e.stats.LocationStats(ctx, tenant, c.LocationID), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}
