// Package availability decides whether a doctor can take one more patient on a day.
package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var ErrOracleUnavailable = errors.New("slot availability unavailable")

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Reservations counts places already promised on a doctor's day that the
// appointment book does not show yet, such as scheduled waitlist entries.
type Reservations interface {
	Reserved(ctx context.Context, tenant, doctorID, date string) (int, error)
}

type Oracle struct {
	repo         Repository
	reservations Reservations
	defaultMax   int
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewOracle uses defaultMax for doctors without their own daily limit.
// reservations may be nil.
func NewOracle(repo Repository, reservations Reservations, defaultMax int, timeout time.Duration, logger zerolog.Logger) *Oracle {
	if defaultMax <= 0 {
		defaultMax = 20
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Oracle{
		repo:         repo,
		reservations: reservations,
		defaultMax:   defaultMax,
		timeout:      timeout,
		logger:       logger.With().Str("component", "availability").Logger(),
	}
}

// IsAvailable reports whether doctorID has room on date, counting booked
// appointments and reservations against the daily limit, and, when preferredTime is
// set, whether the doctor's primary location is open then. Unknown doctors are
// never available.
func (o *Oracle) IsAvailable(ctx context.Context, tenant, doctorID, date string, preferredTime *string) (bool, error) {
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return false, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrOracleUnavailable, date)
	}
	var at time.Time
	if preferredTime != nil {
		if at, err = time.Parse(timeLayout, *preferredTime); err != nil {
			return false, fmt.Errorf("%w: time %q is not HH:MM", ErrOracleUnavailable, *preferredTime)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	doc, err := o.repo.GetDoctor(ctx, tenant, doctorID)
	if errors.Is(err, ErrDoctorNotFound) {
		o.logger.Debug().Str("doctor_id", doctorID).Msg("unknown doctor treated as unavailable")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}

	limit := o.defaultMax
	if doc.MaxAppointmentsPerDay != nil && *doc.MaxAppointmentsPerDay > 0 {
		limit = *doc.MaxAppointmentsPerDay
	}
	booked, err := o.repo.CountActiveAppointments(ctx, tenant, doctorID, day)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	if o.reservations != nil {
		reserved, err := o.reservations.Reserved(ctx, tenant, doctorID, date)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
		}
		booked += reserved
	}
	if booked >= limit {
		return false, nil
	}

	if preferredTime == nil {
		return true, nil
	}
	if doc.PrimaryLocationID == "" {
		return false, nil
	}
	hours, open, err := o.repo.GetWorkingHours(ctx, tenant, doc.PrimaryLocationID, day.Weekday())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	if !open {
		return false, nil
	}
	return within(at, hours)
}

func within(at time.Time, hours WorkingHours) (bool, error) {
	opens, err := time.Parse(timeLayout, hours.OpensAt)
	if err != nil {
		return false, fmt.Errorf("%w: opening time %q", ErrOracleUnavailable, hours.OpensAt)
	}
	closes, err := time.Parse(timeLayout, hours.ClosesAt)
	if err != nil {
		return false, fmt.Errorf("%w: closing time %q", ErrOracleUnavailable, hours.ClosesAt)
	}
	return !at.Before(opens) && at.Before(closes), nil
}
