package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrDoctorNotFound = errors.New("doctor not found")

type Doctor struct {
	ID                    string
	PrimaryLocationID     string
	MaxAppointmentsPerDay *int
}

// WorkingHours are the opening times of a location on one weekday, as HH:MM.
type WorkingHours struct {
	LocationID string
	Weekday    time.Weekday
	OpensAt    string
	ClosesAt   string
}

// Repository holds the scheduling facts the oracle reasons about.
type Repository interface {
	GetDoctor(ctx context.Context, tenant, doctorID string) (Doctor, error)
	// CountActiveAppointments counts appointments on day that are not cancelled,
	// completed or no-shows.
	CountActiveAppointments(ctx context.Context, tenant, doctorID string, day time.Time) (int, error)
	// GetWorkingHours reports false when the location is closed on weekday.
	GetWorkingHours(ctx context.Context, tenant, locationID string, weekday time.Weekday) (WorkingHours, bool, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) GetDoctor(ctx context.Context, tenant, doctorID string) (Doctor, error) {
	var d Doctor
	var location *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, primary_location_id, max_appointments_per_day
		FROM doctors
		WHERE tenant_id = $1 AND id = $2
	`, tenant, doctorID).Scan(&d.ID, &location, &d.MaxAppointmentsPerDay)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Doctor{}, ErrDoctorNotFound
		}
		return Doctor{}, fmt.Errorf("load doctor %s: %w", doctorID, err)
	}
	if location != nil {
		d.PrimaryLocationID = *location
	}
	return d, nil
}

func (r *PgRepository) CountActiveAppointments(ctx context.Context, tenant, doctorID string, day time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE tenant_id = $1
		  AND doctor_id = $2
		  AND scheduled_for = $3::date
		  AND status NOT IN ('cancelled', 'completed', 'no_show')
	`, tenant, doctorID, day.Format("2006-01-02")).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count appointments for %s: %w", doctorID, err)
	}
	return n, nil
}

func (r *PgRepository) GetWorkingHours(ctx context.Context, tenant, locationID string, weekday time.Weekday) (WorkingHours, bool, error) {
	wh := WorkingHours{LocationID: locationID, Weekday: weekday}
	err := r.pool.QueryRow(ctx, `
		SELECT to_char(opens_at, 'HH24:MI'), to_char(closes_at, 'HH24:MI')
		FROM working_hours
		WHERE tenant_id = $1 AND location_id = $2 AND weekday = $3
	`, tenant, locationID, int(weekday)).Scan(&wh.OpensAt, &wh.ClosesAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkingHours{}, false, nil
		}
		return WorkingHours{}, false, fmt.Errorf("load working hours for %s: %w", locationID, err)
	}
	return wh, true, nil
}
