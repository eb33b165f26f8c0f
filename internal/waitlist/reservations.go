package waitlist

import (
	"context"
	"time"
)

// Reservations counts scheduled waitlist entries per doctor and day. A scheduled
// entry holds one of the doctor's daily places before any appointment is booked
// for it, so the availability check adds these to the booked count.
type Reservations struct {
	repo    Repository
	timeout time.Duration
}

func NewReservations(repo Repository, timeout time.Duration) *Reservations {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Reservations{repo: repo, timeout: timeout}
}

func (r *Reservations) Reserved(ctx context.Context, tenant, doctorID, date string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	all, err := r.repo.List(ctx, tenant)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range all {
		if e.Status == StatusScheduled && e.DoctorID == doctorID && e.PreferredDate == date {
			n++
		}
	}
	return n, nil
}
