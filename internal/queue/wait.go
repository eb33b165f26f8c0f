package queue

import (
	"github.com/hackgods/clinic-queue-scheduling/internal/events"
)

// EstimatedWaitTime is the minutes a patient at position can expect to wait.
func EstimatedWaitTime(position, baseMinutesPerPatient int) int {
	return position * baseMinutesPerPatient
}

// withPositions returns a copy of entries with 1-indexed positions and estimates.
func withPositions(entries []Entry, base int) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.Position = i + 1
		e.EstimatedWaitTime = EstimatedWaitTime(i+1, base)
		out[i] = e
	}
	return out
}

// AverageWaitTime is the mean estimate over WAITING entries, 0 when there are none.
// Entries must already carry their estimates.
func AverageWaitTime(entries []Entry) float64 {
	var sum, n int
	for _, e := range entries {
		if e.Status != StatusWaiting {
			continue
		}
		sum += e.EstimatedWaitTime
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

func indexOf(entries []Entry, appointmentID string) int {
	for i, e := range entries {
		if e.AppointmentID == appointmentID {
			return i
		}
	}
	return -1
}

func positionsOf(entries []Entry, skip string) []events.Position {
	out := make([]events.Position, 0, len(entries))
	for _, e := range entries {
		if e.AppointmentID == skip {
			continue
		}
		out = append(out, events.Position{
			AppointmentID:     e.AppointmentID,
			Position:          e.Position,
			EstimatedWaitTime: e.EstimatedWaitTime,
		})
	}
	return out
}

// applyOrder rearranges current to follow newOrder. newOrder must name every
// current appointment exactly once.
func applyOrder(current []Entry, newOrder []string) ([]Entry, error) {
	if len(newOrder) != len(current) {
		return nil, ErrInvalidReorder
	}
	byID := make(map[string]Entry, len(current))
	for _, e := range current {
		byID[e.AppointmentID] = e
	}
	seen := make(map[string]struct{}, len(newOrder))
	out := make([]Entry, 0, len(newOrder))
	for _, id := range newOrder {
		if _, dup := seen[id]; dup {
			return nil, ErrInvalidReorder
		}
		e, ok := byID[id]
		if !ok {
			return nil, ErrInvalidReorder
		}
		seen[id] = struct{}{}
		out = append(out, e)
	}
	return out, nil
}
