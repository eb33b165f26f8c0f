// Package events carries queue notifications to subscribers. Emission never blocks
// the operation that produced the event: the Dispatcher buffers events and delivers
// them from its own goroutine, dropping them when the buffer is full.
package events

import (
	"context"
	"time"
)

type Type string

const (
	TypePositionUpdated   Type = "queue.position.updated"
	TypeQueueUpdated      Type = "queue.updated"
	TypeQueueReordered    Type = "queue.reordered"
	TypeWaitlistScheduled Type = "waitlist.scheduled"
	TypeWaitlistNotified  Type = "waitlist.notified"
)

type Position struct {
	AppointmentID     string `json:"appointment_id"`
	Position          int    `json:"position"`
	EstimatedWaitTime int    `json:"estimated_wait_time"`
}

type Event struct {
	ID            string     `json:"id"`
	Type          Type       `json:"type"`
	Tenant        string     `json:"tenant"`
	DoctorID      string     `json:"doctor_id,omitempty"`
	Date          string     `json:"date,omitempty"`
	AppointmentID string     `json:"appointment_id,omitempty"`
	Positions     []Position `json:"positions,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
