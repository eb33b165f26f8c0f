package waitlist

import (
	"sort"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities; higher is served first. Unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

func (p Priority) Valid() bool { return p.Rank() > 0 }

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusNotified  Status = "notified"
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusNotified, StatusScheduled, StatusCancelled:
		return true
	}
	return false
}

var (
	priorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}
	statuses   = []Status{StatusWaiting, StatusNotified, StatusScheduled, StatusCancelled}
)

// Entry is a patient's request to be seen by a doctor when a slot frees up.
type Entry struct {
	ID            string     `json:"id"`
	PatientID     string     `json:"patient_id"`
	DoctorID      string     `json:"doctor_id"`
	ClinicID      string     `json:"clinic_id"`
	PreferredDate string     `json:"preferred_date"`
	PreferredTime *string    `json:"preferred_time,omitempty"`
	Priority      Priority   `json:"priority"`
	Reason        string     `json:"reason,omitempty"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	NotifiedAt    *time.Time `json:"notified_at,omitempty"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
}

type AddInput struct {
	PatientID     string   `json:"patient_id"`
	DoctorID      string   `json:"doctor_id"`
	ClinicID      string   `json:"clinic_id"`
	PreferredDate string   `json:"preferred_date"`
	PreferredTime *string  `json:"preferred_time,omitempty"`
	Priority      Priority `json:"priority,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// Filter narrows listings; empty fields match everything.
type Filter struct {
	DoctorID string
	ClinicID string
	Status   Status
}

func (f Filter) matches(e Entry) bool {
	return (f.DoctorID == "" || e.DoctorID == f.DoctorID) &&
		(f.ClinicID == "" || e.ClinicID == f.ClinicID) &&
		(f.Status == "" || e.Status == f.Status)
}

// Patch carries the mutable fields of an entry; nil fields are left alone.
type Patch struct {
	PreferredDate *string   `json:"preferred_date,omitempty"`
	PreferredTime *string   `json:"preferred_time,omitempty"`
	Priority      *Priority `json:"priority,omitempty"`
	Reason        *string   `json:"reason,omitempty"`
	Status        *Status   `json:"status,omitempty"`
}

type ProcessResult struct {
	Processed int `json:"processed"`
	Scheduled int `json:"scheduled"`
	Notified  int `json:"notified"`
	Skipped   int `json:"skipped"`
}

func (r *ProcessResult) add(o ProcessResult) {
	r.Processed += o.Processed
	r.Scheduled += o.Scheduled
	r.Notified += o.Notified
	r.Skipped += o.Skipped
}

type Metrics struct {
	Total            int              `json:"total"`
	ByPriority       map[Priority]int `json:"by_priority"`
	ByStatus         map[Status]int   `json:"by_status"`
	AverageWaitTime  float64          `json:"average_wait_time_hours"`
	NotificationRate float64          `json:"notification_rate"`
	SchedulingRate   float64          `json:"scheduling_rate"`
}

// SortForProcessing orders entries urgent first, oldest first within a priority.
func SortForProcessing(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ri, rj := entries[i].Priority.Rank(), entries[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
