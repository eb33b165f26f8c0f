package queue

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusEmergency  Status = "EMERGENCY"
	StatusCompleted  Status = "COMPLETED"
)

// DateLayout is the calendar-day format used in queue keys.
const DateLayout = "2006-01-02"

// Entry is one patient's claim on a position in a doctor's daily queue.
// Position and EstimatedWaitTime are derived from the store order on every read.
type Entry struct {
	AppointmentID     string     `json:"appointment_id"`
	PatientID         string     `json:"patient_id"`
	DoctorID          string     `json:"doctor_id"`
	LocationID        string     `json:"location_id,omitempty"`
	Status            Status     `json:"status"`
	Priority          int        `json:"priority"`
	CheckedInAt       time.Time  `json:"checked_in_at"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	EstimatedWaitTime int        `json:"estimated_wait_time"`
	ActualWaitTime    *int       `json:"actual_wait_time,omitempty"`
	Position          int        `json:"position"`
}

// Key addresses one doctor's queue for one day within a tenant.
type Key struct {
	Tenant   string
	DoctorID string
	Date     string
}

func NewKey(tenant, doctorID, date string) (Key, error) {
	if tenant == "" || doctorID == "" {
		return Key{}, fmt.Errorf("%w: tenant and doctor are required", ErrInvalidRequest)
	}
	if strings.Contains(tenant, ":") || strings.Contains(doctorID, ":") {
		return Key{}, fmt.Errorf("%w: identifiers must not contain ':'", ErrInvalidRequest)
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return Key{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidRequest, date)
	}
	return Key{Tenant: tenant, DoctorID: doctorID, Date: date}, nil
}

func (k Key) String() string {
	return fmt.Sprintf("queue:%s:%s:%s", k.Tenant, k.DoctorID, k.Date)
}

// ParseKey reverses Key.String.
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 4 || parts[0] != "queue" {
		return Key{}, fmt.Errorf("malformed queue key %q", raw)
	}
	return Key{Tenant: parts[1], DoctorID: parts[2], Date: parts[3]}, nil
}

// Location is the answer to "where is this appointment in line".
type Location struct {
	AppointmentID     string `json:"appointment_id"`
	DoctorID          string `json:"doctor_id"`
	Date              string `json:"date"`
	Position          int    `json:"position"`
	TotalInQueue      int    `json:"total_in_queue"`
	EstimatedWaitTime int    `json:"estimated_wait_time"`
}

// Snapshot summarizes one doctor/date queue.
type Snapshot struct {
	DoctorID        string  `json:"doctor_id"`
	Date            string  `json:"date"`
	Total           int     `json:"total"`
	Waiting         int     `json:"waiting"`
	Confirmed       int     `json:"confirmed"`
	InProgress      int     `json:"in_progress"`
	Emergency       int     `json:"emergency"`
	AverageWaitTime float64 `json:"average_wait_time"`
}

type LocationStats struct {
	LocationID      string  `json:"location_id"`
	TotalWaiting    int     `json:"total_waiting"`
	AverageWaitTime float64 `json:"average_wait_time"`
	CompletedCount  int     `json:"completed_count"`
	Efficiency      float64 `json:"efficiency"`
	Utilization     float64 `json:"utilization"`
	Healthy         bool    `json:"healthy"`
}
