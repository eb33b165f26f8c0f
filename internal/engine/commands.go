package engine

import (
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
	"github.com/hackgods/clinic-queue-scheduling/internal/waitlist"
)

// Command is one inbound operation. The set is closed: only this package can
// declare variants, and Engine.Execute handles each of them.
type Command interface {
	commandName() string
}

type Enqueue struct {
	DoctorID string
	Date     string
	Entry    queue.Entry
}

type GetQueue struct {
	DoctorID   string
	Date       string
	LocationID string
}

type QueueSnapshot struct {
	DoctorID string
	Date     string
}

type Confirm struct {
	AppointmentID string
}

type StartConsultation struct {
	AppointmentID string
	DoctorID      string
}

type Reorder struct {
	DoctorID string
	Date     string
	NewOrder []string
}

type EscalateEmergency struct {
	AppointmentID string
	Priority      int
}

type Complete struct {
	AppointmentID string
}

type Locate struct {
	AppointmentID string
}

type AddWaitlistEntry struct {
	Input waitlist.AddInput
}

type ListWaitlist struct {
	Filter waitlist.Filter
}

// ProcessWaitlist processes one doctor and clinic, or every pair when both are empty.
type ProcessWaitlist struct {
	DoctorID string
	ClinicID string
}

type RemoveWaitlistEntry struct {
	ID string
}

type UpdateWaitlistEntry struct {
	ID    string
	Patch waitlist.Patch
}

type WaitlistMetrics struct {
	Filter waitlist.Filter
}

type LocationStats struct {
	LocationID string
}

func (Enqueue) commandName() string             { return "enqueue" }
func (GetQueue) commandName() string            { return "get_queue" }
func (QueueSnapshot) commandName() string       { return "queue_snapshot" }
func (Confirm) commandName() string             { return "confirm" }
func (StartConsultation) commandName() string   { return "start_consultation" }
func (Reorder) commandName() string             { return "reorder" }
func (EscalateEmergency) commandName() string   { return "escalate_emergency" }
func (Complete) commandName() string            { return "complete" }
func (Locate) commandName() string              { return "locate" }
func (AddWaitlistEntry) commandName() string    { return "add_waitlist_entry" }
func (ListWaitlist) commandName() string        { return "list_waitlist" }
func (ProcessWaitlist) commandName() string     { return "process_waitlist" }
func (RemoveWaitlistEntry) commandName() string { return "remove_waitlist_entry" }
func (UpdateWaitlistEntry) commandName() string { return "update_waitlist_entry" }
func (WaitlistMetrics) commandName() string     { return "waitlist_metrics" }
func (LocationStats) commandName() string       { return "location_stats" }

// Name identifies cmd in logs, spans and metrics.
func Name(cmd Command) string { return cmd.commandName() }
