package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
	"github.com/hackgods/clinic-queue-scheduling/internal/waitlist"
)

type EnqueueRequest struct {
	AppointmentID string       `json:"appointment_id"`
	PatientID     string       `json:"patient_id"`
	LocationID    string       `json:"location_id,omitempty"`
	Status        queue.Status `json:"status,omitempty"`
	Priority      int          `json:"priority,omitempty"`
	CheckedInAt   *time.Time   `json:"checked_in_at,omitempty"`
}

type ReorderRequest struct {
	Order []string `json:"order"`
}

type StartConsultationRequest struct {
	DoctorID string `json:"doctor_id"`
}

type EmergencyRequest struct {
	Priority int `json:"priority"`
}

type ProcessWaitlistRequest struct {
	DoctorID string `json:"doctor_id"`
	ClinicID string `json:"clinic_id"`
}

type QueueResponse struct {
	DoctorID string        `json:"doctor_id"`
	Date     string        `json:"date"`
	Entries  []queue.Entry `json:"entries"`
}

type WaitlistResponse struct {
	Entries []waitlist.Entry `json:"entries"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, details string) {
	writeJSON(w, status, ErrorResponse{Error: kind, Details: details})
}
