package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/engine"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
	"github.com/hackgods/clinic-queue-scheduling/internal/waitlist"
)

// Executor is satisfied by *engine.Engine.
type Executor interface {
	Execute(ctx context.Context, tenant string, cmd engine.Command) (any, error)
}

type handlers struct {
	exec   Executor
	logger zerolog.Logger
}

// run executes cmd for the request's tenant and writes the result with status,
// or the classified error.
func (h *handlers) run(w http.ResponseWriter, r *http.Request, cmd engine.Command, status int, shape func(any) any) {
	out, err := h.exec.Execute(r.Context(), GetTenant(r.Context()), cmd)
	if err != nil {
		code, kind := classify(err)
		if code >= http.StatusInternalServerError {
			h.logger.Error().Err(err).
				Str("request_id", GetRequestID(r.Context())).
				Str("command", engine.Name(cmd)).
				Msg("command failed")
		}
		writeError(w, code, kind, err.Error())
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	if shape != nil {
		out = shape(out)
	}
	writeJSON(w, status, out)
}

// decode reads an optional JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "could not parse JSON body")
		return false
	}
	return true
}

func (h *handlers) enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if !decode(w, r, &req) {
		return
	}
	entry := queue.Entry{
		AppointmentID: req.AppointmentID,
		PatientID:     req.PatientID,
		LocationID:    req.LocationID,
		Status:        req.Status,
		Priority:      req.Priority,
	}
	if req.CheckedInAt != nil {
		entry.CheckedInAt = req.CheckedInAt.UTC()
	}
	h.run(w, r, engine.Enqueue{
		DoctorID: chi.URLParam(r, "doctorID"),
		Date:     chi.URLParam(r, "date"),
		Entry:    entry,
	}, http.StatusCreated, nil)
}

func (h *handlers) getQueue(w http.ResponseWriter, r *http.Request) {
	doctorID, date := chi.URLParam(r, "doctorID"), chi.URLParam(r, "date")
	h.run(w, r, engine.GetQueue{
		DoctorID:   doctorID,
		Date:       date,
		LocationID: r.URL.Query().Get("location_id"),
	}, http.StatusOK, func(out any) any {
		entries, _ := out.([]queue.Entry)
		return QueueResponse{DoctorID: doctorID, Date: date, Entries: entries}
	})
}

func (h *handlers) snapshot(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, engine.QueueSnapshot{
		DoctorID: chi.URLParam(r, "doctorID"),
		Date:     chi.URLParam(r, "date"),
	}, http.StatusOK, nil)
}

func (h *handlers) reorder(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if !decode(w, r, &req) {
		return
	}
	doctorID, date := chi.URLParam(r, "doctorID"), chi.URLParam(r, "date")
	h.run(w, r, engine.Reorder{DoctorID: doctorID, Date: date, NewOrder: req.Order}, http.StatusOK, func(out any) any {
		entries, _ := out.([]queue.Entry)
		return QueueResponse{DoctorID: doctorID, Date: date, Entries: entries}
	})
}

func (h *handlers) confirm(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, engine.Confirm{AppointmentID: chi.URLParam(r, "id")}, http.StatusOK, nil)
}

func (h *handlers) start(w http.ResponseWriter, r *http.Request) {
	var req StartConsultationRequest
	if !decode(w, r, &req) {
		return
	}
	if req.DoctorID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "doctor_id is required")
		return
	}
	h.run(w, r, engine.StartConsultation{AppointmentID: chi.URLParam(r, "id"), DoctorID: req.DoctorID}, http.StatusOK, nil)
}

func (h *handlers) emergency(w http.ResponseWriter, r *http.Request) {
	var req EmergencyRequest
	if !decode(w, r, &req) {
		return
	}
	h.run(w, r, engine.EscalateEmergency{AppointmentID: chi.URLParam(r, "id"), Priority: req.Priority}, http.StatusOK, nil)
}

func (h *handlers) complete(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, engine.Complete{AppointmentID: chi.URLParam(r, "id")}, http.StatusOK, nil)
}

func (h *handlers) locate(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, engine.Locate{AppointmentID: chi.URLParam(r, "id")}, http.StatusOK, nil)
}

func (h *handlers) addWaitlist(w http.ResponseWriter, r *http.Request) {
	var in waitlist.AddInput
	if !decode(w, r, &in) {
		return
	}
	h.run(w, r, engine.AddWaitlistEntry{Input: in}, http.StatusCreated, nil)
}

func waitlistFilter(r *http.Request) waitlist.Filter {
	q := r.URL.Query()
	return waitlist.Filter{
		DoctorID: q.Get("doctor_id"),
		ClinicID: q.Get("clinic_id"),
		Status:   waitlist.Status(q.Get("status")),
	}
}

func (h *handlers) listWaitlist(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, engine.ListWaitlist{Filter: waitlistFilter(r)}, http.StatusOK, func(out any) any {
		entries, _ := out.([]waitlist.Entry)
		if entries == nil {
			entries = []waitlist.Entry{}
		}
		return WaitlistResponse{Entries: entries}
	})
}

func (h *handlers) waitlistMetrics(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, engine.WaitlistMetrics{Filter: waitlistFilter(r)}, http.StatusOK, nil)
}

func (h *handlers) updateWaitlist(w http.ResponseWriter, r *http.Request) {
	var p waitlist.Patch
	if !decode(w, r, &p) {
		return
	}
	h.run(w, r, engine.UpdateWaitlistEntry{ID: chi.URLParam(r, "id"), Patch: p}, http.StatusOK, nil)
}

func (h *handlers) removeWaitlist(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, engine.RemoveWaitlistEntry{ID: chi.URLParam(r, "id")}, http.StatusNoContent, nil)
}

func (h *handlers) processWaitlist(w http.ResponseWriter, r *http.Request) {
	var req ProcessWaitlistRequest
	if !decode(w, r, &req) {
		return
	}
	if (req.DoctorID == "") != (req.ClinicID == "") {
		writeError(w, http.StatusBadRequest, "invalid_request", "doctor_id and clinic_id go together")
		return
	}
	h.run(w, r, engine.ProcessWaitlist{DoctorID: req.DoctorID, ClinicID: req.ClinicID}, http.StatusOK, nil)
}

func (h *handlers) locationStats(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, engine.LocationStats{LocationID: chi.URLParam(r, "locationID")}, http.StatusOK, nil)
}
