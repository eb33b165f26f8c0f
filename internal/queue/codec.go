package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

const codecVersion = 1

// storedEntry is the on-store shape of an Entry. Derived fields are not persisted.
type storedEntry struct {
	V             int        `json:"v"`
	AppointmentID string     `json:"aid"`
	PatientID     string     `json:"pid"`
	DoctorID      string     `json:"did"`
	LocationID    string     `json:"lid,omitempty"`
	Status        Status     `json:"st"`
	Priority      int        `json:"pr"`
	CheckedInAt   time.Time  `json:"cin"`
	ConfirmedAt   *time.Time `json:"cat,omitempty"`
	StartedAt     *time.Time `json:"sat,omitempty"`
	ActualWait    *int       `json:"aw,omitempty"`
}

func EncodeEntry(e Entry) (string, error) {
	if e.AppointmentID == "" {
		return "", fmt.Errorf("%w: missing appointment id", ErrCorruptEntry)
	}
	data, err := json.Marshal(storedEntry{
		V:             codecVersion,
		AppointmentID: e.AppointmentID,
		PatientID:     e.PatientID,
		DoctorID:      e.DoctorID,
		LocationID:    e.LocationID,
		Status:        e.Status,
		Priority:      e.Priority,
		CheckedInAt:   e.CheckedInAt,
		ConfirmedAt:   e.ConfirmedAt,
		StartedAt:     e.StartedAt,
		ActualWait:    e.ActualWaitTime,
	})
	if err != nil {
		return "", fmt.Errorf("encode entry %s: %w", e.AppointmentID, err)
	}
	return string(data), nil
}

func DecodeEntry(raw string) (Entry, error) {
	var s storedEntry
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	if s.V != codecVersion {
		return Entry{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptEntry, s.V)
	}
	if s.AppointmentID == "" {
		return Entry{}, fmt.Errorf("%w: missing appointment id", ErrCorruptEntry)
	}
	return Entry{
		AppointmentID:  s.AppointmentID,
		PatientID:      s.PatientID,
		DoctorID:       s.DoctorID,
		LocationID:     s.LocationID,
		Status:         s.Status,
		Priority:       s.Priority,
		CheckedInAt:    s.CheckedInAt,
		ConfirmedAt:    s.ConfirmedAt,
		StartedAt:      s.StartedAt,
		ActualWaitTime: s.ActualWait,
	}, nil
}

func encodeAll(entries []Entry) ([]any, error) {
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		raw, err := EncodeEntry(e)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func decodeAll(raws []string) ([]Entry, error) {
	out := make([]Entry, 0, len(raws))
	for i, raw := range raws {
		e, err := DecodeEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}
