package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no-show"
)

// IsActive reports whether an appointment in this status still consumes
// slot capacity.
func (s Status) IsActive() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// CanTransition reports whether the status state machine permits from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Appointment is a booking record. Patient and hospital display names are
// snapshots taken at booking time so the historical record survives later
// profile edits.
type Appointment struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	PatientName  string
	HospitalID   uuid.UUID
	HospitalName string
	Date         time.Time // date-only, UTC midnight
	TimeSlot     string
	Symptoms     string
	Disease      string
	Status       Status
	Notes        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SlotRecord tracks capacity for one (hospital, date, time slot) tuple.
type SlotRecord struct {
	ID                  uuid.UUID
	HospitalID          uuid.UUID
	Date                time.Time
	TimeSlot            string
	IsAvailable         bool
	MaxAppointments     int
	CurrentAppointments int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ActuallyAvailable is what booking logic must consult: the manual flag can
// be cleared by the hospital even while capacity remains.
func (s SlotRecord) ActuallyAvailable() bool {
	return s.IsAvailable && s.CurrentAppointments < s.MaxAppointments
}

// AppointmentStats summarizes a patient's booking history for the
// dashboard view.
type AppointmentStats struct {
	Total     int
	Scheduled int
	Completed int
	Cancelled int
}

// NormalizeDate truncates a timestamp to UTC midnight. All slot and
// appointment dates are stored at date precision.
func NormalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
