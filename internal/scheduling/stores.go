package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/caremesh/hospital-booking/internal/auth"
)

// SlotStore owns per (hospital, date, time slot) capacity records. All
// occupancy mutation goes through TryAcquire/Release so the conditional
// update discipline is never bypassed.
type SlotStore interface {
	Get(ctx context.Context, hospitalID uuid.UUID, date time.Time, timeSlot string) (*SlotRecord, error)
	ListForDate(ctx context.Context, hospitalID uuid.UUID, date time.Time) ([]SlotRecord, error)

	// Materialize inserts the default record (capacity 1, occupied 0,
	// available) if the tuple is absent, and returns the current record
	// either way.
	Materialize(ctx context.Context, hospitalID uuid.UUID, date time.Time, timeSlot string) (*SlotRecord, error)

	// UpsertAvailability creates a default record or, when the tuple already
	// exists, updates the availability flag only. Occupancy is never reset.
	UpsertAvailability(ctx context.Context, hospitalID uuid.UUID, date time.Time, timeSlot string, available bool) (*SlotRecord, error)

	// TryAcquire atomically checks actual availability and increments the
	// occupied count, clearing the availability flag when the slot fills.
	// Returns ErrSlotUnavailable when capacity is exhausted or the slot is
	// manually disabled.
	TryAcquire(ctx context.Context, hospitalID uuid.UUID, date time.Time, timeSlot string) error

	// Release decrements the occupied count (floored at zero) and restores
	// the availability flag. Releasing a missing or empty slot is a no-op.
	Release(ctx context.Context, hospitalID uuid.UUID, date time.Time, timeSlot string) error
}

// AppointmentStore owns booking records. The active-status uniqueness
// constraint lives in the storage layer; Create and Reschedule surface a
// violation as ErrSchedulingConflict.
type AppointmentStore interface {
	Create(ctx context.Context, appt *Appointment) (*Appointment, error)

	// FindActiveConflict looks for another active appointment held by the
	// patient at the same date + time slot. excludeID skips one appointment
	// (the one being rescheduled); pass uuid.Nil to match all.
	FindActiveConflict(ctx context.Context, patientID uuid.UUID, date time.Time, timeSlot string, excludeID uuid.UUID) (*Appointment, error)

	// GetScoped restricts visibility to the requesting patient or the
	// owning hospital.
	GetScoped(ctx context.Context, id uuid.UUID, principal auth.Principal) (*Appointment, error)

	List(ctx context.Context, principal auth.Principal, status *Status, limit, offset int) ([]Appointment, error)

	// TransitionStatus is a compare-and-set: the update applies only while
	// the current status is one of from, and returns ErrStatusChanged when a
	// concurrent writer got there first. The returned row carries the
	// appointment's current slot tuple, which may differ from what the
	// caller read before the transaction.
	TransitionStatus(ctx context.Context, id uuid.UUID, to Status, from ...Status) (*Appointment, error)

	// Reschedule moves the appointment only while it is still active and
	// still sits on the expected old tuple; ErrStatusChanged otherwise.
	Reschedule(ctx context.Context, id uuid.UUID, fromDate time.Time, fromTimeSlot string, toDate time.Time, toTimeSlot string) (*Appointment, error)

	// Delete removes the row scoped to the principal and returns it, so the
	// caller can settle slot capacity from the authoritative final state.
	Delete(ctx context.Context, id uuid.UUID, principal auth.Principal) (*Appointment, error)

	// UpcomingForPatient lists the patient's next scheduled appointments on
	// or after from, soonest first.
	UpcomingForPatient(ctx context.Context, patientID uuid.UUID, from time.Time, limit int) ([]Appointment, error)

	StatsForPatient(ctx context.Context, patientID uuid.UUID) (AppointmentStats, error)
}

// Stores bundles the two stores bound to one transaction.
type Stores struct {
	Slots        SlotStore
	Appointments AppointmentStore
}

// TxManager runs a function inside a single transaction; both stores see
// the same tx and everything commits or rolls back together.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}
