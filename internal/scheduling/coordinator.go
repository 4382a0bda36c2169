package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caremesh/hospital-booking/internal/auth"
	"github.com/caremesh/hospital-booking/internal/directory"
	"github.com/caremesh/hospital-booking/internal/observability"
	redisclient "github.com/caremesh/hospital-booking/internal/redis"
)

// HospitalDirectory is the slice of the directory the coordinator needs:
// provider existence plus the display name snapshotted onto appointments.
type HospitalDirectory interface {
	GetHospital(ctx context.Context, id uuid.UUID) (*directory.Hospital, error)
}

// Coordinator orchestrates create/reschedule/cancel across the slot and
// appointment stores. Every multi-step mutation runs inside one transaction
// so a partial failure can never leave occupancy and appointments
// disagreeing, and slot-level Redis locks serialize racing bookers before
// they contend on the database row.
type Coordinator struct {
	tx        TxManager
	slots     SlotStore
	appts     AppointmentStore
	hospitals HospitalDirectory
	locker    redisclient.Locker
	logger    *zap.Logger
	metrics   *observability.BookingMetrics
}

func NewCoordinator(
	tx TxManager,
	slots SlotStore,
	appts AppointmentStore,
	hospitals HospitalDirectory,
	locker redisclient.Locker,
	logger *zap.Logger,
	metrics *observability.BookingMetrics,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		tx:        tx,
		slots:     slots,
		appts:     appts,
		hospitals: hospitals,
		locker:    locker,
		logger:    logger,
		metrics:   metrics,
	}
}

func lockKey(hospitalID uuid.UUID, date time.Time, timeSlot string) string {
	return redisclient.SlotLockKey(hospitalID, NormalizeDate(date).Format("2006-01-02"), timeSlot)
}

// Create books an appointment: validate hospital, reject a same-patient
// same-tuple double booking, then acquire capacity and insert the record
// inside one transaction. A failed insert rolls the acquired capacity back.
func (c *Coordinator) Create(ctx context.Context, principal auth.Principal, hospitalID uuid.UUID, date time.Time, timeSlot, symptoms, disease string) (*Appointment, error) {
	date = NormalizeDate(date)

	hospital, err := c.hospitals.GetHospital(ctx, hospitalID)
	if err != nil {
		if errors.Is(err, directory.ErrHospitalNotFound) {
			c.metrics.ObserveOperation("create", "not_found")
			return nil, err
		}
		return nil, fmt.Errorf("load hospital: %w", err)
	}

	// Fast-path rejection; the partial unique index remains the
	// authoritative guard inside the transaction.
	if _, err := c.appts.FindActiveConflict(ctx, principal.ID, date, timeSlot, uuid.Nil); err == nil {
		c.metrics.ObserveOperation("create", "conflict")
		return nil, ErrSchedulingConflict
	} else if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("check conflict: %w", err)
	}

	var created *Appointment

	err = c.locker.WithSlotLock(ctx, lockKey(hospitalID, date, timeSlot), func(lockCtx context.Context) error {
		return c.tx.WithinTx(lockCtx, func(txCtx context.Context, s Stores) error {
			// Absence is not unavailability: materialize from the default
			// template before attempting acquisition.
			if _, err := s.Slots.Materialize(txCtx, hospitalID, date, timeSlot); err != nil {
				return fmt.Errorf("materialize slot: %w", err)
			}

			if err := s.Slots.TryAcquire(txCtx, hospitalID, date, timeSlot); err != nil {
				return err
			}

			appt, err := s.Appointments.Create(txCtx, &Appointment{
				PatientID:    principal.ID,
				PatientName:  principal.Name,
				HospitalID:   hospitalID,
				HospitalName: hospital.Name,
				Date:         date,
				TimeSlot:     timeSlot,
				Symptoms:     symptoms,
				Disease:      disease,
				Status:       StatusScheduled,
			})
			if err != nil {
				// Rolling back also undoes the slot acquisition above.
				return err
			}

			created = appt
			return nil
		})
	})

	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			c.metrics.ObserveOperation("create", "contended")
			return nil, ErrSlotContended
		case errors.Is(err, ErrSlotUnavailable):
			c.metrics.ObserveOperation("create", "unavailable")
			c.metrics.ObserveSlotConflict()
			return nil, err
		case errors.Is(err, ErrSchedulingConflict):
			c.metrics.ObserveOperation("create", "conflict")
			return nil, err
		default:
			c.metrics.ObserveOperation("create", "error")
			return nil, err
		}
	}

	c.metrics.ObserveOperation("create", "ok")
	c.logger.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("hospital_id", hospitalID.String()),
		zap.String("date", date.Format("2006-01-02")),
		zap.String("time_slot", timeSlot),
	)
	return created, nil
}

func (c *Coordinator) Get(ctx context.Context, principal auth.Principal, id uuid.UUID) (*Appointment, error) {
	return c.appts.GetScoped(ctx, id, principal)
}

func (c *Coordinator) List(ctx context.Context, principal auth.Principal, status *Status, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return c.appts.List(ctx, principal, status, limit, offset)
}

// Cancel marks the appointment cancelled and releases its slot in one
// transaction. The status flip is a compare-and-set on the active statuses,
// so when two cancels race only the winner releases capacity; the loser
// re-reads and reports the already-cancelled record as a no-op success.
func (c *Coordinator) Cancel(ctx context.Context, principal auth.Principal, id uuid.UUID) (*Appointment, error) {
	appt, err := c.appts.GetScoped(ctx, id, principal)
	if err != nil {
		return nil, err
	}

	if appt.Status == StatusCancelled {
		return appt, nil
	}
	if !CanTransition(appt.Status, StatusCancelled) {
		return nil, ErrInvalidTransition
	}

	var updated *Appointment
	err = c.tx.WithinTx(ctx, func(txCtx context.Context, s Stores) error {
		cancelled, err := s.Appointments.TransitionStatus(txCtx, id, StatusCancelled, StatusScheduled, StatusConfirmed)
		if err != nil {
			return err
		}
		// Release against the tuple the row holds now, not the pre-read
		// one: a concurrent reschedule may have moved the appointment.
		updated = cancelled
		return s.Slots.Release(txCtx, cancelled.HospitalID, cancelled.Date, cancelled.TimeSlot)
	})
	if errors.Is(err, ErrStatusChanged) {
		// Lost the race to another writer. If that writer cancelled, this
		// call is still an idempotent success.
		current, getErr := c.appts.GetScoped(ctx, id, principal)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == StatusCancelled {
			c.metrics.ObserveOperation("cancel", "ok")
			return current, nil
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		c.metrics.ObserveOperation("cancel", "error")
		return nil, err
	}

	c.metrics.ObserveOperation("cancel", "ok")
	c.logger.Info("appointment cancelled", zap.String("appointment_id", id.String()))
	return updated, nil
}

// Reschedule moves an active appointment to a new date/slot. Release of the
// old tuple, acquisition of the new one and the row update all happen inside
// one transaction, so a failed acquisition rolls the release back too. The
// update is conditional on the row still being active on the old tuple; a
// concurrent cancel or reschedule makes it fail cleanly instead of leaking
// occupancy.
func (c *Coordinator) Reschedule(ctx context.Context, principal auth.Principal, id uuid.UUID, newDate time.Time, newTimeSlot string) (*Appointment, error) {
	newDate = NormalizeDate(newDate)

	appt, err := c.appts.GetScoped(ctx, id, principal)
	if err != nil {
		return nil, err
	}
	if !appt.Status.IsActive() {
		return nil, ErrInvalidTransition
	}
	if appt.Date.Equal(newDate) && appt.TimeSlot == newTimeSlot {
		return appt, nil
	}

	var updated *Appointment

	err = c.locker.WithSlotLock(ctx, lockKey(appt.HospitalID, newDate, newTimeSlot), func(lockCtx context.Context) error {
		return c.tx.WithinTx(lockCtx, func(txCtx context.Context, s Stores) error {
			target, err := s.Slots.Materialize(txCtx, appt.HospitalID, newDate, newTimeSlot)
			if err != nil {
				return fmt.Errorf("materialize target slot: %w", err)
			}
			if !target.ActuallyAvailable() {
				return ErrSlotUnavailable
			}

			if _, err := s.Appointments.FindActiveConflict(txCtx, appt.PatientID, newDate, newTimeSlot, appt.ID); err == nil {
				return ErrSchedulingConflict
			} else if !errors.Is(err, ErrAppointmentNotFound) {
				return fmt.Errorf("check conflict: %w", err)
			}

			if err := s.Slots.Release(txCtx, appt.HospitalID, appt.Date, appt.TimeSlot); err != nil {
				return err
			}
			if err := s.Slots.TryAcquire(txCtx, appt.HospitalID, newDate, newTimeSlot); err != nil {
				return err
			}

			updated, err = s.Appointments.Reschedule(txCtx, id, appt.Date, appt.TimeSlot, newDate, newTimeSlot)
			return err
		})
	})

	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			c.metrics.ObserveOperation("reschedule", "contended")
			return nil, ErrSlotContended
		case errors.Is(err, ErrStatusChanged):
			c.metrics.ObserveOperation("reschedule", "conflict")
			return nil, ErrInvalidTransition
		case errors.Is(err, ErrSlotUnavailable):
			c.metrics.ObserveOperation("reschedule", "unavailable")
			c.metrics.ObserveSlotConflict()
			return nil, err
		case errors.Is(err, ErrSchedulingConflict):
			c.metrics.ObserveOperation("reschedule", "conflict")
			return nil, err
		default:
			c.metrics.ObserveOperation("reschedule", "error")
			return nil, err
		}
	}

	c.metrics.ObserveOperation("reschedule", "ok")
	c.logger.Info("appointment rescheduled",
		zap.String("appointment_id", id.String()),
		zap.String("date", newDate.Format("2006-01-02")),
		zap.String("time_slot", newTimeSlot),
	)
	return updated, nil
}

// SetStatus performs a provider-only lifecycle transition with no slot
// side effects: the slot stays consumed once the appointment is realized.
// Cancellation releases capacity and must go through Cancel instead.
func (c *Coordinator) SetStatus(ctx context.Context, principal auth.Principal, id uuid.UUID, to Status) (*Appointment, error) {
	appt, err := c.appts.GetScoped(ctx, id, principal)
	if err != nil {
		return nil, err
	}

	if principal.Role != auth.RoleHospital || appt.HospitalID != principal.ID {
		return nil, ErrForbidden
	}
	if to == StatusCancelled {
		return nil, ErrInvalidTransition
	}
	if !CanTransition(appt.Status, to) {
		return nil, ErrInvalidTransition
	}

	updated, err := c.appts.TransitionStatus(ctx, id, to, appt.Status)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	c.metrics.ObserveOperation("set_status", "ok")
	c.logger.Info("appointment status updated",
		zap.String("appointment_id", id.String()),
		zap.String("status", string(to)),
	)
	return updated, nil
}

// Delete is the administrative hard-delete path. The delete returns the row
// it removed, and only an active final state releases the slot, in the same
// transaction.
func (c *Coordinator) Delete(ctx context.Context, principal auth.Principal, id uuid.UUID) error {
	err := c.tx.WithinTx(ctx, func(txCtx context.Context, s Stores) error {
		removed, err := s.Appointments.Delete(txCtx, id, principal)
		if err != nil {
			return err
		}
		if removed.Status.IsActive() {
			return s.Slots.Release(txCtx, removed.HospitalID, removed.Date, removed.TimeSlot)
		}
		return nil
	})
	if err != nil {
		c.metrics.ObserveOperation("delete", "error")
		return err
	}

	c.metrics.ObserveOperation("delete", "ok")
	c.logger.Info("appointment deleted", zap.String("appointment_id", id.String()))
	return nil
}

// SlotsForDate returns the {timeSlot: actuallyAvailable} map for a date,
// materializing the default template the first time a date is queried.
func (c *Coordinator) SlotsForDate(ctx context.Context, hospitalID uuid.UUID, date time.Time) (map[string]bool, error) {
	date = NormalizeDate(date)

	if _, err := c.hospitals.GetHospital(ctx, hospitalID); err != nil {
		return nil, err
	}

	slots, err := c.slots.ListForDate(ctx, hospitalID, date)
	if err != nil {
		return nil, err
	}

	if len(slots) == 0 {
		err = c.tx.WithinTx(ctx, func(txCtx context.Context, s Stores) error {
			for _, bucket := range DefaultBuckets {
				if _, err := s.Slots.Materialize(txCtx, hospitalID, date, bucket); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("materialize template: %w", err)
		}

		slots, err = c.slots.ListForDate(ctx, hospitalID, date)
		if err != nil {
			return nil, err
		}
	}

	result := make(map[string]bool, len(slots))
	for _, s := range slots {
		result[s.TimeSlot] = s.ActuallyAvailable()
	}
	return result, nil
}

// PatientDashboard returns the patient's next scheduled appointments and
// their booking history counts.
func (c *Coordinator) PatientDashboard(ctx context.Context, principal auth.Principal) ([]Appointment, AppointmentStats, error) {
	if principal.Role != auth.RolePatient {
		return nil, AppointmentStats{}, ErrForbidden
	}

	upcoming, err := c.appts.UpcomingForPatient(ctx, principal.ID, NormalizeDate(time.Now()), 5)
	if err != nil {
		return nil, AppointmentStats{}, fmt.Errorf("upcoming appointments: %w", err)
	}

	stats, err := c.appts.StatsForPatient(ctx, principal.ID)
	if err != nil {
		return nil, AppointmentStats{}, fmt.Errorf("appointment stats: %w", err)
	}
	return upcoming, stats, nil
}

// UpsertSlot lets a hospital flip one slot's availability flag. Occupancy
// is untouched so manual overrides cannot corrupt the capacity accounting.
func (c *Coordinator) UpsertSlot(ctx context.Context, principal auth.Principal, hospitalID uuid.UUID, date time.Time, timeSlot string, available bool) (*SlotRecord, error) {
	if principal.Role != auth.RoleHospital || principal.ID != hospitalID {
		return nil, ErrForbidden
	}
	return c.slots.UpsertAvailability(ctx, hospitalID, NormalizeDate(date), timeSlot, available)
}
