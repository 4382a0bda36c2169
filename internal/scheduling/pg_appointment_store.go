package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/caremesh/hospital-booking/internal/auth"
)

type PgAppointmentStore struct {
	db DBTX
}

func NewPgAppointmentStore(db DBTX) *PgAppointmentStore {
	return &PgAppointmentStore{db: db}
}

const appointmentColumns = `id, patient_id, patient_name, hospital_id, hospital_name, slot_date, time_slot, symptoms, disease, status, notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var symptoms, disease, notes *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PatientName,
		&a.HospitalID,
		&a.HospitalName,
		&a.Date,
		&a.TimeSlot,
		&symptoms,
		&disease,
		&a.Status,
		&notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if symptoms != nil {
		a.Symptoms = *symptoms
	}
	if disease != nil {
		a.Disease = *disease
	}
	if notes != nil {
		a.Notes = *notes
	}
	a.Date = NormalizeDate(a.Date)
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *PgAppointmentStore) Create(ctx context.Context, appt *Appointment) (*Appointment, error) {
	id := appt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, patient_name, hospital_id, hospital_name, slot_date, time_slot, symptoms, disease, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, NULLIF($11, ''))
		RETURNING `+appointmentColumns+`
	`, id, appt.PatientID, appt.PatientName, appt.HospitalID, appt.HospitalName,
		NormalizeDate(appt.Date), appt.TimeSlot, appt.Symptoms, appt.Disease, appt.Status, appt.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race past the pre-check; the partial unique index on
			// active statuses is the authoritative guard.
			return nil, ErrSchedulingConflict
		}
		return nil, err
	}
	return created, nil
}

func (r *PgAppointmentStore) FindActiveConflict(ctx context.Context, patientID uuid.UUID, date time.Time, timeSlot string, excludeID uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 AND slot_date = $2 AND time_slot = $3
		  AND status IN ('scheduled', 'confirmed')
		  AND id <> $4
	`, patientID, NormalizeDate(date), timeSlot, excludeID)
	return scanAppointment(row)
}

func (r *PgAppointmentStore) GetScoped(ctx context.Context, id uuid.UUID, principal auth.Principal) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	args := []any{id}

	switch principal.Role {
	case auth.RolePatient:
		query += ` AND patient_id = $2`
		args = append(args, principal.ID)
	case auth.RoleHospital:
		query += ` AND hospital_id = $2`
		args = append(args, principal.ID)
	}

	return scanAppointment(r.db.QueryRow(ctx, query, args...))
}

func (r *PgAppointmentStore) List(ctx context.Context, principal auth.Principal, status *Status, limit, offset int) ([]Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE `
	var args []any

	switch principal.Role {
	case auth.RoleHospital:
		query += `hospital_id = $1`
	default:
		query += `patient_id = $1`
	}
	args = append(args, principal.ID)

	if status != nil {
		args = append(args, *status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}

	// time_slot holds "hh:mm AM/PM" labels; ordering must parse them or
	// the afternoon buckets sort before the morning ones.
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY slot_date DESC, to_timestamp(time_slot, 'HH12:MI AM') DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// TransitionStatus moves the status only while the current value is one of
// from. Under READ COMMITTED a racing writer makes this UPDATE re-check the
// predicate against the committed row, so the loser sees zero rows and the
// capacity release tied to the transition happens exactly once.
func (r *PgAppointmentStore) TransitionStatus(ctx context.Context, id uuid.UUID, to Status, from ...Status) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+appointmentColumns+`
	`, id, to, statusStrings(from))

	appt, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStatusChanged
	}
	return appt, err
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *PgAppointmentStore) Reschedule(ctx context.Context, id uuid.UUID, fromDate time.Time, fromTimeSlot string, toDate time.Time, toTimeSlot string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET slot_date = $4, time_slot = $5, updated_at = now()
		WHERE id = $1 AND slot_date = $2 AND time_slot = $3
		  AND status IN ('scheduled', 'confirmed')
		RETURNING `+appointmentColumns+`
	`, id, NormalizeDate(fromDate), fromTimeSlot, NormalizeDate(toDate), toTimeSlot)

	appt, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSchedulingConflict
		}
		if errors.Is(err, ErrAppointmentNotFound) {
			// Cancelled, completed or already moved off the expected tuple
			// by a concurrent writer.
			return nil, ErrStatusChanged
		}
		return nil, err
	}
	return appt, nil
}

func (r *PgAppointmentStore) Delete(ctx context.Context, id uuid.UUID, principal auth.Principal) (*Appointment, error) {
	query := `DELETE FROM appointments WHERE id = $1`
	args := []any{id}

	switch principal.Role {
	case auth.RolePatient:
		query += ` AND patient_id = $2`
		args = append(args, principal.ID)
	case auth.RoleHospital:
		query += ` AND hospital_id = $2`
		args = append(args, principal.ID)
	}
	query += ` RETURNING ` + appointmentColumns

	return scanAppointment(r.db.QueryRow(ctx, query, args...))
}

func (r *PgAppointmentStore) UpcomingForPatient(ctx context.Context, patientID uuid.UUID, from time.Time, limit int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 AND status = 'scheduled' AND slot_date >= $2
		ORDER BY slot_date ASC, to_timestamp(time_slot, 'HH12:MI AM') ASC
		LIMIT $3
	`, patientID, NormalizeDate(from), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgAppointmentStore) StatsForPatient(ctx context.Context, patientID uuid.UUID) (AppointmentStats, error) {
	var stats AppointmentStats
	err := r.db.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'scheduled'),
		       count(*) FILTER (WHERE status = 'completed'),
		       count(*) FILTER (WHERE status = 'cancelled')
		FROM appointments
		WHERE patient_id = $1
	`, patientID).Scan(&stats.Total, &stats.Scheduled, &stats.Completed, &stats.Cancelled)
	if err != nil {
		return AppointmentStats{}, fmt.Errorf("patient stats: %w", err)
	}
	return stats, nil
}
