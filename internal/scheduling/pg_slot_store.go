package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx, so the same store code
// runs pool-bound for reads and tx-bound inside the coordinator.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgSlotStore struct {
	db DBTX
}

func NewPgSlotStore(db DBTX) *PgSlotStore {
	return &PgSlotStore{db: db}
}

const slotColumns = `id, hospital_id, slot_date, time_slot, is_available, max_appointments, current_appointments, created_at, updated_at`

func scanSlot(row pgx.Row) (*SlotRecord, error) {
	var s SlotRecord
	err := row.Scan(
		&s.ID,
		&s.HospitalID,
		&s.Date,
		&s.TimeSlot,
		&s.IsAvailable,
		&s.MaxAppointments,
		&s.CurrentAppointments,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	s.Date = NormalizeDate(s.Date)
	return &s, nil
}

func (r *PgSlotStore) Get(ctx context.Context, hospitalID uuid.UUID, date time.Time, timeSlot string) (*SlotRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM hospital_slots
		WHERE hospital_id = $1 AND slot_date = $2 AND time_slot = $3
	`, hospitalID, NormalizeDate(date), timeSlot)
	return scanSlot(row)
}

func (r *PgSlotStore) ListForDate(ctx context.Context, hospitalID uuid.UUID, date time.Time) ([]SlotRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM hospital_slots
		WHERE hospital_id = $1 AND slot_date = $2
	`, hospitalID, NormalizeDate(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SlotRecord
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgSlotStore) Materialize(ctx context.Context, hospitalID uuid.UUID, date time.Time, timeSlot string) (*SlotRecord, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO hospital_slots (id, hospital_id, slot_date, time_slot, is_available, max_appointments, current_appointments)
		VALUES ($1, $2, $3, $4, TRUE, 1, 0)
		ON CONFLICT (hospital_id, slot_date, time_slot) DO NOTHING
	`, uuid.New(), hospitalID, NormalizeDate(date), timeSlot)
	if err != nil {
		return nil, fmt.Errorf("materialize slot: %w", err)
	}
	return r.Get(ctx, hospitalID, date, timeSlot)
}

func (r *PgSlotStore) UpsertAvailability(ctx context.Context, hospitalID uuid.UUID, date time.Time, timeSlot string, available bool) (*SlotRecord, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO hospital_slots (id, hospital_id, slot_date, time_slot, is_available, max_appointments, current_appointments)
		VALUES ($1, $2, $3, $4, $5, 1, 0)
		ON CONFLICT (hospital_id, slot_date, time_slot)
		DO UPDATE SET is_available = EXCLUDED.is_available, updated_at = now()
		RETURNING `+slotColumns+`
	`, uuid.New(), hospitalID, NormalizeDate(date), timeSlot, available)
	return scanSlot(row)
}

// TryAcquire is a single conditional update: the WHERE clause re-checks
// actual availability so concurrent callers on the same tuple serialize on
// the row and at most max_appointments of them ever succeed.
func (r *PgSlotStore) TryAcquire(ctx context.Context, hospitalID uuid.UUID, date time.Time, timeSlot string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE hospital_slots
		SET current_appointments = current_appointments + 1,
		    is_available = CASE
		        WHEN current_appointments + 1 >= max_appointments THEN FALSE
		        ELSE is_available
		    END,
		    updated_at = now()
		WHERE hospital_id = $1 AND slot_date = $2 AND time_slot = $3
		  AND is_available
		  AND current_appointments < max_appointments
	`, hospitalID, NormalizeDate(date), timeSlot)
	if err != nil {
		return fmt.Errorf("acquire slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotUnavailable
	}
	return nil
}

func (r *PgSlotStore) Release(ctx context.Context, hospitalID uuid.UUID, date time.Time, timeSlot string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE hospital_slots
		SET current_appointments = GREATEST(current_appointments - 1, 0),
		    is_available = TRUE,
		    updated_at = now()
		WHERE hospital_id = $1 AND slot_date = $2 AND time_slot = $3
	`, hospitalID, NormalizeDate(date), timeSlot)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}
