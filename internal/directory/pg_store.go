package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const hospitalColumns = `id, name, email, phone, password_hash, hospital_type, address, latitude, longitude, specialties, diseases, rating, created_at, updated_at`

func scanHospital(row pgx.Row) (*Hospital, error) {
	var h Hospital
	var phone, address *string

	err := row.Scan(
		&h.ID,
		&h.Name,
		&h.Email,
		&phone,
		&h.PasswordHash,
		&h.Type,
		&address,
		&h.Latitude,
		&h.Longitude,
		&h.Specialties,
		&h.Diseases,
		&h.Rating,
		&h.CreatedAt,
		&h.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHospitalNotFound
		}
		return nil, err
	}

	if phone != nil {
		h.Phone = *phone
	}
	if address != nil {
		h.Address = *address
	}
	return &h, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var phone *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&phone,
		&p.PasswordHash,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	if phone != nil {
		p.Phone = *phone
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *PgStore) GetHospital(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+hospitalColumns+` FROM hospitals WHERE id = $1`, id)
	return scanHospital(row)
}

func (r *PgStore) GetHospitalByEmail(ctx context.Context, email string) (*Hospital, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+hospitalColumns+` FROM hospitals WHERE email = $1`, email)
	return scanHospital(row)
}

func (r *PgStore) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, password_hash, created_at, updated_at
		FROM patients WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgStore) GetPatientByEmail(ctx context.Context, email string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, password_hash, created_at, updated_at
		FROM patients WHERE email = $1
	`, email)
	return scanPatient(row)
}

func (r *PgStore) CreatePatient(ctx context.Context, p *Patient) (*Patient, error) {
	id := uuid.New()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, name, email, phone, password_hash)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING id, name, email, phone, password_hash, created_at, updated_at
	`, id, p.Name, p.Email, p.Phone, p.PasswordHash)

	created, err := scanPatient(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return created, nil
}

// UpdatePatient changes only the fields the caller supplied; empty strings
// leave the stored value alone.
func (r *PgStore) UpdatePatient(ctx context.Context, id uuid.UUID, name, phone string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE patients
		SET name = COALESCE(NULLIF($2, ''), name),
		    phone = COALESCE(NULLIF($3, ''), phone),
		    updated_at = now()
		WHERE id = $1
		RETURNING id, name, email, phone, password_hash, created_at, updated_at
	`, id, name, phone)
	return scanPatient(row)
}

func (r *PgStore) CreateHospital(ctx context.Context, h *Hospital) (*Hospital, error) {
	id := uuid.New()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO hospitals (id, name, email, phone, password_hash, hospital_type, address, latitude, longitude, specialties, diseases, rating)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12)
		RETURNING `+hospitalColumns+`
	`, id, h.Name, h.Email, h.Phone, h.PasswordHash, h.Type, h.Address,
		h.Latitude, h.Longitude, h.Specialties, h.Diseases, h.Rating)

	created, err := scanHospital(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return created, nil
}

// ListHospitals applies the text filters and rating floor in SQL, then ranks
// by distance in memory when the caller supplied a location. Simple filtered
// reads; the booking core never depends on this path.
func (r *PgStore) ListHospitals(ctx context.Context, f HospitalFilter) ([]Hospital, error) {
	query := `SELECT ` + hospitalColumns + ` FROM hospitals WHERE rating >= $1`
	args := []any{f.MinRating}

	if f.Disease != "" {
		args = append(args, "%"+f.Disease+"%")
		query += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM unnest(diseases) d WHERE d ILIKE $%d)`, len(args))
	}
	if f.Specialty != "" {
		args = append(args, "%"+f.Specialty+"%")
		query += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM unnest(specialties) s WHERE s ILIKE $%d)`, len(args))
	}
	if f.Type != "" {
		args = append(args, "%"+f.Type+"%")
		query += fmt.Sprintf(` AND hospital_type ILIKE $%d`, len(args))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY rating DESC, name ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Hospital
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if f.Lat != nil && f.Lng != nil {
		ranked := result[:0]
		for i := range result {
			h := result[i]
			if h.Latitude == nil || h.Longitude == nil {
				continue
			}
			d := HaversineKM(*f.Lat, *f.Lng, *h.Latitude, *h.Longitude)
			if f.RadiusKM > 0 && d > f.RadiusKM {
				continue
			}
			h.Distance = &d
			ranked = append(ranked, h)
		}
		result = ranked
		sort.Slice(result, func(i, j int) bool {
			return *result[i].Distance < *result[j].Distance
		})
	}

	return result, nil
}
