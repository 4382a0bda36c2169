package directory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrHospitalNotFound = errors.New("hospital not found")
	ErrPatientNotFound  = errors.New("patient not found")
	ErrEmailTaken       = errors.New("email already registered")
)

type Hospital struct {
	ID           uuid.UUID
	Name         string
	Email        string
	Phone        string
	PasswordHash string
	Type         string
	Address      string
	Latitude     *float64
	Longitude    *float64
	Specialties  []string
	Diseases     []string
	Rating       float64
	Distance     *float64 // km from the caller's location, set by listing only
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Patient struct {
	ID           uuid.UUID
	Name         string
	Email        string
	Phone        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HospitalFilter narrows the hospital listing. All fields optional.
type HospitalFilter struct {
	Disease   string
	Specialty string
	Type      string
	MinRating float64
	Lat       *float64
	Lng       *float64
	RadiusKM  float64
	Limit     int
	Offset    int
}
