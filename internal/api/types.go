package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/caremesh/hospital-booking/internal/directory"
	"github.com/caremesh/hospital-booking/internal/scheduling"
)

const dateLayout = "2006-01-02"

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

type registerRequest struct {
	Role        string   `json:"role"` // patient or hospital
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Phone       string   `json:"phone"`
	Password    string   `json:"password"`
	Type        string   `json:"type"`
	Address     string   `json:"address"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Specialties []string `json:"specialties"`
	Diseases    []string `json:"diseases"`
}

type loginRequest struct {
	Role     string `json:"role"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type createAppointmentRequest struct {
	HospitalID string `json:"hospitalId"`
	Date       string `json:"date"`
	TimeSlot   string `json:"timeSlot"`
	Symptoms   string `json:"symptoms"`
	Disease    string `json:"disease"`
}

type patchAppointmentRequest struct {
	Status   string `json:"status"`
	Date     string `json:"date"`
	TimeSlot string `json:"timeSlot"`
}

type upsertSlotRequest struct {
	Date        string `json:"date"`
	TimeSlot    string `json:"timeSlot"`
	IsAvailable *bool  `json:"isAvailable"`
}

type suggestRequest struct {
	Symptoms string `json:"symptoms"`
}

type updateProfileRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type appointmentResponse struct {
	ID           uuid.UUID `json:"id"`
	PatientID    uuid.UUID `json:"patientId"`
	PatientName  string    `json:"patientName"`
	HospitalID   uuid.UUID `json:"hospitalId"`
	HospitalName string    `json:"hospitalName"`
	Date         string    `json:"date"`
	TimeSlot     string    `json:"timeSlot"`
	Symptoms     string    `json:"symptoms,omitempty"`
	Disease      string    `json:"disease,omitempty"`
	Status       string    `json:"status"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toAppointmentResponse(a *scheduling.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:           a.ID,
		PatientID:    a.PatientID,
		PatientName:  a.PatientName,
		HospitalID:   a.HospitalID,
		HospitalName: a.HospitalName,
		Date:         a.Date.Format(dateLayout),
		TimeSlot:     a.TimeSlot,
		Symptoms:     a.Symptoms,
		Disease:      a.Disease,
		Status:       string(a.Status),
		Notes:        a.Notes,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type patientResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toPatientResponse(p *directory.Patient) patientResponse {
	return patientResponse{
		ID:        p.ID,
		Name:      p.Name,
		Email:     p.Email,
		Phone:     p.Phone,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

type appointmentStatsResponse struct {
	Total     int `json:"totalAppointments"`
	Scheduled int `json:"scheduledAppointments"`
	Completed int `json:"completedAppointments"`
	Cancelled int `json:"cancelledAppointments"`
}

type hospitalResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone,omitempty"`
	Type        string    `json:"type"`
	Address     string    `json:"address,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	Specialties []string  `json:"specialties"`
	Diseases    []string  `json:"diseases"`
	Rating      float64   `json:"rating"`
	Distance    *float64  `json:"distance,omitempty"`
}

func toHospitalResponse(h *directory.Hospital) hospitalResponse {
	return hospitalResponse{
		ID:          h.ID,
		Name:        h.Name,
		Email:       h.Email,
		Phone:       h.Phone,
		Type:        h.Type,
		Address:     h.Address,
		Latitude:    h.Latitude,
		Longitude:   h.Longitude,
		Specialties: h.Specialties,
		Diseases:    h.Diseases,
		Rating:      h.Rating,
		Distance:    h.Distance,
	}
}
