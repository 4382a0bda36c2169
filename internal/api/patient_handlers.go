package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/caremesh/hospital-booking/internal/auth"
	"github.com/caremesh/hospital-booking/internal/directory"
	"github.com/caremesh/hospital-booking/internal/scheduling"
)

// meHandler resolves the authenticated principal back to its full record,
// so a client can restore a session from a stored token.
func meHandler(store *directory.PgStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFrom(r.Context())

		switch principal.Role {
		case auth.RolePatient:
			patient, err := store.GetPatient(r.Context(), principal.ID)
			if err != nil {
				handleProfileError(w, err)
				return
			}
			writeData(w, http.StatusOK, "", map[string]any{"user": toPatientResponse(patient)})

		case auth.RoleHospital:
			hospital, err := store.GetHospital(r.Context(), principal.ID)
			if err != nil {
				handleProfileError(w, err)
				return
			}
			writeData(w, http.StatusOK, "", map[string]any{"user": toHospitalResponse(hospital)})

		default:
			writeError(w, http.StatusUnauthorized, "unknown account role")
		}
	}
}

func getPatientProfileHandler(store *directory.PgStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFrom(r.Context())

		patient, err := store.GetPatient(r.Context(), principal.ID)
		if err != nil {
			handleProfileError(w, err)
			return
		}
		writeData(w, http.StatusOK, "", map[string]any{"patient": toPatientResponse(patient)})
	}
}

func updatePatientProfileHandler(store *directory.PgStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFrom(r.Context())

		var req updateProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "could not parse JSON body")
			return
		}
		if req.Name == "" && req.Phone == "" {
			writeError(w, http.StatusBadRequest, "no valid fields to update")
			return
		}

		patient, err := store.UpdatePatient(r.Context(), principal.ID, req.Name, req.Phone)
		if err != nil {
			handleProfileError(w, err)
			return
		}
		writeData(w, http.StatusOK, "Profile updated successfully", map[string]any{
			"patient": toPatientResponse(patient),
		})
	}
}

func patientDashboardHandler(co *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFrom(r.Context())

		upcoming, stats, err := co.PatientDashboard(r.Context(), principal)
		if err != nil {
			if errors.Is(err, scheduling.ErrForbidden) {
				writeError(w, http.StatusForbidden, "not allowed for this account")
				return
			}
			writeError(w, http.StatusInternalServerError, "server error while fetching dashboard")
			return
		}

		out := make([]appointmentResponse, 0, len(upcoming))
		for i := range upcoming {
			out = append(out, toAppointmentResponse(&upcoming[i]))
		}
		writeData(w, http.StatusOK, "", map[string]any{
			"upcomingAppointments": out,
			"stats": appointmentStatsResponse{
				Total:     stats.Total,
				Scheduled: stats.Scheduled,
				Completed: stats.Completed,
				Cancelled: stats.Cancelled,
			},
		})
	}
}

func handleProfileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, directory.ErrPatientNotFound), errors.Is(err, directory.ErrHospitalNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	default:
		writeError(w, http.StatusInternalServerError, "server error while fetching profile")
	}
}
