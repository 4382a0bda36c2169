package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/caremesh/hospital-booking/internal/auth"
	"github.com/caremesh/hospital-booking/internal/directory"
)

func registerHandler(store *directory.PgStore, tm *auth.TokenManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "could not parse JSON body")
			return
		}
		if req.Name == "" || req.Email == "" || len(req.Password) < 6 {
			writeError(w, http.StatusBadRequest, "name, email and a password of at least 6 characters are required")
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server error during registration")
			return
		}

		var principal auth.Principal

		switch auth.Role(req.Role) {
		case auth.RolePatient:
			patient, err := store.CreatePatient(r.Context(), &directory.Patient{
				Name:         req.Name,
				Email:        req.Email,
				Phone:        req.Phone,
				PasswordHash: hash,
			})
			if err != nil {
				handleRegisterError(w, err)
				return
			}
			principal = auth.Principal{ID: patient.ID, Role: auth.RolePatient, Name: patient.Name}

		case auth.RoleHospital:
			hospitalType := req.Type
			if hospitalType == "" {
				hospitalType = "Multi-Specialty Hospital"
			}
			hospital, err := store.CreateHospital(r.Context(), &directory.Hospital{
				Name:         req.Name,
				Email:        req.Email,
				Phone:        req.Phone,
				PasswordHash: hash,
				Type:         hospitalType,
				Address:      req.Address,
				Latitude:     req.Latitude,
				Longitude:    req.Longitude,
				Specialties:  emptyIfNil(req.Specialties),
				Diseases:     emptyIfNil(req.Diseases),
			})
			if err != nil {
				handleRegisterError(w, err)
				return
			}
			principal = auth.Principal{ID: hospital.ID, Role: auth.RoleHospital, Name: hospital.Name}

		default:
			writeError(w, http.StatusBadRequest, "role must be patient or hospital")
			return
		}

		token, err := tm.Issue(principal)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server error during registration")
			return
		}

		writeData(w, http.StatusCreated, "Registered successfully", map[string]any{
			"token": token,
			"user": map[string]any{
				"id":   principal.ID,
				"name": principal.Name,
				"role": principal.Role,
			},
		})
	}
}

func loginHandler(store *directory.PgStore, tm *auth.TokenManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "could not parse JSON body")
			return
		}

		var principal auth.Principal
		var hash string

		switch auth.Role(req.Role) {
		case auth.RolePatient:
			patient, err := store.GetPatientByEmail(r.Context(), req.Email)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid credentials")
				return
			}
			principal = auth.Principal{ID: patient.ID, Role: auth.RolePatient, Name: patient.Name}
			hash = patient.PasswordHash

		case auth.RoleHospital:
			hospital, err := store.GetHospitalByEmail(r.Context(), req.Email)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid credentials")
				return
			}
			principal = auth.Principal{ID: hospital.ID, Role: auth.RoleHospital, Name: hospital.Name}
			hash = hospital.PasswordHash

		default:
			writeError(w, http.StatusBadRequest, "role must be patient or hospital")
			return
		}

		if !auth.CheckPassword(hash, req.Password) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		token, err := tm.Issue(principal)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server error during login")
			return
		}

		writeData(w, http.StatusOK, "Logged in successfully", map[string]any{
			"token": token,
			"user": map[string]any{
				"id":   principal.ID,
				"name": principal.Name,
				"role": principal.Role,
			},
		})
	}
}

func handleRegisterError(w http.ResponseWriter, err error) {
	if errors.Is(err, directory.ErrEmailTaken) {
		writeError(w, http.StatusBadRequest, "email already registered")
		return
	}
	writeError(w, http.StatusInternalServerError, "server error during registration")
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
