package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/caremesh/hospital-booking/internal/auth"
	"github.com/caremesh/hospital-booking/internal/directory"
	"github.com/caremesh/hospital-booking/internal/scheduling"
)

func createAppointmentHandler(co *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFrom(r.Context())

		var req createAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "could not parse JSON body")
			return
		}

		hospitalID, err := uuid.Parse(req.HospitalID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "hospitalId must be a valid UUID")
			return
		}
		date, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be formatted YYYY-MM-DD")
			return
		}
		if _, ok := scheduling.ParseBucket(req.TimeSlot); !ok {
			writeError(w, http.StatusBadRequest, `timeSlot must be formatted "hh:mm AM/PM"`)
			return
		}

		appt, err := co.Create(r.Context(), principal, hospitalID, date, req.TimeSlot, req.Symptoms, req.Disease)
		if err != nil {
			handleCreateError(w, err)
			return
		}

		writeData(w, http.StatusCreated, "Appointment booked successfully", map[string]any{
			"appointment": toAppointmentResponse(appt),
		})
	}
}

func listAppointmentsHandler(co *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFrom(r.Context())

		var status *scheduling.Status
		if s := r.URL.Query().Get("status"); s != "" {
			if !scheduling.ValidStatus(s) {
				writeError(w, http.StatusBadRequest, "unknown status filter")
				return
			}
			st := scheduling.Status(s)
			status = &st
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := co.List(r.Context(), principal, status, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server error while fetching appointments")
			return
		}

		out := make([]appointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		writeData(w, http.StatusOK, "", map[string]any{
			"appointments": out,
			"total":        len(out),
		})
	}
}

func getAppointmentHandler(co *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFrom(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "id must be a valid UUID")
			return
		}

		appt, err := co.Get(r.Context(), principal, id)
		if err != nil {
			if errors.Is(err, scheduling.ErrAppointmentNotFound) {
				writeError(w, http.StatusNotFound, "appointment not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "server error while fetching appointment")
			return
		}

		writeData(w, http.StatusOK, "", map[string]any{
			"appointment": toAppointmentResponse(appt),
		})
	}
}

// patchAppointmentHandler multiplexes the three PATCH shapes the frontend
// sends: {status: "cancelled"} (either party), {date, timeSlot} (reschedule)
// and {status} (hospital lifecycle transition).
func patchAppointmentHandler(co *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFrom(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "id must be a valid UUID")
			return
		}

		var req patchAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "could not parse JSON body")
			return
		}

		var appt *scheduling.Appointment
		switch {
		case req.Status == string(scheduling.StatusCancelled):
			appt, err = co.Cancel(r.Context(), principal, id)

		case req.Date != "" && req.TimeSlot != "":
			var newDate time.Time
			newDate, err = time.Parse(dateLayout, req.Date)
			if err != nil {
				writeError(w, http.StatusBadRequest, "date must be formatted YYYY-MM-DD")
				return
			}
			if _, ok := scheduling.ParseBucket(req.TimeSlot); !ok {
				writeError(w, http.StatusBadRequest, `timeSlot must be formatted "hh:mm AM/PM"`)
				return
			}
			appt, err = co.Reschedule(r.Context(), principal, id, newDate, req.TimeSlot)

		case req.Status != "":
			if !scheduling.ValidStatus(req.Status) {
				writeError(w, http.StatusBadRequest, "unknown status")
				return
			}
			appt, err = co.SetStatus(r.Context(), principal, id, scheduling.Status(req.Status))

		default:
			writeError(w, http.StatusBadRequest, "invalid update parameters")
			return
		}

		if err != nil {
			handleUpdateError(w, err)
			return
		}

		writeData(w, http.StatusOK, "Appointment updated successfully", map[string]any{
			"appointment": toAppointmentResponse(appt),
		})
	}
}

func deleteAppointmentHandler(co *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFrom(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "id must be a valid UUID")
			return
		}

		if err := co.Delete(r.Context(), principal, id); err != nil {
			if errors.Is(err, scheduling.ErrAppointmentNotFound) {
				writeError(w, http.StatusNotFound, "appointment not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "server error while deleting appointment")
			return
		}

		writeData(w, http.StatusOK, "Appointment deleted successfully", nil)
	}
}

func handleCreateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, directory.ErrHospitalNotFound):
		writeError(w, http.StatusBadRequest, "hospital not found")
	case errors.Is(err, scheduling.ErrSchedulingConflict):
		writeError(w, http.StatusBadRequest, "you already have an appointment at this time")
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		writeError(w, http.StatusBadRequest, "this slot is full")
	case errors.Is(err, scheduling.ErrSlotContended):
		writeError(w, http.StatusBadRequest, "slot is currently being booked, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "server error while booking appointment")
	}
}

func handleUpdateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment not found")
	case errors.Is(err, scheduling.ErrForbidden):
		writeError(w, http.StatusForbidden, "not allowed for this account")
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		writeError(w, http.StatusBadRequest, "new time slot is not available")
	case errors.Is(err, scheduling.ErrSchedulingConflict):
		writeError(w, http.StatusBadRequest, "you already have an appointment at this time")
	case errors.Is(err, scheduling.ErrSlotContended):
		writeError(w, http.StatusBadRequest, "slot is currently being booked, please retry shortly")
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "status change not permitted")
	default:
		writeError(w, http.StatusInternalServerError, "server error while updating appointment")
	}
}
