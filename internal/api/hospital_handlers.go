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

func listHospitalsHandler(store *directory.PgStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filter := directory.HospitalFilter{
			Disease:   q.Get("disease"),
			Specialty: q.Get("specialty"),
			Type:      q.Get("type"),
		}
		filter.MinRating, _ = strconv.ParseFloat(q.Get("minRating"), 64)
		filter.Limit, _ = strconv.Atoi(q.Get("limit"))
		filter.Offset, _ = strconv.Atoi(q.Get("offset"))

		if latStr, lngStr := q.Get("lat"), q.Get("lng"); latStr != "" && lngStr != "" {
			lat, errLat := strconv.ParseFloat(latStr, 64)
			lng, errLng := strconv.ParseFloat(lngStr, 64)
			if errLat != nil || errLng != nil {
				writeError(w, http.StatusBadRequest, "lat and lng must be numbers")
				return
			}
			filter.Lat, filter.Lng = &lat, &lng
			filter.RadiusKM = 50
			if radius, err := strconv.ParseFloat(q.Get("radius"), 64); err == nil && radius > 0 {
				filter.RadiusKM = radius
			}
		}

		hospitals, err := store.ListHospitals(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server error while fetching hospitals")
			return
		}

		out := make([]hospitalResponse, 0, len(hospitals))
		for i := range hospitals {
			out = append(out, toHospitalResponse(&hospitals[i]))
		}
		writeData(w, http.StatusOK, "", map[string]any{
			"hospitals": out,
			"total":     len(out),
		})
	}
}

func getHospitalHandler(store *directory.PgStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "id must be a valid UUID")
			return
		}

		hospital, err := store.GetHospital(r.Context(), id)
		if err != nil {
			if errors.Is(err, directory.ErrHospitalNotFound) {
				writeError(w, http.StatusNotFound, "hospital not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "server error while fetching hospital")
			return
		}

		writeData(w, http.StatusOK, "", map[string]any{
			"hospital": toHospitalResponse(hospital),
		})
	}
}

func getHospitalSlotsHandler(co *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "id must be a valid UUID")
			return
		}

		dateStr := r.URL.Query().Get("date")
		if dateStr == "" {
			writeError(w, http.StatusBadRequest, "date parameter is required")
			return
		}
		date, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be formatted YYYY-MM-DD")
			return
		}

		slots, err := co.SlotsForDate(r.Context(), id, date)
		if err != nil {
			if errors.Is(err, directory.ErrHospitalNotFound) {
				writeError(w, http.StatusNotFound, "hospital not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "server error while fetching hospital slots")
			return
		}

		writeData(w, http.StatusOK, "", map[string]any{
			"hospitalId": id,
			"date":       dateStr,
			"slots":      slots,
		})
	}
}

func upsertHospitalSlotHandler(co *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFrom(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "id must be a valid UUID")
			return
		}

		var req upsertSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "could not parse JSON body")
			return
		}
		if req.IsAvailable == nil {
			writeError(w, http.StatusBadRequest, "timeSlot and isAvailable are required")
			return
		}
		if _, ok := scheduling.ParseBucket(req.TimeSlot); !ok {
			writeError(w, http.StatusBadRequest, `timeSlot must be formatted "hh:mm AM/PM"`)
			return
		}
		date, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be formatted YYYY-MM-DD")
			return
		}

		slot, err := co.UpsertSlot(r.Context(), principal, id, date, req.TimeSlot, *req.IsAvailable)
		if err != nil {
			if errors.Is(err, scheduling.ErrForbidden) {
				writeError(w, http.StatusForbidden, "you can only manage your own hospital slots")
				return
			}
			writeError(w, http.StatusInternalServerError, "server error while updating hospital slot")
			return
		}

		writeData(w, http.StatusOK, "Hospital slot updated successfully", map[string]any{
			"hospitalId":  id,
			"date":        req.Date,
			"timeSlot":    slot.TimeSlot,
			"isAvailable": slot.IsAvailable,
		})
	}
}
