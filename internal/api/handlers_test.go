package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/caremesh/hospital-booking/internal/directory"
	"github.com/caremesh/hospital-booking/internal/scheduling"
	"github.com/caremesh/hospital-booking/internal/triage"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func TestHandleCreateError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{directory.ErrHospitalNotFound, http.StatusBadRequest},
		{scheduling.ErrSchedulingConflict, http.StatusBadRequest},
		{scheduling.ErrSlotUnavailable, http.StatusBadRequest},
		{scheduling.ErrSlotContended, http.StatusBadRequest},
		{errors.New("pg down"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		handleCreateError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, "err=%v", tc.err)

		env := decodeEnvelope(t, rec)
		require.False(t, env.Success)
		require.NotEmpty(t, env.Message)
	}
}

func TestHandleUpdateError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{scheduling.ErrAppointmentNotFound, http.StatusNotFound},
		{scheduling.ErrForbidden, http.StatusForbidden},
		{scheduling.ErrSlotUnavailable, http.StatusBadRequest},
		{scheduling.ErrSchedulingConflict, http.StatusBadRequest},
		{scheduling.ErrSlotContended, http.StatusBadRequest},
		{scheduling.ErrInvalidTransition, http.StatusBadRequest},
		{errors.New("pg down"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		handleUpdateError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, "err=%v", tc.err)
	}
}

type stubSuggester struct {
	suggestion triage.Suggestion
	err        error
}

func (s *stubSuggester) Suggest(_ context.Context, symptoms string) (triage.Suggestion, error) {
	if strings.TrimSpace(symptoms) == "" {
		return triage.Suggestion{}, triage.ErrEmptySymptoms
	}
	return s.suggestion, s.err
}

func TestSuggestHandler(t *testing.T) {
	handler := suggestHandler(&stubSuggester{
		suggestion: triage.Suggestion{
			Condition: "Migraine",
			Specialty: "Neurology",
			Urgency:   "medium",
		},
	})

	t.Run("ok", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/ai/suggest", strings.NewReader(`{"symptoms":"headache"}`))
		rec := httptest.NewRecorder()
		handler(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var out struct {
			Success bool `json:"success"`
			Data    struct {
				Analysis triage.Suggestion `json:"analysis"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
		require.True(t, out.Success)
		require.Equal(t, "Neurology", out.Data.Analysis.Specialty)
	})

	t.Run("empty symptoms", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/ai/suggest", strings.NewReader(`{"symptoms":"  "}`))
		rec := httptest.NewRecorder()
		handler(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/ai/suggest", strings.NewReader(`{`))
		rec := httptest.NewRecorder()
		handler(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("suggester failure", func(t *testing.T) {
		failing := suggestHandler(&stubSuggester{err: errors.New("upstream down")})
		req := httptest.NewRequest("POST", "/ai/suggest", strings.NewReader(`{"symptoms":"headache"}`))
		rec := httptest.NewRecorder()
		failing(rec, req)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, GetRequestID(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("generates id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("propagates caller id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Request-ID", "req-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	})
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// Malformed bucket labels must be rejected at the boundary; anything else
// would store labels the chronological ordering cannot parse.
func TestCreateAppointmentRejectsBadTimeSlot(t *testing.T) {
	handler := createAppointmentHandler(nil)

	for _, label := range []string{"", "9 AM", "14:00", "02:00PM", "late morning"} {
		body := fmt.Sprintf(`{"hospitalId":%q,"date":"2026-09-14","timeSlot":%q}`, uuid.New(), label)
		req := httptest.NewRequest("POST", "/appointments", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code, "label=%q", label)
		env := decodeEnvelope(t, rec)
		require.False(t, env.Success)
		require.Contains(t, env.Message, "timeSlot")
	}
}

func TestPatchAppointmentRejectsBadTimeSlot(t *testing.T) {
	handler := patchAppointmentHandler(nil)

	req := httptest.NewRequest("PATCH", "/appointments/x",
		strings.NewReader(`{"date":"2026-09-14","timeSlot":"25:00 PM"}`))
	req = withURLParam(req, "id", uuid.New().String())
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpsertSlotRejectsBadTimeSlot(t *testing.T) {
	handler := upsertHospitalSlotHandler(nil)

	req := httptest.NewRequest("POST", "/hospitals/x/slots",
		strings.NewReader(`{"date":"2026-09-14","timeSlot":"morning","isAvailable":true}`))
	req = withURLParam(req, "id", uuid.New().String())
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateProfileRequiresField(t *testing.T) {
	handler := updatePatientProfileHandler(nil)

	req := httptest.NewRequest("PATCH", "/patients/profile", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	require.False(t, env.Success)
	require.Contains(t, env.Message, "no valid fields")
}

func TestAppointmentResponseShape(t *testing.T) {
	appt := &scheduling.Appointment{
		Date:     time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
		TimeSlot: "10:00 AM",
		Status:   scheduling.StatusScheduled,
	}

	resp := toAppointmentResponse(appt)
	require.Equal(t, "2026-09-14", resp.Date)
	require.Equal(t, "scheduled", resp.Status)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"date":"2026-09-14"`)
	require.NotContains(t, string(raw), `"symptoms"`, "empty symptoms should be omitted")
}
