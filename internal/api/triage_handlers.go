package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/caremesh/hospital-booking/internal/triage"
)

func suggestHandler(suggester triage.Suggester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req suggestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "could not parse JSON body")
			return
		}

		suggestion, err := suggester.Suggest(r.Context(), req.Symptoms)
		if err != nil {
			if errors.Is(err, triage.ErrEmptySymptoms) {
				writeError(w, http.StatusBadRequest, "symptoms are required")
				return
			}
			writeError(w, http.StatusInternalServerError, "server error during symptom analysis")
			return
		}

		writeData(w, http.StatusOK, "", map[string]any{
			"analysis": suggestion,
		})
	}
}
