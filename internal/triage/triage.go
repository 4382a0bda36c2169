package triage

import (
	"context"
	"errors"
)

var ErrEmptySymptoms = errors.New("symptom description is required")

// Suggestion is the triage result shown to a patient before booking.
// It is guidance, not a diagnosis.
type Suggestion struct {
	Condition  string   `json:"disease"`
	Specialty  string   `json:"specialty"`
	Urgency    string   `json:"urgency"` // low, medium, high
	Guidance   string   `json:"guidance"`
	Preventive []string `json:"preventive"`
}

// Suggester maps free-text symptoms to a triage suggestion.
type Suggester interface {
	Suggest(ctx context.Context, symptoms string) (Suggestion, error)
}
