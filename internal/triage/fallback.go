package triage

import (
	"context"
	"strings"
)

// RuleSuggester is the deterministic keyword fallback used when no Gemini
// API key is configured or the remote call fails. Responses mirror the
// hosted model's contract so callers cannot tell the paths apart.
type RuleSuggester struct{}

func NewRuleSuggester() *RuleSuggester {
	return &RuleSuggester{}
}

type rule struct {
	keywords   []string
	suggestion Suggestion
}

var rules = []rule{
	{
		keywords: []string{"chest pain", "heart"},
		suggestion: Suggestion{
			Condition: "Heart Disease",
			Specialty: "Cardiology",
			Urgency:   "high",
			Guidance:  "Seek immediate medical attention. Chest pain can indicate serious heart conditions.",
			Preventive: []string{
				"Maintain a healthy diet low in saturated fats",
				"Exercise regularly (30 minutes daily)",
				"Quit smoking and limit alcohol",
				"Monitor blood pressure and cholesterol",
				"Manage stress through relaxation techniques",
			},
		},
	},
	{
		keywords: []string{"headache", "migraine"},
		suggestion: Suggestion{
			Condition: "Migraine",
			Specialty: "Neurology",
			Urgency:   "medium",
			Guidance:  "Rest in a dark, quiet room. Apply cold compress to your head.",
			Preventive: []string{
				"Maintain regular sleep schedule",
				"Stay hydrated throughout the day",
				"Identify and avoid trigger foods",
				"Practice stress management techniques",
				"Consider keeping a headache diary",
			},
		},
	},
	{
		keywords: []string{"fever", "cold", "flu"},
		suggestion: Suggestion{
			Condition: "Common Cold",
			Specialty: "Family Medicine",
			Urgency:   "low",
			Guidance:  "Rest, stay hydrated, and monitor symptoms. Over-the-counter medications can help.",
			Preventive: []string{
				"Wash hands frequently with soap",
				"Avoid touching face with unwashed hands",
				"Get adequate sleep (7-9 hours nightly)",
				"Eat immune-boosting foods",
				"Consider annual flu vaccination",
			},
		},
	},
	{
		keywords: []string{"stomach", "nausea", "vomiting"},
		suggestion: Suggestion{
			Condition: "Gastroenteritis",
			Specialty: "Gastroenterology",
			Urgency:   "medium",
			Guidance:  "Stay hydrated with clear fluids. Avoid solid foods until symptoms improve.",
			Preventive: []string{
				"Practice good hand hygiene",
				"Avoid contaminated food and water",
				"Cook food thoroughly",
				"Store food at proper temperatures",
				"Consider probiotics for gut health",
			},
		},
	},
	{
		keywords: []string{"back pain", "spine"},
		suggestion: Suggestion{
			Condition: "Back Pain",
			Specialty: "Orthopedics",
			Urgency:   "low",
			Guidance:  "Apply heat or cold therapy. Gentle stretching may help.",
			Preventive: []string{
				"Maintain good posture while sitting and standing",
				"Use ergonomic furniture and equipment",
				"Exercise regularly to strengthen core muscles",
				"Practice proper lifting techniques",
				"Maintain a healthy weight",
			},
		},
	},
	{
		keywords: []string{"diabetes", "blood sugar"},
		suggestion: Suggestion{
			Condition: "Diabetes",
			Specialty: "Endocrinology",
			Urgency:   "high",
			Guidance:  "Monitor blood sugar levels closely. Seek medical attention for proper management.",
			Preventive: []string{
				"Follow a balanced, low-sugar diet",
				"Exercise regularly to improve insulin sensitivity",
				"Monitor blood glucose levels as directed",
				"Take medications as prescribed",
				"Maintain regular check-ups with healthcare provider",
			},
		},
	},
}

var defaultSuggestion = Suggestion{
	Condition: "General Health Concern",
	Specialty: "Family Medicine",
	Urgency:   "medium",
	Guidance:  "Consult with a healthcare provider for proper evaluation of your symptoms.",
	Preventive: []string{
		"Maintain a healthy lifestyle with regular exercise",
		"Eat a balanced diet rich in fruits and vegetables",
		"Get adequate sleep and manage stress",
		"Stay up to date with preventive screenings",
		"Avoid smoking and excessive alcohol consumption",
	},
}

func (s *RuleSuggester) Suggest(_ context.Context, symptoms string) (Suggestion, error) {
	symptoms = strings.TrimSpace(symptoms)
	if symptoms == "" {
		return Suggestion{}, ErrEmptySymptoms
	}

	lower := strings.ToLower(symptoms)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.suggestion, nil
			}
		}
	}
	return defaultSuggestion, nil
}
