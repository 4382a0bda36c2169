package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const suggestPrompt = `You are a medical triage assistant. Based on the symptoms below,
respond with a single JSON object and nothing else, using exactly these keys:
{"disease": string, "specialty": string, "urgency": "low"|"medium"|"high",
"guidance": string, "preventive": [five short strings]}

Symptoms: %s`

// GeminiSuggester calls the Gemini API and falls back to the deterministic
// rule table when the call fails, so triage always produces an answer.
type GeminiSuggester struct {
	client   *genai.Client
	modelID  string
	fallback *RuleSuggester
	logger   *zap.Logger
}

func NewGeminiSuggester(ctx context.Context, apiKey, modelID string, logger *zap.Logger) (*GeminiSuggester, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("triage: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-1.5-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("triage: create gemini client: %w", err)
	}

	return &GeminiSuggester{
		client:   client,
		modelID:  modelID,
		fallback: NewRuleSuggester(),
		logger:   logger,
	}, nil
}

func (s *GeminiSuggester) Suggest(ctx context.Context, symptoms string) (Suggestion, error) {
	symptoms = strings.TrimSpace(symptoms)
	if symptoms == "" {
		return Suggestion{}, ErrEmptySymptoms
	}

	suggestion, err := s.generate(ctx, symptoms)
	if err != nil {
		s.logger.Warn("gemini triage failed, using fallback", zap.Error(err))
		return s.fallback.Suggest(ctx, symptoms)
	}
	return suggestion, nil
}

func (s *GeminiSuggester) generate(ctx context.Context, symptoms string) (Suggestion, error) {
	model := s.client.GenerativeModel(s.modelID)
	model.SetTemperature(0.2)

	resp, err := model.GenerateContent(ctx, genai.Text(fmt.Sprintf(suggestPrompt, symptoms)))
	if err != nil {
		return Suggestion{}, fmt.Errorf("generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Suggestion{}, errors.New("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	raw := strings.TrimSpace(text.String())
	// Models sometimes wrap JSON in a fenced code block.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var suggestion Suggestion
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &suggestion); err != nil {
		return Suggestion{}, fmt.Errorf("parse gemini response: %w", err)
	}
	if suggestion.Condition == "" || suggestion.Specialty == "" {
		return Suggestion{}, errors.New("gemini response missing required fields")
	}
	return suggestion, nil
}

func (s *GeminiSuggester) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
