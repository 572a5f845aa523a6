package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"respira-triage/internal/triage"
)

const visionPrompt = `You are assessing a photo of sputum (phlegm) for a respiratory triage service.
Rate the presence of each marker with a confidence between 0 and 1. Use 0 when a marker is absent.
Markers: GREEN (green or yellow-green discoloration), BLOOD_TINGED (visible blood streaks), VISCOUS (thick, sticky texture), CLEAR (thin and transparent).
Respond with JSON only: {"markers": {"GREEN": {"confidence": number, "rationale": string}, ...}, "summary": string}.
If the image does not show sputum at all, set every confidence to 0 and explain in the summary.`

// ChatCompleter is the slice of the OpenAI client the analyzer uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Result is one image assessment: normalized markers plus the derived score
// and category.
type Result struct {
	Markers            map[string]triage.MarkerEntry
	SeverityImageScore *float64
	SputumCategory     string
	CategoryConfidence *float64
	Summary            string
	Provider           string
	Model              string
}

// Analyzer rates a sputum photo. Implementations must degrade gracefully:
// an unusable image is a zero-marker result, not an error.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, imageURL string) (Result, error)
}

// OpenAIAnalyzer rates sputum photos with a multimodal chat completion.
type OpenAIAnalyzer struct {
	client  ChatCompleter
	model   string
	timeout time.Duration
}

func NewOpenAIAnalyzer(client ChatCompleter, model string, timeout time.Duration) *OpenAIAnalyzer {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIAnalyzer{client: client, model: model, timeout: timeout}
}

func (a *OpenAIAnalyzer) AnalyzeImage(ctx context.Context, imageURL string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.model,
		MaxTokens: 500,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: visionPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Assess this sputum photo."},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("vision completion: empty response")
	}

	result, err := ParseAssessment(resp.Choices[0].Message.Content)
	if err != nil {
		return Result{}, err
	}
	result.Provider = "OPENAI"
	result.Model = a.model
	return result, nil
}

type wireMarker struct {
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

type wireAssessment struct {
	Markers map[string]wireMarker `json:"markers"`
	Summary string                `json:"summary"`
}

// ParseAssessment decodes the model's marker ratings and derives the image
// score and dominant category from them.
func ParseAssessment(raw string) (Result, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var wire wireAssessment
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return Result{}, fmt.Errorf("decode assessment: %w", err)
	}

	markers := make(map[string]triage.MarkerEntry, len(wire.Markers))
	for name, m := range wire.Markers {
		markers[name] = triage.MarkerEntry{
			Confidence: m.Confidence,
			Rationale:  m.Rationale,
			Source:     "MODEL",
		}
	}
	norm := NormalizeMarkers(markers)
	category, categoryConfidence := DetermineSputumCategory(norm)

	return Result{
		Markers:            norm,
		SeverityImageScore: ImageScore(norm),
		SputumCategory:     category,
		CategoryConfidence: categoryConfidence,
		Summary:            strings.TrimSpace(wire.Summary),
	}, nil
}

// FromManualMarkers builds a result from doctor-supplied marker ratings, used
// when the model is unavailable or its answer is overridden.
func FromManualMarkers(raw map[string]triage.MarkerEntry, summary string) Result {
	markers := make(map[string]triage.MarkerEntry, len(raw))
	for name, entry := range raw {
		if entry.Source == "" {
			entry.Source = "MANUAL"
		}
		markers[name] = entry
	}
	norm := NormalizeMarkers(markers)
	category, categoryConfidence := DetermineSputumCategory(norm)
	return Result{
		Markers:            norm,
		SeverityImageScore: ImageScore(norm),
		SputumCategory:     category,
		CategoryConfidence: categoryConfidence,
		Summary:            summary,
		Provider:           "MANUAL",
	}
}
