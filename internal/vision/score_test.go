package vision

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respira-triage/internal/triage"
)

func TestImageScore_WeightedAverage(t *testing.T) {
	markers := map[string]triage.MarkerEntry{
		MarkerGreen: {Confidence: 0.8},
		MarkerClear: {Confidence: 0.2},
	}
	score := ImageScore(markers)
	require.NotNil(t, score)
	// (0.4*0.8 + 0.1*0.2) / (0.4 + 0.1) = 0.68
	assert.Equal(t, 0.68, *score)
}

func TestImageScore_IgnoresZeroConfidenceMarkers(t *testing.T) {
	markers := map[string]triage.MarkerEntry{
		MarkerGreen:       {Confidence: 0},
		MarkerBloodTinged: {Confidence: 0.5},
	}
	score := ImageScore(markers)
	require.NotNil(t, score)
	assert.Equal(t, 0.5, *score)
}

func TestImageScore_FullConfidenceReachesMarkerCeiling(t *testing.T) {
	score := ImageScore(map[string]triage.MarkerEntry{
		MarkerBloodTinged: {Confidence: 1.0},
	})
	require.NotNil(t, score)
	assert.Equal(t, 1.0, *score)
}

func TestImageScore_NoPositiveMarkersNoScore(t *testing.T) {
	assert.Nil(t, ImageScore(nil))
	assert.Nil(t, ImageScore(map[string]triage.MarkerEntry{
		MarkerGreen: {Confidence: 0},
		MarkerClear: {Confidence: -1},
	}))
}

func TestNormalizeMarkers(t *testing.T) {
	norm := NormalizeMarkers(map[string]triage.MarkerEntry{
		" green ":   {Confidence: 1.4, Rationale: "bright green"},
		"viscous":   {Confidence: 0.3},
		"SPARKLING": {Confidence: 0.9},
	})

	require.Len(t, norm, 2)
	assert.Equal(t, 1.0, norm[MarkerGreen].Confidence)
	assert.Equal(t, "bright green", norm[MarkerGreen].Rationale)
	assert.Equal(t, 0.3, norm[MarkerViscous].Confidence)
}

func TestMergeMarkers_HigherConfidenceWins(t *testing.T) {
	merged := MergeMarkers(
		map[string]triage.MarkerEntry{
			MarkerGreen:   {Confidence: 0.7, Rationale: "first photo"},
			MarkerViscous: {Confidence: 0.4},
		},
		map[string]triage.MarkerEntry{
			MarkerGreen:       {Confidence: 0.5, Rationale: "second photo"},
			MarkerBloodTinged: {Confidence: 0.6},
		},
	)

	assert.Equal(t, 0.7, merged[MarkerGreen].Confidence)
	assert.Equal(t, "first photo", merged[MarkerGreen].Rationale)
	assert.Equal(t, 0.4, merged[MarkerViscous].Confidence)
	assert.Equal(t, 0.6, merged[MarkerBloodTinged].Confidence)
}

func TestMergeMarkers_KeepsLosingRationaleAndKeywords(t *testing.T) {
	merged := MergeMarkers(
		map[string]triage.MarkerEntry{
			MarkerGreen:   {Confidence: 0.4, Rationale: "greenish tint", Keywords: []string{"green"}},
			MarkerViscous: {Confidence: 0.8},
		},
		map[string]triage.MarkerEntry{
			MarkerGreen:   {Confidence: 0.9},
			MarkerViscous: {Confidence: 0.3, Rationale: "hard to expel"},
		},
	)

	assert.Equal(t, 0.9, merged[MarkerGreen].Confidence)
	assert.Equal(t, "greenish tint", merged[MarkerGreen].Rationale)
	assert.Equal(t, []string{"green"}, merged[MarkerGreen].Keywords)
	assert.Equal(t, 0.8, merged[MarkerViscous].Confidence)
	assert.Equal(t, "hard to expel", merged[MarkerViscous].Rationale)
}

func TestDetermineSputumCategory(t *testing.T) {
	category, confidence := DetermineSputumCategory(map[string]triage.MarkerEntry{
		MarkerViscous: {Confidence: 0.9},
		MarkerGreen:   {Confidence: 0.4},
	})
	assert.Equal(t, MarkerViscous, category)
	require.NotNil(t, confidence)
	assert.Equal(t, 0.9, *confidence)
}

func TestDetermineSputumCategory_TieBreaksBySeverityOrder(t *testing.T) {
	category, _ := DetermineSputumCategory(map[string]triage.MarkerEntry{
		MarkerClear:       {Confidence: 0.5},
		MarkerBloodTinged: {Confidence: 0.5},
	})
	assert.Equal(t, MarkerBloodTinged, category)
}

func TestDetermineSputumCategory_Unknown(t *testing.T) {
	category, confidence := DetermineSputumCategory(nil)
	assert.Equal(t, CategoryUnknown, category)
	assert.Nil(t, confidence)
}

func TestParseAssessment(t *testing.T) {
	raw := "```json\n" + `{
	  "markers": {
	    "GREEN": {"confidence": 0.75, "rationale": "yellow-green tint"},
	    "blood_tinged": {"confidence": 0},
	    "VISCOUS": {"confidence": 0.25}
	  },
	  "summary": "Greenish, moderately thick sputum."
	}` + "\n```"

	result, err := ParseAssessment(raw)
	require.NoError(t, err)

	assert.Equal(t, "MODEL", result.Markers[MarkerGreen].Source)
	require.NotNil(t, result.SeverityImageScore)
	// (0.4*0.75 + 0.2*0.25) / (0.4 + 0.2) = 0.58
	assert.Equal(t, 0.58, *result.SeverityImageScore)
	assert.Equal(t, MarkerGreen, result.SputumCategory)
	require.NotNil(t, result.CategoryConfidence)
	assert.Equal(t, 0.75, *result.CategoryConfidence)
	assert.Equal(t, "Greenish, moderately thick sputum.", result.Summary)
}

func TestParseAssessment_InvalidJSON(t *testing.T) {
	_, err := ParseAssessment("the sputum looks green to me")
	assert.Error(t, err)
}

func TestFromManualMarkers(t *testing.T) {
	result := FromManualMarkers(map[string]triage.MarkerEntry{
		MarkerBloodTinged: {Confidence: 0.6},
	}, "doctor noted blood streaks")

	assert.Equal(t, "MANUAL", result.Provider)
	assert.Equal(t, "MANUAL", result.Markers[MarkerBloodTinged].Source)
	require.NotNil(t, result.SeverityImageScore)
	assert.Equal(t, 0.6, *result.SeverityImageScore)
	assert.Equal(t, MarkerBloodTinged, result.SputumCategory)
}

type stubCompleter struct {
	content string
	gotReq  openai.ChatCompletionRequest
}

func (s *stubCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.gotReq = req
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

func TestOpenAIAnalyzer_SendsImageURL(t *testing.T) {
	stub := &stubCompleter{content: `{"markers":{"CLEAR":{"confidence":0.9}},"summary":"thin and clear"}`}
	analyzer := NewOpenAIAnalyzer(stub, "", 0)

	result, err := analyzer.AnalyzeImage(context.Background(), "https://example.com/sputum.jpg")
	require.NoError(t, err)

	assert.Equal(t, "OPENAI", result.Provider)
	assert.Equal(t, MarkerClear, result.SputumCategory)
	require.NotNil(t, result.SeverityImageScore)
	assert.Equal(t, 0.9, *result.SeverityImageScore)

	require.Len(t, stub.gotReq.Messages, 2)
	parts := stub.gotReq.Messages[1].MultiContent
	require.Len(t, parts, 2)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, parts[1].Type)
	require.NotNil(t, parts[1].ImageURL)
	assert.Equal(t, "https://example.com/sputum.jpg", parts[1].ImageURL.URL)
}

var _ Analyzer = (*OpenAIAnalyzer)(nil)
