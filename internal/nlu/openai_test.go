package nlu

import (
	"context"
	"errors"
	"fmt"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"respira-triage/internal/triage"
)

func TestParseExtraction_FullPayload(t *testing.T) {
	raw := `{
	  "reply": "Thanks, noted. How many days have you been coughing?",
	  "symptoms": {
	    "feverStatus": {"value": true, "confidence": 0.92, "rationale": "patient reports 39C"},
	    "dyspnea": {"value": "no", "confidence": 0.8}
	  },
	  "taskStatus": {"feverStatus": "COLLECTED", "onsetDays": "ASKING"},
	  "confirmation": {"state": "NONE", "summary": ""},
	  "recommendImage": true,
	  "notes": "patient sounds anxious"
	}`

	analysis, err := ParseExtraction(raw)
	require.NoError(t, err)

	require.NotNil(t, analysis.Fields.FeverStatus)
	assert.True(t, *analysis.Fields.FeverStatus)
	require.NotNil(t, analysis.Fields.Dyspnea)
	assert.False(t, *analysis.Fields.Dyspnea)
	assert.Nil(t, analysis.Fields.OnsetDays)
	assert.Equal(t, 0.92, analysis.Confidences[triage.FieldFeverStatus])
	assert.Equal(t, "patient reports 39C", analysis.Rationales[triage.FieldFeverStatus])
	assert.Equal(t, triage.TaskCollected, analysis.TaskStatus[triage.FieldFeverStatus].Status)
	assert.Equal(t, triage.TaskAsking, analysis.TaskStatus[triage.FieldOnsetDays].Status)
	assert.Equal(t, triage.ConfirmationState(""), analysis.ConfirmationState)
	require.NotNil(t, analysis.RecommendImage)
	assert.True(t, *analysis.RecommendImage)
	assert.Equal(t, "patient sounds anxious", analysis.Notes)
}

func TestParseExtraction_ToleratesFencesAliasesAndJunk(t *testing.T) {
	raw := "```json\n" + `{
	  "reply": "ok",
	  "symptoms": {
	    "fever": {"value": "yes", "confidence": 2.5},
	    "coughDays": {"value": "4", "confidence": 0.7},
	    "bloodPressure": {"value": true, "confidence": 0.9},
	    "comorbidity": {"value": "maybe", "confidence": 0.5}
	  },
	  "confirmation": {"state": "request", "summary": "fever yes, cough 4 days"}
	}` + "\n```"

	analysis, err := ParseExtraction(raw)
	require.NoError(t, err)

	require.NotNil(t, analysis.Fields.FeverStatus)
	assert.True(t, *analysis.Fields.FeverStatus)
	assert.Equal(t, 1.0, analysis.Confidences[triage.FieldFeverStatus], "confidence clamped")
	require.NotNil(t, analysis.Fields.OnsetDays)
	assert.Equal(t, 4.0, *analysis.Fields.OnsetDays)
	// Unknown field names and unparseable values are dropped, not errors.
	assert.Nil(t, analysis.Fields.Comorbidity)
	assert.Equal(t, triage.ConfirmRequest, analysis.ConfirmationState)
	assert.Equal(t, "fever yes, cough 4 days", analysis.ConfirmationSummary)
}

func TestParseExtraction_InvalidJSON(t *testing.T) {
	_, err := ParseExtraction("I think the patient has a fever.")
	assert.Error(t, err)
}

type stubCompleter struct {
	content string
	err     error
	gotReq  openai.ChatCompletionRequest
}

func (s *stubCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.gotReq = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

func TestOpenAIProvider_Analyze(t *testing.T) {
	stub := &stubCompleter{content: `{"reply":"noted","symptoms":{"feverStatus":{"value":true,"confidence":0.9}}}`}
	provider := NewOpenAIProvider(stub, "gpt-4o-mini", 0)

	analysis, err := provider.Analyze(context.Background(), Request{
		Text:        "I have a 39C fever",
		AskingField: triage.FieldFeverStatus,
	})
	require.NoError(t, err)

	assert.Equal(t, "OPENAI", analysis.Provider)
	assert.Equal(t, "gpt-4o-mini", analysis.Model)
	require.NotNil(t, analysis.Fields.FeverStatus)
	assert.Equal(t, "I have a 39C fever", analysis.Answers[triage.FieldFeverStatus])

	require.NotNil(t, stub.gotReq.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, stub.gotReq.ResponseFormat.Type)
	require.NotEmpty(t, stub.gotReq.Messages)
	assert.Equal(t, openai.ChatMessageRoleSystem, stub.gotReq.Messages[0].Role)
	assert.Equal(t, "I have a 39C fever", stub.gotReq.Messages[len(stub.gotReq.Messages)-1].Content)
}

func TestOpenAIProvider_CapturesRawReply(t *testing.T) {
	stub := &stubCompleter{content: `{"reply":"noted","symptoms":{"dyspnea":{"value":false,"confidence":0.7}}}`}
	provider := NewOpenAIProvider(stub, "", 0)

	analysis, err := provider.Analyze(context.Background(), Request{Text: "breathing is fine"})
	require.NoError(t, err)

	require.NotNil(t, analysis.Raw)
	assert.Contains(t, analysis.Raw["rawExcerpt"], `"reply":"noted"`)
}

func TestOpenAIProvider_BoundsHistory(t *testing.T) {
	stub := &stubCompleter{content: `{"reply":"noted"}`}
	provider := NewOpenAIProvider(stub, "", 0)

	history := make([]Turn, 0, 14)
	for i := 0; i < 7; i++ {
		history = append(history,
			Turn{Role: RolePatient, Text: fmt.Sprintf("patient %d", i)},
			Turn{Role: RoleAssistant, Text: fmt.Sprintf("assistant %d", i)},
		)
	}
	_, err := provider.Analyze(context.Background(), Request{Text: "still coughing", History: history})
	require.NoError(t, err)

	// Two system messages, the last ten history turns, one user turn.
	require.Len(t, stub.gotReq.Messages, 13)
	assert.Equal(t, "patient 2", stub.gotReq.Messages[2].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, stub.gotReq.Messages[2].Role)
	assert.Equal(t, "assistant 6", stub.gotReq.Messages[11].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, stub.gotReq.Messages[11].Role)
	assert.Equal(t, "still coughing", stub.gotReq.Messages[12].Content)
}

func TestService_FallsBackToHeuristics(t *testing.T) {
	stub := &stubCompleter{err: errors.New("rate limited")}
	svc := NewService(NewOpenAIProvider(stub, "", 0), zap.NewNop())

	analysis, err := svc.Analyze(context.Background(), Request{
		Text: "been coughing 6 days with a fever",
	})
	require.NoError(t, err)

	assert.True(t, analysis.FallbackUsed)
	assert.Equal(t, "HEURISTIC", analysis.Provider)
	require.NotNil(t, analysis.Fields.OnsetDays)
	assert.Equal(t, 6.0, *analysis.Fields.OnsetDays)
	require.NotNil(t, analysis.Fields.FeverStatus)
	assert.True(t, *analysis.Fields.FeverStatus)
}

func TestService_UnresolvableTurnStillPrompts(t *testing.T) {
	stub := &stubCompleter{err: errors.New("timeout")}
	svc := NewService(NewOpenAIProvider(stub, "", 0), zap.NewNop())

	analysis, err := svc.Analyze(context.Background(), Request{
		Text:        "hmm let me think",
		AskingField: triage.FieldOnsetDays,
	})
	require.NoError(t, err)

	assert.True(t, analysis.FallbackUsed)
	assert.Equal(t, triage.FieldPrompt(triage.FieldOnsetDays), analysis.Reply)
}

func TestService_ErrorWhenNothingUsable(t *testing.T) {
	stub := &stubCompleter{err: errors.New("down")}
	svc := NewService(NewOpenAIProvider(stub, "", 0), zap.NewNop())

	known := triage.SymptomFields{
		FeverStatus: boolPtr(true),
		OnsetDays:   floatPtr(2),
		Dyspnea:     boolPtr(false),
		Comorbidity: boolPtr(false),
	}
	_, err := svc.Analyze(context.Background(), Request{Text: "", Known: known})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

var _ Provider = (*OpenAIProvider)(nil)
