package nlu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respira-triage/internal/triage"
)

func TestHeuristicExtract_KeywordsAndDuration(t *testing.T) {
	out := HeuristicExtract(Request{
		Text: "I've had a fever and been coughing for 5 days, a bit short of breath too",
	})

	require.NotNil(t, out.Fields.FeverStatus)
	assert.True(t, *out.Fields.FeverStatus)
	require.NotNil(t, out.Fields.OnsetDays)
	assert.Equal(t, 5.0, *out.Fields.OnsetDays)
	require.NotNil(t, out.Fields.Dyspnea)
	assert.True(t, *out.Fields.Dyspnea)
	assert.Nil(t, out.Fields.Comorbidity)
	assert.NotEmpty(t, out.HeuristicSignals)
	assert.Equal(t, triage.TaskCollected, out.TaskStatus[triage.FieldFeverStatus].Status)
}

func TestHeuristicExtract_Negation(t *testing.T) {
	out := HeuristicExtract(Request{Text: "I have no fever but I do have asthma"})

	require.NotNil(t, out.Fields.FeverStatus)
	assert.False(t, *out.Fields.FeverStatus)
	require.NotNil(t, out.Fields.Comorbidity)
	assert.True(t, *out.Fields.Comorbidity)
}

func TestHeuristicExtract_IndonesianVariants(t *testing.T) {
	out := HeuristicExtract(Request{Text: "sudah demam dan batuk 3 hari, tidak sesak"})

	require.NotNil(t, out.Fields.FeverStatus)
	assert.True(t, *out.Fields.FeverStatus)
	require.NotNil(t, out.Fields.OnsetDays)
	assert.Equal(t, 3.0, *out.Fields.OnsetDays)
	require.NotNil(t, out.Fields.Dyspnea)
	assert.False(t, *out.Fields.Dyspnea)
}

func TestHeuristicExtract_BareAnswersResolveAskedField(t *testing.T) {
	out := HeuristicExtract(Request{Text: "yes", AskingField: triage.FieldDyspnea})
	require.NotNil(t, out.Fields.Dyspnea)
	assert.True(t, *out.Fields.Dyspnea)

	out = HeuristicExtract(Request{Text: "tidak", AskingField: triage.FieldComorbidity})
	require.NotNil(t, out.Fields.Comorbidity)
	assert.False(t, *out.Fields.Comorbidity)

	out = HeuristicExtract(Request{Text: "7", AskingField: triage.FieldOnsetDays})
	require.NotNil(t, out.Fields.OnsetDays)
	assert.Equal(t, 7.0, *out.Fields.OnsetDays)
}

func TestHeuristicExtract_BareAnswerWithoutContextResolvesNothing(t *testing.T) {
	out := HeuristicExtract(Request{Text: "yes"})
	assert.Len(t, out.Fields.Missing(), 4)
}

func TestHeuristicExtract_RequestsConfirmationWhenComplete(t *testing.T) {
	known := triage.SymptomFields{
		FeverStatus: boolPtr(true),
		OnsetDays:   floatPtr(4),
		Dyspnea:     boolPtr(false),
	}
	out := HeuristicExtract(Request{Text: "no", Known: known, AskingField: triage.FieldComorbidity})

	require.NotNil(t, out.Fields.Comorbidity)
	assert.False(t, *out.Fields.Comorbidity)
	assert.Equal(t, triage.ConfirmRequest, out.ConfirmationState)
}

func TestHeuristicExtract_AsksNextMissingField(t *testing.T) {
	out := HeuristicExtract(Request{Text: "got a fever since yesterday"})

	require.NotNil(t, out.Fields.FeverStatus)
	assert.Equal(t, triage.FieldPrompt(triage.FieldOnsetDays), out.Reply)
	assert.Equal(t, triage.TaskAsking, out.TaskStatus[triage.FieldOnsetDays].Status)
}

func TestHeuristicExtract_DurationBoundsRejected(t *testing.T) {
	out := HeuristicExtract(Request{Text: "coughing for 9999 days"})
	assert.Nil(t, out.Fields.OnsetDays)
}

func boolPtr(v bool) *bool        { return &v }
func floatPtr(v float64) *float64 { return &v }
