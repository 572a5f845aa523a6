package triage

import (
	"fmt"
	"strings"
)

// Questionnaire wording. The exact phrasing is presentation, not protocol;
// everything keyed off patient replies goes through the vocabulary sets below.

const WelcomeMessage = "Hi, I'm your respiratory care assistant. I'll ask a few quick questions " +
	"so a doctor can review your case. " + feverPrompt

const (
	feverPrompt = "Have you had a high fever (38°C or more) recently? Please reply YES or NO."

	onsetPrompt = "Noted. How many days have you been coughing? Just the number is fine (for example: 3)."

	dyspneaPrompt = "Do you feel short of breath or find breathing heavy lately? Reply YES if so, NO if not."

	comorbidityPrompt = "Do you have any underlying conditions such as asthma, diabetes or hypertension? Reply YES if you do."

	imageRequestPrompt = "If you can, please send a photo of your sputum (phlegm). It helps the doctor judge severity. " +
		"Reply NO if you'd rather skip this."

	revisePrompt = "No problem. Tell me which detail is wrong and I'll correct it."

	escalationAck = "Thank you, that's everything I need. A doctor will review your case shortly."
)

// FieldPrompt returns the questionnaire prompt for a mandatory field.
func FieldPrompt(field Field) string {
	switch field {
	case FieldFeverStatus:
		return feverPrompt
	case FieldOnsetDays:
		return onsetPrompt
	case FieldDyspnea:
		return dyspneaPrompt
	case FieldComorbidity:
		return comorbidityPrompt
	}
	return ""
}

// FieldLabel returns the human label used in summaries and context prompts.
func FieldLabel(field Field) string {
	switch field {
	case FieldFeverStatus:
		return "high fever"
	case FieldOnsetDays:
		return "cough duration"
	case FieldDyspnea:
		return "shortness of breath"
	case FieldComorbidity:
		return "comorbidities"
	}
	return string(field)
}

var yesVariants = map[string]struct{}{
	"y": {}, "yes": {}, "yeah": {}, "yep": {}, "correct": {}, "right": {},
	"ok": {}, "okay": {}, "sure": {}, "ya": {}, "iya": {}, "benar": {}, "betul": {},
}

var noVariants = map[string]struct{}{
	"n": {}, "no": {}, "nope": {}, "wrong": {}, "incorrect": {},
	"not yet": {}, "tidak": {}, "tak": {}, "belum": {}, "bukan": {},
}

func normalizeReply(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// IsAffirmative reports whether the reply is a bare confirmation.
func IsAffirmative(text string) bool {
	_, ok := yesVariants[normalizeReply(text)]
	return ok
}

// IsNegative reports whether the reply is a bare denial.
func IsNegative(text string) bool {
	_, ok := noVariants[normalizeReply(text)]
	return ok
}

func summarizeField(field Field, fields SymptomFields) string {
	switch field {
	case FieldFeverStatus:
		switch {
		case fields.FeverStatus == nil:
			return "Fever status still unclear"
		case *fields.FeverStatus:
			return "High fever reported"
		default:
			return "No high fever"
		}
	case FieldOnsetDays:
		if fields.OnsetDays == nil {
			return "Cough duration still unclear"
		}
		return fmt.Sprintf("Coughing for %g day(s)", *fields.OnsetDays)
	case FieldDyspnea:
		switch {
		case fields.Dyspnea == nil:
			return "Shortness of breath still unclear"
		case *fields.Dyspnea:
			return "Shortness of breath reported"
		default:
			return "No shortness of breath"
		}
	case FieldComorbidity:
		switch {
		case fields.Comorbidity == nil:
			return "Comorbidity history still unclear"
		case *fields.Comorbidity:
			return "Has comorbidities"
		default:
			return "No significant comorbidities"
		}
	}
	return ""
}

// BuildSummaryMessage renders the consolidated confirmation summary for the
// collected mandatory fields.
func BuildSummaryMessage(fields SymptomFields) string {
	lines := make([]string, 0, len(RequiredFields))
	for _, field := range RequiredFields {
		lines = append(lines, summarizeField(field, fields))
	}
	return fmt.Sprintf("Here's what I have:\n- %s\nIs this correct? Reply YES to confirm, or NO if something needs fixing.",
		strings.Join(lines, "\n- "))
}
