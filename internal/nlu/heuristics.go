package nlu

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"respira-triage/internal/triage"
)

// Deterministic keyword extraction. This is the offline fallback when the
// language model is unreachable, and it also resolves bare yes/no/number
// replies against the question currently being asked.

var (
	durationPattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:days?|hari)`)
	bareNumber      = regexp.MustCompile(`^\s*(\d+(?:[.,]\d+)?)\s*$`)
)

var feverKeywords = []string{"fever", "feverish", "demam", "meriang", "38", "39", "40"}

var dyspneaKeywords = []string{
	"short of breath", "shortness of breath", "breathless", "hard to breathe",
	"difficulty breathing", "wheez", "sesak", "chest tight",
}

var comorbidityKeywords = []string{
	"asthma", "asma", "diabetes", "hypertension", "darah tinggi",
	"copd", "heart disease", "jantung", "kidney", "ginjal", "cancer",
}

var negators = []string{"no ", "not ", "don't", "dont", "never", "without", "tidak ", "tak ", "belum ", "bukan "}

func containsAny(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

// negatedAround reports whether a negator appears shortly before the keyword.
func negatedAround(text, keyword string) bool {
	idx := strings.Index(text, keyword)
	if idx < 0 {
		return false
	}
	window := text[maxInt(0, idx-16):idx]
	for _, neg := range negators {
		if strings.Contains(window, neg) {
			return true
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// HeuristicExtract derives whatever the keyword rules can resolve from one
// turn. It never invents values: a field absent from the text stays nil.
func HeuristicExtract(req Request) Analysis {
	text := strings.ToLower(strings.TrimSpace(req.Text))
	out := Analysis{
		Provider:    "HEURISTIC",
		Confidences: map[triage.Field]float64{},
		Rationales:  map[triage.Field]string{},
		Answers:     map[triage.Field]string{},
		TaskStatus:  map[triage.Field]triage.TaskHint{},
	}
	if text == "" {
		return out
	}

	signal := func(field triage.Field, rationale string, confidence float64) {
		out.Confidences[field] = confidence
		out.Rationales[field] = rationale
		out.Answers[field] = strings.TrimSpace(req.Text)
		out.HeuristicSignals = append(out.HeuristicSignals, fmt.Sprintf("%s: %s", field, rationale))
	}

	if kw, ok := containsAny(text, feverKeywords); ok {
		v := !negatedAround(text, kw)
		out.Fields.FeverStatus = &v
		signal(triage.FieldFeverStatus, "keyword "+kw, 0.4)
	}
	if kw, ok := containsAny(text, dyspneaKeywords); ok {
		v := !negatedAround(text, kw)
		out.Fields.Dyspnea = &v
		signal(triage.FieldDyspnea, "keyword "+kw, 0.4)
	}
	if kw, ok := containsAny(text, comorbidityKeywords); ok {
		v := !negatedAround(text, kw)
		out.Fields.Comorbidity = &v
		signal(triage.FieldComorbidity, "keyword "+kw, 0.4)
	}
	if m := durationPattern.FindStringSubmatch(text); m != nil {
		if days, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64); err == nil && days >= 0 && days <= 365 {
			out.Fields.OnsetDays = &days
			signal(triage.FieldOnsetDays, "duration phrase "+m[0], 0.5)
		}
	}

	resolveShortAnswer(&out, req, text)

	// Anything resolved this turn is at least COLLECTED.
	for _, field := range triage.RequiredFields {
		if out.Fields.Has(field) {
			out.TaskStatus[field] = triage.TaskHint{Status: triage.TaskCollected, LatestAnswer: out.Answers[field]}
		}
	}

	merged := mergeKnown(req.Known, out.Fields)
	if len(merged.Missing()) == 0 && req.ConfirmationState != triage.ConfirmConfirmed {
		out.ConfirmationState = triage.ConfirmRequest
	} else if next := nextMissing(merged); next != "" && len(out.HeuristicSignals) > 0 {
		out.Reply = triage.FieldPrompt(next)
		out.TaskStatus[next] = triage.TaskHint{Status: triage.TaskAsking, Prompt: out.Reply}
	}
	if len(out.HeuristicSignals) > 0 {
		out.Raw = map[string]any{"heuristics": out.HeuristicSignals}
	}
	return out
}

// resolveShortAnswer maps a bare yes/no/number onto the field currently being
// asked, since such replies carry no keyword of their own.
func resolveShortAnswer(out *Analysis, req Request, text string) {
	field := req.AskingField
	if field == "" || out.Fields.Has(field) {
		return
	}
	switch field {
	case triage.FieldOnsetDays:
		if m := bareNumber.FindStringSubmatch(text); m != nil {
			if days, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64); err == nil && days >= 0 && days <= 365 {
				out.Fields.OnsetDays = &days
				out.Confidences[field] = 0.5
				out.Rationales[field] = "bare number answer"
				out.Answers[field] = strings.TrimSpace(req.Text)
				out.HeuristicSignals = append(out.HeuristicSignals, "onsetDays: bare number answer")
			}
		}
	case triage.FieldFeverStatus, triage.FieldDyspnea, triage.FieldComorbidity:
		var v *bool
		switch {
		case triage.IsAffirmative(text):
			t := true
			v = &t
		case triage.IsNegative(text):
			f := false
			v = &f
		}
		if v == nil {
			return
		}
		switch field {
		case triage.FieldFeverStatus:
			out.Fields.FeverStatus = v
		case triage.FieldDyspnea:
			out.Fields.Dyspnea = v
		case triage.FieldComorbidity:
			out.Fields.Comorbidity = v
		}
		out.Confidences[field] = 0.5
		out.Rationales[field] = "direct yes/no answer"
		out.Answers[field] = strings.TrimSpace(req.Text)
		out.HeuristicSignals = append(out.HeuristicSignals, string(field)+": direct yes/no answer")
	}
}

func mergeKnown(known, incoming triage.SymptomFields) triage.SymptomFields {
	merged := known
	if incoming.FeverStatus != nil {
		merged.FeverStatus = incoming.FeverStatus
	}
	if incoming.OnsetDays != nil {
		merged.OnsetDays = incoming.OnsetDays
	}
	if incoming.Dyspnea != nil {
		merged.Dyspnea = incoming.Dyspnea
	}
	if incoming.Comorbidity != nil {
		merged.Comorbidity = incoming.Comorbidity
	}
	return merged
}

func nextMissing(fields triage.SymptomFields) triage.Field {
	missing := fields.Missing()
	if len(missing) == 0 {
		return ""
	}
	return missing[0]
}
