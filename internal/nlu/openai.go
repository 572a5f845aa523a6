package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"respira-triage/internal/triage"
)

const systemPrompt = `You are a respiratory triage assistant collecting four clinical signals from a patient chat:
feverStatus (boolean, high fever >= 38C), onsetDays (number of days coughing), dyspnea (boolean, shortness of breath), comorbidity (boolean, any chronic condition such as asthma, diabetes, hypertension).
Respond with JSON only, following this schema exactly:
{"reply": string, "symptoms": {"<field>": {"value": bool|number, "confidence": number 0-1, "rationale": string}}, "taskStatus": {"<field>": "PENDING"|"ASKING"|"COLLECTED"|"CONFIRMED"|"CLARIFY"}, "confirmation": {"state": "NONE"|"REQUEST"|"CONFIRMED"|"REVISE", "summary": string}, "recommendImage": bool, "notes": string}
Only include a symptom when the patient's message actually resolves it. Never guess. Keep the reply short, warm and plain, and ask for the next missing signal. When all four signals are known, set confirmation.state to REQUEST and put a bullet summary of the collected signals in confirmation.summary.`

// ChatCompleter is the slice of the OpenAI client the extractor uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider extracts symptoms with a chat completion in JSON mode.
type OpenAIProvider struct {
	client  ChatCompleter
	model   string
	timeout time.Duration
}

// NewOpenAIProvider builds the model-backed extractor. An empty model falls
// back to gpt-4o-mini.
func NewOpenAIProvider(client ChatCompleter, model string, timeout time.Duration) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &OpenAIProvider{client: client, model: model, timeout: timeout}
}

func contextPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Known so far: ")
	for _, field := range triage.RequiredFields {
		if req.Known.Has(field) {
			fmt.Fprintf(&b, "%s resolved; ", field)
		} else {
			fmt.Fprintf(&b, "%s missing; ", field)
		}
	}
	if req.AskingField != "" {
		fmt.Fprintf(&b, "\nThe last question asked about %s (%s); a bare yes/no or number answers it.",
			req.AskingField, triage.FieldLabel(req.AskingField))
	}
	if req.ConfirmationState == triage.ConfirmRequest {
		b.WriteString("\nA confirmation summary is pending; yes means CONFIRMED, no means REVISE.")
	}
	return b.String()
}

func (p *OpenAIProvider) Analyze(ctx context.Context, req Request) (Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleSystem, Content: contextPrompt(req)},
	}
	history := req.History
	if len(history) > MaxHistoryTurns {
		history = history[len(history)-MaxHistoryTurns:]
	}
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}
	if len(history) == 0 && req.LastReply != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: req.LastReply})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Text})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Analysis{}, fmt.Errorf("chat completion: empty response")
	}

	content := resp.Choices[0].Message.Content
	analysis, err := ParseExtraction(content)
	if err != nil {
		return Analysis{}, err
	}
	analysis.Provider = "OPENAI"
	analysis.Model = p.model
	analysis.Raw = map[string]any{"rawExcerpt": excerpt(content, 1000)}
	for _, field := range triage.RequiredFields {
		if analysis.Fields.Has(field) {
			analysis.Answers[field] = strings.TrimSpace(req.Text)
		}
	}
	return analysis, nil
}

func excerpt(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

type wireSymptom struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

type wireExtraction struct {
	Reply        string                 `json:"reply"`
	Symptoms     map[string]wireSymptom `json:"symptoms"`
	TaskStatus   map[string]string      `json:"taskStatus"`
	Confirmation struct {
		State   string `json:"state"`
		Summary string `json:"summary"`
	} `json:"confirmation"`
	RecommendImage *bool  `json:"recommendImage"`
	Notes          string `json:"notes"`
}

// ParseExtraction decodes the model's JSON answer into an Analysis. Unknown
// field names and unparseable values are skipped rather than failing the turn.
func ParseExtraction(raw string) (Analysis, error) {
	raw = strings.TrimSpace(raw)
	// Models occasionally wrap the JSON in a code fence despite JSON mode.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var wire wireExtraction
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return Analysis{}, fmt.Errorf("decode extraction: %w", err)
	}

	out := Analysis{
		Reply:          strings.TrimSpace(wire.Reply),
		Confidences:    map[triage.Field]float64{},
		Rationales:     map[triage.Field]string{},
		Answers:        map[triage.Field]string{},
		TaskStatus:     map[triage.Field]triage.TaskHint{},
		RecommendImage: wire.RecommendImage,
		Notes:          wire.Notes,
	}

	for name, sym := range wire.Symptoms {
		field, ok := fieldByName(name)
		if !ok {
			continue
		}
		switch field {
		case triage.FieldOnsetDays:
			if days := parseNumber(sym.Value); days != nil && *days >= 0 && *days <= 365 {
				out.Fields.OnsetDays = days
			} else {
				continue
			}
		case triage.FieldFeverStatus:
			if v := parseBoolish(sym.Value); v != nil {
				out.Fields.FeverStatus = v
			} else {
				continue
			}
		case triage.FieldDyspnea:
			if v := parseBoolish(sym.Value); v != nil {
				out.Fields.Dyspnea = v
			} else {
				continue
			}
		case triage.FieldComorbidity:
			if v := parseBoolish(sym.Value); v != nil {
				out.Fields.Comorbidity = v
			} else {
				continue
			}
		}
		out.Confidences[field] = triage.ClampConfidence(sym.Confidence)
		if sym.Rationale != "" {
			out.Rationales[field] = sym.Rationale
		}
	}

	for name, status := range wire.TaskStatus {
		field, ok := fieldByName(name)
		if !ok {
			continue
		}
		ts := triage.TaskStatus(strings.ToUpper(strings.TrimSpace(status)))
		switch ts {
		case triage.TaskPending, triage.TaskAsking, triage.TaskCollected, triage.TaskConfirmed, triage.TaskClarify:
			out.TaskStatus[field] = triage.TaskHint{Status: ts}
		}
	}

	switch triage.ConfirmationState(strings.ToUpper(strings.TrimSpace(wire.Confirmation.State))) {
	case triage.ConfirmRequest:
		out.ConfirmationState = triage.ConfirmRequest
	case triage.ConfirmConfirmed:
		out.ConfirmationState = triage.ConfirmConfirmed
	case triage.ConfirmRevise:
		out.ConfirmationState = triage.ConfirmRevise
	}
	out.ConfirmationSummary = strings.TrimSpace(wire.Confirmation.Summary)

	return out, nil
}

func fieldByName(name string) (triage.Field, bool) {
	switch strings.TrimSpace(name) {
	case string(triage.FieldFeverStatus), "fever":
		return triage.FieldFeverStatus, true
	case string(triage.FieldOnsetDays), "coughDays", "onset":
		return triage.FieldOnsetDays, true
	case string(triage.FieldDyspnea), "shortnessOfBreath":
		return triage.FieldDyspnea, true
	case string(triage.FieldComorbidity), "comorbidities":
		return triage.FieldComorbidity, true
	}
	return "", false
}

func parseBoolish(value any) *bool {
	switch v := value.(type) {
	case bool:
		b := v
		return &b
	case float64:
		if v == 1 {
			t := true
			return &t
		}
		if v == 0 {
			f := false
			return &f
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "y":
			t := true
			return &t
		case "false", "0", "no", "n":
			f := false
			return &f
		}
	}
	return nil
}

func parseNumber(value any) *float64 {
	switch v := value.(type) {
	case float64:
		return &v
	case string:
		var parsed float64
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%g", &parsed); err == nil {
			return &parsed
		}
	}
	return nil
}
