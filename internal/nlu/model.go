package nlu

import (
	"context"
	"errors"

	"respira-triage/internal/triage"
)

// ErrProviderUnavailable is returned when the language model cannot be
// reached and the deterministic extractor found nothing to work with.
var ErrProviderUnavailable = errors.New("nlu: provider unavailable")

// MaxHistoryTurns bounds how much chat history is sent to the provider.
const MaxHistoryTurns = 10

// Speaker roles for history turns.
const (
	RolePatient   = "patient"
	RoleAssistant = "assistant"
)

// Turn is one prior chat message, used as provider context.
type Turn struct {
	Role string
	Text string
}

// Request is one patient text turn plus the dialogue context the extractor
// needs to resolve short answers like "yes" or "3".
type Request struct {
	Text              string
	Known             triage.SymptomFields
	AskingField       triage.Field
	ConfirmationState triage.ConfirmationState
	LastReply         string
	History           []Turn
}

// Analysis is the extraction result for one turn. Fields carries only the
// values this turn resolved; merging into the episode document happens
// elsewhere.
type Analysis struct {
	Reply               string
	Fields              triage.SymptomFields
	Confidences         map[triage.Field]float64
	Rationales          map[triage.Field]string
	Answers             map[triage.Field]string
	TaskStatus          map[triage.Field]triage.TaskHint
	ConfirmationState   triage.ConfirmationState
	ConfirmationSummary string
	RecommendImage      *bool
	Notes               string
	Provider            string
	Model               string
	HeuristicSignals    []string
	FallbackUsed        bool
	Raw                 map[string]any
}

// Empty reports whether the analysis carries no extraction signal at all.
func (a Analysis) Empty() bool {
	return len(a.Fields.Missing()) == len(triage.RequiredFields) &&
		a.Reply == "" && a.ConfirmationState == "" && len(a.TaskStatus) == 0
}

// Provider extracts clinical signals from one patient text turn.
type Provider interface {
	Analyze(ctx context.Context, req Request) (Analysis, error)
}
