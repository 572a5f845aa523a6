package triage

import "time"

// DefaultImageRequestCooldown is how long the engine waits before asking for
// a sputum photo again when the patient neither sent nor declined one.
const DefaultImageRequestCooldown = 6 * time.Hour

// Transition reason codes recorded in the audit log.
const (
	ReasonEscalated    = "CONVERSATION_CONFIRMED"
	ReasonReset        = "PATIENT_RESET"
	ReasonDoctorReview = "DOCTOR_REVIEW"
)

// ReplyKind classifies an outbound message so replays can recognise an
// already-sent prompt class.
type ReplyKind string

const (
	ReplyAnswer        ReplyKind = "answer"
	ReplySummary       ReplyKind = "summary"
	ReplyImageRequest  ReplyKind = "image_request"
	ReplyReviseAck     ReplyKind = "revise_ack"
	ReplyEscalationAck ReplyKind = "escalation_ack"
	ReplyWelcome       ReplyKind = "welcome"
)

// OutboundReply is one message the engine decided to send this turn.
type OutboundReply struct {
	Kind ReplyKind `json:"kind"`
	Body string    `json:"body"`
}

// TaskHint is a per-field progress signal from the extraction adapter.
type TaskHint struct {
	Status       TaskStatus
	Prompt       string
	LatestAnswer string
}

// ConversationHints are the dialogue-progress signals the extraction adapter
// derived from the latest turn. Zero values mean "no signal".
type ConversationHints struct {
	TaskStatus          map[Field]TaskHint
	ConfirmationState   ConfirmationState
	ConfirmationSummary string
	AllowSmallTalk      *bool
}

// TurnInput is everything the state machine needs about one inbound text turn.
// Fields carries only the values newly resolved by this turn's extraction.
type TurnInput struct {
	PatientText string
	Reply       string
	Fields      SymptomFields
	Answers     map[Field]string
	Hints       ConversationHints
}

// TurnConfig holds the tunable state-machine knobs.
type TurnConfig struct {
	ImageRequestCooldown time.Duration
}

func (c TurnConfig) cooldown() time.Duration {
	if c.ImageRequestCooldown <= 0 {
		return DefaultImageRequestCooldown
	}
	return c.ImageRequestCooldown
}

// TurnResult is the decision for one turn: what to send and whether the
// episode should move to review.
type TurnResult struct {
	Replies           []OutboundReply
	Escalate          bool
	ConfirmationState ConfirmationState
	ReadyForDoctor    bool
	ImageRequested    bool
	ImageDeclined     bool
}

// NewConversation returns the initial dialogue state for a fresh episode.
func NewConversation() *Conversation {
	tasks := make(map[Field]*TaskState, len(RequiredFields))
	for _, field := range RequiredFields {
		tasks[field] = &TaskState{Field: field, Status: TaskPending}
	}
	return &Conversation{
		Tasks:             tasks,
		ConfirmationState: ConfirmNone,
		ImageRequest:      ImageRequest{State: ImageNotRequested},
		AllowSmallTalk:    true,
	}
}

func ensureConversation(conv *Conversation) *Conversation {
	if conv == nil {
		return NewConversation()
	}
	if conv.Tasks == nil {
		conv.Tasks = map[Field]*TaskState{}
	}
	for _, field := range RequiredFields {
		task, ok := conv.Tasks[field]
		if !ok || task == nil {
			conv.Tasks[field] = &TaskState{Field: field, Status: TaskPending}
			continue
		}
		task.Field = field
		if !validTaskStatus(task.Status) {
			task.Status = TaskPending
		}
	}
	if !validConfirmationState(conv.ConfirmationState) {
		conv.ConfirmationState = ConfirmNone
	}
	if conv.ImageRequest.State == "" {
		conv.ImageRequest.State = ImageNotRequested
	}
	return conv
}

func (c *Conversation) allCollected() bool {
	for _, field := range RequiredFields {
		task := c.Tasks[field]
		if task == nil || (task.Status != TaskCollected && task.Status != TaskConfirmed) {
			return false
		}
	}
	return true
}

func (c *Conversation) confirmAllTasks(now time.Time) {
	for _, field := range RequiredFields {
		task := c.Tasks[field]
		task.Status = TaskConfirmed
		t := now
		task.LastUpdatedAt = &t
	}
}

// AdvanceConversation runs the per-turn decision algorithm against a metadata
// document that has already absorbed this turn's symptom merge. It returns the
// updated document and the turn decision. The function is pure: replaying the
// same turn against the same document yields the same document and no
// duplicate prompt class or second escalation.
func AdvanceConversation(m Metadata, in TurnInput, now time.Time, cfg TurnConfig) (Metadata, TurnResult) {
	base := m.Clone()
	conv := ensureConversation(base.Conversation)
	base.Conversation = conv

	var result TurnResult

	// Task progress: adapter hints first, then anything the merged document
	// already knows a value for is at least COLLECTED.
	for _, field := range RequiredFields {
		task := conv.Tasks[field]
		if hint, ok := in.Hints.TaskStatus[field]; ok {
			if validTaskStatus(hint.Status) && hint.Status != "" {
				task.Status = hint.Status
				if hint.Status == TaskAsking {
					t := now
					task.LastAskedAt = &t
				}
			}
			if hint.Prompt != "" {
				task.Prompt = hint.Prompt
			}
			if hint.LatestAnswer != "" {
				task.LatestAnswer = hint.LatestAnswer
			}
		}
		if in.Fields.Has(field) {
			if task.Status == TaskPending || task.Status == TaskAsking || task.Status == TaskClarify {
				task.Status = TaskCollected
			}
			if answer, ok := in.Answers[field]; ok && task.LatestAnswer == "" {
				task.LatestAnswer = answer
			}
			t := now
			task.LastUpdatedAt = &t
		}
		if mergedHas(base, field) && task.Status == TaskPending {
			task.Status = TaskCollected
		}
	}

	affirmative := IsAffirmative(in.PatientText)
	negative := IsNegative(in.PatientText)
	confirmedByHint := in.Hints.ConfirmationState == ConfirmConfirmed

	// A photo that arrived since the last turn settles the pending request
	// before the confirmation sub-dialogue reads the image sub-state.
	if conv.ImageRequest.State == ImageRequested && base.ImageProvided() {
		conv.ImageRequest.State = ImageFulfilled
	}

	// Confirmation sub-dialogue.
	switch conv.ConfirmationState {
	case ConfirmRequest:
		switch {
		case (affirmative || confirmedByHint) && conv.allCollected():
			conv.ConfirmationState = ConfirmConfirmed
			conv.confirmAllTasks(now)
			conv.ReadyForDoctor = true
		case negative || in.Hints.ConfirmationState == ConfirmRevise:
			conv.ConfirmationState = ConfirmRevise
			conv.ReadyForDoctor = false
			result.Replies = append(result.Replies, OutboundReply{Kind: ReplyReviseAck, Body: revisePrompt})
		}
	case ConfirmNone, ConfirmRevise:
		wantsRequest := in.Hints.ConfirmationState == ConfirmRequest || confirmedByHint
		if wantsRequest && conv.allCollected() {
			conv.ConfirmationState = ConfirmRequest
			summary := in.Hints.ConfirmationSummary
			if summary == "" {
				summary = BuildSummaryMessage(mergedFieldsOf(base))
			}
			conv.Summary = summary
			result.Replies = append(result.Replies, OutboundReply{Kind: ReplySummary, Body: summary})
		}
	case ConfirmConfirmed:
		// A dispute after confirmation reopens the loop (CLARIFY branch).
		// While a photo request is pending, a bare "no" declines the photo
		// instead; the image sub-state below handles it.
		if negative && conv.EscalatedAt == nil && conv.ImageRequest.State != ImageRequested {
			conv.ConfirmationState = ConfirmRevise
			conv.ReadyForDoctor = false
			for _, field := range RequiredFields {
				conv.Tasks[field].Status = TaskClarify
			}
			result.Replies = append(result.Replies, OutboundReply{Kind: ReplyReviseAck, Body: revisePrompt})
		}
	}

	if in.Hints.AllowSmallTalk != nil {
		conv.AllowSmallTalk = *in.Hints.AllowSmallTalk
	}

	// A bare refusal while the photo request is still open declines it.
	if conv.ImageRequest.State == ImageRequested && negative &&
		conv.ConfirmationState != ConfirmRequest && conv.ConfirmationState != ConfirmRevise {
		conv.ImageRequest.State = ImageDeclined
		result.ImageDeclined = true
	}

	// Escalation gate: confirmed data AND an image either provided or
	// explicitly declined. Otherwise hold and (re-)request the image,
	// respecting the cooldown.
	if conv.ConfirmationState == ConfirmConfirmed && conv.allCollected() {
		conv.ReadyForDoctor = true
		imageSatisfied := base.ImageProvided() ||
			conv.ImageRequest.State == ImageDeclined || conv.ImageRequest.State == ImageFulfilled
		if imageSatisfied {
			if conv.EscalatedAt == nil {
				t := now
				conv.EscalatedAt = &t
				result.Escalate = true
				result.Replies = append(result.Replies, OutboundReply{Kind: ReplyEscalationAck, Body: escalationAck})
			}
		} else if shouldRequestImage(conv, now, cfg.cooldown()) {
			conv.ImageRequest.State = ImageRequested
			t := now
			conv.ImageRequest.LastRequestedAt = &t
			result.ImageRequested = true
			result.Replies = append(result.Replies, OutboundReply{Kind: ReplyImageRequest, Body: imageRequestPrompt})
		}
	}

	if in.Reply != "" {
		result.Replies = append([]OutboundReply{{Kind: ReplyAnswer, Body: in.Reply}}, result.Replies...)
	}
	if len(result.Replies) > 0 {
		conv.LastReply = result.Replies[len(result.Replies)-1].Body
	}
	t := now
	conv.LastUpdatedAt = &t

	result.ConfirmationState = conv.ConfirmationState
	result.ReadyForDoctor = conv.ReadyForDoctor
	return base, result
}

func shouldRequestImage(conv *Conversation, now time.Time, cooldown time.Duration) bool {
	switch conv.ImageRequest.State {
	case ImageNotRequested:
		return true
	case ImageRequested:
		return conv.ImageRequest.LastRequestedAt == nil ||
			now.Sub(*conv.ImageRequest.LastRequestedAt) >= cooldown
	}
	return false
}

func mergedFieldsOf(m Metadata) SymptomFields {
	if m.LastSymptomExtraction == nil {
		return SymptomFields{}
	}
	return m.LastSymptomExtraction.Fields
}

func mergedHas(m Metadata, field Field) bool {
	return mergedFieldsOf(m).Has(field)
}

// ResetConversationState clears the collected data and dialogue state while
// preserving the audit log, for a patient-initiated restart.
func ResetConversationState(m Metadata, now time.Time) Metadata {
	base := m.Clone()
	base.LastSymptomExtraction = nil
	base.LastVisionAnalysis = nil
	base.SymptomStats = nil
	base.ImageStats = nil
	base.Conversation = NewConversation()
	base.LastApproval = nil
	base.DataCompleteness = buildDataCompleteness(base, now)
	return base
}
