package triage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectedMetadata(t *testing.T, now time.Time) Metadata {
	t.Helper()
	return MergeSymptomExtraction(Metadata{}, SymptomUpdate{
		At: now,
		Fields: SymptomFields{
			FeverStatus: boolPtr(true),
			OnsetDays:   floatPtr(5),
			Dyspnea:     boolPtr(false),
			Comorbidity: boolPtr(false),
		},
	}, MergeStats{SymptomEntries: intPtr(4)})
}

func replyKinds(replies []OutboundReply) []ReplyKind {
	kinds := make([]ReplyKind, 0, len(replies))
	for _, r := range replies {
		kinds = append(kinds, r.Kind)
	}
	return kinds
}

func TestAdvanceConversation_SummaryWhenAllCollected(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := collectedMetadata(t, now)

	doc, result := AdvanceConversation(doc, TurnInput{
		PatientText: "no underlying conditions",
		Hints:       ConversationHints{ConfirmationState: ConfirmRequest},
	}, now, TurnConfig{})

	assert.Equal(t, ConfirmRequest, result.ConfirmationState)
	require.Len(t, result.Replies, 1)
	assert.Equal(t, ReplySummary, result.Replies[0].Kind)
	assert.Contains(t, result.Replies[0].Body, "High fever reported")
	assert.Contains(t, result.Replies[0].Body, "5 day(s)")
	assert.False(t, result.Escalate)
	assert.Equal(t, ConfirmRequest, doc.Conversation.ConfirmationState)
}

func TestAdvanceConversation_NoSummaryWhileFieldsMissing(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := MergeSymptomExtraction(Metadata{}, SymptomUpdate{
		Fields: SymptomFields{FeverStatus: boolPtr(true)},
	}, MergeStats{})

	_, result := AdvanceConversation(doc, TurnInput{
		PatientText: "I have a fever",
		Reply:       onsetPrompt,
		Hints:       ConversationHints{ConfirmationState: ConfirmRequest},
	}, now, TurnConfig{})

	assert.Equal(t, ConfirmNone, result.ConfirmationState)
	assert.Equal(t, []ReplyKind{ReplyAnswer}, replyKinds(result.Replies))
}

func TestAdvanceConversation_ConfirmedWithoutImageRequestsImageNotEscalates(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := collectedMetadata(t, now)
	doc, _ = AdvanceConversation(doc, TurnInput{
		Hints: ConversationHints{ConfirmationState: ConfirmRequest},
	}, now, TurnConfig{})

	doc, result := AdvanceConversation(doc, TurnInput{PatientText: "yes"}, now.Add(time.Minute), TurnConfig{})

	assert.Equal(t, ConfirmConfirmed, result.ConfirmationState)
	assert.True(t, result.ReadyForDoctor)
	assert.False(t, result.Escalate, "must hold for the image before moving to review")
	assert.True(t, result.ImageRequested)
	assert.Equal(t, []ReplyKind{ReplyImageRequest}, replyKinds(result.Replies))
	assert.Equal(t, ImageRequested, doc.Conversation.ImageRequest.State)
	assert.Nil(t, doc.Conversation.EscalatedAt)
}

func TestAdvanceConversation_ImageRequestCooldown(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := collectedMetadata(t, now)
	doc, _ = AdvanceConversation(doc, TurnInput{
		Hints: ConversationHints{ConfirmationState: ConfirmRequest},
	}, now, TurnConfig{})
	doc, first := AdvanceConversation(doc, TurnInput{PatientText: "yes"}, now, TurnConfig{})
	require.True(t, first.ImageRequested)

	// Inside the cooldown window nothing is re-sent.
	doc, second := AdvanceConversation(doc, TurnInput{PatientText: "hello?"}, now.Add(time.Hour), TurnConfig{})
	assert.False(t, second.ImageRequested)
	assert.Empty(t, second.Replies)

	// After the cooldown the request goes out again.
	_, third := AdvanceConversation(doc, TurnInput{PatientText: "still here"}, now.Add(7*time.Hour), TurnConfig{})
	assert.True(t, third.ImageRequested)
	assert.Equal(t, []ReplyKind{ReplyImageRequest}, replyKinds(third.Replies))
}

func TestAdvanceConversation_EscalatesOnceAfterImage(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := collectedMetadata(t, now)
	doc, _ = AdvanceConversation(doc, TurnInput{
		Hints: ConversationHints{ConfirmationState: ConfirmRequest},
	}, now, TurnConfig{})
	doc, _ = AdvanceConversation(doc, TurnInput{PatientText: "yes"}, now, TurnConfig{})

	doc = MergeVisionAnalysis(doc, VisionUpdate{SeverityImageScore: floatPtr(0.5)}, MergeStats{ImageCount: intPtr(1)})

	doc, result := AdvanceConversation(doc, TurnInput{}, now.Add(time.Minute), TurnConfig{})
	assert.True(t, result.Escalate)
	assert.Equal(t, []ReplyKind{ReplyEscalationAck}, replyKinds(result.Replies))
	assert.Equal(t, ImageFulfilled, doc.Conversation.ImageRequest.State)
	require.NotNil(t, doc.Conversation.EscalatedAt)

	// Replaying the turn must not escalate a second time.
	_, replay := AdvanceConversation(doc, TurnInput{}, now.Add(2*time.Minute), TurnConfig{})
	assert.False(t, replay.Escalate)
	assert.Empty(t, replay.Replies)
}

func TestAdvanceConversation_DeclinedImageUnblocksEscalation(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := collectedMetadata(t, now)
	doc, _ = AdvanceConversation(doc, TurnInput{
		Hints: ConversationHints{ConfirmationState: ConfirmRequest},
	}, now, TurnConfig{})
	doc, _ = AdvanceConversation(doc, TurnInput{PatientText: "yes"}, now, TurnConfig{})

	doc, result := AdvanceConversation(doc, TurnInput{PatientText: "no"}, now.Add(time.Minute), TurnConfig{})

	assert.True(t, result.ImageDeclined)
	assert.True(t, result.Escalate)
	assert.Equal(t, ImageDeclined, doc.Conversation.ImageRequest.State)
	assert.Equal(t, []ReplyKind{ReplyEscalationAck}, replyKinds(result.Replies))
}

func TestAdvanceConversation_ReviseReopensConfirmationOnly(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := collectedMetadata(t, now)
	doc, _ = AdvanceConversation(doc, TurnInput{
		Hints: ConversationHints{ConfirmationState: ConfirmRequest},
	}, now, TurnConfig{})

	doc, result := AdvanceConversation(doc, TurnInput{PatientText: "no"}, now.Add(time.Minute), TurnConfig{})

	assert.Equal(t, ConfirmRevise, result.ConfirmationState)
	assert.False(t, result.ReadyForDoctor)
	assert.Equal(t, []ReplyKind{ReplyReviseAck}, replyKinds(result.Replies))
	// Collected values themselves stay in place awaiting overwrite.
	for _, field := range RequiredFields {
		assert.Equal(t, TaskCollected, doc.Conversation.Tasks[field].Status, string(field))
	}

	// A corrected value plus a fresh confirmation request resumes the loop.
	doc = MergeSymptomExtraction(doc, SymptomUpdate{
		Fields: SymptomFields{OnsetDays: floatPtr(9)},
	}, MergeStats{})
	_, resumed := AdvanceConversation(doc, TurnInput{
		PatientText: "it's been 9 days actually",
		Fields:      SymptomFields{OnsetDays: floatPtr(9)},
		Hints:       ConversationHints{ConfirmationState: ConfirmRequest},
	}, now.Add(2*time.Minute), TurnConfig{})
	assert.Equal(t, ConfirmRequest, resumed.ConfirmationState)
	require.Len(t, resumed.Replies, 1)
	assert.Contains(t, resumed.Replies[0].Body, "9 day(s)")
}

func TestAdvanceConversation_DisputeAfterConfirmationClarifies(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := collectedMetadata(t, now)
	doc, _ = AdvanceConversation(doc, TurnInput{
		Hints: ConversationHints{ConfirmationState: ConfirmRequest},
	}, now, TurnConfig{})
	doc, _ = AdvanceConversation(doc, TurnInput{PatientText: "yes"}, now, TurnConfig{})
	// Image sub-state is REQUESTED here, so a bare "no" declines the photo
	// rather than disputing the data. Fulfil the image first.
	doc = MergeVisionAnalysis(doc, VisionUpdate{SeverityImageScore: floatPtr(0.5)}, MergeStats{ImageCount: intPtr(1)})
	doc.Conversation.EscalatedAt = nil

	doc, result := AdvanceConversation(doc, TurnInput{PatientText: "wrong"}, now.Add(time.Minute), TurnConfig{})

	assert.Equal(t, ConfirmRevise, result.ConfirmationState)
	assert.False(t, result.Escalate)
	for _, field := range RequiredFields {
		assert.Equal(t, TaskClarify, doc.Conversation.Tasks[field].Status, string(field))
	}
}

func TestAdvanceConversation_NoAfterPhotoDisputesInsteadOfDeclining(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := collectedMetadata(t, now)
	doc, _ = AdvanceConversation(doc, TurnInput{
		Hints: ConversationHints{ConfirmationState: ConfirmRequest},
	}, now, TurnConfig{})
	doc, _ = AdvanceConversation(doc, TurnInput{PatientText: "yes"}, now, TurnConfig{})
	require.Equal(t, ImageRequested, doc.Conversation.ImageRequest.State)

	doc = MergeVisionAnalysis(doc, VisionUpdate{SeverityImageScore: floatPtr(0.5)}, MergeStats{ImageCount: intPtr(1)})
	doc.Conversation.EscalatedAt = nil

	doc, result := AdvanceConversation(doc, TurnInput{PatientText: "no"}, now.Add(time.Minute), TurnConfig{})

	assert.Equal(t, ImageFulfilled, doc.Conversation.ImageRequest.State)
	assert.False(t, result.ImageDeclined)
	assert.Equal(t, ConfirmRevise, result.ConfirmationState)
	assert.False(t, result.Escalate)
}

func TestAdvanceConversation_ProviderReplyComesFirst(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := collectedMetadata(t, now)

	_, result := AdvanceConversation(doc, TurnInput{
		PatientText: "fever and 5 days of coughing",
		Reply:       "Got it, thanks for the details.",
		Hints:       ConversationHints{ConfirmationState: ConfirmRequest},
	}, now, TurnConfig{})

	assert.Equal(t, []ReplyKind{ReplyAnswer, ReplySummary}, replyKinds(result.Replies))
	assert.Equal(t, "Got it, thanks for the details.", result.Replies[0].Body)
}

func TestResetConversationState(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := collectedMetadata(t, now)
	doc = MergeVisionAnalysis(doc, VisionUpdate{SeverityImageScore: floatPtr(0.5)}, MergeStats{ImageCount: intPtr(1)})
	doc = AppendStatusTransition(doc, StatusTransition{
		At: now, From: StatusInProgress, To: StatusAwaitingReview,
		Actor: Actor{Type: ActorSystem}, Reason: ReasonEscalated,
	})

	reset := ResetConversationState(doc, now.Add(time.Hour))

	assert.Nil(t, reset.LastSymptomExtraction)
	assert.Nil(t, reset.LastVisionAnalysis)
	assert.Nil(t, reset.SymptomStats)
	assert.Nil(t, reset.ImageStats)
	require.NotNil(t, reset.Conversation)
	assert.Equal(t, ConfirmNone, reset.Conversation.ConfirmationState)
	assert.Nil(t, reset.Conversation.EscalatedAt)
	require.NotNil(t, reset.DataCompleteness)
	assert.False(t, reset.DataCompleteness.ImageProvided)
	assert.Equal(t, RequiredFields, reset.DataCompleteness.MissingSymptoms)
	// History survives the reset.
	require.Len(t, reset.StatusAuditLog, 1)
	assert.Equal(t, ReasonEscalated, reset.StatusAuditLog[0].Reason)
}

func TestIsAffirmativeAndNegative(t *testing.T) {
	assert.True(t, IsAffirmative("YES"))
	assert.True(t, IsAffirmative(" ya "))
	assert.True(t, IsNegative("Tidak"))
	assert.True(t, IsNegative("no"))
	assert.False(t, IsAffirmative("I think so, mostly"))
	assert.False(t, IsNegative("not really sure"))
}
