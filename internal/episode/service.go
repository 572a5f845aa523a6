package episode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"respira-triage/internal/apperr"
	"respira-triage/internal/nlu"
	"respira-triage/internal/triage"
	"respira-triage/internal/vision"
)

// Extractor resolves clinical signals from one patient text turn.
type Extractor interface {
	Analyze(ctx context.Context, req nlu.Request) (nlu.Analysis, error)
}

// ImageAnalyzer rates a sputum photo reachable at the given URL.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, imageURL string) (vision.Result, error)
}

// MessagingGateway delivers outbound messages to a chat.
type MessagingGateway interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// MediaDownloader fetches inbound media referenced by the gateway's file id.
type MediaDownloader interface {
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// BlobStore persists sputum photos and issues read URLs for them.
type BlobStore interface {
	IsConfigured() bool
	Upload(ctx context.Context, name, contentType string, content []byte) (string, error)
	SignedURL(name string) (string, error)
	ObjectURL(name string) string
}

// Config holds the triage tunables the orchestrator needs.
type Config struct {
	Alpha                float64
	Thresholds           [2]float64
	ImageRequestCooldown time.Duration
	DefaultCountryCode   string
	DoctorChatID         int64
}

// Service orchestrates message ingestion: one inbound message in, at most one
// metadata persist out, replies sent through the gateway.
type Service struct {
	users    UserRepository
	episodes EpisodeRepository
	messages MessageRepository
	symptoms SymptomRepository
	images   ImageRepository

	extractor Extractor
	analyzer  ImageAnalyzer
	gateway   MessagingGateway
	media     MediaDownloader
	blobs     BlobStore

	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewService(
	users UserRepository,
	episodes EpisodeRepository,
	messages MessageRepository,
	symptoms SymptomRepository,
	images ImageRepository,
	extractor Extractor,
	analyzer ImageAnalyzer,
	gateway MessagingGateway,
	media MediaDownloader,
	blobs BlobStore,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:     users,
		episodes:  episodes,
		messages:  messages,
		symptoms:  symptoms,
		images:    images,
		extractor: extractor,
		analyzer:  analyzer,
		gateway:   gateway,
		media:     media,
		blobs:     blobs,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Inbound is one normalized inbound message from the gateway webhook.
type Inbound struct {
	ChatID      int64
	Phone       string
	Name        string
	Text        string
	ImageFileID string
}

// TurnOutcome summarizes what one inbound message caused.
type TurnOutcome struct {
	User      *User
	Episode   *Episode
	Replies   []string
	Escalated bool
}

// ProcessIncomingMessage runs the full ingestion pipeline for one inbound
// message: user and episode resolution, extraction, metadata merge,
// conversation advance, persistence, outbound delivery.
func (s *Service) ProcessIncomingMessage(ctx context.Context, in Inbound) (*TurnOutcome, error) {
	if in.ChatID == 0 {
		return nil, apperr.Validation("chat id is required")
	}
	if in.Text == "" && in.ImageFileID == "" {
		return nil, apperr.Validation("message carries neither text nor image")
	}

	user, err := s.resolveUser(ctx, in)
	if err != nil {
		return nil, err
	}

	ep, created, err := s.resolveEpisode(ctx, user)
	if err != nil {
		return nil, err
	}

	outcome := &TurnOutcome{User: user, Episode: ep}
	if created {
		outcome.Replies = append(outcome.Replies, triage.WelcomeMessage)
	}

	if in.ImageFileID != "" {
		if err := s.ingestImage(ctx, ep, in); err != nil {
			return nil, err
		}
	} else {
		if err := s.ingestText(ctx, ep, in, outcome); err != nil {
			return nil, err
		}
	}

	for _, reply := range outcome.Replies {
		s.send(ctx, user.TelegramChatID, reply)
		s.storeOutbound(ctx, ep.ID, reply)
	}

	if outcome.Escalated && s.cfg.DoctorChatID != 0 {
		s.send(ctx, s.cfg.DoctorChatID,
			fmt.Sprintf("New case ready for review: episode %s (patient %s).", ep.ID, user.Phone))
	}

	return outcome, nil
}

func (s *Service) resolveUser(ctx context.Context, in Inbound) (*User, error) {
	user, err := s.users.GetByChatID(ctx, in.ChatID)
	if err == nil {
		return user, nil
	}
	if apperr.KindOf(err) != apperr.KindNotFound {
		return nil, err
	}

	phone := ""
	if in.Phone != "" {
		phone, err = NormalizePhone(in.Phone, s.cfg.DefaultCountryCode)
		if err != nil {
			return nil, apperr.Validation(err.Error())
		}
		if existing, lookupErr := s.users.GetByPhone(ctx, phone); lookupErr == nil {
			if touchErr := s.users.TouchChatID(ctx, existing.ID, in.ChatID); touchErr != nil {
				return nil, touchErr
			}
			existing.TelegramChatID = in.ChatID
			return existing, nil
		} else if apperr.KindOf(lookupErr) != apperr.KindNotFound {
			return nil, lookupErr
		}
	}

	user = &User{Phone: phone, TelegramChatID: in.ChatID, Name: in.Name}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("registered new patient",
		zap.String("user_id", user.ID.String()),
		zap.Int64("chat_id", in.ChatID))
	return user, nil
}

func (s *Service) resolveEpisode(ctx context.Context, user *User) (*Episode, bool, error) {
	ep, err := s.episodes.GetActiveByUserID(ctx, user.ID)
	if err == nil {
		return ep, false, nil
	}
	if apperr.KindOf(err) != apperr.KindNotFound {
		return nil, false, err
	}

	now := s.now()
	metadata := triage.Metadata{Conversation: triage.NewConversation()}
	metadata = triage.AppendStatusTransition(metadata, triage.StatusTransition{
		At:     now,
		To:     triage.StatusInProgress,
		Actor:  triage.Actor{Type: triage.ActorSystem},
		Reason: "EPISODE_CREATED",
	})
	ep = &Episode{UserID: user.ID, Status: triage.StatusInProgress, Metadata: metadata}
	if err := s.episodes.Create(ctx, ep); err != nil {
		return nil, false, err
	}
	s.logger.Info("opened triage episode",
		zap.String("episode_id", ep.ID.String()),
		zap.String("user_id", user.ID.String()))
	return ep, true, nil
}

func (s *Service) ingestText(ctx context.Context, ep *Episode, in Inbound, outcome *TurnOutcome) error {
	analysis, err := s.extractor.Analyze(ctx, nlu.Request{
		Text:              in.Text,
		Known:             mergedFields(ep.Metadata),
		AskingField:       askingField(ep.Metadata),
		ConfirmationState: confirmationState(ep.Metadata),
		LastReply:         lastReply(ep.Metadata),
		History:           s.recentHistory(ctx, ep.ID),
	})
	if err != nil {
		// The message row still records the turn, with the failure noted.
		if storeErr := s.storeInbound(ctx, ep.ID, KindText, in.Text, map[string]any{
			"nlu": map[string]any{"error": err.Error()},
		}); storeErr != nil {
			return storeErr
		}
		if errors.Is(err, nlu.ErrProviderUnavailable) {
			return apperr.Unavailable("symptom extraction unavailable", err)
		}
		return err
	}

	severitySymptom := triage.SymptomScore(analysis.Fields)
	if err := s.storeInbound(ctx, ep.ID, KindText, in.Text, map[string]any{
		"nlu": map[string]any{
			"severitySymptom": severitySymptom,
			"provider":        analysis.Provider,
			"fallbackUsed":    analysis.FallbackUsed,
		},
	}); err != nil {
		return err
	}

	symptomCount, err := s.symptoms.CountByEpisode(ctx, ep.ID)
	if err != nil {
		return err
	}
	if analysis.Fields != (triage.SymptomFields{}) || len(analysis.Confidences) > 0 {
		if err := s.symptoms.Append(ctx, &SymptomRecord{
			EpisodeID:       ep.ID,
			Fields:          analysis.Fields,
			Confidences:     analysis.Confidences,
			SeveritySymptom: &severitySymptom,
			Provider:        analysis.Provider,
			Raw:             analysis.Raw,
		}); err != nil {
			return err
		}
		symptomCount++
	}

	turn := func(e *Episode) error {
		now := s.now()
		merged := triage.MergeSymptomExtraction(e.Metadata, triage.SymptomUpdate{
			At:               now,
			SeveritySymptom:  &severitySymptom,
			Fields:           analysis.Fields,
			Confidences:      analysis.Confidences,
			Rationales:       analysis.Rationales,
			RecommendImage:   analysis.RecommendImage,
			Provider:         analysis.Provider,
			Model:            analysis.Model,
			HeuristicSignals: analysis.HeuristicSignals,
			FallbackUsed:     analysis.FallbackUsed,
		}, MergeStatsFor(symptomCount, nil))

		advanced, result := triage.AdvanceConversation(merged, triage.TurnInput{
			PatientText: in.Text,
			Reply:       analysis.Reply,
			Fields:      analysis.Fields,
			Answers:     analysis.Answers,
			Hints: triage.ConversationHints{
				TaskStatus:          analysis.TaskStatus,
				ConfirmationState:   analysis.ConfirmationState,
				ConfirmationSummary: analysis.ConfirmationSummary,
			},
		}, now, triage.TurnConfig{ImageRequestCooldown: s.cfg.ImageRequestCooldown})

		if result.Escalate {
			advanced = triage.AppendStatusTransition(advanced, triage.StatusTransition{
				At:     now,
				From:   e.Status,
				To:     triage.StatusAwaitingReview,
				Actor:  triage.Actor{Type: triage.ActorSystem},
				Reason: triage.ReasonEscalated,
			})
			e.Status = triage.StatusAwaitingReview
		}
		e.Metadata = advanced

		outcome.Escalated = result.Escalate
		outcome.Replies = outcome.Replies[:firstTurnReplies(outcome)]
		for _, reply := range result.Replies {
			outcome.Replies = append(outcome.Replies, reply.Body)
		}
		return nil
	}

	if err := s.persistTurn(ctx, ep, turn); err != nil {
		return err
	}
	outcome.Episode = ep
	return nil
}

// recentHistory loads the last few chat turns as provider context. History
// is best-effort; a read failure just means a context-free extraction.
func (s *Service) recentHistory(ctx context.Context, episodeID uuid.UUID) []nlu.Turn {
	msgs, err := s.messages.ListByEpisode(ctx, episodeID)
	if err != nil {
		s.logger.Warn("failed to load chat history",
			zap.String("episode_id", episodeID.String()),
			zap.Error(err))
		return nil
	}
	var turns []nlu.Turn
	for _, m := range msgs {
		if m.Kind != KindText || m.Body == "" {
			continue
		}
		role := nlu.RolePatient
		if m.Direction == DirectionOut {
			role = nlu.RoleAssistant
		}
		turns = append(turns, nlu.Turn{Role: role, Text: m.Body})
	}
	if len(turns) > nlu.MaxHistoryTurns {
		turns = turns[len(turns)-nlu.MaxHistoryTurns:]
	}
	return turns
}

// firstTurnReplies preserves the welcome message (index 0) when a turn is
// recomputed after a version conflict.
func firstTurnReplies(outcome *TurnOutcome) int {
	if len(outcome.Replies) > 0 && outcome.Replies[0] == triage.WelcomeMessage {
		return 1
	}
	return 0
}

// persistTurn applies mutate to the episode and writes it, retrying once with
// freshly-read state when another writer got there first.
func (s *Service) persistTurn(ctx context.Context, ep *Episode, mutate func(*Episode) error) error {
	if err := mutate(ep); err != nil {
		return err
	}
	err := s.episodes.UpdateState(ctx, ep)
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != apperr.KindConflict {
		return err
	}

	s.logger.Warn("episode version conflict, retrying turn",
		zap.String("episode_id", ep.ID.String()))
	fresh, readErr := s.episodes.GetByID(ctx, ep.ID)
	if readErr != nil {
		return readErr
	}
	*ep = *fresh
	if err := mutate(ep); err != nil {
		return err
	}
	return s.episodes.UpdateState(ctx, ep)
}

func (s *Service) ingestImage(ctx context.Context, ep *Episode, in Inbound) error {
	if err := s.storeInbound(ctx, ep.ID, KindImage, in.ImageFileID, map[string]any{
		"media": map[string]any{"fileId": in.ImageFileID},
	}); err != nil {
		return err
	}
	content, err := s.media.DownloadFile(ctx, in.ImageFileID)
	if err != nil {
		return apperr.Unavailable("media download failed", err)
	}
	if _, err = s.RegisterImage(ctx, ep.ID, content, "image/jpeg", nil); err != nil {
		return err
	}
	fresh, err := s.episodes.GetByID(ctx, ep.ID)
	if err != nil {
		return err
	}
	*ep = *fresh
	return nil
}

// RegisterImage stores a sputum photo, runs the vision adapter and merges the
// outcome into episode metadata. Vision failure degrades to the manual
// markers; only storage problems abort.
func (s *Service) RegisterImage(ctx context.Context, episodeID uuid.UUID, content []byte, contentType string, manualMarkers map[string]triage.MarkerEntry) (*ImageRecord, error) {
	if s.blobs == nil || !s.blobs.IsConfigured() {
		return nil, apperr.Unavailable("image storage not configured", nil)
	}
	ep, err := s.episodes.GetByID(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	blobName := fmt.Sprintf("sputum/%s/%s.jpg", ep.ID, uuid.New())
	if _, err := s.blobs.Upload(ctx, blobName, contentType, content); err != nil {
		return nil, apperr.Unavailable("image upload failed", err)
	}

	result := vision.FromManualMarkers(manualMarkers, "")
	if s.analyzer != nil {
		signedURL, signErr := s.blobs.SignedURL(blobName)
		if signErr != nil {
			signedURL = s.blobs.ObjectURL(blobName)
		}
		if modelResult, visionErr := s.analyzer.AnalyzeImage(ctx, signedURL); visionErr != nil {
			s.logger.Warn("vision analysis failed, keeping manual markers",
				zap.String("episode_id", ep.ID.String()),
				zap.Error(visionErr))
		} else {
			combined := vision.MergeMarkers(manualMarkers, modelResult.Markers)
			category, categoryConfidence := vision.DetermineSputumCategory(combined)
			result = vision.Result{
				Markers:            combined,
				SeverityImageScore: vision.ImageScore(combined),
				SputumCategory:     category,
				CategoryConfidence: categoryConfidence,
				Summary:            modelResult.Summary,
				Provider:           modelResult.Provider,
				Model:              modelResult.Model,
			}
		}
	}

	rec := &ImageRecord{
		EpisodeID:      ep.ID,
		BlobName:       blobName,
		URL:            s.blobs.ObjectURL(blobName),
		ContentType:    contentType,
		SizeBytes:      int64(len(content)),
		Markers:        result.Markers,
		ImageScore:     result.SeverityImageScore,
		SputumCategory: result.SputumCategory,
	}
	if err := s.images.Append(ctx, rec); err != nil {
		return nil, err
	}
	imageCount, err := s.images.CountByEpisode(ctx, ep.ID)
	if err != nil {
		return nil, err
	}

	var turnResult triage.TurnResult
	turn := func(e *Episode) error {
		merged := triage.MergeVisionAnalysis(e.Metadata, triage.VisionUpdate{
			At:                       now,
			SeverityImageScore:       result.SeverityImageScore,
			Markers:                  result.Markers,
			Summary:                  result.Summary,
			Provider:                 result.Provider,
			Model:                    result.Model,
			BlobName:                 blobName,
			SputumCategory:           result.SputumCategory,
			SputumCategoryConfidence: result.CategoryConfidence,
		}, MergeStatsFor(-1, &imageCount))

		// The photo may have been the last missing requirement; run the
		// escalation gate now instead of waiting for the next text turn.
		advanced, turnRes := triage.AdvanceConversation(merged, triage.TurnInput{}, now,
			triage.TurnConfig{ImageRequestCooldown: s.cfg.ImageRequestCooldown})
		if turnRes.Escalate {
			advanced = triage.AppendStatusTransition(advanced, triage.StatusTransition{
				At:     now,
				From:   e.Status,
				To:     triage.StatusAwaitingReview,
				Actor:  triage.Actor{Type: triage.ActorSystem},
				Reason: triage.ReasonEscalated,
			})
			e.Status = triage.StatusAwaitingReview
		}
		e.Metadata = advanced
		turnResult = turnRes
		return nil
	}
	if err := s.persistTurn(ctx, ep, turn); err != nil {
		return nil, err
	}

	if len(turnResult.Replies) > 0 || turnResult.Escalate {
		user, userErr := s.users.GetByID(ctx, ep.UserID)
		if userErr != nil {
			s.logger.Warn("failed to resolve patient for image follow-up",
				zap.String("episode_id", ep.ID.String()),
				zap.Error(userErr))
			return rec, nil
		}
		for _, reply := range turnResult.Replies {
			s.send(ctx, user.TelegramChatID, reply.Body)
			s.storeOutbound(ctx, ep.ID, reply.Body)
		}
		if turnResult.Escalate && s.cfg.DoctorChatID != 0 {
			s.send(ctx, s.cfg.DoctorChatID,
				fmt.Sprintf("New case ready for review: episode %s (patient %s).", ep.ID, user.Phone))
		}
	}
	return rec, nil
}

// EvaluateSeverity computes the blended severity from the latest merged
// sub-scores without persisting anything.
func (s *Service) EvaluateSeverity(ctx context.Context, episodeID uuid.UUID) (*triage.Evaluation, error) {
	ep, err := s.episodes.GetByID(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	eval := EvaluateFromMetadata(ep.Metadata, s.cfg.Alpha, s.cfg.Thresholds)
	return &eval, nil
}

// EvaluateFromMetadata derives both sub-scores from the merged document and
// blends them.
func EvaluateFromMetadata(m triage.Metadata, alpha float64, thresholds [2]float64) triage.Evaluation {
	var imageScore, symptomScore *float64
	if m.LastVisionAnalysis != nil {
		imageScore = m.LastVisionAnalysis.SeverityImageScore
	}
	if m.LastSymptomExtraction != nil {
		fields := m.LastSymptomExtraction.Fields
		if len(fields.Missing()) < len(triage.RequiredFields) {
			score := triage.SymptomScore(fields)
			symptomScore = &score
		}
	}
	return triage.CalculateSeverity(imageScore, symptomScore, alpha, thresholds)
}

// ClearedCounts reports what a conversation reset removed.
type ClearedCounts struct {
	Messages int64 `json:"messages"`
	Symptoms int64 `json:"symptoms"`
	Images   int64 `json:"images"`
}

// ResetConversation wipes the episode's collected data and dialogue state and
// returns it to IN_PROGRESS. Identity and the audit log survive.
func (s *Service) ResetConversation(ctx context.Context, episodeID uuid.UUID, actor triage.Actor) (*ClearedCounts, error) {
	ep, err := s.episodes.GetByID(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	counts := &ClearedCounts{}
	if counts.Messages, err = s.messages.DeleteByEpisode(ctx, episodeID); err != nil {
		return nil, err
	}
	if counts.Symptoms, err = s.symptoms.DeleteByEpisode(ctx, episodeID); err != nil {
		return nil, err
	}
	if counts.Images, err = s.images.DeleteByEpisode(ctx, episodeID); err != nil {
		return nil, err
	}

	now := s.now()
	turn := func(e *Episode) error {
		reset := triage.ResetConversationState(e.Metadata, now)
		reset = triage.AppendStatusTransition(reset, triage.StatusTransition{
			At:     now,
			From:   e.Status,
			To:     triage.StatusInProgress,
			Actor:  actor,
			Reason: triage.ReasonReset,
			Details: map[string]any{
				"clearedMessages": counts.Messages,
				"clearedSymptoms": counts.Symptoms,
				"clearedImages":   counts.Images,
			},
		})
		e.Metadata = reset
		e.Status = triage.StatusInProgress
		e.SeverityScore = nil
		e.SeverityClass = nil
		e.StartDate = nil
		e.EndDate = nil
		return nil
	}
	if err := s.persistTurn(ctx, ep, turn); err != nil {
		return nil, err
	}
	s.logger.Info("episode reset",
		zap.String("episode_id", episodeID.String()),
		zap.String("actor", actor.Type))
	return counts, nil
}

// ListChat returns the chronological conversation for an episode.
func (s *Service) ListChat(ctx context.Context, episodeID uuid.UUID) ([]ChatMessage, error) {
	if _, err := s.episodes.GetByID(ctx, episodeID); err != nil {
		return nil, err
	}
	return s.messages.ListByEpisode(ctx, episodeID)
}

// ImageListing is an image record plus its short-lived download URL.
type ImageListing struct {
	ImageRecord
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// ListImages returns the episode's images with signed download URLs when the
// blob store can issue them.
func (s *Service) ListImages(ctx context.Context, episodeID uuid.UUID) ([]ImageListing, error) {
	if _, err := s.episodes.GetByID(ctx, episodeID); err != nil {
		return nil, err
	}
	records, err := s.images.ListByEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	listings := make([]ImageListing, 0, len(records))
	for _, rec := range records {
		listing := ImageListing{ImageRecord: rec}
		if s.blobs != nil && s.blobs.IsConfigured() {
			if url, err := s.blobs.SignedURL(rec.BlobName); err == nil {
				listing.DownloadURL = url
			}
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

// GetEpisode loads one episode with its metadata document.
func (s *Service) GetEpisode(ctx context.Context, episodeID uuid.UUID) (*Episode, error) {
	return s.episodes.GetByID(ctx, episodeID)
}

func (s *Service) storeInbound(ctx context.Context, episodeID uuid.UUID, kind MessageKind, body string, meta map[string]any) error {
	return s.messages.Append(ctx, &ChatMessage{
		EpisodeID: episodeID,
		Direction: DirectionIn,
		Kind:      kind,
		Body:      body,
		Meta:      meta,
	})
}

func (s *Service) storeOutbound(ctx context.Context, episodeID uuid.UUID, body string) {
	if err := s.messages.Append(ctx, &ChatMessage{
		EpisodeID: episodeID,
		Direction: DirectionOut,
		Kind:      KindText,
		Body:      body,
	}); err != nil {
		s.logger.Warn("failed to store outbound message",
			zap.String("episode_id", episodeID.String()),
			zap.Error(err))
	}
}

func (s *Service) send(ctx context.Context, chatID int64, text string) {
	if s.gateway == nil || chatID == 0 || text == "" {
		return
	}
	if err := s.gateway.SendMessage(ctx, chatID, text); err != nil {
		s.logger.Warn("failed to deliver message",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}
}

// MergeStatsFor wraps counts for the merge layer; a negative count means
// "leave untouched".
func MergeStatsFor(symptomCount int, imageCount *int) triage.MergeStats {
	stats := triage.MergeStats{ImageCount: imageCount}
	if symptomCount >= 0 {
		stats.SymptomEntries = &symptomCount
	}
	return stats
}

func mergedFields(m triage.Metadata) triage.SymptomFields {
	if m.LastSymptomExtraction == nil {
		return triage.SymptomFields{}
	}
	return m.LastSymptomExtraction.Fields
}

func askingField(m triage.Metadata) triage.Field {
	if m.Conversation == nil {
		return ""
	}
	for _, field := range triage.RequiredFields {
		task, ok := m.Conversation.Tasks[field]
		if ok && task != nil && (task.Status == triage.TaskAsking || task.Status == triage.TaskClarify) {
			return field
		}
	}
	// Nothing explicitly asked: a short answer most plausibly addresses the
	// first still-missing field.
	for _, field := range triage.RequiredFields {
		if !mergedFields(m).Has(field) {
			return field
		}
	}
	return ""
}

func confirmationState(m triage.Metadata) triage.ConfirmationState {
	if m.Conversation == nil {
		return triage.ConfirmNone
	}
	return m.Conversation.ConfirmationState
}

func lastReply(m triage.Metadata) string {
	if m.Conversation == nil {
		return ""
	}
	return m.Conversation.LastReply
}
