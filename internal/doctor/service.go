package doctor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"respira-triage/internal/apperr"
	"respira-triage/internal/episode"
	"respira-triage/internal/followup"
	"respira-triage/internal/report"
	"respira-triage/internal/triage"
)

// Reporter delivers the PDF case summary to the review channel.
type Reporter interface {
	Send(ctx context.Context, c report.Case) error
}

type Config struct {
	Alpha        float64
	Thresholds   [2]float64
	FollowUpDays int
}

// Service is the doctor-facing review surface. Approval runs in one database
// transaction so the episode row and the follow-up schedule never diverge.
type Service struct {
	db       *sql.DB
	episodes episode.EpisodeRepository
	users    episode.UserRepository
	gateway  episode.MessagingGateway
	reporter Reporter
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(
	db *sql.DB,
	episodes episode.EpisodeRepository,
	users episode.UserRepository,
	gateway episode.MessagingGateway,
	reporter Reporter,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FollowUpDays <= 0 {
		cfg.FollowUpDays = followup.DefaultHorizonDays
	}
	return &Service{
		db:       db,
		episodes: episodes,
		users:    users,
		gateway:  gateway,
		reporter: reporter,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ListRequest filters the case queue.
type ListRequest struct {
	Statuses  []triage.EpisodeStatus
	Severity  *triage.SeverityClass
	ClaimedBy *uuid.UUID
	Unclaimed bool
	Limit     int
	Offset    int
}

// CaseList is one page of the queue plus the overall status breakdown.
type CaseList struct {
	Episodes []episode.Episode            `json:"episodes"`
	Total    int                          `json:"total"`
	Summary  map[triage.EpisodeStatus]int `json:"summary"`
}

func (s *Service) ListCases(ctx context.Context, req ListRequest) (*CaseList, error) {
	for _, status := range req.Statuses {
		if !status.Valid() {
			return nil, apperr.Validation(fmt.Sprintf("unknown status %q", status))
		}
	}
	if req.Severity != nil && !req.Severity.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown severity %q", *req.Severity))
	}

	episodes, total, err := s.episodes.List(ctx, episode.ListFilter{
		Statuses:  req.Statuses,
		Severity:  req.Severity,
		ClaimedBy: req.ClaimedBy,
		Unclaimed: req.Unclaimed,
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		return nil, err
	}
	summary, err := s.episodes.StatusSummary(ctx)
	if err != nil {
		return nil, err
	}
	if episodes == nil {
		episodes = []episode.Episode{}
	}
	return &CaseList{Episodes: episodes, Total: total, Summary: summary}, nil
}

// Claim assigns the case to a doctor. Claiming a case you already hold is a
// no-op; a case held by someone else is a conflict.
func (s *Service) Claim(ctx context.Context, episodeID, doctorID uuid.UUID) (*episode.Episode, error) {
	ep, err := s.episodes.GetByID(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	if ep.ClaimedBy != nil {
		if *ep.ClaimedBy == doctorID {
			return ep, nil
		}
		return nil, apperr.Conflict("episode already claimed by another doctor")
	}
	if err := s.episodes.Claim(ctx, episodeID, doctorID); err != nil {
		return nil, err
	}
	ep.ClaimedBy = &doctorID
	s.logger.Info("case claimed",
		zap.String("episode_id", episodeID.String()),
		zap.String("doctor_id", doctorID.String()))
	return ep, nil
}

// ApproveRequest is the doctor's decision. Override replaces the computed
// class and is required when nothing could be scored.
type ApproveRequest struct {
	DoctorID uuid.UUID
	Override *triage.SeverityClass
	Notes    string
}

type ApproveResult struct {
	Episode    *episode.Episode  `json:"episode"`
	Evaluation triage.Evaluation `json:"evaluation"`
	Tasks      []followup.Task   `json:"tasks"`
}

func (s *Service) Approve(ctx context.Context, episodeID uuid.UUID, req ApproveRequest) (*ApproveResult, error) {
	if req.DoctorID == uuid.Nil {
		return nil, apperr.Validation("doctor id is required")
	}
	if req.Override != nil && !req.Override.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown severity %q", *req.Override))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin approval: %w", err)
	}
	defer tx.Rollback()

	txEpisodes := episode.NewEpisodeRepository(tx)
	txTasks := followup.NewRepository(tx)

	ep, err := txEpisodes.GetByID(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	if ep.Status != triage.StatusAwaitingReview {
		return nil, apperr.Conflict(fmt.Sprintf("episode is %s, not awaiting review", ep.Status))
	}

	eval := episode.EvaluateFromMetadata(ep.Metadata, s.cfg.Alpha, s.cfg.Thresholds)
	var class triage.SeverityClass
	overrideApplied := false
	switch {
	case req.Override != nil:
		class = *req.Override
		overrideApplied = eval.SeverityClass == nil || *eval.SeverityClass != class
	case eval.SeverityClass != nil:
		class = *eval.SeverityClass
	default:
		return nil, apperr.Conflict("no severity could be computed; an explicit override is required")
	}

	now := s.now()
	approval := triage.Approval{
		At:              now,
		DoctorID:        req.DoctorID.String(),
		SeverityScore:   eval.SeverityScore,
		SeverityClass:   class,
		Components:      eval.Components,
		OverrideApplied: overrideApplied,
		Notes:           req.Notes,
	}

	metadata := triage.RecordApproval(ep.Metadata, approval)
	metadata = triage.AppendStatusTransition(metadata, triage.StatusTransition{
		At:     now,
		From:   ep.Status,
		To:     triage.EpisodeStatus(class),
		Actor:  triage.Actor{Type: triage.ActorDoctor, ID: req.DoctorID.String()},
		Reason: triage.ReasonDoctorReview,
	})

	ep.Metadata = metadata
	ep.Status = triage.EpisodeStatus(class)
	ep.SeverityScore = eval.SeverityScore
	ep.SeverityClass = &class
	ep.StartDate = &now
	ep.EndDate = nil

	var tasks []followup.Task
	if _, err := txTasks.DeleteByEpisode(ctx, episodeID); err != nil {
		return nil, err
	}
	if kind, scheduled := followup.KindForSeverity(class); scheduled {
		tasks = followup.BuildSchedule(episodeID, kind, now, s.cfg.FollowUpDays, now)
		if err := txTasks.InsertBatch(ctx, tasks); err != nil {
			return nil, err
		}
		end := now.AddDate(0, 0, s.cfg.FollowUpDays)
		ep.EndDate = &end
	}

	if err := txEpisodes.UpdateState(ctx, ep); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit approval: %w", err)
	}

	s.logger.Info("case approved",
		zap.String("episode_id", episodeID.String()),
		zap.String("doctor_id", req.DoctorID.String()),
		zap.String("class", string(class)),
		zap.Bool("override", overrideApplied))

	s.notifyPatient(ctx, ep, class, len(tasks))
	s.sendReport(ctx, ep, eval, approval)

	return &ApproveResult{Episode: ep, Evaluation: eval, Tasks: tasks}, nil
}

// notifyPatient tells the patient the outcome. Delivery trouble is logged and
// swallowed: the approval is already committed.
func (s *Service) notifyPatient(ctx context.Context, ep *episode.Episode, class triage.SeverityClass, taskCount int) {
	user, err := s.users.GetByID(ctx, ep.UserID)
	if err != nil || user.TelegramChatID == 0 {
		s.logger.Warn("patient unreachable for approval notice",
			zap.String("episode_id", ep.ID.String()),
			zap.Error(err))
		return
	}

	var text string
	switch class {
	case triage.SeverityMild:
		text = fmt.Sprintf("A doctor reviewed your case and assessed it as mild. "+
			"I'll check in with you daily for the next %d days. Rest, drink fluids, and reply here if anything worsens.", taskCount)
	case triage.SeverityModerate:
		text = fmt.Sprintf("A doctor reviewed your case and assessed it as moderate. "+
			"Please follow the advice you were given; I'll run a short daily check-up with you for the next %d days.", taskCount)
	default:
		text = "A doctor reviewed your case and assessed it as severe. " +
			"Please seek in-person care as soon as possible. A clinic referral is being arranged."
	}
	if err := s.gateway.SendMessage(ctx, user.TelegramChatID, text); err != nil {
		s.logger.Warn("approval notice delivery failed",
			zap.String("episode_id", ep.ID.String()),
			zap.Error(err))
	}
}

func (s *Service) sendReport(ctx context.Context, ep *episode.Episode, eval triage.Evaluation, approval triage.Approval) {
	if s.reporter == nil {
		return
	}
	user, _ := s.users.GetByID(ctx, ep.UserID)
	if err := s.reporter.Send(ctx, report.Case{
		Episode:    ep,
		User:       user,
		Evaluation: &eval,
		Approval:   &approval,
	}); err != nil {
		s.logger.Warn("review report delivery failed",
			zap.String("episode_id", ep.ID.String()),
			zap.Error(err))
	}
}
