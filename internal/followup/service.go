package followup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"respira-triage/internal/triage"
)

const (
	// DefaultHorizonDays is how many daily contacts are scheduled after an
	// approval.
	DefaultHorizonDays = 7
	// dueHourUTC pins every task to the morning so reminders batch cleanly.
	dueHourUTC = 8
)

type Service struct {
	repo        Repository
	horizonDays int
	logger      *zap.Logger
	now         func() time.Time
}

func NewService(repo Repository, horizonDays int, logger *zap.Logger) *Service {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:        repo,
		horizonDays: horizonDays,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Regenerate replaces the episode's schedule with a fresh one for the given
// severity class. Re-approval is therefore idempotent: the old plan is wiped
// even when the new class gets no tasks at all.
func (s *Service) Regenerate(ctx context.Context, episodeID uuid.UUID, class triage.SeverityClass, start time.Time) ([]Task, error) {
	if _, err := s.repo.DeleteByEpisode(ctx, episodeID); err != nil {
		return nil, err
	}

	kind, scheduled := KindForSeverity(class)
	if !scheduled {
		s.logger.Info("no follow-up plan for severity class",
			zap.String("episode_id", episodeID.String()),
			zap.String("class", string(class)))
		return nil, nil
	}

	tasks := BuildSchedule(episodeID, kind, start, s.horizonDays, s.now())
	if err := s.repo.InsertBatch(ctx, tasks); err != nil {
		return nil, err
	}
	s.logger.Info("follow-up schedule generated",
		zap.String("episode_id", episodeID.String()),
		zap.String("kind", string(kind)),
		zap.Int("tasks", len(tasks)))
	return tasks, nil
}

// BuildSchedule lays out one task per day for horizonDays days after start,
// each due at the fixed morning hour.
func BuildSchedule(episodeID uuid.UUID, kind TaskKind, start time.Time, horizonDays int, now time.Time) []Task {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	tasks := make([]Task, 0, horizonDays)
	for day := 1; day <= horizonDays; day++ {
		due := start.UTC().AddDate(0, 0, day)
		due = time.Date(due.Year(), due.Month(), due.Day(), dueHourUTC, 0, 0, 0, time.UTC)
		tasks = append(tasks, Task{
			ID:        uuid.New(),
			EpisodeID: episodeID,
			Kind:      kind,
			DueAt:     due,
			CreatedAt: now,
		})
	}
	return tasks
}

func (s *Service) List(ctx context.Context, episodeID uuid.UUID) ([]Task, error) {
	return s.repo.ListByEpisode(ctx, episodeID)
}

func (s *Service) Complete(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	return s.repo.Complete(ctx, taskID, s.now())
}
