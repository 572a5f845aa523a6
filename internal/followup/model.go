package followup

import (
	"time"

	"github.com/google/uuid"

	"respira-triage/internal/triage"
)

// TaskKind distinguishes the lightweight daily check-in given to mild cases
// from the fuller check-up asked of moderate ones.
type TaskKind string

const (
	TaskCheckin TaskKind = "CHECKIN"
	TaskCheckup TaskKind = "CHECKUP"
)

// Task is one scheduled follow-up contact for an approved episode.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	EpisodeID   uuid.UUID  `json:"episodeId"`
	Kind        TaskKind   `json:"kind"`
	DueAt       time.Time  `json:"dueAt"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// KindForSeverity maps an approved severity class to the follow-up plan.
// Severe cases are referred onward and get no scheduled tasks.
func KindForSeverity(class triage.SeverityClass) (TaskKind, bool) {
	switch class {
	case triage.SeverityMild:
		return TaskCheckin, true
	case triage.SeverityModerate:
		return TaskCheckup, true
	default:
		return "", false
	}
}
