package episode

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"respira-triage/internal/triage"
)

// User is a patient identity keyed by normalized phone number. The Telegram
// chat id is the delivery address for outbound messages.
type User struct {
	ID             uuid.UUID `json:"id"`
	Phone          string    `json:"phone"`
	TelegramChatID int64     `json:"telegramChatId"`
	Name           string    `json:"name,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Episode is one triage case. At most one episode per user is active
// (IN_PROGRESS or AWAITING_REVIEW) at a time. Version guards concurrent
// metadata writes.
type Episode struct {
	ID            uuid.UUID             `json:"id"`
	UserID        uuid.UUID             `json:"userId"`
	Status        triage.EpisodeStatus  `json:"status"`
	Metadata      triage.Metadata       `json:"metadata"`
	SeverityScore *float64              `json:"severityScore,omitempty"`
	SeverityClass *triage.SeverityClass `json:"severityClass,omitempty"`
	ClaimedBy     *uuid.UUID            `json:"claimedBy,omitempty"`
	StartDate     *time.Time            `json:"startDate,omitempty"`
	EndDate       *time.Time            `json:"endDate,omitempty"`
	Version       int64                 `json:"version"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// Active reports whether the episode still owns the patient conversation.
func (e *Episode) Active() bool {
	return e.Status == triage.StatusInProgress || e.Status == triage.StatusAwaitingReview
}

type MessageDirection string

const (
	DirectionIn  MessageDirection = "IN"
	DirectionOut MessageDirection = "OUT"
)

type MessageKind string

const (
	KindText  MessageKind = "TEXT"
	KindImage MessageKind = "IMAGE"
)

// ChatMessage is one stored chat turn. Meta carries the per-message
// side channel: extraction outcome, adapter failures, reply kinds.
type ChatMessage struct {
	ID        uuid.UUID        `json:"id"`
	EpisodeID uuid.UUID        `json:"episodeId"`
	Direction MessageDirection `json:"direction"`
	Kind      MessageKind      `json:"kind"`
	Body      string           `json:"body"`
	Meta      map[string]any   `json:"meta,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// SymptomRecord is one raw extraction result row, kept for the doctor's
// drill-down; the merged truth lives in episode metadata.
type SymptomRecord struct {
	ID              uuid.UUID                `json:"id"`
	EpisodeID       uuid.UUID                `json:"episodeId"`
	Fields          triage.SymptomFields     `json:"fields"`
	Confidences     map[triage.Field]float64 `json:"confidences,omitempty"`
	SeveritySymptom *float64                 `json:"severitySymptom,omitempty"`
	Provider        string                   `json:"provider"`
	Raw             map[string]any           `json:"raw,omitempty"`
	CreatedAt       time.Time                `json:"createdAt"`
}

// ImageRecord is one registered sputum photo.
type ImageRecord struct {
	ID             uuid.UUID                     `json:"id"`
	EpisodeID      uuid.UUID                     `json:"episodeId"`
	BlobName       string                        `json:"blobName"`
	URL            string                        `json:"url"`
	ContentType    string                        `json:"contentType,omitempty"`
	SizeBytes      int64                         `json:"sizeBytes,omitempty"`
	Markers        map[string]triage.MarkerEntry `json:"markers,omitempty"`
	ImageScore     *float64                      `json:"imageScore,omitempty"`
	SputumCategory string                        `json:"sputumCategory,omitempty"`
	CreatedAt      time.Time                     `json:"createdAt"`
}

var nonPhoneChars = regexp.MustCompile(`[\s\-().]`)

var phonePattern = regexp.MustCompile(`^\+?\d{6,15}$`)

// NormalizePhone canonicalizes a phone number: separators stripped, a leading
// zero replaced with the default country code, and a plus prefix enforced.
func NormalizePhone(raw, defaultCountryCode string) (string, error) {
	cleaned := nonPhoneChars.ReplaceAllString(strings.TrimSpace(raw), "")
	if cleaned == "" {
		return "", fmt.Errorf("empty phone number")
	}
	if strings.HasPrefix(cleaned, "0") {
		cc := strings.TrimPrefix(defaultCountryCode, "+")
		if cc == "" {
			cc = "62"
		}
		cleaned = "+" + cc + cleaned[1:]
	} else if !strings.HasPrefix(cleaned, "+") {
		cleaned = "+" + cleaned
	}
	if !phonePattern.MatchString(cleaned) {
		return "", fmt.Errorf("invalid phone number %q", raw)
	}
	return cleaned, nil
}
