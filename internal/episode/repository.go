package episode

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"respira-triage/internal/apperr"
	"respira-triage/internal/triage"
)

// DB is the query surface shared by *sql.DB and *sql.Tx so the same
// repositories can run inside the doctor-approval transaction.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByPhone(ctx context.Context, phone string) (*User, error)
	GetByChatID(ctx context.Context, chatID int64) (*User, error)
	Create(ctx context.Context, user *User) error
	TouchChatID(ctx context.Context, userID uuid.UUID, chatID int64) error
}

type EpisodeRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Episode, error)
	GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*Episode, error)
	Create(ctx context.Context, e *Episode) error
	// UpdateState writes metadata, status and severity conditionally on the
	// version the caller read; a stale version yields a Conflict error.
	UpdateState(ctx context.Context, e *Episode) error
	List(ctx context.Context, filter ListFilter) ([]Episode, int, error)
	Claim(ctx context.Context, id, doctorID uuid.UUID) error
	StatusSummary(ctx context.Context) (map[triage.EpisodeStatus]int, error)
}

// ListFilter narrows the doctor case list.
type ListFilter struct {
	Statuses  []triage.EpisodeStatus
	Severity  *triage.SeverityClass
	ClaimedBy *uuid.UUID
	Unclaimed bool
	Limit     int
	Offset    int
}

type MessageRepository interface {
	Append(ctx context.Context, m *ChatMessage) error
	ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]ChatMessage, error)
	DeleteByEpisode(ctx context.Context, episodeID uuid.UUID) (int64, error)
}

type SymptomRepository interface {
	Append(ctx context.Context, rec *SymptomRecord) error
	CountByEpisode(ctx context.Context, episodeID uuid.UUID) (int, error)
	DeleteByEpisode(ctx context.Context, episodeID uuid.UUID) (int64, error)
}

type ImageRepository interface {
	Append(ctx context.Context, rec *ImageRecord) error
	ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]ImageRecord, error)
	CountByEpisode(ctx context.Context, episodeID uuid.UUID) (int, error)
	DeleteByEpisode(ctx context.Context, episodeID uuid.UUID) (int64, error)
}

type userRepo struct{ db DB }

func NewUserRepository(db DB) UserRepository { return &userRepo{db: db} }

const userColumns = `id, phone, telegram_chat_id, name, created_at, updated_at`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var name sql.NullString
	err := row.Scan(&u.ID, &u.Phone, &u.TelegramChatID, &name, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("user not found")
		}
		return nil, err
	}
	u.Name = name.String
	return &u, nil
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *userRepo) GetByPhone(ctx context.Context, phone string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, phone))
}

func (r *userRepo) GetByChatID(ctx context.Context, chatID int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_chat_id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, chatID))
}

func (r *userRepo) Create(ctx context.Context, user *User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	query := `INSERT INTO users (id, phone, telegram_chat_id, name, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Phone, user.TelegramChatID, nullString(user.Name), user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepo) TouchChatID(ctx context.Context, userID uuid.UUID, chatID int64) error {
	query := `UPDATE users SET telegram_chat_id = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, chatID, time.Now().UTC(), userID)
	return err
}

type episodeRepo struct{ db DB }

func NewEpisodeRepository(db DB) EpisodeRepository { return &episodeRepo{db: db} }

const episodeColumns = `id, user_id, status, metadata, severity_score, severity_class,
	claimed_by, start_date, end_date, version, created_at, updated_at`

type episodeScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row episodeScanner) (*Episode, error) {
	var e Episode
	var metadataJSON []byte
	var severityClass sql.NullString
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.Status,
		&metadataJSON,
		&e.SeverityScore,
		&severityClass,
		&e.ClaimedBy,
		&e.StartDate,
		&e.EndDate,
		&e.Version,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("episode not found")
		}
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal episode metadata: %w", err)
		}
	}
	if severityClass.Valid {
		class := triage.SeverityClass(severityClass.String)
		e.SeverityClass = &class
	}
	return &e, nil
}

func (r *episodeRepo) GetByID(ctx context.Context, id uuid.UUID) (*Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE id = $1`
	return scanEpisode(r.db.QueryRowContext(ctx, query, id))
}

func (r *episodeRepo) GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes
	          WHERE user_id = $1 AND status = ANY($2)
	          ORDER BY created_at DESC LIMIT 1`
	statuses := make([]string, 0, len(triage.ActiveStatuses))
	for _, s := range triage.ActiveStatuses {
		statuses = append(statuses, string(s))
	}
	return scanEpisode(r.db.QueryRowContext(ctx, query, userID, pqStringArray(statuses)))
}

func (r *episodeRepo) Create(ctx context.Context, e *Episode) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = triage.StatusInProgress
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Version = 1

	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal episode metadata: %w", err)
	}
	query := `INSERT INTO episodes (id, user_id, status, metadata, severity_score, severity_class,
	          claimed_by, start_date, end_date, version, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.UserID, e.Status, string(metadataJSON), e.SeverityScore, severityClassValue(e.SeverityClass),
		e.ClaimedBy, e.StartDate, e.EndDate, e.Version, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}

func (r *episodeRepo) UpdateState(ctx context.Context, e *Episode) error {
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal episode metadata: %w", err)
	}
	e.UpdatedAt = time.Now().UTC()
	query := `UPDATE episodes
	          SET status = $1, metadata = $2, severity_score = $3, severity_class = $4,
	              claimed_by = $5, start_date = $6, end_date = $7,
	              version = version + 1, updated_at = $8
	          WHERE id = $9 AND version = $10`
	result, err := r.db.ExecContext(ctx, query,
		e.Status, string(metadataJSON), e.SeverityScore, severityClassValue(e.SeverityClass),
		e.ClaimedBy, e.StartDate, e.EndDate, e.UpdatedAt, e.ID, e.Version)
	if err != nil {
		return fmt.Errorf("update episode: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.Conflict("episode was modified concurrently")
	}
	e.Version++
	return nil
}

func (r *episodeRepo) List(ctx context.Context, filter ListFilter) ([]Episode, int, error) {
	where := `1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		where += ` AND status = ANY(` + arg(pqStringArray(statuses)) + `)`
	}
	if filter.Severity != nil {
		where += ` AND severity_class = ` + arg(string(*filter.Severity))
	}
	if filter.ClaimedBy != nil {
		where += ` AND claimed_by = ` + arg(*filter.ClaimedBy)
	}
	if filter.Unclaimed {
		where += ` AND claimed_by IS NULL`
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM episodes WHERE ` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count episodes: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE ` + where +
		` ORDER BY updated_at DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg(filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var episodes []Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, 0, err
		}
		episodes = append(episodes, *e)
	}
	return episodes, total, rows.Err()
}

func (r *episodeRepo) Claim(ctx context.Context, id, doctorID uuid.UUID) error {
	query := `UPDATE episodes SET claimed_by = $1, updated_at = $2
	          WHERE id = $3 AND claimed_by IS NULL`
	result, err := r.db.ExecContext(ctx, query, doctorID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("claim episode: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.Conflict("episode already claimed")
	}
	return nil
}

func (r *episodeRepo) StatusSummary(ctx context.Context) (map[triage.EpisodeStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM episodes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("status summary: %w", err)
	}
	defer rows.Close()

	summary := map[triage.EpisodeStatus]int{}
	for rows.Next() {
		var status triage.EpisodeStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		summary[status] = count
	}
	return summary, rows.Err()
}

type messageRepo struct{ db DB }

func NewMessageRepository(db DB) MessageRepository { return &messageRepo{db: db} }

func (r *messageRepo) Append(ctx context.Context, m *ChatMessage) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(m.Meta)
	if err != nil {
		return fmt.Errorf("marshal message meta: %w", err)
	}
	query := `INSERT INTO chat_messages (id, episode_id, direction, kind, body, meta, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = r.db.ExecContext(ctx, query, m.ID, m.EpisodeID, m.Direction, m.Kind, m.Body, nullJSON(metaJSON), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *messageRepo) ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]ChatMessage, error) {
	query := `SELECT id, episode_id, direction, kind, body, meta, created_at
	          FROM chat_messages WHERE episode_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, episodeID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var metaJSON []byte
		if err := rows.Scan(&m.ID, &m.EpisodeID, &m.Direction, &m.Kind, &m.Body, &metaJSON, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &m.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal message meta: %w", err)
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *messageRepo) DeleteByEpisode(ctx context.Context, episodeID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE episode_id = $1`, episodeID)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return result.RowsAffected()
}

type symptomRepo struct{ db DB }

func NewSymptomRepository(db DB) SymptomRepository { return &symptomRepo{db: db} }

func (r *symptomRepo) Append(ctx context.Context, rec *SymptomRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal symptom fields: %w", err)
	}
	confidencesJSON, err := json.Marshal(rec.Confidences)
	if err != nil {
		return fmt.Errorf("marshal symptom confidences: %w", err)
	}
	rawJSON, err := json.Marshal(rec.Raw)
	if err != nil {
		return fmt.Errorf("marshal symptom raw: %w", err)
	}
	query := `INSERT INTO symptoms (id, episode_id, fields, confidences, severity_symptom, provider, raw, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = r.db.ExecContext(ctx, query, rec.ID, rec.EpisodeID, string(fieldsJSON), nullJSON(confidencesJSON), rec.SeveritySymptom, rec.Provider, nullJSON(rawJSON), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert symptom: %w", err)
	}
	return nil
}

func (r *symptomRepo) CountByEpisode(ctx context.Context, episodeID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM symptoms WHERE episode_id = $1`, episodeID).Scan(&count)
	return count, err
}

func (r *symptomRepo) DeleteByEpisode(ctx context.Context, episodeID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM symptoms WHERE episode_id = $1`, episodeID)
	if err != nil {
		return 0, fmt.Errorf("delete symptoms: %w", err)
	}
	return result.RowsAffected()
}

type imageRepo struct{ db DB }

func NewImageRepository(db DB) ImageRepository { return &imageRepo{db: db} }

func (r *imageRepo) Append(ctx context.Context, rec *ImageRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	markersJSON, err := json.Marshal(rec.Markers)
	if err != nil {
		return fmt.Errorf("marshal image markers: %w", err)
	}
	query := `INSERT INTO images (id, episode_id, blob_name, url, content_type, size_bytes,
	          markers, image_score, sputum_category, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.db.ExecContext(ctx, query, rec.ID, rec.EpisodeID, rec.BlobName, rec.URL,
		nullString(rec.ContentType), rec.SizeBytes, nullJSON(markersJSON), rec.ImageScore,
		nullString(rec.SputumCategory), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

func (r *imageRepo) ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]ImageRecord, error) {
	query := `SELECT id, episode_id, blob_name, url, content_type, size_bytes,
	          markers, image_score, sputum_category, created_at
	          FROM images WHERE episode_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, episodeID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var records []ImageRecord
	for rows.Next() {
		var rec ImageRecord
		var markersJSON []byte
		var contentType, category sql.NullString
		if err := rows.Scan(&rec.ID, &rec.EpisodeID, &rec.BlobName, &rec.URL, &contentType,
			&rec.SizeBytes, &markersJSON, &rec.ImageScore, &category, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.ContentType = contentType.String
		rec.SputumCategory = category.String
		if len(markersJSON) > 0 {
			if err := json.Unmarshal(markersJSON, &rec.Markers); err != nil {
				return nil, fmt.Errorf("unmarshal image markers: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *imageRepo) CountByEpisode(ctx context.Context, episodeID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images WHERE episode_id = $1`, episodeID).Scan(&count)
	return count, err
}

func (r *imageRepo) DeleteByEpisode(ctx context.Context, episodeID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM images WHERE episode_id = $1`, episodeID)
	if err != nil {
		return 0, fmt.Errorf("delete images: %w", err)
	}
	return result.RowsAffected()
}

func pqStringArray(values []string) any {
	return pq.Array(values)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(b []byte) any {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return string(b)
}

func severityClassValue(class *triage.SeverityClass) any {
	if class == nil {
		return nil
	}
	return string(*class)
}
