package followup

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"respira-triage/internal/apperr"
)

// DB is the slice of database/sql shared by *sql.DB and *sql.Tx, so the
// repository can take part in the approval transaction.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository interface {
	InsertBatch(ctx context.Context, tasks []Task) error
	ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]Task, error)
	Complete(ctx context.Context, taskID uuid.UUID, at time.Time) (*Task, error)
	DeleteByEpisode(ctx context.Context, episodeID uuid.UUID) (int64, error)
}

type taskRepo struct{ db DB }

func NewRepository(db DB) Repository { return &taskRepo{db: db} }

func (r *taskRepo) InsertBatch(ctx context.Context, tasks []Task) error {
	for i := range tasks {
		t := &tasks[i]
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO daily_tasks (id, episode_id, kind, due_at, completed, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			t.ID, t.EpisodeID, t.Kind, t.DueAt, t.Completed, t.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *taskRepo) ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, episode_id, kind, due_at, completed, completed_at, created_at
		 FROM daily_tasks WHERE episode_id = $1 ORDER BY due_at ASC`,
		episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.EpisodeID, &t.Kind, &t.DueAt, &t.Completed, &t.CompletedAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *taskRepo) Complete(ctx context.Context, taskID uuid.UUID, at time.Time) (*Task, error) {
	var t Task
	err := r.db.QueryRowContext(ctx,
		`UPDATE daily_tasks SET completed = TRUE, completed_at = $2
		 WHERE id = $1 AND completed = FALSE
		 RETURNING id, episode_id, kind, due_at, completed, completed_at, created_at`,
		taskID, at).Scan(&t.ID, &t.EpisodeID, &t.Kind, &t.DueAt, &t.Completed, &t.CompletedAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the task does not exist or it was already completed.
		var exists bool
		checkErr := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM daily_tasks WHERE id = $1)`, taskID).Scan(&exists)
		if checkErr != nil {
			return nil, checkErr
		}
		if !exists {
			return nil, apperr.NotFound("follow-up task not found")
		}
		return nil, apperr.Conflict("follow-up task already completed")
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *taskRepo) DeleteByEpisode(ctx context.Context, episodeID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM daily_tasks WHERE episode_id = $1`, episodeID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
