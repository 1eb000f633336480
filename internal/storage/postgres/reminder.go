package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sundialhq/sundial/internal/storage"
	"github.com/sundialhq/sundial/pkg/types"
)

// InsertTask persists a new pending task.
func (s *Store) InsertTask(ctx context.Context, task *types.ReminderTask) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("postgres: InsertTask: %w: missing id", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminder_tasks (id, thread_id, due_at, kind, payload, status, recurrence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, task.ID, task.ThreadID, task.DueAt.UTC(), string(task.Kind),
		task.Payload, string(task.Status), task.Recurrence, task.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres: failed to insert reminder task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*types.ReminderTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, due_at, kind, payload, status, recurrence, created_at
		FROM reminder_tasks WHERE id = $1
	`, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get reminder task: %w", err)
	}
	return task, nil
}

// ListPending returns pending tasks matching the filter, due soonest first.
func (s *Store) ListPending(ctx context.Context, filter storage.TaskFilter) ([]types.ReminderTask, error) {
	query := `
		SELECT id, thread_id, due_at, kind, payload, status, recurrence, created_at
		FROM reminder_tasks WHERE status = 'pending'
	`
	var args []interface{}
	if filter.ThreadID != "" {
		args = append(args, filter.ThreadID)
		query += fmt.Sprintf(" AND thread_id = $%d", len(args))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if !filter.DueBefore.IsZero() {
		args = append(args, filter.DueBefore.UTC())
		query += fmt.Sprintf(" AND due_at <= $%d", len(args))
	}
	query += " ORDER BY due_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: ListPending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []types.ReminderTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan reminder task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: row iteration: %w", err)
	}
	return tasks, nil
}

// MarkFired atomically transitions pending→fired via a conditional update,
// so concurrent scheduler instances cannot both fire the same task.
func (s *Store) MarkFired(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, types.StatusFired)
}

// MarkCancelled atomically transitions pending→cancelled. Returns false
// without error when the task is already terminal.
func (s *Store) MarkCancelled(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, types.StatusCancelled)
}

func (s *Store) transition(ctx context.Context, id string, to types.TaskStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE reminder_tasks SET status = $1 WHERE id = $2 AND status = 'pending'",
		string(to), id)
	if err != nil {
		return false, fmt.Errorf("postgres: transition to %s: %w", to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: transition rows affected: %w", err)
	}
	return n == 1, nil
}

func scanTask(row rowScanner) (*types.ReminderTask, error) {
	var task types.ReminderTask
	var kind, status string

	err := row.Scan(
		&task.ID,
		&task.ThreadID,
		&task.DueAt,
		&kind,
		&task.Payload,
		&status,
		&task.Recurrence,
		&task.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Kind = types.TaskKind(kind)
	task.Status = types.TaskStatus(status)
	return &task, nil
}
