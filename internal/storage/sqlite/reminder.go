package sqlite

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
		return fmt.Errorf("sqlite: InsertTask: %w: missing id", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminder_tasks (id, thread_id, due_at, kind, payload, status, recurrence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID,
		task.ThreadID,
		task.DueAt.UTC(),
		string(task.Kind),
		task.Payload,
		string(task.Status),
		task.Recurrence,
		task.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert reminder task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*types.ReminderTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, due_at, kind, payload, status, recurrence, created_at
		FROM reminder_tasks WHERE id = ?
	`, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get reminder task: %w", err)
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
		query += " AND thread_id = ?"
		args = append(args, filter.ThreadID)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	if !filter.DueBefore.IsZero() {
		query += " AND due_at <= ?"
		args = append(args, filter.DueBefore.UTC())
	}
	query += " ORDER BY due_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListPending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []types.ReminderTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan reminder task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: row iteration: %w", err)
	}
	return tasks, nil
}

// MarkFired atomically transitions pending→fired. The conditional update on
// status means a concurrent tick from another worker cannot also fire the
// task: exactly one caller sees true.
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
		"UPDATE reminder_tasks SET status = ? WHERE id = ? AND status = 'pending'",
		string(to), id)
	if err != nil {
		return false, fmt.Errorf("sqlite: transition to %s: %w", to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: transition rows affected: %w", err)
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
