// Package scheduler runs the crash-safe reminder and self-wakeup machinery.
//
// Tasks live in storage with a pending/fired/cancelled state machine. The
// tick loop claims due tasks with a conditional status update before touching
// any side effect, so a task fires at most once even with several scheduler
// instances polling the same database. A delivery that fails after the claim
// is reported to the operator channel and never re-attempted.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/sundialhq/sundial/internal/notify"
	"github.com/sundialhq/sundial/internal/storage"
	"github.com/sundialhq/sundial/pkg/types"
)

// Deliverer performs the delivery side effect for a fired task: sending the
// reminder message, or synthesizing a proactive agent turn for a self-wakeup.
type Deliverer interface {
	Deliver(ctx context.Context, task *types.ReminderTask) error
}

// Scheduler owns the reminder task lifecycle.
type Scheduler struct {
	store     storage.ReminderStore
	deliverer Deliverer
	notifier  *notify.Notifier
	interval  time.Duration
	cron      *gronx.Gronx

	now func() time.Time
}

// New creates a scheduler. The notifier may be nil; delivery failures are
// then only logged.
func New(store storage.ReminderStore, deliverer Deliverer, notifier *notify.Notifier, tickInterval time.Duration) *Scheduler {
	return &Scheduler{
		store:     store,
		deliverer: deliverer,
		notifier:  notifier,
		interval:  tickInterval,
		cron:      gronx.New(),
		now:       time.Now,
	}
}

// ScheduleInput describes a new task. Recurrence is an optional cron
// expression; when set, each firing schedules the next occurrence.
type ScheduleInput struct {
	ThreadID   string
	DueAt      time.Time
	Kind       types.TaskKind
	Payload    string
	Recurrence string
}

// Schedule creates a pending task and returns its ID. Multiple pending tasks
// for the same thread are allowed and never coalesced.
func (s *Scheduler) Schedule(ctx context.Context, in ScheduleInput) (string, error) {
	if in.ThreadID == "" {
		return "", types.NewValidationError("thread_id", "must not be empty")
	}
	if !in.Kind.Valid() {
		return "", types.NewValidationError("kind", "unknown task kind %q", in.Kind)
	}
	if in.DueAt.IsZero() {
		return "", types.NewValidationError("due_at", "must be set")
	}
	if in.Recurrence != "" && !s.cron.IsValid(in.Recurrence) {
		return "", types.NewValidationError("recurrence", "invalid cron expression %q", in.Recurrence)
	}

	task := &types.ReminderTask{
		ID:         uuid.NewString(),
		ThreadID:   in.ThreadID,
		DueAt:      in.DueAt.UTC(),
		Kind:       in.Kind,
		Payload:    in.Payload,
		Status:     types.StatusPending,
		Recurrence: in.Recurrence,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return "", fmt.Errorf("scheduler: failed to insert task: %w", err)
	}
	return task.ID, nil
}

// Cancel transitions a pending task to cancelled. Cancelling a task that has
// already fired or been cancelled is a no-op, not an error.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	_, err := s.store.MarkCancelled(ctx, taskID)
	if err != nil {
		return fmt.Errorf("scheduler: failed to cancel task %s: %w", taskID, err)
	}
	return nil
}

// ListPending returns pending tasks matching the filter.
func (s *Scheduler) ListPending(ctx context.Context, filter storage.TaskFilter) ([]types.ReminderTask, error) {
	return s.store.ListPending(ctx, filter)
}

// Tick fires every pending task due at or before now. Each task is claimed
// with a conditional pending→fired update first; only the claim winner runs
// the delivery. Returns the number of tasks this call fired.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListPending(ctx, storage.TaskFilter{DueBefore: now})
	if err != nil {
		return 0, fmt.Errorf("scheduler: failed to list due tasks: %w", err)
	}

	fired := 0
	for i := range due {
		task := due[i]
		won, err := s.store.MarkFired(ctx, task.ID)
		if err != nil {
			log.Printf("scheduler: failed to claim task %s: %v", task.ID, err)
			continue
		}
		if !won {
			// Another instance fired it, or it was cancelled in between.
			continue
		}
		fired++
		task.Status = types.StatusFired

		if err := s.deliverer.Deliver(ctx, &task); err != nil {
			// The task stays fired; re-attempting would risk duplicate
			// proactive messages.
			log.Printf("scheduler: delivery failed for task %s: %v", task.ID, err)
			if s.notifier != nil {
				s.notifier.DeliveryFailure(task.ID, task.ThreadID, err)
			}
		}

		if task.Recurrence != "" {
			if err := s.scheduleNext(ctx, &task, now); err != nil {
				log.Printf("scheduler: failed to schedule recurrence for task %s: %v", task.ID, err)
			}
		}
	}
	return fired, nil
}

// scheduleNext inserts a fresh pending task at the next cron occurrence
// after now. The fired task itself stays terminal.
func (s *Scheduler) scheduleNext(ctx context.Context, task *types.ReminderTask, now time.Time) error {
	next, err := gronx.NextTickAfter(task.Recurrence, now, false)
	if err != nil {
		return fmt.Errorf("scheduler: next occurrence of %q: %w", task.Recurrence, err)
	}
	_, err = s.Schedule(ctx, ScheduleInput{
		ThreadID:   task.ThreadID,
		DueAt:      next,
		Kind:       task.Kind,
		Payload:    task.Payload,
		Recurrence: task.Recurrence,
	})
	return err
}

// Run ticks on the configured interval until the context is cancelled. An
// immediate first tick catches tasks that came due while the process was
// down.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.Tick(ctx, s.now().UTC()); err != nil {
		log.Printf("scheduler: startup tick failed: %v", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Tick(ctx, s.now().UTC()); err != nil {
				log.Printf("scheduler: tick failed: %v", err)
			}
		}
	}
}
