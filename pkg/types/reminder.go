package types

import "time"

// TaskKind distinguishes user-visible reminders from the agent's own wakeups.
type TaskKind string

const (
	// KindUserReminder delivers a reminder message the user asked for.
	KindUserReminder TaskKind = "user_reminder"

	// KindSelfWakeup re-inserts the agent into the conversation without a
	// preceding user message.
	KindSelfWakeup TaskKind = "self_wakeup"
)

// Valid reports whether k is a known task kind.
func (k TaskKind) Valid() bool {
	return k == KindUserReminder || k == KindSelfWakeup
}

// TaskStatus is the lifecycle state of a reminder task.
// The only transitions are pending→fired and pending→cancelled;
// fired and cancelled are terminal.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusFired     TaskStatus = "fired"
	StatusCancelled TaskStatus = "cancelled"
)

// ReminderTask is a scheduled delivery owned by the scheduler.
// Each pending task fires at most once, at or after DueAt, even with multiple
// scheduler instances running against the same storage.
type ReminderTask struct {
	ID       string     `json:"id"`
	ThreadID string     `json:"thread_id"`
	DueAt    time.Time  `json:"due_at"`
	Kind     TaskKind   `json:"kind"`
	Payload  string     `json:"payload"` // Free-form context / reason for the delivery
	Status   TaskStatus `json:"status"`

	// Recurrence is an optional cron expression. When set, firing the task
	// schedules a fresh pending task at the next occurrence; the fired task
	// itself stays terminal.
	Recurrence string `json:"recurrence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Terminal reports whether the task is in a terminal state.
func (t *ReminderTask) Terminal() bool {
	return t.Status == StatusFired || t.Status == StatusCancelled
}
