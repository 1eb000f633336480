// Package collab defines the read-only collaborator sources consumed during
// context gathering, plus HTTP clients for deployments that expose them as
// sidecar services. Collaborators are strictly read-only: the core never
// writes to a calendar, task list, habit tracker, or location feed.
package collab

import (
	"context"

	"github.com/sundialhq/sundial/pkg/types"
)

// CalendarSource returns upcoming calendar events for a thread.
type CalendarSource interface {
	UpcomingEvents(ctx context.Context, threadID string) ([]types.CalendarEvent, error)
}

// TaskSource returns open tasks for a thread.
type TaskSource interface {
	OpenTasks(ctx context.Context, threadID string) ([]types.TaskItem, error)
}

// HabitSource returns the rolling activity profile for a thread.
type HabitSource interface {
	Profile(ctx context.Context, threadID string) (*types.HabitProfile, error)
}

// LocationSource returns the user's last known location.
type LocationSource interface {
	LastKnown(ctx context.Context, threadID string) (*types.LocationSnapshot, error)
}
