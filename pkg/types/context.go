package types

import "time"

// Context bundle section names, used to report which sources were omitted.
const (
	SectionMemories = "memories"
	SectionGraph    = "graph"
	SectionCalendar = "calendar"
	SectionTasks    = "tasks"
	SectionHabits   = "habits"
	SectionLocation = "location"
)

// CalendarEvent is a read-only calendar snapshot row.
type CalendarEvent struct {
	Title    string    `json:"title"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at,omitempty"`
	Location string    `json:"location,omitempty"`
}

// TaskItem is a read-only task list snapshot row.
type TaskItem struct {
	Title   string     `json:"title"`
	DueAt   *time.Time `json:"due_at,omitempty"`
	Done    bool       `json:"done"`
	Project string     `json:"project,omitempty"`
}

// HabitProfile is a rolling activity summary for one thread, owned by the
// habits collaborator and consumed read-only during context gathering.
type HabitProfile struct {
	ThreadID     string         `json:"thread_id"`
	LastActiveAt time.Time      `json:"last_active_at"`
	Counters     map[string]int `json:"counters,omitempty"`
}

// LocationSnapshot is the user's last known location.
type LocationSnapshot struct {
	Description string    `json:"description"`
	Latitude    float64   `json:"latitude,omitempty"`
	Longitude   float64   `json:"longitude,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// ContextBundle is the best-effort snapshot assembled before each reasoning
// step. Sections from collaborators that failed or timed out are left empty
// and listed in Missing; a stale integration never blocks a reply.
type ContextBundle struct {
	ThreadID string `json:"thread_id"`

	Memories []ScoredMemory  `json:"memories,omitempty"`
	Facts    []GraphFact     `json:"facts,omitempty"`
	Calendar []CalendarEvent `json:"calendar,omitempty"`
	Tasks    []TaskItem      `json:"tasks,omitempty"`

	Habits   *HabitProfile     `json:"habits,omitempty"`
	Location *LocationSnapshot `json:"location,omitempty"`

	// Missing lists the sections omitted because their source timed out
	// or returned an error.
	Missing []string `json:"missing,omitempty"`

	GatheredAt time.Time `json:"gathered_at"`
}
