package engine

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/sundialhq/sundial/pkg/types"
)

type stubCalendar struct {
	events []types.CalendarEvent
	err    error
	delay  time.Duration
}

func (s *stubCalendar) UpcomingEvents(ctx context.Context, _ string) ([]types.CalendarEvent, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.events, s.err
}

type stubTasks struct {
	items []types.TaskItem
	err   error
}

func (s *stubTasks) OpenTasks(context.Context, string) ([]types.TaskItem, error) {
	return s.items, s.err
}

type stubHabits struct {
	profile *types.HabitProfile
	err     error
}

func (s *stubHabits) Profile(context.Context, string) (*types.HabitProfile, error) {
	return s.profile, s.err
}

// hangingLocation ignores its context entirely, simulating a collaborator
// that cannot be cancelled.
type hangingLocation struct{}

func (hangingLocation) LastKnown(context.Context, string) (*types.LocationSnapshot, error) {
	time.Sleep(5 * time.Second)
	return nil, fmt.Errorf("too late")
}

func TestGatherAssemblesAllSections(t *testing.T) {
	episodicStore := newMemEpisodicStore()
	entityStore := newMemEntityStore()
	embedder := newFakeEmbedder(3)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	episodicStore.entries["m1"] = types.MemoryEntry{
		ID: "m1", ThreadID: "t1", Content: "remembered thing",
		Embedding: []float32{1, 0, 0}, Importance: 0.5, CreatedAt: now,
	}

	graph := newTestGraph(entityStore, embedder)
	user, err := graph.ResolveOrCreate(context.Background(), types.Mention{Name: "User", Kind: types.KindPerson})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := graph.AddRelationship(context.Background(), user.ID, TargetRef{Literal: "jazz"}, "prefers", types.SentimentPositive); err != nil {
		t.Fatalf("seed relationship: %v", err)
	}

	calendar := &stubCalendar{events: []types.CalendarEvent{{Title: "standup", StartsAt: now}}}
	tasks := &stubTasks{items: []types.TaskItem{{Title: "pay rent"}}}
	habits := &stubHabits{profile: &types.HabitProfile{ThreadID: "t1", LastActiveAt: now}}

	episodic := newTestEpisodic(episodicStore, embedder, now)
	agg := NewContextAggregator(episodic, graph, calendar, tasks, habits, nil, time.Second)

	bundle := agg.Gather(context.Background(), "t1", "what do I like")
	if len(bundle.Memories) != 1 {
		t.Errorf("memories = %d, want 1", len(bundle.Memories))
	}
	if len(bundle.Facts) != 1 || bundle.Facts[0].To != "jazz" {
		t.Errorf("unexpected facts: %+v", bundle.Facts)
	}
	if len(bundle.Calendar) != 1 || bundle.Calendar[0].Title != "standup" {
		t.Errorf("unexpected calendar: %+v", bundle.Calendar)
	}
	if len(bundle.Tasks) != 1 {
		t.Errorf("tasks = %d, want 1", len(bundle.Tasks))
	}
	if bundle.Habits == nil {
		t.Error("habits section missing")
	}
	if len(bundle.Missing) != 0 {
		t.Errorf("unexpected missing sections: %v", bundle.Missing)
	}
}

func TestGatherFailedSourceIsMissing(t *testing.T) {
	episodicStore := newMemEpisodicStore()
	entityStore := newMemEntityStore()
	embedder := newFakeEmbedder(3)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	calendar := &stubCalendar{err: fmt.Errorf("calendar integration down")}
	episodic := newTestEpisodic(episodicStore, embedder, now)
	graph := newTestGraph(entityStore, embedder)
	agg := NewContextAggregator(episodic, graph, calendar, nil, nil, nil, time.Second)

	bundle := agg.Gather(context.Background(), "t1", "hello")
	if !slices.Contains(bundle.Missing, types.SectionCalendar) {
		t.Errorf("calendar should be reported missing, got %v", bundle.Missing)
	}
	if slices.Contains(bundle.Missing, types.SectionMemories) {
		t.Errorf("memories answered and must not be missing, got %v", bundle.Missing)
	}
}

// A collaborator that ignores cancellation must not delay the gather past
// the shared timeout; its section is simply missing.
func TestGatherHangingSourceTimesOut(t *testing.T) {
	episodicStore := newMemEpisodicStore()
	entityStore := newMemEntityStore()
	embedder := newFakeEmbedder(3)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	episodic := newTestEpisodic(episodicStore, embedder, now)
	graph := newTestGraph(entityStore, embedder)
	agg := NewContextAggregator(episodic, graph, nil, nil, nil, hangingLocation{}, 50*time.Millisecond)

	start := time.Now()
	bundle := agg.Gather(context.Background(), "t1", "hello")
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Errorf("gather took %v, must return at the shared timeout", elapsed)
	}
	if !slices.Contains(bundle.Missing, types.SectionLocation) {
		t.Errorf("location should be reported missing, got %v", bundle.Missing)
	}
}

func TestGatherSlowSourceYieldsPartialBundle(t *testing.T) {
	episodicStore := newMemEpisodicStore()
	entityStore := newMemEntityStore()
	embedder := newFakeEmbedder(3)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	calendar := &stubCalendar{delay: 500 * time.Millisecond, events: []types.CalendarEvent{{Title: "late"}}}
	tasks := &stubTasks{items: []types.TaskItem{{Title: "on time"}}}

	episodic := newTestEpisodic(episodicStore, embedder, now)
	graph := newTestGraph(entityStore, embedder)
	agg := NewContextAggregator(episodic, graph, calendar, tasks, nil, nil, 50*time.Millisecond)

	bundle := agg.Gather(context.Background(), "t1", "hello")
	if len(bundle.Tasks) != 1 {
		t.Errorf("fast task source should still land, got %+v", bundle.Tasks)
	}
	if len(bundle.Calendar) != 0 {
		t.Errorf("slow calendar must be absent, got %+v", bundle.Calendar)
	}
	if !slices.Contains(bundle.Missing, types.SectionCalendar) {
		t.Errorf("calendar should be reported missing, got %v", bundle.Missing)
	}
}
