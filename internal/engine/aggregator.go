package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sundialhq/sundial/internal/collab"
	"github.com/sundialhq/sundial/internal/storage"
	"github.com/sundialhq/sundial/pkg/types"
)

// ContextAggregator assembles the best-effort snapshot handed to the
// reasoning step. All sources are queried concurrently under one shared
// timeout; whatever answers in time goes into the bundle, and everything else
// becomes an entry in Missing. A slow calendar integration must never block
// the user's reply.
type ContextAggregator struct {
	episodic *EpisodicService
	graph    *EntityGraph

	calendar collab.CalendarSource
	tasks    collab.TaskSource
	habits   collab.HabitSource
	location collab.LocationSource

	timeout time.Duration
}

// NewContextAggregator creates the aggregator. Any collaborator source may be
// nil; its section is then skipped entirely rather than reported missing.
func NewContextAggregator(episodic *EpisodicService, graph *EntityGraph, calendar collab.CalendarSource, tasks collab.TaskSource, habits collab.HabitSource, location collab.LocationSource, timeout time.Duration) *ContextAggregator {
	return &ContextAggregator{
		episodic: episodic,
		graph:    graph,
		calendar: calendar,
		tasks:    tasks,
		habits:   habits,
		location: location,
		timeout:  timeout,
	}
}

// sectionResult is one source's answer, delivered over a channel so a source
// that ignores its context cannot wedge the gather.
type sectionResult struct {
	section string
	apply   func(*types.ContextBundle)
	err     error
}

// Gather builds the context bundle for one incoming message. It never
// returns an error: failed or late sections are simply absent and listed in
// the bundle's Missing field.
func (a *ContextAggregator) Gather(ctx context.Context, threadID, message string) *types.ContextBundle {
	now := time.Now().UTC()
	bundle := &types.ContextBundle{
		ThreadID:   threadID,
		GatheredAt: now,
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	results := make(chan sectionResult, 6)
	expected := 0

	launch := func(section string, fn func(context.Context) (func(*types.ContextBundle), error)) {
		expected++
		go func() {
			apply, err := fn(ctx)
			results <- sectionResult{section: section, apply: apply, err: err}
		}()
	}

	launch(types.SectionMemories, func(ctx context.Context) (func(*types.ContextBundle), error) {
		memories, err := a.episodic.Search(ctx, threadID, message, 0)
		if err != nil {
			return nil, err
		}
		return func(b *types.ContextBundle) { b.Memories = memories }, nil
	})

	launch(types.SectionGraph, func(ctx context.Context) (func(*types.ContextBundle), error) {
		user, err := a.graph.Lookup(ctx, types.KindPerson, userEntityName)
		if errors.Is(err, storage.ErrNotFound) {
			return func(*types.ContextBundle) {}, nil
		}
		if err != nil {
			return nil, err
		}
		facts, err := a.graph.Neighborhood(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		return func(b *types.ContextBundle) { b.Facts = facts }, nil
	})

	if a.calendar != nil {
		launch(types.SectionCalendar, func(ctx context.Context) (func(*types.ContextBundle), error) {
			events, err := a.calendar.UpcomingEvents(ctx, threadID)
			if err != nil {
				return nil, err
			}
			return func(b *types.ContextBundle) { b.Calendar = events }, nil
		})
	}

	if a.tasks != nil {
		launch(types.SectionTasks, func(ctx context.Context) (func(*types.ContextBundle), error) {
			items, err := a.tasks.OpenTasks(ctx, threadID)
			if err != nil {
				return nil, err
			}
			return func(b *types.ContextBundle) { b.Tasks = items }, nil
		})
	}

	if a.habits != nil {
		launch(types.SectionHabits, func(ctx context.Context) (func(*types.ContextBundle), error) {
			profile, err := a.habits.Profile(ctx, threadID)
			if err != nil {
				return nil, err
			}
			return func(b *types.ContextBundle) { b.Habits = profile }, nil
		})
	}

	if a.location != nil {
		launch(types.SectionLocation, func(ctx context.Context) (func(*types.ContextBundle), error) {
			snapshot, err := a.location.LastKnown(ctx, threadID)
			if err != nil {
				return nil, err
			}
			return func(b *types.ContextBundle) { b.Location = snapshot }, nil
		})
	}

	answered := make(map[string]bool, expected)
	for len(answered) < expected {
		select {
		case res := <-results:
			answered[res.section] = true
			if res.err != nil {
				log.Printf("context gather: %s source failed: %v", res.section, res.err)
				bundle.Missing = append(bundle.Missing, res.section)
				continue
			}
			res.apply(bundle)
		case <-ctx.Done():
			// Whatever has not answered by the deadline is missing.
			for _, section := range a.sections() {
				if !answered[section] {
					bundle.Missing = append(bundle.Missing, section)
				}
			}
			return bundle
		}
	}
	return bundle
}

// sections lists the section names this aggregator was configured to gather,
// in bundle order.
func (a *ContextAggregator) sections() []string {
	sections := []string{types.SectionMemories, types.SectionGraph}
	if a.calendar != nil {
		sections = append(sections, types.SectionCalendar)
	}
	if a.tasks != nil {
		sections = append(sections, types.SectionTasks)
	}
	if a.habits != nil {
		sections = append(sections, types.SectionHabits)
	}
	if a.location != nil {
		sections = append(sections, types.SectionLocation)
	}
	return sections
}
