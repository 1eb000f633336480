package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sundialhq/sundial/internal/collab"
	"github.com/sundialhq/sundial/internal/config"
	"github.com/sundialhq/sundial/internal/engine"
	"github.com/sundialhq/sundial/internal/llm"
	"github.com/sundialhq/sundial/internal/notify"
	"github.com/sundialhq/sundial/internal/scheduler"
	"github.com/sundialhq/sundial/internal/server"
	"github.com/sundialhq/sundial/internal/storage"
	"github.com/sundialhq/sundial/internal/storage/postgres"
	"github.com/sundialhq/sundial/internal/storage/sqlite"
	"github.com/sundialhq/sundial/web/handlers"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional; environment variables apply either way)")
	tailEvents := flag.Bool("tail-events", false, "Tail operator events from the data directory and exit on interrupt")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *tailEvents {
		runEventTail(cfg.Storage.DataPath)
		return
	}

	notifier := notify.NewNotifier(cfg.Storage.DataPath)

	store, err := openStore(cfg, notifier)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	generator, err := llm.NewTextGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}
	embedder, err := llm.NewEmbeddingGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize embedding client: %v", err)
	}

	episodic := engine.NewEpisodicService(store, embedder, nil, cfg.Retrieval, cfg.Decay, cfg.LLM.EmbeddingDim)
	graph := engine.NewEntityGraph(store, embedder, nil, cfg.Graph.MergeThreshold)
	pipeline := engine.NewExtractionPipeline(llm.NewExtractor(generator), episodic, graph)
	defer pipeline.Close()

	aggregator := engine.NewContextAggregator(episodic, graph,
		calendarSource(cfg.Collab), taskSource(cfg.Collab),
		habitSource(cfg.Collab), locationSource(cfg.Collab),
		cfg.Collab.GatherTimeout)

	hub := handlers.NewDeliveryHub()
	sched := scheduler.New(store, hub, notifier, cfg.Scheduler.TickInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, _, err := server.Start(ctx, cfg, server.Services{
		Episodic:   episodic,
		Graph:      graph,
		Aggregator: aggregator,
		Pipeline:   pipeline,
		Scheduler:  sched,
		Hub:        hub,
	})
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Sundial listening at http://%s", addr)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Scheduler.Enabled {
		g.Go(func() error { return sched.Run(gctx) })
	}
	g.Go(func() error {
		episodic.RunCleanupLoop(gctx)
		return nil
	})

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Printf("Background worker error: %v", err)
	}
	time.Sleep(1 * time.Second) // give connections time to close
}

func openStore(cfg *config.Config, notifier *notify.Notifier) (storage.Store, error) {
	if cfg.Storage.Engine == "postgres" {
		store, err := postgres.NewStore(cfg.Storage.PostgresDSN, cfg.LLM.EmbeddingDim)
		if err != nil {
			return nil, err
		}
		if !store.VectorCandidatesEnabled() {
			notifier.StorageDegraded("pgvector unavailable; episodic candidates fall back to recency ordering")
		}
		return store, nil
	}
	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		return nil, err
	}
	return sqlite.NewStore(cfg.Storage.DataPath + "/sundial.db")
}

// runEventTail streams operator events to the log until interrupted.
func runEventTail(dataPath string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := notify.NewWatcher(dataPath).Tail(ctx)
	if err != nil {
		log.Fatalf("Failed to tail events: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sigChan:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			log.Printf("event %s task=%s thread=%s: %s",
				evt.Type, evt.TaskID, evt.ThreadID, evt.Detail)
		}
	}
}

func calendarSource(cfg config.CollabConfig) collab.CalendarSource {
	if cfg.CalendarURL == "" {
		return nil
	}
	return collab.NewCalendarClient(cfg.CalendarURL)
}

func taskSource(cfg config.CollabConfig) collab.TaskSource {
	if cfg.TasksURL == "" {
		return nil
	}
	return collab.NewTasksClient(cfg.TasksURL)
}

func habitSource(cfg config.CollabConfig) collab.HabitSource {
	if cfg.HabitsURL == "" {
		return nil
	}
	return collab.NewHabitsClient(cfg.HabitsURL)
}

func locationSource(cfg config.CollabConfig) collab.LocationSource {
	if cfg.LocationURL == "" {
		return nil
	}
	return collab.NewLocationClient(cfg.LocationURL)
}
