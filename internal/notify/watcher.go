package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher tails the operator event directory. Each event file is consumed
// exactly once across all tailing processes: whoever reads it deletes it.
type Watcher struct {
	dir string
}

// NewWatcher creates a watcher over {dataPath}/events/.
func NewWatcher(dataPath string) *Watcher {
	return &Watcher{dir: filepath.Join(dataPath, "events")}
}

// Tail streams operator events until the context is cancelled. Event files
// already present in the directory are delivered first, then new files as
// they appear. The returned channel is closed when tailing stops.
func (w *Watcher) Tail(ctx context.Context) (<-chan Event, error) {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return nil, fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("notify: failed to create watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("notify: failed to watch %s: %w", w.dir, err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer func() { _ = fsw.Close() }()

		// Backlog written before the tail started. The directory is
		// already being watched, so nothing lands unseen in between.
		if entries, err := os.ReadDir(w.dir); err == nil {
			for _, entry := range entries {
				if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".event") {
					continue
				}
				w.forward(ctx, filepath.Join(w.dir, entry.Name()), out)
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case fe, ok := <-fsw.Events:
				if !ok {
					return
				}
				if fe.Op&fsnotify.Create != 0 && strings.HasSuffix(fe.Name, ".event") {
					w.forward(ctx, fe.Name, out)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Printf("notify: watcher error: %v", err)
			}
		}
	}()
	return out, nil
}

// forward consumes one event file and sends its event, if still unclaimed.
func (w *Watcher) forward(ctx context.Context, path string, out chan<- Event) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // already consumed by another tail
	}
	_ = os.Remove(path)

	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		log.Printf("notify: invalid event file %s: %v", filepath.Base(path), err)
		return
	}
	if evt.Type == "" {
		return
	}

	select {
	case out <- evt:
	case <-ctx.Done():
	}
}
