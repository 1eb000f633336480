// Package notify is the operator-visible event channel. The scheduler
// reports delivery failures here so an operator process can pick them up
// even when it does not share memory with the core: events are files in a
// shared directory, consumed once by whoever watches it.
package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Event types surfaced to operators.
const (
	EventDeliveryFailure = "delivery_failure"
	EventStorageDegraded = "storage_degraded"
)

// Event is the payload written to an event file.
type Event struct {
	Type     string `json:"type"`
	TaskID   string `json:"task_id,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
	Detail   string `json:"detail"`
	Time     int64  `json:"time"`
}

// Notifier writes operator event files to a shared directory.
type Notifier struct {
	dir string
}

// NewNotifier creates a notifier that emits events to {dataPath}/events/.
func NewNotifier(dataPath string) *Notifier {
	return &Notifier{dir: filepath.Join(dataPath, "events")}
}

// DeliveryFailure reports a reminder that fired but could not be delivered.
// The task stays fired, so this event is the only trace of the failure.
func (n *Notifier) DeliveryFailure(taskID, threadID string, cause error) {
	err := n.emit(Event{
		Type:     EventDeliveryFailure,
		TaskID:   taskID,
		ThreadID: threadID,
		Detail:   cause.Error(),
	})
	if err != nil {
		log.Printf("notify: failed to record delivery failure for task %s: %v", taskID, err)
	}
}

// StorageDegraded reports a backend running without a capability it was
// configured for.
func (n *Notifier) StorageDegraded(detail string) {
	if err := n.emit(Event{Type: EventStorageDegraded, Detail: detail}); err != nil {
		log.Printf("notify: failed to record storage event: %v", err)
	}
}

// emit writes one event file. Safe to call concurrently.
func (n *Notifier) emit(evt Event) error {
	if err := os.MkdirAll(n.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", n.dir, err)
	}
	evt.Time = time.Now().UnixNano()
	data, _ := json.Marshal(evt)
	filename := fmt.Sprintf("%d-%s.event", evt.Time, sanitizeID(evt.Type+"-"+evt.TaskID))
	return os.WriteFile(filepath.Join(n.dir, filename), data, 0o600)
}

// sanitizeID replaces characters unsafe for filenames.
func sanitizeID(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		if id[i] == '/' || id[i] == ':' {
			out[i] = '_'
		} else {
			out[i] = id[i]
		}
	}
	return string(out)
}
