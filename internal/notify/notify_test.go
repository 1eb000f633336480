package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDeliveryFailureCreatesFile(t *testing.T) {
	dir := t.TempDir()
	n := NewNotifier(dir)

	n.DeliveryFailure("task-1", "thread-1", errors.New("websocket closed"))

	entries, err := os.ReadDir(filepath.Join(dir, "events"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 event file, got %d", len(entries))
	}
	if filepath.Ext(entries[0].Name()) != ".event" {
		t.Errorf("expected .event extension, got %s", entries[0].Name())
	}
}

func TestTailReceivesNewEvent(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := NewWatcher(dir).Tail(ctx)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}

	// Give fsnotify a moment to register
	time.Sleep(50 * time.Millisecond)

	n := NewNotifier(dir)
	n.DeliveryFailure("task-42", "thread-9", errors.New("no listener"))

	select {
	case evt := <-events:
		if evt.Type != EventDeliveryFailure {
			t.Errorf("expected type %s, got %s", EventDeliveryFailure, evt.Type)
		}
		if evt.TaskID != "task-42" {
			t.Errorf("expected task-42, got %s", evt.TaskID)
		}
		if evt.Detail != "no listener" {
			t.Errorf("expected detail 'no listener', got %q", evt.Detail)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestTailDeliversBacklog(t *testing.T) {
	dir := t.TempDir()

	// Write events BEFORE the tail starts
	n := NewNotifier(dir)
	n.DeliveryFailure("task-a", "t1", errors.New("x"))
	n.StorageDegraded("vector index unavailable")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := NewWatcher(dir).Tail(ctx)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case evt := <-events:
			got[evt.Type] = true
		case <-time.After(3 * time.Second):
			t.Fatal("timeout draining pre-existing events")
		}
	}
	if !got[EventDeliveryFailure] || !got[EventStorageDegraded] {
		t.Errorf("missing drained event types: %v", got)
	}

	// Files are consumed once drained.
	entries, err := os.ReadDir(filepath.Join(dir, "events"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected events consumed, %d files remain", len(entries))
	}
}

func TestTailStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	events, err := NewWatcher(dir).Tail(ctx)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}

	cancel()
	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel after cancel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestSanitizeID(t *testing.T) {
	got := sanitizeID("delivery_failure-task/1:2")
	if got != "delivery_failure-task_1_2" {
		t.Errorf("unexpected sanitized name %s", got)
	}
}
