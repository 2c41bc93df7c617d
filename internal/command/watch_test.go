package command

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestWatchRecordStampsEvents(t *testing.T) {
	dir := t.TempDir()
	s := &WatchService{events: map[string][]FileEvent{dir: nil}}

	before := time.Now().UnixMilli()
	s.record(fsnotify.Event{Name: filepath.Join(dir, "f"), Op: fsnotify.Create})

	events, ok := s.Poll(dir)
	if !ok {
		t.Fatalf("path %q not watched", dir)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Path != filepath.Join(dir, "f") {
		t.Fatalf("path = %q", ev.Path)
	}
	if ev.Op != "create" {
		t.Fatalf("op = %q, want create", ev.Op)
	}
	if ev.UnixMs < before || ev.UnixMs > time.Now().UnixMilli() {
		t.Fatalf("unixMs = %d, outside [%d, now]", ev.UnixMs, before)
	}
}

func TestWatchRecordDropsUnwatchedPaths(t *testing.T) {
	s := &WatchService{events: make(map[string][]FileEvent)}
	s.record(fsnotify.Event{Name: "/nowhere/f", Op: fsnotify.Write})
	if len(s.events) != 0 {
		t.Fatalf("event recorded for unwatched path")
	}
}

func TestWatchRecordCapsBuffer(t *testing.T) {
	dir := t.TempDir()
	s := &WatchService{events: map[string][]FileEvent{dir: nil}}

	for i := 0; i < maxBufferedEvents+10; i++ {
		s.record(fsnotify.Event{Name: filepath.Join(dir, "f"), Op: fsnotify.Write})
	}
	events, _ := s.Poll(dir)
	if len(events) != maxBufferedEvents {
		t.Fatalf("got %d events, want %d", len(events), maxBufferedEvents)
	}
}
