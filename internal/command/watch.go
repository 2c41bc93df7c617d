package command

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lianghu1024/agentgate/protocol"
)

// maxBufferedEvents bounds the per-path event buffer; older events are
// dropped once the buffer is full.
const maxBufferedEvents = 256

// FileEvent is one buffered filesystem notification.
type FileEvent struct {
	Path   string `json:"path"`
	Op     string `json:"op"`
	UnixMs int64  `json:"unixMs,omitempty"`
}

// WatchService buffers fsnotify events for watched paths until a client
// polls them. One service instance is shared by all connections.
type WatchService struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	events  map[string][]FileEvent
	done    chan struct{}
}

func NewWatchService() (*WatchService, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	s := &WatchService{
		watcher: w,
		events:  make(map[string][]FileEvent),
		done:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *WatchService) run() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.record(ev)
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *WatchService) record(ev fsnotify.Event) {
	dir := filepath.Dir(ev.Name)
	s.mu.Lock()
	defer s.mu.Unlock()

	// Events are keyed by the watched directory; a watch on the exact
	// path wins over its parent.
	key := dir
	if _, ok := s.events[ev.Name]; ok {
		key = ev.Name
	}
	buf, ok := s.events[key]
	if !ok {
		return
	}
	if len(buf) >= maxBufferedEvents {
		buf = buf[1:]
	}
	s.events[key] = append(buf, FileEvent{
		Path:   ev.Name,
		Op:     strings.ToLower(ev.Op.String()),
		UnixMs: time.Now().UnixMilli(),
	})
}

func (s *WatchService) Watch(path string) error {
	s.mu.Lock()
	if _, ok := s.events[path]; ok {
		s.mu.Unlock()
		return nil
	}
	s.events[path] = nil
	s.mu.Unlock()

	if err := s.watcher.Add(path); err != nil {
		s.mu.Lock()
		delete(s.events, path)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Poll drains and returns the buffered events for path.
func (s *WatchService) Poll(path string) ([]FileEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.events[path]
	if !ok {
		return nil, false
	}
	s.events[path] = nil
	return buf, true
}

func (s *WatchService) Unwatch(path string) error {
	s.mu.Lock()
	_, ok := s.events[path]
	delete(s.events, path)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("path %q is not watched", path)
	}
	return s.watcher.Remove(path)
}

func (s *WatchService) Close() error {
	close(s.done)
	return s.watcher.Close()
}

type watchPayload struct {
	Path string `json:"path"`
}

// RegisterWatchCommands exposes the watch service as WATCH, WATCH_POLL and
// UNWATCH actions, all gated behind the "watch" scope.
func RegisterWatchCommands(r *Registry, s *WatchService) {
	parse := func(data json.RawMessage) (string, error) {
		var p watchPayload
		if err := json.Unmarshal(data, &p); err != nil || p.Path == "" {
			return "", protocol.BadRequest("path is required")
		}
		return p.Path, nil
	}

	r.Register("WATCH", Command{
		RequiredScope: "watch",
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			path, err := parse(inv.Data)
			if err != nil {
				return nil, err
			}
			if err := s.Watch(path); err != nil {
				return nil, err
			}
			return map[string]any{"watching": path}, nil
		},
	})

	r.Register("WATCH_POLL", Command{
		RequiredScope: "watch",
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			path, err := parse(inv.Data)
			if err != nil {
				return nil, err
			}
			events, ok := s.Poll(path)
			if !ok {
				return nil, protocol.BadRequest(fmt.Sprintf("path %q is not watched", path))
			}
			if events == nil {
				events = []FileEvent{}
			}
			return map[string]any{"events": events}, nil
		},
	})

	r.Register("UNWATCH", Command{
		RequiredScope: "watch",
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			path, err := parse(inv.Data)
			if err != nil {
				return nil, err
			}
			if err := s.Unwatch(path); err != nil {
				return nil, protocol.BadRequest(err.Error())
			}
			return map[string]any{"unwatched": path}, nil
		},
	})
}
