package app_test

import (
	"sync"
	"testing"
	"time"

	"quiz-room-service/internal/domain"
)

// recorder is an app.Broadcaster that keeps every delivered event per
// connection so tests can wait on them.
type recorder struct {
	mu      sync.Mutex
	rooms   map[string]map[string]struct{}
	inboxes map[string][]domain.Event
	gone    map[string]bool
	closed  map[string]bool
}

func newRecorder() *recorder {
	return &recorder{
		rooms:   make(map[string]map[string]struct{}),
		inboxes: make(map[string][]domain.Event),
		gone:    make(map[string]bool),
		closed:  make(map[string]bool),
	}
}

func (r *recorder) Subscribe(code, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[code] == nil {
		r.rooms[code] = make(map[string]struct{})
	}
	r.rooms[code][id] = struct{}{}
}

func (r *recorder) Unsubscribe(code, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms[code], id)
}

func (r *recorder) Broadcast(code string, evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.rooms[code] {
		r.inboxes[id] = append(r.inboxes[id], evt)
	}
}

func (r *recorder) Send(id string, evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inboxes[id] = append(r.inboxes[id], evt)
}

func (r *recorder) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gone[id] = true
}

func (r *recorder) Connected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.gone[id]
}

func (r *recorder) CloseRoom(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, code)
	r.closed[code] = true
}

// vanish marks a connection as lost without telling any room.
func (r *recorder) vanish(id string) {
	r.Drop(id)
}

func (r *recorder) events(id string, typ domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, evt := range r.inboxes[id] {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

func (r *recorder) count(id string, typ domain.EventType) int {
	return len(r.events(id, typ))
}

func (r *recorder) roomClosed(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed[code]
}

// waitN blocks until id has received n events of typ and returns the nth.
func (r *recorder) waitN(t *testing.T, id string, typ domain.EventType, n int) domain.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if evts := r.events(id, typ); len(evts) >= n {
			return evts[n-1]
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s #%d on %s (have %d)", typ, n, id, r.count(id, typ))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// never asserts that id does not receive more than n events of typ for a while.
func (r *recorder) never(t *testing.T, id string, typ domain.EventType, n int) {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	if got := r.count(id, typ); got > n {
		t.Fatalf("expected at most %d %s events on %s, got %d", n, typ, id, got)
	}
}
