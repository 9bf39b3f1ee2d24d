// Package timer schedules cancellable one-shot and periodic callbacks scoped
// to a single owner, such as a quiz room.
package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source for every timer. In production use
// clockwork.NewRealClock(); in tests a clockwork.FakeClock.
type Clock = clockwork.Clock

// Set tracks every outstanding task of one owner so they can be cancelled
// together when a phase transition supersedes them.
//
// Each task remembers the generation it was armed in. CancelAll bumps the
// generation, so a task that already fired but has not yet run its callback
// is still dropped.
type Set struct {
	clock Clock

	mu     sync.Mutex
	gen    uint64
	nextID uint64
	tasks  map[uint64]task
}

type task interface {
	stop()
}

type oneShot struct {
	t clockwork.Timer
}

func (o oneShot) stop() {
	stopAndDrainTimer(o.t)
}

type periodic struct {
	ticker clockwork.Ticker
	done   chan struct{}
}

func (p periodic) stop() {
	p.ticker.Stop()
	close(p.done)
}

// NewSet returns an empty task set on the given clock.
func NewSet(clock Clock) *Set {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Set{
		clock: clock,
		tasks: make(map[uint64]task),
	}
}

// Clock returns the set's time source.
func (s *Set) Clock() Clock {
	return s.clock
}

// After runs fn once after d unless the set is cancelled first.
func (s *Set) After(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.allocLocked()
	gen := s.gen
	t := s.clock.AfterFunc(d, func() {
		if !s.complete(id, gen) {
			return
		}
		fn()
	})
	s.tasks[id] = oneShot{t: t}
}

// Every runs fn each period until the set is cancelled.
func (s *Set) Every(period time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.allocLocked()
	gen := s.gen
	ticker := s.clock.NewTicker(period)
	done := make(chan struct{})
	s.tasks[id] = periodic{ticker: ticker, done: done}

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.Chan():
				if !s.live(gen) {
					return
				}
				fn()
			}
		}
	}()
}

// CancelAll stops every outstanding task. Callbacks armed before the call
// never run afterwards.
func (s *Set) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	for id, t := range s.tasks {
		t.stop()
		delete(s.tasks, id)
	}
}

// Active reports how many tasks are outstanding.
func (s *Set) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Set) allocLocked() uint64 {
	s.nextID++
	return s.nextID
}

// complete removes a fired one-shot and reports whether it may still run.
func (s *Set) complete(id, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	delete(s.tasks, id)
	return true
}

func (s *Set) live(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(t clockwork.Timer) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}
