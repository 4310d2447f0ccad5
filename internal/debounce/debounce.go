// Package debounce provides named, cancellable trailing-edge tasks.
//
// A Group holds at most one pending task per key. Scheduling a key again
// replaces its pending task and restarts the quiet window; other keys are
// never touched. Timers come from a Clock so tests can drive time by hand.
package debounce

import (
	"sync"
	"time"
)

// DefaultWindow is the quiet period used when none is configured.
const DefaultWindow = 500 * time.Millisecond

// Timer is the subset of *time.Timer a Group needs.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. The real clock wraps time.AfterFunc.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

type task struct {
	gen   uint64
	timer Timer
	fn    func()
}

// Group runs the latest scheduled function for each key once the key has
// been quiet for the window.
//
// Thread-safety: all methods are safe for concurrent use. Task functions run
// on the clock's goroutine, never under the group's lock.
type Group struct {
	clock  Clock
	window time.Duration

	mu     sync.Mutex
	gen    uint64
	tasks  map[string]*task
	closed bool
}

// New creates a group. A zero window uses DefaultWindow; a nil clock uses RealClock.
func New(window time.Duration, clock Clock) *Group {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = RealClock()
	}
	return &Group{
		clock:  clock,
		window: window,
		tasks:  make(map[string]*task),
	}
}

// Window returns the quiet period.
func (g *Group) Window() time.Duration { return g.window }

// Schedule arms fn for key, replacing any pending task for the same key.
// Scheduling on a closed group is a no-op.
func (g *Group) Schedule(key string, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	if prev, ok := g.tasks[key]; ok {
		prev.timer.Stop()
	}

	g.gen++
	t := &task{gen: g.gen, fn: fn}
	gen := g.gen
	t.timer = g.clock.AfterFunc(g.window, func() { g.fire(key, gen) })
	g.tasks[key] = t
}

// fire runs the task for key if it is still the latest one scheduled.
// A timer whose Stop lost the race lands here with a stale generation.
func (g *Group) fire(key string, gen uint64) {
	g.mu.Lock()
	t, ok := g.tasks[key]
	if !ok || t.gen != gen || g.closed {
		g.mu.Unlock()
		return
	}
	delete(g.tasks, key)
	g.mu.Unlock()

	t.fn()
}

// Cancel drops the pending task for key. It reports whether one was pending.
func (g *Group) Cancel(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(g.tasks, key)
	return true
}

// Flush runs the pending task for key now, on the caller's goroutine.
// It reports whether a task ran.
func (g *Group) Flush(key string) bool {
	g.mu.Lock()
	t, ok := g.tasks[key]
	if !ok || g.closed {
		g.mu.Unlock()
		return false
	}
	t.timer.Stop()
	delete(g.tasks, key)
	g.mu.Unlock()

	t.fn()
	return true
}

// Pending reports whether key has a task waiting for its window to elapse.
func (g *Group) Pending(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.tasks[key]
	return ok
}

// Close cancels every pending task. Later Schedule calls are ignored.
func (g *Group) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	for key, t := range g.tasks {
		t.timer.Stop()
		delete(g.tasks, key)
	}
}
