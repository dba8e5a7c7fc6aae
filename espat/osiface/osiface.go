// Package osiface provides the small set of OS abstractions the engine
// needs (semaphore, mailbox, mutex, named thread, monotonic clock), the Go
// analogue of spec.md §6's OS interface contract. Grounded on how the
// teacher (amken3d-gopper) abstracts host/serial.Port instead of talking to
// goroutines directly: these wrappers exist so call sites read like the
// spec and so tests can substitute a fake clock, not because goroutines and
// channels need help doing their job.
package osiface

import (
	"context"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Semaphore is a binary/counting signal with the spec's wait(0) = infinite
// contract, backed by a buffered channel.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a semaphore with the given initial count.
func NewSemaphore(count int) *Semaphore {
	s := &Semaphore{ch: make(chan struct{}, count)}
	for i := 0; i < count; i++ {
		s.ch <- struct{}{}
	}
	return s
}

// Wait blocks until a count is available or timeout elapses (0 = forever),
// reporting whether it acquired one.
func (s *Semaphore) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-s.ch
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.ch:
		return true
	case <-t.C:
		return false
	}
}

// Signal releases one count, non-blocking.
func (s *Semaphore) Signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Mailbox is a generic, bounded, single-reader queue: the Go replacement
// for the spec's request channel once it needs to carry a typed payload
// rather than *Request specifically. The engine itself does not use it; its
// request queue is a plain channel.
type Mailbox[T any] struct {
	ch chan T
}

// NewMailbox creates a mailbox with the given capacity.
func NewMailbox[T any](capacity int) *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, capacity)}
}

// TryPut enqueues v without blocking, reporting whether there was room.
func (m *Mailbox[T]) TryPut(v T) bool {
	select {
	case m.ch <- v:
		return true
	default:
		return false
	}
}

// Put enqueues v, blocking until there is room or ctx-less timeout elapses
// (0 = forever).
func (m *Mailbox[T]) Put(v T, timeout time.Duration) bool {
	if timeout <= 0 {
		m.ch <- v
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m.ch <- v:
		return true
	case <-t.C:
		return false
	}
}

// Get dequeues the next value, blocking until one is available or the
// channel is closed.
func (m *Mailbox[T]) Get() (T, bool) {
	v, ok := <-m.ch
	return v, ok
}

// Chan exposes the underlying channel for select statements.
func (m *Mailbox[T]) Chan() <-chan T {
	return m.ch
}

// Close closes the mailbox; subsequent Get calls drain remaining values
// then return ok=false.
func (m *Mailbox[T]) Close() {
	close(m.ch)
}

// Mutex is a thin wrapper over sync.Mutex so call sites name it the way
// the spec's OS interface does; it carries no behavior beyond sync.Mutex.
type Mutex struct {
	mu sync.Mutex
}

func (m *Mutex) Lock()   { m.mu.Lock() }
func (m *Mutex) Unlock() { m.mu.Unlock() }

// Thread spawns named goroutines, tagging each with a pprof label so
// profiles group engine goroutines by role, grounded on the teacher's
// core/timer.go practice of naming its background tasks.
type Thread struct{}

// Spawn starts fn in a new goroutine labeled name.
func (Thread) Spawn(name string, fn func()) {
	go pprof.Do(context.Background(), pprof.Labels("espat-thread", name), func(context.Context) {
		fn()
	})
}

// Clock abstracts wall-clock reads so tests can inject a fake clock via
// jonboulle/clockwork, grounded on malbeclabs-doublezero's use of that
// library for deterministic timer-driven tests (poll timer, command
// timeouts).
type Clock struct {
	inner clockwork.Clock
}

// NewClock wraps the real system clock.
func NewClock() Clock {
	return Clock{inner: clockwork.NewRealClock()}
}

// NewFakeClock wraps a clockwork.FakeClock for deterministic tests.
func NewFakeClock(fc clockwork.FakeClock) Clock {
	return Clock{inner: fc}
}

// Now returns the current time per the wrapped clock.
func (c Clock) Now() time.Time {
	if c.inner == nil {
		return time.Now()
	}
	return c.inner.Now()
}

// NewTicker returns a ticker driven by the wrapped clock.
func (c Clock) NewTicker(d time.Duration) clockwork.Ticker {
	if c.inner == nil {
		c.inner = clockwork.NewRealClock()
	}
	return c.inner.NewTicker(d)
}
