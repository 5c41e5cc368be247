// Package loop provides the single control goroutine that owns pool state.
//
// Work that must not run inline, such as returning a socket to its pool
// while the caller is still unwinding, is posted as a Task and executed later
// by whoever drives the loop: Run in production, RunUntilIdle in tests.
// Tasks never run concurrently with each other.
package loop

import (
	"context"
	"sync"
)

// Task is a unit of work executed on the loop goroutine.
type Task func()

// Loop is an unbounded FIFO task queue drained by a single goroutine.
// Post may be called from any goroutine, including from inside a Task.
type Loop struct {
	mu    sync.Mutex
	queue []Task
	wake  chan struct{}
}

// New creates an empty loop.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
	}
}

// Post appends t to the queue. It never blocks and never runs t inline.
func (l *Loop) Post(t Task) {
	if t == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, t)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued tasks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// next pops the oldest task, or returns nil if the queue is empty.
func (l *Loop) next() Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	t := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return t
}

// RunUntilIdle executes queued tasks on the calling goroutine until the
// queue is empty, including tasks posted while draining. It returns the
// number of tasks run.
func (l *Loop) RunUntilIdle() int {
	n := 0
	for t := l.next(); t != nil; t = l.next() {
		t()
		n++
	}
	return n
}

// Run drains the queue on the calling goroutine until ctx is done.
// Tasks still queued when ctx ends are left in place.
func (l *Loop) Run(ctx context.Context) error {
	log.Debug("event loop started")
	defer log.Debug("event loop stopped")

	for {
		l.RunUntilIdle()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Do posts fn and waits until it has run. It is the way for goroutines other
// than the loop's own to touch loop-owned state. Calling Do from inside a Task
// deadlocks unless the loop is driven elsewhere.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
