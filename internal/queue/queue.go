// Package queue holds deferred actions submitted from outside the sync loop
// and runs them one at a time, in submission order, on the loop's goroutine.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrQueuedActionFailure wraps any error raised by an action during a drain.
var ErrQueuedActionFailure = errors.New("queued action failed")

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// Func is the body of a deferred action.
type Func func(ctx context.Context) error

// Action is a unit of deferred work. It runs at most once.
type Action struct {
	ID         uint64
	Name       string
	EnqueuedAt time.Time
	Run        Func
}

// ActionError reports which action aborted a drain.
type ActionError struct {
	Action Action
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: action %d (%s): %v", ErrQueuedActionFailure, e.Action.ID, e.Action.Name, e.Err)
}

// Unwrap exposes ErrQueuedActionFailure and the cause.
func (e *ActionError) Unwrap() []error {
	return []error{ErrQueuedActionFailure, e.Err}
}

// Queue is a thread-safe FIFO of actions.
//
// The queue is unbounded; producers never block. Enqueue may be called from
// any goroutine, including from inside a running action, while the loop
// drains.
//
// A buffered signal channel of size 1 lets the loop wait for new work with
// select instead of polling only on its tick.
type Queue struct {
	mu      sync.Mutex
	actions []Action
	nextID  uint64
	closed  bool
	signal  chan struct{} // Signals action availability (buffered, size 1)
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		actions: make([]Action, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds an action to the back of the queue and returns its ID.
func (q *Queue) Enqueue(name string, fn Func) (uint64, error) {
	if fn == nil {
		return 0, fmt.Errorf("action %q has no body", name)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}

	q.nextID++
	q.actions = append(q.actions, Action{
		ID:         q.nextID,
		Name:       name,
		EnqueuedAt: time.Now(),
		Run:        fn,
	})

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return q.nextID, nil
}

// tryDequeue pops the head without blocking.
func (q *Queue) tryDequeue() (Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.actions) == 0 {
		return Action{}, false
	}

	a := q.actions[0]

	// Release the closure for GC
	q.actions[0] = Action{}

	if len(q.actions) == 1 {
		q.actions = q.actions[:0]
	} else {
		q.actions = q.actions[1:]
	}

	return a, true
}

// DrainAll runs queued actions in order until the queue is empty and
// returns how many completed. The first failing action stops the drain:
// it is consumed, later actions stay queued, and an *ActionError is
// returned. Actions enqueued while draining run in the same drain.
func (q *Queue) DrainAll(ctx context.Context) (int, error) {
	done := 0
	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		a, ok := q.tryDequeue()
		if !ok {
			return done, nil
		}

		if err := runAction(ctx, a); err != nil {
			return done, &ActionError{Action: a, Err: err}
		}
		done++
	}
}

// runAction converts a panic inside an action into an error.
func runAction(ctx context.Context, a Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.Run(ctx)
}

// Wait returns a channel that signals when actions may be available.
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    q.DrainAll(ctx)
//	}
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Close rejects further Enqueue calls and wakes waiters.
// Already queued actions can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
