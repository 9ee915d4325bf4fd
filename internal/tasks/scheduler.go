// Package tasks implements the per-worker local task scheduler: a bounded,
// cancellable executor for background work spawned by scripts. Each worker
// owns exactly one Scheduler; tasks never cross worker boundaries.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/firasghr/casperedge/internal/errs"
)

// Handler is the unit of work a spawned task executes. It receives a
// context that is cancelled on timeout or scheduler shutdown.
type Handler func(ctx context.Context) (interface{}, error)

// Spawn describes one task submission.
type Spawn struct {
	Handler Handler
	Name    string
	Timeout time.Duration
}

// Scheduler bounds and tracks a worker's background tasks, generalizing
// a shared-queue worker-pool idiom with per-task cancellation and
// an explicit shutdown broadcast instead of a simple channel close.
//
// Design choices:
//   - activeCount is atomic so Spawn can check the background-task cap
//     without taking a lock on the hot path.
//   - Each task gets its own goroutine rather than draining a shared
//     queue: tasks are typically few and long-lived relative to HTTP
//     request handling, so the pool-of-goroutines-draining-a-channel
//     shape of a worker pool doesn't fit; a cap on concurrent count
//     is enough.
//   - shutdown is a struct{} channel closed exactly once (via
//     closeOnce); every task's context is derived from it so Stop
//     cancels every pending and in-flight task in one close(), the
//     common broadcast-by-closing-a-channel idiom.
type Scheduler struct {
	maxBackground int // 0 means unbounded
	activeCount   int64
	nextID        int64

	mu       sync.Mutex
	shutdown chan struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewScheduler creates a Scheduler. maxBackground <= 0 means no cap on
// concurrently active tasks.
func NewScheduler(maxBackground int) *Scheduler {
	return &Scheduler{
		maxBackground: maxBackground,
		shutdown:      make(chan struct{}),
	}
}

// Handle is returned to the caller of Spawn. It is safe for a script to
// drop a Handle without calling Join; the task still runs to completion
// (or is cancelled at scheduler Stop).
type Handle struct {
	ID   int64
	Name string

	mu       sync.Mutex
	done     bool
	result   interface{}
	err      error
	aborted  bool
	cancel   context.CancelFunc
	finished chan struct{}
}

// IsFinished reports whether the task has completed, successfully or not.
func (h *Handle) IsFinished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// Abort cancels the task. Abort racing with normal completion is fine:
// whichever reaches the result first wins, and a Join after a successful
// Abort returns the cancellation error.
func (h *Handle) Abort() {
	h.mu.Lock()
	h.aborted = true
	h.mu.Unlock()
	h.cancel()
}

// Join blocks until the task finishes (or ctx is cancelled) and returns
// its result and error.
func (h *Handle) Join(ctx context.Context) (interface{}, error) {
	select {
	case <-h.finished:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Spawn starts s.Handler on its own goroutine and returns a Handle. It
// fails with errs.ErrBackgroundLimitReached if a cap is set and currently
// saturated, and with errs.ErrSchedulerShutdown if the scheduler has
// already been stopped.
func (s *Scheduler) Spawn(spawn Spawn) (*Handle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errs.ErrSchedulerShutdown
	}
	s.mu.Unlock()

	if s.maxBackground > 0 && atomic.LoadInt64(&s.activeCount) >= int64(s.maxBackground) {
		return nil, errs.ErrBackgroundLimitReached
	}
	atomic.AddInt64(&s.activeCount, 1)

	id := atomic.AddInt64(&s.nextID, 1)
	name := spawn.Name
	if name == "" {
		name = fmt.Sprintf("task-%d", id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if spawn.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, spawn.Timeout)
		originalCancel := cancel
		cancel = func() {
			timeoutCancel()
			originalCancel()
		}
	}

	h := &Handle{
		ID:       id,
		Name:     name,
		cancel:   cancel,
		finished: make(chan struct{}),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.activeCount, -1)
		defer close(h.finished)
		defer cancel()

		shutdownCtx, shutdownCancel := context.WithCancel(ctx)
		defer shutdownCancel()
		go func() {
			select {
			case <-s.shutdown:
				shutdownCancel()
			case <-shutdownCtx.Done():
			}
		}()

		result, err := spawn.Handler(shutdownCtx)

		h.mu.Lock()
		defer h.mu.Unlock()
		h.done = true
		switch {
		case err != nil:
			h.err = err
		case isShutdownSignaled(s.shutdown):
			h.result, h.err = result, errs.ErrSchedulerShutdown
		case h.aborted:
			h.result, h.err = result, context.Canceled
		case ctx.Err() == context.DeadlineExceeded:
			h.result, h.err = result, errs.ErrTaskTimedOut
		default:
			h.result, h.err = result, nil
		}
	}()

	return h, nil
}

func isShutdownSignaled(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// ActiveCount returns the number of tasks currently running.
func (s *Scheduler) ActiveCount() int64 {
	return atomic.LoadInt64(&s.activeCount)
}

// Stop broadcasts shutdown to every pending and in-flight task and waits
// for them to exit. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.shutdown)
	s.mu.Unlock()

	s.wg.Wait()
}
