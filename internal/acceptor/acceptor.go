// Package acceptor binds the single process-wide TCP listener and
// distributes accepted streams across the worker pool: a least-loaded
// policy chosen via a CAS loop over a lock-free counter vector, grounded
// on the same read-mostly, atomics-over-locks shape as
// cluster.GlobalCookieJar's version counter.
package acceptor

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/firasghr/casperedge/internal/logger"
)

// Worker is the subset of *worker.Worker the acceptor depends on.
type Worker interface {
	Accept(conn net.Conn) bool
	ActiveConnections() int64
	ShuttingDown() bool
	SetCloseHook(fn func())
}

// Acceptor owns the listening socket and assigns each accepted connection
// to the least-loaded worker that hasn't begun shutting down.
type Acceptor struct {
	workers []Worker
	counts  []atomic.Int64
	log     *logger.Logger

	listener net.Listener
	done     chan struct{}
}

// New builds an Acceptor over an already-constructed worker set. Each
// worker's close hook is wired here so counts decrements exactly once per
// connection, independent of the worker's own internal accounting.
func New(workers []Worker, log *logger.Logger) *Acceptor {
	a := &Acceptor{
		workers: workers,
		counts:  make([]atomic.Int64, len(workers)),
		log:     log.Sub("acceptor"),
		done:    make(chan struct{}),
	}
	for i, w := range workers {
		idx := i
		w.SetCloseHook(func() { a.counts[idx].Add(-1) })
	}
	return a
}

// Listen binds addr and starts the accept loop in a new goroutine. It
// returns once the listener is bound, or an error if binding failed.
func (a *Acceptor) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.listener = ln
	go a.acceptLoop()
	return nil
}

// Addr returns the bound listener's address, useful for tests that bind
// to ":0" and need the assigned port.
func (a *Acceptor) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

func (a *Acceptor) acceptLoop() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.done:
				return
			default:
				a.log.Errorf("accept: %v", err)
				continue
			}
		}
		if !a.assign(conn) {
			a.log.Error("no worker available to accept connection, closing")
			conn.Close()
		}
	}
}

// assign picks the least-loaded non-shutting-down worker via a CAS loop
// on its counter and hands conn to it. It returns false if every worker
// is shutting down or refused the connection.
func (a *Acceptor) assign(conn net.Conn) bool {
	rejected := make([]bool, len(a.workers))
	for attempt := 0; attempt < len(a.workers); attempt++ {
		idx := a.pickLeastLoaded(rejected)
		if idx < 0 {
			return false
		}
		for {
			cur := a.counts[idx].Load()
			if a.counts[idx].CompareAndSwap(cur, cur+1) {
				break
			}
		}
		if a.workers[idx].Accept(conn) {
			return true
		}
		// Worker rejected (began shutting down between selection and
		// hand-off); undo the optimistic increment and try another.
		a.counts[idx].Add(-1)
		rejected[idx] = true
	}
	return false
}

func (a *Acceptor) pickLeastLoaded(skip []bool) int {
	best := -1
	var bestCount int64
	for i, w := range a.workers {
		if skip[i] || w.ShuttingDown() {
			continue
		}
		c := a.counts[i].Load()
		if best == -1 || c < bestCount {
			best = i
			bestCount = c
		}
	}
	return best
}

// Shutdown stops the accept loop and closes the listening socket. It does
// not shut down the workers themselves; callers do that separately so
// in-flight connections can drain on their own schedule.
func (a *Acceptor) Shutdown(ctx context.Context) error {
	close(a.done)
	if a.listener != nil {
		return a.listener.Close()
	}
	return nil
}
