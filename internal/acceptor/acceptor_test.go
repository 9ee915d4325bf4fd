package acceptor

import (
	"net"
	"testing"

	"github.com/firasghr/casperedge/internal/logger"
)

type fakeWorker struct {
	accepted     int
	shuttingDown bool
	rejectNext   bool
	closeHook    func()
}

func (f *fakeWorker) Accept(conn net.Conn) bool {
	if f.rejectNext {
		f.rejectNext = false
		return false
	}
	f.accepted++
	return true
}
func (f *fakeWorker) ActiveConnections() int64 { return int64(f.accepted) }
func (f *fakeWorker) ShuttingDown() bool       { return f.shuttingDown }
func (f *fakeWorker) SetCloseHook(fn func())   { f.closeHook = fn }

func newWorkers(n int) ([]Worker, []*fakeWorker) {
	raw := make([]*fakeWorker, n)
	out := make([]Worker, n)
	for i := range raw {
		raw[i] = &fakeWorker{}
		out[i] = raw[i]
	}
	return out, raw
}

func TestAssignPicksLeastLoaded(t *testing.T) {
	workers, raw := newWorkers(3)
	a := New(workers, logger.New(logger.LevelError))

	a.counts[0].Store(5)
	a.counts[1].Store(1)
	a.counts[2].Store(3)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	if !a.assign(c1) {
		t.Fatal("assign failed")
	}
	if raw[1].accepted != 1 {
		t.Fatalf("expected worker 1 (least loaded) to receive the connection, got accepted=%d", raw[1].accepted)
	}
}

func TestAssignSkipsShuttingDownWorkers(t *testing.T) {
	workers, raw := newWorkers(2)
	raw[0].shuttingDown = true

	a := New(workers, logger.New(logger.LevelError))
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	if !a.assign(c1) {
		t.Fatal("assign failed")
	}
	if raw[0].accepted != 0 || raw[1].accepted != 1 {
		t.Fatalf("expected only worker 1 to receive a connection, got raw[0]=%d raw[1]=%d", raw[0].accepted, raw[1].accepted)
	}
}

func TestAssignFallsBackWhenWorkerRejects(t *testing.T) {
	workers, raw := newWorkers(2)
	raw[0].rejectNext = true

	a := New(workers, logger.New(logger.LevelError))
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	if !a.assign(c1) {
		t.Fatal("assign failed")
	}
	if raw[1].accepted != 1 {
		t.Fatalf("expected worker 1 to receive the connection after worker 0 rejected it, got accepted=%d", raw[1].accepted)
	}
	if a.counts[0].Load() != 0 {
		t.Fatalf("counts[0] = %d, want 0 (optimistic increment undone)", a.counts[0].Load())
	}
}

func TestCloseHookDecrementsCount(t *testing.T) {
	workers, _ := newWorkers(1)
	a := New(workers, logger.New(logger.LevelError))
	a.counts[0].Store(1)

	fw := workers[0].(*fakeWorker)
	fw.closeHook()

	if a.counts[0].Load() != 0 {
		t.Fatalf("counts[0] = %d, want 0", a.counts[0].Load())
	}
}
