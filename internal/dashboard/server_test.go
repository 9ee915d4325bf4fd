package dashboard

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/firasghr/casperedge/internal/logger"
	"github.com/firasghr/casperedge/internal/metrics"
)

type fakeWorkerSource struct {
	conns, reqs int64
	shutting    bool
	mem         float64
}

func (f fakeWorkerSource) ActiveConnections() int64 { return f.conns }
func (f fakeWorkerSource) ActiveRequests() int64    { return f.reqs }
func (f fakeWorkerSource) ShuttingDown() bool        { return f.shutting }
func (f fakeWorkerSource) UsedMemoryBytes() float64  { return f.mem }

func TestHandleWorkersReturnsSnapshotPerWorker(t *testing.T) {
	reg := metrics.New(nil, nil)
	workers := []WorkerSource{
		fakeWorkerSource{conns: 3, reqs: 1, mem: 1024},
		fakeWorkerSource{conns: 0, reqs: 0, shutting: true},
	}
	s := New("", reg, workers, logger.New(logger.LevelError))

	req := httptest.NewRequest("GET", "/debug/workers", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var out []WorkerStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].ActiveConnections != 3 || out[0].ActiveRequests != 1 || out[0].UsedMemoryBytes != 1024 {
		t.Fatalf("out[0] = %+v, unexpected", out[0])
	}
	if !out[1].ShuttingDown {
		t.Fatalf("out[1].ShuttingDown = false, want true")
	}
}

func TestHandleMetricsServesPrometheusExposition(t *testing.T) {
	reg := metrics.New(nil, nil)
	s := New("/metrics", reg, nil, logger.New(logger.LevelError))

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected non-empty metrics body")
	}
}
