package worker

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/firasghr/casperedge/internal/dispatcher"
	"github.com/firasghr/casperedge/internal/logger"
	"github.com/firasghr/casperedge/internal/metrics"
	"github.com/firasghr/casperedge/internal/scripting"
	"github.com/firasghr/casperedge/internal/storage"
	"github.com/firasghr/casperedge/internal/tasks"
	"github.com/firasghr/casperedge/internal/upstream"
	"github.com/robertkrimen/otto"
)

func newTestWorker(t *testing.T, handlerCode string) *Worker {
	t.Helper()
	log := logger.New(logger.LevelError)
	reg := metrics.New(nil, nil)
	backend := storage.NewMemoryBackend("default", 1<<20)
	facade := storage.NewFacade("default", backend, time.Second, time.Second)
	sched := tasks.NewScheduler(0)
	t.Cleanup(sched.Stop)

	vm, err := scripting.New(0, log, reg, map[string]*storage.Facade{"default": facade}, sched, upstream.New(5*time.Second))
	if err != nil {
		t.Fatalf("scripting.New: %v", err)
	}

	var handler otto.Value
	hasHandler := false
	if handlerCode != "" {
		handler, err = vm.LoadHandler(handlerCode)
		if err != nil {
			t.Fatalf("LoadHandler: %v", err)
		}
		hasHandler = true
	}

	disp := dispatcher.New(vm, reg, nil, handler, hasHandler, otto.Value{}, false)
	return New(0, vm, sched, disp, reg, log, time.Second)
}

func TestServeHTTPRunsHandler(t *testing.T) {
	w := newTestWorker(t, `(function(req, ctx) { return Response(200, "hi " + req.method); })`)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	w.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "hi GET" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), "hi GET")
	}
}

func TestServeHTTPSynthesizes404WithoutHandler(t *testing.T) {
	w := newTestWorker(t, "")

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	rec := httptest.NewRecorder()
	w.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if rec.Body.String() != "Not Found" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), "Not Found")
	}
}

func TestServeHTTPTracksActiveConnectionsViaConnState(t *testing.T) {
	w := newTestWorker(t, "")
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()
	w.onConnState(conn, http.StateNew)
	if got := w.ActiveConnections(); got != 1 {
		t.Fatalf("ActiveConnections = %d, want 1", got)
	}
	w.onConnState(conn, http.StateClosed)
	if got := w.ActiveConnections(); got != 0 {
		t.Fatalf("ActiveConnections = %d, want 0", got)
	}
}
