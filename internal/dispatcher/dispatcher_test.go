package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/robertkrimen/otto"

	"github.com/firasghr/casperedge/internal/httpmodel"
	"github.com/firasghr/casperedge/internal/logger"
	"github.com/firasghr/casperedge/internal/metrics"
	"github.com/firasghr/casperedge/internal/scripting"
	"github.com/firasghr/casperedge/internal/storage"
	"github.com/firasghr/casperedge/internal/tasks"
	"github.com/firasghr/casperedge/internal/upstream"
)

func newTestVM(t *testing.T) (*scripting.VM, *metrics.Registry) {
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
	return vm, reg
}

func TestDispatchNoHandlerSynthesizes404(t *testing.T) {
	vm, reg := newTestVM(t)
	d := New(vm, reg, nil, zeroValue(), false, zeroValue(), false)

	req := httpmodel.NewRequest("GET", "/missing", "HTTP/1.1")
	outcome, err := d.Dispatch(req)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Response.Status != 404 {
		t.Fatalf("status = %d, want 404", outcome.Response.Status)
	}
	body, err := outcome.Response.Body.Buffer(context.Background())
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	if string(body) != "Not Found" {
		t.Fatalf("body = %q, want %q", body, "Not Found")
	}
}

func TestDispatchHandlerRuns(t *testing.T) {
	vm, reg := newTestVM(t)
	handler, err := vm.LoadHandler(`(function(req, ctx) { return Response(200, "ok"); })`)
	if err != nil {
		t.Fatalf("LoadHandler: %v", err)
	}
	d := New(vm, reg, nil, handler, true, zeroValue(), false)

	req := httpmodel.NewRequest("GET", "/", "HTTP/1.1")
	outcome, err := d.Dispatch(req)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Response.Status != 200 {
		t.Fatalf("status = %d, want 200", outcome.Response.Status)
	}
}

func TestDispatchFilterShortCircuitSkipsHandler(t *testing.T) {
	vm, reg := newTestVM(t)
	handler, err := vm.LoadHandler(`(function(req, ctx) { return Response(200, "handler"); })`)
	if err != nil {
		t.Fatalf("LoadHandler: %v", err)
	}
	blocker, err := vm.LoadFilter("blocker", `({on_request: function(req, ctx) { return Response(403, "blocked"); }})`)
	if err != nil {
		t.Fatalf("LoadFilter: %v", err)
	}
	d := New(vm, reg, []*scripting.Filter{blocker}, handler, true, zeroValue(), false)

	req := httpmodel.NewRequest("GET", "/", "HTTP/1.1")
	outcome, err := d.Dispatch(req)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Response.Status != 403 {
		t.Fatalf("status = %d, want 403", outcome.Response.Status)
	}
}

func TestDispatchOnResponseReverseOrder(t *testing.T) {
	vm, reg := newTestVM(t)
	handler, err := vm.LoadHandler(`(function(req, ctx) { return Response(200, ""); })`)
	if err != nil {
		t.Fatalf("LoadHandler: %v", err)
	}
	first, err := vm.LoadFilter("first", `({on_response: function(resp, ctx) {
		var prev = resp.headers.get("X-Order") || "";
		resp.headers.set("X-Order", prev + "1");
	}})`)
	if err != nil {
		t.Fatalf("LoadFilter: %v", err)
	}
	second, err := vm.LoadFilter("second", `({on_response: function(resp, ctx) {
		var prev = resp.headers.get("X-Order") || "";
		resp.headers.set("X-Order", prev + "2");
	}})`)
	if err != nil {
		t.Fatalf("LoadFilter: %v", err)
	}
	d := New(vm, reg, []*scripting.Filter{first, second}, handler, true, zeroValue(), false)

	req := httpmodel.NewRequest("GET", "/", "HTTP/1.1")
	outcome, err := d.Dispatch(req)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	order, _ := outcome.Response.Headers.Get("X-Order")
	if order != "21" {
		t.Fatalf("X-Order = %q, want %q (reverse of on_request order)", order, "21")
	}
}

func zeroValue() otto.Value { return otto.Value{} }
