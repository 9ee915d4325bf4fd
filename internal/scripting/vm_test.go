package scripting

import (
	"context"
	"testing"
	"time"

	"github.com/firasghr/casperedge/internal/httpmodel"
	"github.com/firasghr/casperedge/internal/logger"
	"github.com/firasghr/casperedge/internal/metrics"
	"github.com/firasghr/casperedge/internal/storage"
	"github.com/firasghr/casperedge/internal/tasks"
	"github.com/firasghr/casperedge/internal/upstream"
)

func newTestVM(t *testing.T) *VM {
	t.Helper()
	log := logger.New(logger.LevelError)
	reg := metrics.New(nil, nil)
	backend := storage.NewMemoryBackend("default", 1<<20)
	facade := storage.NewFacade("default", backend, time.Second, time.Second)
	sched := tasks.NewScheduler(0)
	t.Cleanup(sched.Stop)

	vm, err := New(0, log, reg, map[string]*storage.Facade{"default": facade}, sched, upstream.New(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return vm
}

func TestHandlerReturningResponse(t *testing.T) {
	vm := newTestVM(t)
	handler, err := vm.LoadHandler(`(function(req, ctx) { return Response(200, "hi " + req.method); })`)
	if err != nil {
		t.Fatalf("LoadHandler: %v", err)
	}
	req := httpmodel.NewRequest("GET", "/", "HTTP/1.1")
	ctx := httpmodel.NewRequestContext()
	resp, err := vm.CallHandler(handler, req, ctx)
	if err != nil {
		t.Fatalf("CallHandler: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	body, err := resp.Body.Buffer(context.Background())
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	if string(body) != "hi GET" {
		t.Fatalf("body = %q, want %q", body, "hi GET")
	}
}

func TestFilterShortCircuit(t *testing.T) {
	vm := newTestVM(t)
	filter, err := vm.LoadFilter("block", `({on_request: function(req, ctx) { return Response(403, "no"); }})`)
	if err != nil {
		t.Fatalf("LoadFilter: %v", err)
	}
	req := httpmodel.NewRequest("GET", "/", "HTTP/1.1")
	ctx := httpmodel.NewRequestContext()
	resp, err := vm.CallOnRequest(filter, req, ctx)
	if err != nil {
		t.Fatalf("CallOnRequest: %v", err)
	}
	if resp == nil || resp.Status != 403 {
		t.Fatalf("resp = %+v, want status 403", resp)
	}
}

func TestFilterContinuesChainOnNil(t *testing.T) {
	vm := newTestVM(t)
	filter, err := vm.LoadFilter("noop", `({on_request: function(req, ctx) { return null; }})`)
	if err != nil {
		t.Fatalf("LoadFilter: %v", err)
	}
	req := httpmodel.NewRequest("GET", "/", "HTTP/1.1")
	ctx := httpmodel.NewRequestContext()
	resp, err := vm.CallOnRequest(filter, req, ctx)
	if err != nil {
		t.Fatalf("CallOnRequest: %v", err)
	}
	if resp != nil {
		t.Fatalf("resp = %+v, want nil", resp)
	}
}

func TestStorageRoundTripFromScript(t *testing.T) {
	vm := newTestVM(t)
	handler, err := vm.LoadHandler(`(function(req, ctx) {
		var stored = storage.default.store(["k1"], {status: 200, body: "cached"});
		if (stored[1]) { return Response(500, stored[1]); }
		var got = storage.default.get("k1");
		if (got[1]) { return Response(500, got[1]); }
		return Response(200, got[0].body);
	})`)
	if err != nil {
		t.Fatalf("LoadHandler: %v", err)
	}
	req := httpmodel.NewRequest("GET", "/", "HTTP/1.1")
	ctx := httpmodel.NewRequestContext()
	resp, err := vm.CallHandler(handler, req, ctx)
	if err != nil {
		t.Fatalf("CallHandler: %v", err)
	}
	body, err := resp.Body.Buffer(context.Background())
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	if string(body) != "cached" {
		t.Fatalf("body = %q, want %q", body, "cached")
	}
}

func TestTaskSpawnJoinFromScript(t *testing.T) {
	vm := newTestVM(t)
	handler, err := vm.LoadHandler(`(function(req, ctx) {
		var spawned = tasks.spawn(function() { return 7; });
		if (spawned[1]) { return Response(500, spawned[1]); }
		var joined = spawned[0].join();
		if (joined[1]) { return Response(500, joined[1]); }
		return Response(200, "" + joined[0]);
	})`)
	if err != nil {
		t.Fatalf("LoadHandler: %v", err)
	}
	req := httpmodel.NewRequest("GET", "/", "HTTP/1.1")
	ctx := httpmodel.NewRequestContext()
	resp, err := vm.CallHandler(handler, req, ctx)
	if err != nil {
		t.Fatalf("CallHandler: %v", err)
	}
	body, err := resp.Body.Buffer(context.Background())
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	if string(body) != "7" {
		t.Fatalf("body = %q, want %q", body, "7")
	}
}

func TestCryptoAndRegexModules(t *testing.T) {
	vm := newTestVM(t)
	handler, err := vm.LoadHandler(`(function(req, ctx) {
		var matched = regex.match("^a+$", "aaa");
		var digest = crypto.sha256("hi");
		return Response(200, matched + ":" + digest);
	})`)
	if err != nil {
		t.Fatalf("LoadHandler: %v", err)
	}
	req := httpmodel.NewRequest("GET", "/", "HTTP/1.1")
	ctx := httpmodel.NewRequestContext()
	resp, err := vm.CallHandler(handler, req, ctx)
	if err != nil {
		t.Fatalf("CallHandler: %v", err)
	}
	body, err := resp.Body.Buffer(context.Background())
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	want := "true:8f434346648f6b96df89dda901c5176b10a6d83961dd3c1ac88b59b2dc327aa4"
	if string(body) != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}
