package scripting

import (
	"context"
	"testing"

	"github.com/firasghr/casperedge/internal/httpmodel"
)

func TestProxyForwardUnreachableTargetYieldsSyntheticResponse(t *testing.T) {
	vm := newTestVM(t)
	handler, err := vm.LoadHandler(`(function(req, ctx) {
		var resp = proxy.forward(req, {scheme: "http", authority: "127.0.0.1:1", path: ""});
		return resp;
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
	if resp.Status != 503 {
		t.Fatalf("status = %d, want 503 (connection refused)", resp.Status)
	}
	body, err := resp.Body.Buffer(context.Background())
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	if string(body) != "Service Unavailable" {
		t.Fatalf("body = %q, want %q", body, "Service Unavailable")
	}
}
