package scripting

import (
	"context"
	"testing"

	"github.com/firasghr/casperedge/internal/httpmodel"
)

func runHandler(t *testing.T, vm *VM, code string) string {
	t.Helper()
	handler, err := vm.LoadHandler(code)
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
	return string(body)
}

func TestUtilsModules(t *testing.T) {
	vm := newTestVM(t)
	got := runHandler(t, vm, `(function(req, ctx) {
		var b = base64.encode("hi");
		var h = hex.encode("ab");
		var u = uri.canonicalize("http://x?b=2&a=1");
		return Response(200, b + ":" + h + ":" + u);
	})`)
	want := "aGk=:6162:http://x?a=1&b=2"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRandomModuleProducesRequestedLength(t *testing.T) {
	vm := newTestVM(t)
	got := runHandler(t, vm, `(function(req, ctx) {
		return Response(200, "" + random.string(10).length);
	})`)
	if got != "10" {
		t.Fatalf("got %q, want %q", got, "10")
	}
}

func TestJSONModuleRoundTrip(t *testing.T) {
	vm := newTestVM(t)
	got := runHandler(t, vm, `(function(req, ctx) {
		var encoded = json.encode({a: 1});
		var decoded = json.decode(encoded);
		return Response(200, "" + decoded.a);
	})`)
	if got != "1" {
		t.Fatalf("got %q, want %q", got, "1")
	}
}

func TestJSONLazyNavigatesWithoutFullDecode(t *testing.T) {
	vm := newTestVM(t)
	got := runHandler(t, vm, `(function(req, ctx) {
		var lazy = json.lazy('{"a":{"b":42}}');
		return Response(200, "" + lazy.get("a.b"));
	})`)
	if got != "42" {
		t.Fatalf("got %q, want %q", got, "42")
	}
}

func TestYAMLModuleRoundTrip(t *testing.T) {
	vm := newTestVM(t)
	got := runHandler(t, vm, `(function(req, ctx) {
		var encoded = yaml.encode({a: 1});
		var decoded = yaml.decode(encoded);
		return Response(200, "" + decoded.a);
	})`)
	if got != "1" {
		t.Fatalf("got %q, want %q", got, "1")
	}
}

func TestCSVModuleEncodesRows(t *testing.T) {
	vm := newTestVM(t)
	got := runHandler(t, vm, `(function(req, ctx) {
		return Response(200, csv.encode([["a", "b"], ["1", "2"]]));
	})`)
	want := "a,b\n1,2\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDatetimeModuleElapsedIsNonNegative(t *testing.T) {
	vm := newTestVM(t)
	got := runHandler(t, vm, `(function(req, ctx) {
		var start = datetime.now_ms();
		var elapsed = datetime.elapsed_ms(start);
		return Response(200, elapsed >= 0 ? "ok" : "bad");
	})`)
	if got != "ok" {
		t.Fatalf("got %q, want %q", got, "ok")
	}
}
