package scripting

import (
	"context"
	"time"

	"github.com/robertkrimen/otto"

	"github.com/firasghr/casperedge/internal/httpmodel"
	"github.com/firasghr/casperedge/internal/upstream"
)

// registerProxy exposes proxy.forward(request, target), the script
// entrypoint a handler or filter calls to send a request upstream. target
// is {scheme, authority, path?, timeout_ms?}.
func registerProxy(v *VM) error {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	obj.Set("forward", func(call otto.FunctionCall) otto.Value {
		return v.proxyForward(call)
	})
	return v.otto.Set("proxy", obj)
}

func (v *VM) proxyForward(call otto.FunctionCall) otto.Value {
	if v.proxy == nil {
		panic(v.otto.MakeCustomError("UpstreamUnavailable", "no upstream proxy configured"))
	}

	reqArg := call.Argument(0)
	if !reqArg.IsObject() {
		panic(v.otto.MakeCustomError("HandlerError", "proxy.forward: first argument must be a request"))
	}
	handle := handleOf(reqArg.Object(), "__handle")
	req, ok := v.requests[handle]
	if !ok {
		panic(v.otto.MakeCustomError("HandlerError", "proxy.forward: unknown request handle"))
	}

	targetArg := call.Argument(1)
	if !targetArg.IsObject() {
		panic(v.otto.MakeCustomError("HandlerError", "proxy.forward: second argument must be a target object"))
	}
	targetObj := targetArg.Object()
	scheme := stringField(targetObj, "scheme")
	authority := stringField(targetObj, "authority")
	path := stringField(targetObj, "path")

	timeout := req.Timeout
	if ms, ok := numberField(targetObj, "timeout_ms"); ok {
		timeout = time.Duration(ms) * time.Millisecond
	}

	target := upstream.Target{Scheme: scheme, Authority: authority, Path: path}
	resp, err := v.proxy.Forward(context.Background(), req, target, timeout)
	if err != nil {
		if status := statusForClassifiedError(err); status != 0 {
			synthetic := httpmodel.Text(status, upstreamErrorBody(status))
			val, wrapErr := v.wrapResponse(synthetic)
			if wrapErr != nil {
				panic(v.otto.MakeCustomError("UpstreamUnavailable", err.Error()))
			}
			return val
		}
		panic(v.otto.MakeCustomError("UpstreamProtocol", err.Error()))
	}

	val, err := v.wrapResponse(resp)
	if err != nil {
		panic(v.otto.MakeCustomError("HandlerError", err.Error()))
	}
	return val
}

func statusForClassifiedError(err error) int {
	if status := upstream.StatusForError(err); status == 503 || status == 504 || status == 502 {
		return status
	}
	return 0
}

func upstreamErrorBody(status int) string {
	switch status {
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	case 502:
		return "Bad Gateway"
	default:
		return "Upstream Error"
	}
}

func stringField(obj *otto.Object, name string) string {
	val, err := obj.Get(name)
	if err != nil || !val.IsDefined() {
		return ""
	}
	s, _ := val.ToString()
	return s
}

func numberField(obj *otto.Object, name string) (int64, bool) {
	val, err := obj.Get(name)
	if err != nil || !val.IsNumber() {
		return 0, false
	}
	n, err := val.ToInteger()
	if err != nil {
		return 0, false
	}
	return n, true
}
