package scripting

import (
	"context"
	"strconv"

	"github.com/robertkrimen/otto"

	"github.com/firasghr/casperedge/internal/headers"
	"github.com/firasghr/casperedge/internal/httpmodel"
	"github.com/firasghr/casperedge/internal/upstream"
)

// registerHTTPObjects registers the global Response(status, body)
// constructor scripts use to build short-circuit and synthesized
// responses. No Request constructor is registered. Inbound
// request/response objects are wrapped on the fly by
// wrapRequest/wrapResponse, not through this global.
func registerHTTPObjects(v *VM) error {
	if err := v.otto.Set("Response", func(call otto.FunctionCall) otto.Value {
		status := 200
		if len(call.ArgumentList) > 0 {
			if n, err := call.Argument(0).ToInteger(); err == nil {
				status = int(n)
			}
		}
		body := ""
		if len(call.ArgumentList) > 1 {
			body, _ = call.Argument(1).ToString()
		}
		resp := httpmodel.NewResponse(status)
		resp.Body = httpmodel.FromBytes([]byte(body))
		val, _ := v.wrapResponse(resp)
		return val
	}); err != nil {
		return err
	}
	return nil
}

// handleOf returns the integer handle stored under property name on obj,
// or -1 if absent.
func handleOf(obj *otto.Object, name string) int {
	val, err := obj.Get(name)
	if err != nil || !val.IsNumber() {
		return -1
	}
	n, err := val.ToInteger()
	if err != nil {
		return -1
	}
	return int(n)
}

// wrapHeaders returns a JS object exposing get/set/add/del/names methods
// that operate directly on hm: mutations from script reach the same
// headers.Map the Go side holds, no copy-back step required.
func (v *VM) wrapHeaders(hm *headers.Map) (otto.Value, error) {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return otto.Value{}, err
	}
	obj.Set("get", func(call otto.FunctionCall) otto.Value {
		name, _ := call.Argument(0).ToString()
		val, ok := hm.Get(name)
		if !ok {
			u, _ := otto.ToValue(nil)
			return u
		}
		r, _ := otto.ToValue(val)
		return r
	})
	obj.Set("set", func(call otto.FunctionCall) otto.Value {
		name, _ := call.Argument(0).ToString()
		value, _ := call.Argument(1).ToString()
		hm.Set(name, value)
		return otto.Value{}
	})
	obj.Set("add", func(call otto.FunctionCall) otto.Value {
		name, _ := call.Argument(0).ToString()
		value, _ := call.Argument(1).ToString()
		hm.Add(name, value)
		return otto.Value{}
	})
	obj.Set("del", func(call otto.FunctionCall) otto.Value {
		name, _ := call.Argument(0).ToString()
		hm.Del(name)
		return otto.Value{}
	})
	obj.Set("names", func(call otto.FunctionCall) otto.Value {
		names := hm.Names()
		arr, _ := v.otto.Object(`([])`)
		for i, n := range names {
			arr.Set(strconv.Itoa(i), n)
		}
		r, _ := otto.ToValue(arr)
		return r
	})
	return obj.Value(), nil
}

// wrapBody returns a JS object exposing buffer/is_empty, backed by a
// handle into v.bodies so the underlying *httpmodel.Body is never copied.
// There is no incremental read method: buffer is the only way a script
// reads the body.
func (v *VM) wrapBody(b *httpmodel.Body) (otto.Value, error) {
	handle := v.newHandle()
	v.bodies[handle] = b

	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return otto.Value{}, err
	}
	obj.Set("__handle", handle)
	obj.Set("is_empty", func(call otto.FunctionCall) otto.Value {
		r, _ := otto.ToValue(b.IsEmpty())
		return r
	})
	obj.Set("buffer", func(call otto.FunctionCall) otto.Value {
		data, err := b.Buffer(context.Background())
		if err != nil {
			panic(v.otto.MakeCustomError("BodyReadError", err.Error()))
		}
		r, _ := otto.ToValue(string(data))
		return r
	})
	return obj.Value(), nil
}

// wrapRequest builds a JS Request object view over req, wired to its
// headers and body by live reference.
func (v *VM) wrapRequest(req *httpmodel.Request) (otto.Value, error) {
	handle := v.newHandle()
	v.requests[handle] = req

	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return otto.Value{}, err
	}
	obj.Set("__handle", handle)
	obj.Set("__kind", "request")
	obj.Set("method", req.Method)
	obj.Set("uri", req.URI)
	obj.Set("version", req.Version)
	obj.Set("remote_addr", req.RemoteAddr)
	obj.Set("is_websocket_upgrade", upstream.IsUpgrade(req))

	hdrVal, err := v.wrapHeaders(req.Headers)
	if err != nil {
		return otto.Value{}, err
	}
	obj.Set("headers", hdrVal)

	bodyVal, err := v.wrapBody(req.Body)
	if err != nil {
		return otto.Value{}, err
	}
	obj.Set("body", bodyVal)

	return obj.Value(), nil
}

// wrapResponse builds a JS Response object view over resp, registering it
// in v.responses so unwrapResponse can recover the original pointer.
func (v *VM) wrapResponse(resp *httpmodel.Response) (otto.Value, error) {
	handle := v.newHandle()
	v.responses[handle] = resp

	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return otto.Value{}, err
	}
	obj.Set("__handle", handle)
	obj.Set("__kind", "response")
	obj.Set("status", resp.Status)
	obj.Set("version", resp.Version)

	hdrVal, err := v.wrapHeaders(resp.Headers)
	if err != nil {
		return otto.Value{}, err
	}
	obj.Set("headers", hdrVal)

	bodyVal, err := v.wrapBody(resp.Body)
	if err != nil {
		return otto.Value{}, err
	}
	obj.Set("body", bodyVal)
	obj.Set("upgrade", func(call otto.FunctionCall) otto.Value {
		scheme, _ := call.Argument(0).ToString()
		authority, _ := call.Argument(1).ToString()
		path := ""
		if len(call.ArgumentList) > 2 {
			path, _ = call.Argument(2).ToString()
		}
		resp.Upgrade = &httpmodel.UpgradeTarget{Scheme: scheme, Authority: authority, Path: path}
		return otto.Value{}
	})

	// status is read back on unwrap since scripts may reassign it directly
	// (response.status = 404) rather than through a setter method.
	return obj.Value(), nil
}

// unwrapResponse recovers the *httpmodel.Response a script returned,
// applying any direct field reassignment (status) made since it was
// wrapped. ok is false if val is not a Response this VM produced.
func (v *VM) unwrapResponse(val otto.Value) (*httpmodel.Response, bool) {
	if !val.IsObject() {
		return nil, false
	}
	obj := val.Object()
	kind, _ := obj.Get("__kind")
	if k, _ := kind.ToString(); k != "response" {
		return nil, false
	}
	handle := handleOf(obj, "__handle")
	resp, ok := v.responses[handle]
	if !ok {
		return nil, false
	}
	if statusVal, err := obj.Get("status"); err == nil && statusVal.IsNumber() {
		if n, err := statusVal.ToInteger(); err == nil {
			resp.Status = int(n)
		}
	}
	return resp, true
}

// wrapContext builds a JS object view over a RequestContext's scratch
// table using get/set methods, the same live-reference approach as
// wrapHeaders.
func (v *VM) wrapContext(ctx *httpmodel.RequestContext) otto.Value {
	obj, _ := v.otto.Object(`({})`)
	obj.Set("get", func(call otto.FunctionCall) otto.Value {
		key, _ := call.Argument(0).ToString()
		val, ok := ctx.Get(key)
		if !ok {
			u, _ := otto.ToValue(nil)
			return u
		}
		r, _ := v.otto.ToValue(val)
		return r
	})
	obj.Set("set", func(call otto.FunctionCall) otto.Value {
		key, _ := call.Argument(0).ToString()
		value, _ := call.Argument(1).Export()
		ctx.Set(key, value)
		return otto.Value{}
	})
	return obj.Value()
}
