package scripting

import (
	"fmt"

	"github.com/robertkrimen/otto"

	"github.com/firasghr/casperedge/internal/errs"
	"github.com/firasghr/casperedge/internal/httpmodel"
)

// Filter is one worker-resident, named pair of optional script callbacks.
type Filter struct {
	Name       string
	onRequest  otto.Value
	onResponse otto.Value
}

// LoadFilter evaluates code, which must produce an object literal of the
// shape `({on_request: function(req, ctx) {...}, on_response: function(resp, ctx) {...}})`,
// either field optional.
func (v *VM) LoadFilter(name, code string) (*Filter, error) {
	val, err := v.otto.Run(code)
	if err != nil {
		return nil, fmt.Errorf("%w: filter %q: %v", errs.ErrScriptLoadFailed, name, err)
	}
	f := &Filter{Name: name}
	if val.IsObject() {
		obj := val.Object()
		if or, err := obj.Get("on_request"); err == nil && or.IsFunction() {
			f.onRequest = or
		}
		if or, err := obj.Get("on_response"); err == nil && or.IsFunction() {
			f.onResponse = or
		}
	}
	return f, nil
}

// LoadHandler evaluates code, which must produce a function(req, ctx).
func (v *VM) LoadHandler(code string) (otto.Value, error) {
	val, err := v.otto.Run(code)
	if err != nil {
		return otto.Value{}, fmt.Errorf("%w: handler: %v", errs.ErrScriptLoadFailed, err)
	}
	if !val.IsFunction() {
		return otto.Value{}, fmt.Errorf("%w: handler must evaluate to a function", errs.ErrScriptLoadFailed)
	}
	return val, nil
}

// LoadLogCallback evaluates code, which must produce a function(info).
// CallLogCallback passes it only the log field object; the request
// context is not passed.
func (v *VM) LoadLogCallback(code string) (otto.Value, error) {
	val, err := v.otto.Run(code)
	if err != nil {
		return otto.Value{}, fmt.Errorf("%w: log callback: %v", errs.ErrScriptLoadFailed, err)
	}
	if !val.IsFunction() {
		return otto.Value{}, fmt.Errorf("%w: log callback must evaluate to a function", errs.ErrScriptLoadFailed)
	}
	return val, nil
}

// HasOnRequest reports whether this filter defined an on_request callback.
func (f *Filter) HasOnRequest() bool { return f.onRequest.IsFunction() }

// HasOnResponse reports whether this filter defined an on_response callback.
func (f *Filter) HasOnResponse() bool { return f.onResponse.IsFunction() }

// CallOnRequest invokes the filter's on_request callback. A nil/undefined
// return continues the chain; a Response return value short-circuits it;
// anything else is a filter error.
func (v *VM) CallOnRequest(f *Filter, req *httpmodel.Request, ctx *httpmodel.RequestContext) (*httpmodel.Response, error) {
	v.ottoMu.Lock()
	defer v.ottoMu.Unlock()

	reqVal, err := v.wrapRequest(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrFilterError, err)
	}
	ctxVal := v.wrapContext(ctx)

	result, err := f.onRequest.Call(otto.Value{}, reqVal, ctxVal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrFilterError, err)
	}
	if result.IsUndefined() || result.IsNull() {
		return nil, nil
	}
	if resp, ok := v.unwrapResponse(result); ok {
		return resp, nil
	}
	return nil, fmt.Errorf("%w: on_request returned a disallowed type", errs.ErrFilterError)
}

// CallOnResponse invokes the filter's on_response callback. A thrown
// exception is a filter error; the callback's return value is ignored.
func (v *VM) CallOnResponse(f *Filter, resp *httpmodel.Response, ctx *httpmodel.RequestContext) error {
	v.ottoMu.Lock()
	defer v.ottoMu.Unlock()

	respVal, err := v.wrapResponse(resp)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrFilterError, err)
	}
	ctxVal := v.wrapContext(ctx)

	if _, err := f.onResponse.Call(otto.Value{}, respVal, ctxVal); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrFilterError, err)
	}
	return nil
}

// CallHandler invokes the main handler, expecting a Response return value.
func (v *VM) CallHandler(handler otto.Value, req *httpmodel.Request, ctx *httpmodel.RequestContext) (*httpmodel.Response, error) {
	v.ottoMu.Lock()
	defer v.ottoMu.Unlock()

	reqVal, err := v.wrapRequest(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrHandlerError, err)
	}
	ctxVal := v.wrapContext(ctx)

	result, err := handler.Call(otto.Value{}, reqVal, ctxVal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrHandlerError, err)
	}
	resp, ok := v.unwrapResponse(result)
	if !ok {
		return nil, fmt.Errorf("%w: handler did not return a Response", errs.ErrHandlerError)
	}
	return resp, nil
}
