package scripting

import (
	"github.com/robertkrimen/otto"
)

// WrapAccessLogFields builds the plain object passed to an access or error
// log callback, matching the field set the dispatcher assembles once a
// response has finished streaming.
func (v *VM) WrapAccessLogFields(uri, method, remoteAddr string, elapsedMillis int64, status int, activeConns, activeRequests, responseSize int64, errMsg string) (otto.Value, error) {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return otto.Value{}, err
	}
	obj.Set("uri", uri)
	obj.Set("method", method)
	obj.Set("remote_addr", remoteAddr)
	obj.Set("elapsed_ms", elapsedMillis)
	obj.Set("status", status)
	obj.Set("active_conns", activeConns)
	obj.Set("active_requests", activeRequests)
	obj.Set("response_size", responseSize)
	if errMsg != "" {
		obj.Set("error", errMsg)
	} else {
		obj.Set("error", nil)
	}
	return obj.Value(), nil
}

// CallLogCallback invokes an access or error log callback with fields.
// Failures are swallowed: logging must never fail a request.
func (v *VM) CallLogCallback(callback otto.Value, fields otto.Value) {
	if !callback.IsFunction() {
		return
	}
	v.ottoMu.Lock()
	defer v.ottoMu.Unlock()

	func() {
		defer func() { recover() }()
		callback.Call(otto.Value{}, fields)
	}()
}
