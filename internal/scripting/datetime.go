package scripting

import (
	"time"

	"github.com/robertkrimen/otto"
)

// registerDatetime exposes datetime.now_ms() and datetime.elapsed_ms(since),
// scripts' only access to wallclock time (no access to the process clock
// beyond these, keeping request handling reproducible in tests).
func registerDatetime(v *VM) error {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	obj.Set("now_ms", func(call otto.FunctionCall) otto.Value {
		r, _ := otto.ToValue(time.Now().UnixMilli())
		return r
	})
	obj.Set("elapsed_ms", func(call otto.FunctionCall) otto.Value {
		since, _ := call.Argument(0).ToInteger()
		elapsed := time.Now().UnixMilli() - since
		r, _ := otto.ToValue(elapsed)
		return r
	})
	return v.otto.Set("datetime", obj)
}
