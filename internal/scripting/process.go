package scripting

import (
	"os"
	"strconv"
	"time"

	"github.com/robertkrimen/otto"
)

// registerProcessGlobals exposes process.sleep_ms, process.yield, process.id,
// and process.hostname(). sleep_ms blocks the calling goroutine directly:
// since a VM is already serialized behind ottoMu, a sleeping script blocks
// that worker's other request handling exactly as the single-threaded
// model implies.
func registerProcessGlobals(v *VM) error {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	obj.Set("sleep_ms", func(call otto.FunctionCall) otto.Value {
		ms, _ := call.Argument(0).ToInteger()
		if ms > 0 {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
		return otto.Value{}
	})
	obj.Set("yield", func(call otto.FunctionCall) otto.Value {
		// A no-op placeholder for scripts written against the cooperative
		// scheduling model: Go's goroutine scheduler preempts on its own,
		// so there is nothing to explicitly hand off to here.
		return otto.Value{}
	})
	obj.Set("id", strconv.Itoa(os.Getpid()))
	obj.Set("hostname", func(call otto.FunctionCall) otto.Value {
		name, err := os.Hostname()
		if err != nil {
			r, _ := otto.ToValue("")
			return r
		}
		r, _ := otto.ToValue(name)
		return r
	})
	return v.otto.Set("process", obj)
}
