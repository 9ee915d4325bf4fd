package scripting

import (
	"github.com/robertkrimen/otto"
)

// registerLog exposes log.info/warn/error, routed to the worker's own
// *logger.Logger so script log lines share format and destination with
// the rest of the process.
func registerLog(v *VM) error {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	obj.Set("info", func(call otto.FunctionCall) otto.Value {
		msg, _ := call.Argument(0).ToString()
		v.log.Info(msg)
		return otto.Value{}
	})
	obj.Set("warn", func(call otto.FunctionCall) otto.Value {
		msg, _ := call.Argument(0).ToString()
		// The logger has no WARN level; script warnings are logged at INFO
		// with a prefix rather than promoted to ERROR.
		v.log.Info("WARN " + msg)
		return otto.Value{}
	})
	obj.Set("error", func(call otto.FunctionCall) otto.Value {
		msg, _ := call.Argument(0).ToString()
		v.log.Error(msg)
		return otto.Value{}
	})
	return v.otto.Set("log", obj)
}
