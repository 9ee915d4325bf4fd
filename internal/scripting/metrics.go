package scripting

import (
	"github.com/robertkrimen/otto"
)

// registerMetrics exposes metrics.counter(name).add(delta) for the
// user-defined zero-label counters declared in config; unknown names are
// silently ignored by Registry.AddUserCounter.
func registerMetrics(v *VM) error {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	obj.Set("counter", func(call otto.FunctionCall) otto.Value {
		name, _ := call.Argument(0).ToString()
		counterObj, _ := v.otto.Object(`({})`)
		counterObj.Set("add", func(inner otto.FunctionCall) otto.Value {
			delta := 1.0
			if len(inner.ArgumentList) > 0 {
				if f, err := inner.Argument(0).ToFloat(); err == nil {
					delta = f
				}
			}
			v.metric.AddUserCounter(name, delta)
			return otto.Value{}
		})
		r, _ := otto.ToValue(counterObj)
		return r
	})
	return v.otto.Set("metrics", obj)
}
