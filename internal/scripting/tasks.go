package scripting

import (
	"context"
	"time"

	"github.com/robertkrimen/otto"

	"github.com/firasghr/casperedge/internal/tasks"
)

// registerTasks exposes tasks.spawn(handlerOrRecord), returning a
// [handle, errString] pair (errString set and handle null on failure to
// spawn) mirroring the storage module's error-as-value convention so a
// failed spawn never becomes an uncaught exception.
func registerTasks(v *VM) error {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	obj.Set("spawn", func(call otto.FunctionCall) otto.Value {
		spawn, callback := spawnFromArgs(call)
		spawn.Handler = func(ctx context.Context) (interface{}, error) {
			return v.runTaskCallback(callback, ctx)
		}
		null, _ := otto.ToValue(nil)
		h, err := v.scheduler.Spawn(spawn)
		if err != nil {
			return v.scriptPair(null, err.Error())
		}
		return v.scriptPair(v.wrapTaskHandle(h), "")
	})
	return v.otto.Set("tasks", obj)
}

// spawnFromArgs accepts either spawn(function) or
// spawn({handler, name, timeout_ms}).
func spawnFromArgs(call otto.FunctionCall) (tasks.Spawn, otto.Value) {
	arg := call.Argument(0)
	if arg.IsFunction() {
		return tasks.Spawn{}, arg
	}
	if !arg.IsObject() {
		return tasks.Spawn{}, otto.Value{}
	}
	obj := arg.Object()
	spawn := tasks.Spawn{}
	if nameVal, err := obj.Get("name"); err == nil {
		spawn.Name, _ = nameVal.ToString()
	}
	if timeoutVal, err := obj.Get("timeout_ms"); err == nil && timeoutVal.IsNumber() {
		if n, err := timeoutVal.ToInteger(); err == nil {
			spawn.Timeout = time.Duration(n) * time.Millisecond
		}
	}
	callback, _ := obj.Get("handler")
	return spawn, callback
}

// runTaskCallback invokes the script-supplied handler. It runs on the
// task's own goroutine (the scheduler starts one per task), and otto.Otto
// is not safe for concurrent use, so it holds ottoMu for the whole call:
// the callback never executes at the same time as the worker's request
// handling or another task's callback.
func (v *VM) runTaskCallback(callback otto.Value, ctx context.Context) (interface{}, error) {
	if !callback.IsFunction() {
		return nil, nil
	}
	v.ottoMu.Lock()
	defer v.ottoMu.Unlock()

	result, err := callback.Call(otto.Value{})
	if err != nil {
		return nil, err
	}
	exported, _ := result.Export()
	return exported, nil
}

func (v *VM) wrapTaskHandle(h *tasks.Handle) otto.Value {
	handle := v.newHandle()
	v.taskHandle[handle] = h

	obj, _ := v.otto.Object(`({})`)
	obj.Set("id", h.ID)
	obj.Set("name", h.Name)
	obj.Set("is_finished", func(call otto.FunctionCall) otto.Value {
		r, _ := otto.ToValue(h.IsFinished())
		return r
	})
	obj.Set("abort", func(call otto.FunctionCall) otto.Value {
		h.Abort()
		return otto.Value{}
	})
	obj.Set("join", func(call otto.FunctionCall) otto.Value {
		// The caller already holds ottoMu (CallHandler/CallOnRequest/
		// CallOnResponse, or another in-flight runTaskCallback). h's
		// task goroutine needs ottoMu too to run its callback, so the
		// lock must be released before this blocks, or the task could
		// never acquire it and Join would wait forever.
		v.ottoMu.Unlock()
		result, err := h.Join(context.Background())
		v.ottoMu.Lock()

		null, _ := otto.ToValue(nil)
		if err != nil {
			return v.scriptPair(null, err.Error())
		}
		r, _ := v.otto.ToValue(result)
		return v.scriptPair(r, "")
	})
	return obj.Value()
}
