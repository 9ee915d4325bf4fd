package scripting

import (
	"os"

	"github.com/robertkrimen/otto"
)

// registerFS exposes fs.stat(path), read-only metadata only: scripts get
// no file content access, matching the sandboxed no-process-I/O model
// everything else in this package follows.
func registerFS(v *VM) error {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	obj.Set("stat", func(call otto.FunctionCall) otto.Value {
		path, _ := call.Argument(0).ToString()
		info, err := os.Stat(path)
		if err != nil {
			u, _ := otto.ToValue(nil)
			return u
		}
		statObj, _ := v.otto.Object(`({})`)
		statObj.Set("size", info.Size())
		statObj.Set("is_dir", info.IsDir())
		statObj.Set("mod_time_ms", info.ModTime().UnixMilli())
		statObj.Set("mode", info.Mode().String())
		r, _ := otto.ToValue(statObj)
		return r
	})
	obj.Set("exists", func(call otto.FunctionCall) otto.Value {
		path, _ := call.Argument(0).ToString()
		_, err := os.Stat(path)
		r, _ := otto.ToValue(err == nil)
		return r
	})
	return v.otto.Set("fs", obj)
}
