package scripting

import (
	"encoding/json"

	"github.com/robertkrimen/otto"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// registerJSONYAML exposes json.encode/decode and yaml.encode/decode, plus
// json.lazy(text): a navigable decoder backed by gjson that resolves
// nested paths without materializing the whole document, for scripts that
// only need a handful of fields out of a large payload.
func registerJSONYAML(v *VM) error {
	jsonObj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	jsonObj.Set("encode", func(call otto.FunctionCall) otto.Value {
		exported, _ := call.Argument(0).Export()
		b, err := json.Marshal(exported)
		if err != nil {
			r, _ := otto.ToValue("")
			return r
		}
		r, _ := otto.ToValue(string(b))
		return r
	})
	jsonObj.Set("decode", func(call otto.FunctionCall) otto.Value {
		s, _ := call.Argument(0).ToString()
		var out interface{}
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			u, _ := otto.ToValue(nil)
			return u
		}
		r, _ := v.otto.ToValue(out)
		return r
	})
	jsonObj.Set("lazy", func(call otto.FunctionCall) otto.Value {
		s, _ := call.Argument(0).ToString()
		lazyVal, _ := v.wrapLazyJSON(s)
		return lazyVal
	})
	if err := v.otto.Set("json", jsonObj); err != nil {
		return err
	}

	yamlObj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	yamlObj.Set("encode", func(call otto.FunctionCall) otto.Value {
		exported, _ := call.Argument(0).Export()
		b, err := yaml.Marshal(exported)
		if err != nil {
			r, _ := otto.ToValue("")
			return r
		}
		r, _ := otto.ToValue(string(b))
		return r
	})
	yamlObj.Set("decode", func(call otto.FunctionCall) otto.Value {
		s, _ := call.Argument(0).ToString()
		var out interface{}
		if err := yaml.Unmarshal([]byte(s), &out); err != nil {
			u, _ := otto.ToValue(nil)
			return u
		}
		r, _ := v.otto.ToValue(out)
		return r
	})
	return v.otto.Set("yaml", yamlObj)
}

// wrapLazyJSON returns a JS object exposing get(path) over raw JSON text
// without first parsing the whole document into Go values.
func (v *VM) wrapLazyJSON(raw string) (otto.Value, error) {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return otto.Value{}, err
	}
	obj.Set("get", func(call otto.FunctionCall) otto.Value {
		path, _ := call.Argument(0).ToString()
		res := gjson.Get(raw, path)
		if !res.Exists() {
			u, _ := otto.ToValue(nil)
			return u
		}
		r, _ := v.otto.ToValue(res.Value())
		return r
	})
	return obj.Value(), nil
}
