package scripting

import (
	"context"
	"strconv"
	"time"

	"github.com/robertkrimen/otto"

	"github.com/firasghr/casperedge/internal/headers"
	"github.com/firasghr/casperedge/internal/storage"
	"github.com/firasghr/casperedge/internal/storagekey"
)

// registerStorage exposes one JS object per configured named backend under
// the global `storage` table, e.g. storage.page_cache.get(...).
func registerStorage(v *VM) error {
	tbl, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	for name, facade := range v.storages {
		backendVal, err := wrapStorageBackend(v, facade)
		if err != nil {
			return err
		}
		if err := tbl.Set(name, backendVal); err != nil {
			return err
		}
	}
	return v.otto.Set("storage", tbl)
}

func wrapStorageBackend(v *VM, facade *storage.Facade) (otto.Value, error) {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return otto.Value{}, err
	}

	// get returns a [response, errString] pair rather than throwing:
	// errs.ErrStorageUnavailable/ErrStorageTimeout/ErrStorageCorrupt are conditions a
	// filter or handler should be able to branch on, per the miss
	// convention already used by a nil response.
	obj.Set("get", func(call otto.FunctionCall) otto.Value {
		key := deriveKeyFromArgs(call)
		null, _ := otto.ToValue(nil)
		resp, err := facade.Get(context.Background(), key)
		if err != nil {
			return v.scriptPair(null, err.Error())
		}
		if resp == nil {
			return v.scriptPair(null, "")
		}
		val, _ := v.wrapStorageResponse(resp)
		return v.scriptPair(val, "")
	})

	obj.Set("get_multi", func(call otto.FunctionCall) otto.Value {
		keys := deriveKeysFromArray(call.Argument(0))
		resps, errList := facade.GetMulti(context.Background(), keys)
		arr, _ := v.otto.Object(`([])`)
		for i, resp := range resps {
			if errList[i] != nil || resp == nil {
				arr.Set(strconv.Itoa(i), nil)
				continue
			}
			val, _ := v.wrapStorageResponse(resp)
			arr.Set(strconv.Itoa(i), val)
		}
		r, _ := otto.ToValue(arr)
		return r
	})

	obj.Set("delete", func(call otto.FunctionCall) otto.Value {
		itemKey := deriveItemKeyFromArgs(call)
		null, _ := otto.ToValue(nil)
		if err := facade.Delete(context.Background(), itemKey); err != nil {
			return v.scriptPair(null, err.Error())
		}
		return v.scriptPair(null, "")
	})

	obj.Set("delete_multi", func(call otto.FunctionCall) otto.Value {
		itemKeys := deriveItemKeysFromArray(call.Argument(0))
		errList := facade.DeleteMulti(context.Background(), itemKeys)
		anyErr := false
		for _, e := range errList {
			if e != nil {
				anyErr = true
				break
			}
		}
		r, _ := otto.ToValue(!anyErr)
		return r
	})

	obj.Set("store", func(call otto.FunctionCall) otto.Value {
		null, _ := otto.ToValue(nil)
		item, err := storeItemFromArgs(call)
		if err != nil {
			return v.scriptPair(null, err.Error())
		}
		if err := facade.Store(context.Background(), item); err != nil {
			return v.scriptPair(null, err.Error())
		}
		return v.scriptPair(null, "")
	})

	return obj.Value(), nil
}

// deriveKeyFromArgs derives a primary key from call's arguments, each
// coerced to its string representation as a positional key component.
func deriveKeyFromArgs(call otto.FunctionCall) storagekey.Key {
	components := make([]string, 0, len(call.ArgumentList))
	for _, arg := range call.ArgumentList {
		s, _ := arg.ToString()
		components = append(components, s)
	}
	return storagekey.Derive(components...)
}

// keyComponent renders one element of a script array as a key component.
// Strings are used as-is, so store(["a"]) and get("a") derive the same
// key; other values go through toCanonicalScalar.
func keyComponent(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return toCanonicalScalar(v)
}

func deriveKeysFromArray(val otto.Value) []storagekey.Key {
	if !val.IsObject() {
		return nil
	}
	exported, err := val.Export()
	if err != nil {
		return nil
	}
	items, ok := exported.([]interface{})
	if !ok {
		return nil
	}
	out := make([]storagekey.Key, 0, len(items))
	for _, item := range items {
		out = append(out, storagekey.Derive(keyComponent(item)))
	}
	return out
}

func deriveItemKeyFromArgs(call otto.FunctionCall) storage.ItemKey {
	kind := storage.KindPrimary
	args := call.ArgumentList
	if len(args) > 0 {
		if k, _ := args[0].ToString(); k == "surrogate" {
			kind = storage.KindSurrogate
			args = args[1:]
		}
	}
	components := make([]string, 0, len(args))
	for _, arg := range args {
		s, _ := arg.ToString()
		components = append(components, s)
	}
	key := storagekey.Derive(components...)
	if kind == storage.KindSurrogate {
		return storage.Surrogate(key)
	}
	return storage.Primary(key)
}

func deriveItemKeysFromArray(val otto.Value) []storage.ItemKey {
	if !val.IsObject() {
		return nil
	}
	exported, err := val.Export()
	if err != nil {
		return nil
	}
	items, ok := exported.([]interface{})
	if !ok {
		return nil
	}
	out := make([]storage.ItemKey, 0, len(items))
	for _, item := range items {
		out = append(out, storage.Primary(storagekey.Derive(keyComponent(item))))
	}
	return out
}

// storeItemFromArgs builds an Item from a script call of the shape
// store(keyComponents, {status, headers, body, surrogate_keys, ttl_ms, encrypt}).
func storeItemFromArgs(call otto.FunctionCall) (storage.Item, error) {
	keyArg := call.Argument(0)
	var keyComponents []string
	if keyArg.IsObject() {
		if exported, err := keyArg.Export(); err == nil {
			if arr, ok := exported.([]interface{}); ok {
				for _, c := range arr {
					keyComponents = append(keyComponents, keyComponent(c))
				}
			}
		}
	} else if s, err := keyArg.ToString(); err == nil {
		keyComponents = []string{s}
	}

	item := storage.Item{
		Key:     storagekey.Derive(keyComponents...),
		Status:  200,
		Headers: headers.New(),
	}

	opts := call.Argument(1)
	if !opts.IsObject() {
		return item, nil
	}
	obj := opts.Object()

	if v, err := obj.Get("status"); err == nil && v.IsNumber() {
		if n, err := v.ToInteger(); err == nil {
			item.Status = int(n)
		}
	}
	if v, err := obj.Get("body"); err == nil && v.IsString() {
		s, _ := v.ToString()
		item.Body = []byte(s)
	}
	if v, err := obj.Get("encrypt"); err == nil {
		b, _ := v.ToBoolean()
		item.Encrypt = b
	}
	if v, err := obj.Get("ttl_ms"); err == nil && v.IsNumber() {
		if n, err := v.ToInteger(); err == nil {
			item.TTL = time.Duration(n) * time.Millisecond
		}
	}
	if v, err := obj.Get("headers"); err == nil && v.IsObject() {
		if exported, err := v.Export(); err == nil {
			if m, ok := exported.(map[string]interface{}); ok {
				for name, val := range m {
					if s, ok := val.(string); ok {
						item.Headers.Set(name, s)
					}
				}
			}
		}
	}
	if v, err := obj.Get("surrogate_keys"); err == nil && v.IsObject() {
		if exported, err := v.Export(); err == nil {
			if arr, ok := exported.([]interface{}); ok {
				for _, sk := range arr {
					item.SurrogateKeys = append(item.SurrogateKeys, storagekey.Derive(keyComponent(sk)))
				}
			}
		}
	}

	return item, nil
}

// wrapStorageResponse presents a storage.Response to script code as a plain
// object (status/headers/body), not a live handle: storage results are
// snapshots, unlike the request/response objects flowing through the
// dispatcher.
func (v *VM) wrapStorageResponse(resp *storage.Response) (otto.Value, error) {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return otto.Value{}, err
	}
	obj.Set("status", resp.Status)
	obj.Set("body", string(resp.Body))

	headerObj, _ := v.otto.Object(`({})`)
	if resp.Headers != nil {
		for _, name := range resp.Headers.Names() {
			val, _ := resp.Headers.Get(name)
			headerObj.Set(name, val)
		}
	}
	obj.Set("headers", headerObj)

	return obj.Value(), nil
}
