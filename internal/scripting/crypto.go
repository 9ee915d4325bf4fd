package scripting

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/robertkrimen/otto"
	"golang.org/x/crypto/blake2b"
)

// registerCrypto exposes crypto.sha256, crypto.blake2b (the pack's
// available substitute for the blake3 digest named in the original
// system), and crypto.canonical_json_digest: a stable hash over an
// object's keys, for cache-key construction from arbitrary script data.
func registerCrypto(v *VM) error {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	obj.Set("sha256", func(call otto.FunctionCall) otto.Value {
		s, _ := call.Argument(0).ToString()
		sum := sha256.Sum256([]byte(s))
		r, _ := otto.ToValue(hex.EncodeToString(sum[:]))
		return r
	})
	obj.Set("blake2b", func(call otto.FunctionCall) otto.Value {
		s, _ := call.Argument(0).ToString()
		sum := blake2b.Sum256([]byte(s))
		r, _ := otto.ToValue(hex.EncodeToString(sum[:]))
		return r
	})
	obj.Set("canonical_json_digest", func(call otto.FunctionCall) otto.Value {
		exported, err := call.Argument(0).Export()
		if err != nil {
			r, _ := otto.ToValue("")
			return r
		}
		digest := sha256.Sum256([]byte(canonicalize(exported)))
		r, _ := otto.ToValue(hex.EncodeToString(digest[:]))
		return r
	})
	return v.otto.Set("crypto", obj)
}

// canonicalize renders v deterministically: object keys sorted, so the
// same logical document always hashes the same regardless of how a
// script constructed it.
func canonicalize(v interface{}) string {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			out += k + ":" + canonicalize(t[k])
		}
		return out + "}"
	case []interface{}:
		out := "["
		for i, e := range t {
			if i > 0 {
				out += ","
			}
			out += canonicalize(e)
		}
		return out + "]"
	default:
		return toCanonicalScalar(t)
	}
}

func toCanonicalScalar(v interface{}) string {
	switch t := v.(type) {
	case string:
		return "\"" + t + "\""
	case nil:
		return "null"
	default:
		return fmt.Sprint(t)
	}
}
