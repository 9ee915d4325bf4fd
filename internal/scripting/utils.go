package scripting

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"net/url"
	"sort"
	"strings"

	"github.com/robertkrimen/otto"
)

const randomStringAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// registerUtils exposes base64, hex, random, and URI helpers scripts
// commonly reach for when building cache keys or synthesizing responses.
func registerUtils(v *VM) error {
	if err := registerBase64(v); err != nil {
		return err
	}
	if err := registerHex(v); err != nil {
		return err
	}
	if err := registerRandom(v); err != nil {
		return err
	}
	return registerURI(v)
}

func registerBase64(v *VM) error {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	obj.Set("encode", func(call otto.FunctionCall) otto.Value {
		s, _ := call.Argument(0).ToString()
		r, _ := otto.ToValue(base64.StdEncoding.EncodeToString([]byte(s)))
		return r
	})
	obj.Set("decode", func(call otto.FunctionCall) otto.Value {
		s, _ := call.Argument(0).ToString()
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			u, _ := otto.ToValue(nil)
			return u
		}
		r, _ := otto.ToValue(string(b))
		return r
	})
	obj.Set("encode_url", func(call otto.FunctionCall) otto.Value {
		s, _ := call.Argument(0).ToString()
		r, _ := otto.ToValue(base64.URLEncoding.EncodeToString([]byte(s)))
		return r
	})
	obj.Set("decode_url", func(call otto.FunctionCall) otto.Value {
		s, _ := call.Argument(0).ToString()
		b, err := base64.URLEncoding.DecodeString(s)
		if err != nil {
			u, _ := otto.ToValue(nil)
			return u
		}
		r, _ := otto.ToValue(string(b))
		return r
	})
	return v.otto.Set("base64", obj)
}

func registerHex(v *VM) error {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	obj.Set("encode", func(call otto.FunctionCall) otto.Value {
		s, _ := call.Argument(0).ToString()
		r, _ := otto.ToValue(hex.EncodeToString([]byte(s)))
		return r
	})
	obj.Set("decode", func(call otto.FunctionCall) otto.Value {
		s, _ := call.Argument(0).ToString()
		b, err := hex.DecodeString(s)
		if err != nil {
			u, _ := otto.ToValue(nil)
			return u
		}
		r, _ := otto.ToValue(string(b))
		return r
	})
	return v.otto.Set("hex", obj)
}

func registerRandom(v *VM) error {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	obj.Set("range", func(call otto.FunctionCall) otto.Value {
		lo, _ := call.Argument(0).ToInteger()
		hi, _ := call.Argument(1).ToInteger()
		if hi <= lo {
			r, _ := otto.ToValue(lo)
			return r
		}
		n, err := rand.Int(rand.Reader, big.NewInt(hi-lo))
		if err != nil {
			r, _ := otto.ToValue(lo)
			return r
		}
		r, _ := otto.ToValue(lo + n.Int64())
		return r
	})
	obj.Set("string", func(call otto.FunctionCall) otto.Value {
		length, _ := call.Argument(0).ToInteger()
		if length <= 0 {
			r, _ := otto.ToValue("")
			return r
		}
		alphabet := randomStringAlphabet
		if len(call.ArgumentList) > 1 {
			if custom, _ := call.Argument(1).ToString(); custom != "" {
				alphabet = custom
			}
		}
		r, _ := otto.ToValue(randomString(int(length), alphabet))
		return r
	})
	obj.Set("hex", func(call otto.FunctionCall) otto.Value {
		n, _ := call.Argument(0).ToInteger()
		if n <= 0 {
			r, _ := otto.ToValue("")
			return r
		}
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			r, _ := otto.ToValue("")
			return r
		}
		r, _ := otto.ToValue(hex.EncodeToString(buf))
		return r
	})
	return v.otto.Set("random", obj)
}

func randomString(length int, alphabet string) string {
	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			out[i] = alphabet[0]
			continue
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out)
}

func registerURI(v *VM) error {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	obj.Set("encode", func(call otto.FunctionCall) otto.Value {
		s, _ := call.Argument(0).ToString()
		r, _ := otto.ToValue(url.QueryEscape(s))
		return r
	})
	obj.Set("decode", func(call otto.FunctionCall) otto.Value {
		s, _ := call.Argument(0).ToString()
		decoded, err := url.QueryUnescape(s)
		if err != nil {
			u, _ := otto.ToValue(nil)
			return u
		}
		r, _ := otto.ToValue(decoded)
		return r
	})
	// canonicalize re-sorts query parameters by key so two URIs that
	// differ only in parameter order hash to the same cache key.
	obj.Set("canonicalize", func(call otto.FunctionCall) otto.Value {
		s, _ := call.Argument(0).ToString()
		parsed, err := url.Parse(s)
		if err != nil {
			r, _ := otto.ToValue(s)
			return r
		}
		query := parsed.Query()
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			// Values for a repeated key keep their original relative
			// order; only the keys themselves are sorted.
			for _, val := range query[k] {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(val))
			}
		}
		parsed.RawQuery = b.String()
		r, _ := otto.ToValue(parsed.String())
		return r
	})
	return v.otto.Set("uri", obj)
}
