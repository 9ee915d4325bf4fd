package scripting

import (
	"bytes"
	"encoding/csv"
	"strings"

	"github.com/robertkrimen/otto"
)

// registerCSV exposes csv.encode(rows) and csv.decode(text), rows being an
// array of string arrays. Delimiter defaults to comma; a second argument to
// either call overrides it with a single-character delimiter.
func registerCSV(v *VM) error {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	obj.Set("encode", func(call otto.FunctionCall) otto.Value {
		exported, err := call.Argument(0).Export()
		if err != nil {
			r, _ := otto.ToValue("")
			return r
		}
		rows, err := toStringRows(exported)
		if err != nil {
			r, _ := otto.ToValue("")
			return r
		}
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if len(call.ArgumentList) > 1 {
			if d, _ := call.Argument(1).ToString(); len(d) == 1 {
				w.Comma = rune(d[0])
			}
		}
		if err := w.WriteAll(rows); err != nil {
			r, _ := otto.ToValue("")
			return r
		}
		r, _ := otto.ToValue(buf.String())
		return r
	})
	obj.Set("decode", func(call otto.FunctionCall) otto.Value {
		text, _ := call.Argument(0).ToString()
		r := csv.NewReader(strings.NewReader(text))
		r.FieldsPerRecord = -1
		if len(call.ArgumentList) > 1 {
			if d, _ := call.Argument(1).ToString(); len(d) == 1 {
				r.Comma = rune(d[0])
			}
		}
		records, err := r.ReadAll()
		if err != nil {
			u, _ := otto.ToValue(nil)
			return u
		}
		val, _ := v.otto.ToValue(records)
		return val
	})
	return v.otto.Set("csv", obj)
}

// toStringRows converts an exported [][]interface{}/[]interface{} value
// into [][]string, rejecting anything csv.Writer could not emit.
func toStringRows(v interface{}) ([][]string, error) {
	rows, ok := v.([]interface{})
	if !ok {
		return nil, errCSVShape
	}
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells, ok := row.([]interface{})
		if !ok {
			return nil, errCSVShape
		}
		rowOut := make([]string, 0, len(cells))
		for _, c := range cells {
			if s, ok := c.(string); ok {
				rowOut = append(rowOut, s)
			} else {
				rowOut = append(rowOut, toCanonicalScalar(c))
			}
		}
		out = append(out, rowOut)
	}
	return out, nil
}

var errCSVShape = csvShapeError{}

type csvShapeError struct{}

func (csvShapeError) Error() string { return "csv.encode expects an array of arrays" }
