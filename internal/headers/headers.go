// Package headers implements the HeaderMap data type, its compact
// wire codec, and the case/underscore-insensitive access contract
// scripts rely on.
package headers

import (
	"encoding/binary"
	"errors"
	"io"
	"strings"
)

// entry is one (canonical name, values) slot. Canonical holds the first
// name-case ever observed for a normalized key; values preserves
// insertion order for repeated headers.
type entry struct {
	canonical string
	values    []string
}

// Map is an ordered multimap of header-name to list-of-values. Name
// comparison is ASCII-case-insensitive and folds '_' to '-'.
// The zero value is usable.
type Map struct {
	// order lists normalized keys in first-seen order, so wire
	// serialization and iteration preserve insertion order of distinct
	// names.
	order   []string
	entries map[string]*entry
}

// New returns an empty Map.
func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// normalize folds name to the lookup key used internally: lowercase with
// '_' replaced by '-'.
func normalize(name string) string {
	b := []byte(strings.ToLower(name))
	for i, c := range b {
		if c == '_' {
			b[i] = '-'
		}
	}
	return string(b)
}

func (m *Map) ensure() {
	if m.entries == nil {
		m.entries = make(map[string]*entry)
	}
}

// Set replaces all values for name with a single value. The canonical
// casing is fixed to the first-ever-seen spelling for this normalized key;
// later Set/Add calls under a different casing write to the same slot
// — the wire name does not change.
func (m *Map) Set(name, value string) {
	m.ensure()
	key := normalize(name)
	e, ok := m.entries[key]
	if !ok {
		e = &entry{canonical: name}
		m.entries[key] = e
		m.order = append(m.order, key)
	}
	e.values = e.values[:0]
	e.values = append(e.values, value)
}

// Add appends value to name's list without clearing existing values.
func (m *Map) Add(name, value string) {
	m.ensure()
	key := normalize(name)
	e, ok := m.entries[key]
	if !ok {
		e = &entry{canonical: name}
		m.entries[key] = e
		m.order = append(m.order, key)
	}
	e.values = append(e.values, value)
}

// Get returns the first value for name, and whether it was present.
func (m *Map) Get(name string) (string, bool) {
	if m.entries == nil {
		return "", false
	}
	e, ok := m.entries[normalize(name)]
	if !ok || len(e.values) == 0 {
		return "", false
	}
	return e.values[0], true
}

// Values returns every value stored for name, in insertion order.
func (m *Map) Values(name string) []string {
	if m.entries == nil {
		return nil
	}
	e, ok := m.entries[normalize(name)]
	if !ok {
		return nil
	}
	out := make([]string, len(e.values))
	copy(out, e.values)
	return out
}

// Del removes every value stored for name.
func (m *Map) Del(name string) {
	if m.entries == nil {
		return
	}
	key := normalize(name)
	if _, ok := m.entries[key]; !ok {
		return
	}
	delete(m.entries, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Names returns the canonical (first-seen-case) name of every distinct
// header, in insertion order.
func (m *Map) Names() []string {
	out := make([]string, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.entries[key].canonical)
	}
	return out
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	out := New()
	for _, key := range m.order {
		e := m.entries[key]
		ne := &entry{canonical: e.canonical, values: append([]string(nil), e.values...)}
		out.entries[key] = ne
		out.order = append(out.order, key)
	}
	return out
}

// Len returns the number of distinct header names.
func (m *Map) Len() int { return len(m.order) }

// Range calls f for every (canonical name, value) pair in insertion order,
// emitting multi-valued headers repeatedly as the wire encoding does.
func (m *Map) Range(f func(name, value string)) {
	for _, key := range m.order {
		e := m.entries[key]
		for _, v := range e.values {
			f(e.canonical, v)
		}
	}
}

// Encode serializes m as a length-prefixed sequence of (name_bytes,
// value_bytes) pairs. Multi-valued headers appear repeatedly in
// insertion order, preserving the first-seen name casing on the wire.
func Encode(m *Map) []byte {
	var buf []byte
	var lenbuf [4]byte
	writeChunk := func(s string) {
		binary.BigEndian.PutUint32(lenbuf[:], uint32(len(s)))
		buf = append(buf, lenbuf[:]...)
		buf = append(buf, s...)
	}
	m.Range(func(name, value string) {
		writeChunk(name)
		writeChunk(value)
	})
	return buf
}

// ErrTruncated indicates the encoded byte string ended mid-record.
var ErrTruncated = errors.New("headers: truncated encoding")

// Decode parses the Encode wire format back into a Map.
func Decode(data []byte) (*Map, error) {
	m := New()
	i := 0
	readChunk := func() (string, error) {
		if i+4 > len(data) {
			return "", ErrTruncated
		}
		n := int(binary.BigEndian.Uint32(data[i : i+4]))
		i += 4
		if i+n > len(data) {
			return "", ErrTruncated
		}
		s := string(data[i : i+n])
		i += n
		return s, nil
	}
	for i < len(data) {
		name, err := readChunk()
		if err != nil {
			return nil, err
		}
		value, err := readChunk()
		if err != nil {
			return nil, err
		}
		m.Add(name, value)
	}
	return m, nil
}

// WriteTo writes the Encode wire format directly to w, for callers that
// want to avoid an intermediate allocation (e.g. remote_kv backend
// compression pipelines).
func (m *Map) WriteTo(w io.Writer) (int64, error) {
	b := Encode(m)
	n, err := w.Write(b)
	return int64(n), err
}

// HopByHop is the set of headers that apply only to a single transport hop
// and must be stripped before forwarding to/from an upstream.
var HopByHop = []string{
	"Connection",
	"Keep-Alive",
	"keep-alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// StripHopByHop removes every HopByHop header from m in place.
func StripHopByHop(m *Map) {
	for _, h := range HopByHop {
		m.Del(h)
	}
}
