package storage

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/firasghr/casperedge/internal/headers"
	"github.com/firasghr/casperedge/internal/storagekey"
)

// entry is one LRU-resident record. size is the byte accounting unit used
// against MaxSize: header bytes + body bytes + surrogate-key byte length.
type entry struct {
	key           storagekey.Key
	status        int
	headers       *headers.Map
	body          []byte
	expires       time.Time
	surrogateKeys []storagekey.Key
}

func (e *entry) size() int {
	n := len(e.body)
	e.headers.Range(func(name, value string) {
		n += len(name) + len(value)
	})
	for _, sk := range e.surrogateKeys {
		n += len(sk.Bytes())
	}
	return n
}

// MemoryBackend is a bounded LRU cache by total stored bytes (soft limit),
// with a reverse index from surrogate key to the set of primary keys
// tagged with it for group invalidation.
type MemoryBackend struct {
	name string

	mu      sync.Mutex
	maxSize int64
	size    int64
	order   *list.List // list.Element.Value is *entry, front = least recently used
	byKey   map[storagekey.Key]*list.Element
	index   map[storagekey.Key]map[storagekey.Key]struct{} // surrogate key -> set of primary keys
}

// NewMemoryBackend returns a MemoryBackend bounded to maxSize bytes.
func NewMemoryBackend(name string, maxSize int64) *MemoryBackend {
	return &MemoryBackend{
		name:    name,
		maxSize: maxSize,
		order:   list.New(),
		byKey:   make(map[storagekey.Key]*list.Element),
		index:   make(map[storagekey.Key]map[storagekey.Key]struct{}),
	}
}

// Name returns the configured storage[name] name.
func (m *MemoryBackend) Name() string { return m.name }

// Get returns the cached record, refreshing its LRU position. Expired
// entries are removed lazily on access and reported as a miss.
func (m *MemoryBackend) Get(_ context.Context, key storagekey.Key) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.byKey[key]
	if !ok {
		return nil, nil
	}
	e := el.Value.(*entry)
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		m.removeLocked(el)
		return nil, nil
	}
	m.order.MoveToBack(el)
	return &Response{Status: e.status, Headers: e.headers.Clone(), Body: append([]byte(nil), e.body...)}, nil
}

// Delete removes a single primary record, or invalidates every record
// tagged with a surrogate key.
func (m *MemoryBackend) Delete(_ context.Context, key ItemKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch key.Kind {
	case KindPrimary:
		if el, ok := m.byKey[key.Key]; ok {
			m.removeLocked(el)
		}
	case KindSurrogate:
		m.removeBySurrogateLocked(key.Key)
	}
	return nil
}

// Store inserts item at the back of the LRU, evicting from the front until
// there is room (unless the new entry alone exceeds maxSize, in which case
// it becomes the sole resident).
func (m *MemoryBackend) Store(_ context.Context, item Item) error {
	e := &entry{
		key:           item.Key,
		status:        item.Status,
		headers:       item.Headers.Clone(),
		body:          append([]byte(nil), item.Body...),
		surrogateKeys: item.SurrogateKeys,
	}
	if item.TTL > 0 {
		e.expires = time.Now().Add(item.TTL)
	}
	sz := int64(e.size())

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.byKey[item.Key]; ok {
		m.removeLocked(old)
	}
	for m.order.Len() > 0 && m.maxSize > 0 && m.size+sz > m.maxSize {
		m.evictFrontLocked()
	}

	el := m.order.PushBack(e)
	m.byKey[item.Key] = el
	m.size += sz
	for _, sk := range e.surrogateKeys {
		set, ok := m.index[sk]
		if !ok {
			set = make(map[storagekey.Key]struct{})
			m.index[sk] = set
		}
		set[item.Key] = struct{}{}
	}
	return nil
}

func (m *MemoryBackend) evictFrontLocked() {
	front := m.order.Front()
	if front == nil {
		return
	}
	m.removeLocked(front)
}

// removeLocked removes el from the cache and its surrogate index entries.
// Caller must hold m.mu.
func (m *MemoryBackend) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	m.order.Remove(el)
	delete(m.byKey, e.key)
	m.size -= int64(e.size())
	for _, sk := range e.surrogateKeys {
		if set, ok := m.index[sk]; ok {
			delete(set, e.key)
			if len(set) == 0 {
				delete(m.index, sk)
			}
		}
	}
}

// removeBySurrogateLocked removes every primary record tagged with sk.
// Caller must hold m.mu.
func (m *MemoryBackend) removeBySurrogateLocked(sk storagekey.Key) {
	set, ok := m.index[sk]
	if !ok {
		return
	}
	delete(m.index, sk)
	for key := range set {
		if el, ok := m.byKey[key]; ok {
			m.order.Remove(el)
			delete(m.byKey, key)
			m.size -= int64(el.Value.(*entry).size())
		}
	}
}

// Size reports current total accounted bytes. Exposed for tests and
// introspection; not part of the Backend contract.
func (m *MemoryBackend) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}
