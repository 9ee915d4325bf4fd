// Package storage implements the cache contract shared by every backend:
// get/get_multi/delete/delete_multi/store over an opaque Item keyed by
// storagekey.Key, plus the Facade that lets callers address a named
// backend without knowing whether it is in-memory or remote.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/firasghr/casperedge/internal/errs"
	"github.com/firasghr/casperedge/internal/headers"
	"github.com/firasghr/casperedge/internal/storagekey"
)

// MaxConcurrency bounds the number of in-flight backend operations a single
// GetMulti/DeleteMulti call will run at once.
const MaxConcurrency = 100

// Item is the record a caller asks a backend to Store.
type Item struct {
	Key           storagekey.Key
	Status        int
	Headers       *headers.Map
	Body          []byte
	SurrogateKeys []storagekey.Key
	TTL           time.Duration
	Encrypt       bool
}

// Response is the record a backend returns from Get.
type Response struct {
	Status  int
	Headers *headers.Map
	Body    []byte
}

// ItemKeyKind distinguishes the two ways a caller can name a deletion
// target.
type ItemKeyKind int

const (
	// KindPrimary names a single stored record.
	KindPrimary ItemKeyKind = iota
	// KindSurrogate names a group whose invalidation fans out to every
	// record tagged with it.
	KindSurrogate
)

// ItemKey is a tagged union: Primary(Key) or Surrogate(Key).
type ItemKey struct {
	Kind ItemKeyKind
	Key  storagekey.Key
}

// Primary wraps key as a single-record deletion target.
func Primary(key storagekey.Key) ItemKey { return ItemKey{Kind: KindPrimary, Key: key} }

// Surrogate wraps key as a group-invalidation target.
func Surrogate(key storagekey.Key) ItemKey { return ItemKey{Kind: KindSurrogate, Key: key} }

// Backend is the cache contract implemented by the in-memory and remote_kv
// backends. Get returns (nil, nil) on a miss (expired, absent, or
// logically invalidated by a surrogate); it never returns
// errs.ErrStorageUnavailable-class errors for an ordinary miss.
type Backend interface {
	Name() string
	Get(ctx context.Context, key storagekey.Key) (*Response, error)
	Delete(ctx context.Context, key ItemKey) error
	Store(ctx context.Context, item Item) error
}

// GetMulti fetches every key in order, bounding in-flight backend calls to
// MaxConcurrency. The result slice has the same length and order as keys;
// a per-key error does not abort the other fetches.
func GetMulti(ctx context.Context, b Backend, keys []storagekey.Key) ([]*Response, []error) {
	out := make([]*Response, len(keys))
	errOut := make([]error, len(keys))
	runBounded(len(keys), MaxConcurrency, func(i int) {
		out[i], errOut[i] = b.Get(ctx, keys[i])
	})
	return out, errOut
}

// DeleteMulti deletes every item key, bounding in-flight backend calls to
// MaxConcurrency.
func DeleteMulti(ctx context.Context, b Backend, keys []ItemKey) []error {
	errOut := make([]error, len(keys))
	runBounded(len(keys), MaxConcurrency, func(i int) {
		errOut[i] = b.Delete(ctx, keys[i])
	})
	return errOut
}

// runBounded runs fn(0), fn(1), ..., fn(n-1) concurrently with at most
// `limit` in flight at once, and waits for all of them to finish.
func runBounded(n, limit int, fn func(i int)) {
	if n == 0 {
		return
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	sem := make(chan struct{}, limit)
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		i := i
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; done <- struct{}{} }()
			fn(i)
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
}

// Facade addresses a named backend, enforcing fetch/store timeouts
// uniformly regardless of which concrete backend is bound underneath.
type Facade struct {
	name         string
	backend      Backend
	fetchTimeout time.Duration
	storeTimeout time.Duration
}

// NewFacade wraps backend with the given fetch/store timeouts.
func NewFacade(name string, backend Backend, fetchTimeout, storeTimeout time.Duration) *Facade {
	return &Facade{name: name, backend: backend, fetchTimeout: fetchTimeout, storeTimeout: storeTimeout}
}

// Name returns the configured storage[name] name this facade addresses.
func (f *Facade) Name() string { return f.name }

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// Get fetches one record, enforcing the fetch timeout.
func (f *Facade) Get(ctx context.Context, key storagekey.Key) (*Response, error) {
	ctx, cancel := withTimeout(ctx, f.fetchTimeout)
	defer cancel()
	resp, err := f.backend.Get(ctx, key)
	if err != nil {
		return nil, classifyTimeout(ctx, err)
	}
	return resp, nil
}

// GetMulti fetches keys in order, enforcing one fetch timeout across the
// whole batch.
func (f *Facade) GetMulti(ctx context.Context, keys []storagekey.Key) ([]*Response, []error) {
	ctx, cancel := withTimeout(ctx, f.fetchTimeout)
	defer cancel()
	out, errs := GetMulti(ctx, f.backend, keys)
	for i, e := range errs {
		if e != nil {
			errs[i] = classifyTimeout(ctx, e)
		}
	}
	return out, errs
}

// Delete invalidates one item key, enforcing the store timeout.
func (f *Facade) Delete(ctx context.Context, key ItemKey) error {
	ctx, cancel := withTimeout(ctx, f.storeTimeout)
	defer cancel()
	return classifyTimeout(ctx, f.backend.Delete(ctx, key))
}

// DeleteMulti invalidates every item key, enforcing the store timeout.
func (f *Facade) DeleteMulti(ctx context.Context, keys []ItemKey) []error {
	ctx, cancel := withTimeout(ctx, f.storeTimeout)
	defer cancel()
	errOut := DeleteMulti(ctx, f.backend, keys)
	for i, e := range errOut {
		if e != nil {
			errOut[i] = classifyTimeout(ctx, e)
		}
	}
	return errOut
}

// Store writes item, enforcing the store timeout.
func (f *Facade) Store(ctx context.Context, item Item) error {
	ctx, cancel := withTimeout(ctx, f.storeTimeout)
	defer cancel()
	return classifyTimeout(ctx, f.backend.Store(ctx, item))
}

func classifyTimeout(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorageTimeout, err)
	}
	return err
}
