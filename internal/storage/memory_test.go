package storage

import (
	"context"
	"testing"
	"time"

	"github.com/firasghr/casperedge/internal/headers"
	"github.com/firasghr/casperedge/internal/storagekey"
)

func hdrs(pairs ...string) *headers.Map {
	m := headers.New()
	for i := 0; i+1 < len(pairs); i += 2 {
		m.Set(pairs[i], pairs[i+1])
	}
	return m
}

func TestMemoryStoreThenGet(t *testing.T) {
	b := NewMemoryBackend("mem", 1<<20)
	key := storagekey.Derive("u", "/x")

	err := b.Store(context.Background(), Item{
		Key: key, Status: 200, Headers: hdrs("X-Test", "v1"),
		Body: []byte("v1"), TTL: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	resp, err := b.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp == nil || string(resp.Body) != "v1" || resp.Status != 200 {
		t.Fatalf("Get = %+v", resp)
	}
}

func TestMemoryGetMissing(t *testing.T) {
	b := NewMemoryBackend("mem", 1<<20)
	resp, err := b.Get(context.Background(), storagekey.Derive("nope"))
	if err != nil || resp != nil {
		t.Fatalf("Get = %+v, %v, want nil, nil", resp, err)
	}
}

func TestMemoryExpiryIsLazy(t *testing.T) {
	b := NewMemoryBackend("mem", 1<<20)
	key := storagekey.Derive("k")
	b.Store(context.Background(), Item{Key: key, Status: 200, Headers: hdrs(), Body: []byte("x"), TTL: time.Nanosecond})
	time.Sleep(time.Millisecond)
	resp, err := b.Get(context.Background(), key)
	if err != nil || resp != nil {
		t.Fatalf("expired entry should be a miss, got %+v, %v", resp, err)
	}
}

func TestMemorySurrogateInvalidation(t *testing.T) {
	b := NewMemoryBackend("mem", 1<<20)
	skey := storagekey.Derive("ns", "c")
	key := storagekey.Derive("u", "/x")

	b.Store(context.Background(), Item{
		Key: key, Status: 200, Headers: hdrs(), Body: []byte("v1"),
		SurrogateKeys: []storagekey.Key{skey}, TTL: time.Minute,
	})

	if err := b.Delete(context.Background(), Surrogate(skey)); err != nil {
		t.Fatalf("Delete(Surrogate): %v", err)
	}

	resp, err := b.Get(context.Background(), key)
	if err != nil || resp != nil {
		t.Fatalf("expected miss after surrogate purge, got %+v, %v", resp, err)
	}
}

func TestMemoryEvictsLRUUnderPressure(t *testing.T) {
	b := NewMemoryBackend("mem", 64)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		key := storagekey.Derive("k", string(rune('a'+i)))
		b.Store(ctx, Item{Key: key, Status: 200, Headers: hdrs(), Body: make([]byte, 16), TTL: time.Minute})
	}
	if b.Size() > 64 {
		t.Fatalf("Size() = %d, want <= 64", b.Size())
	}
}

func TestMemoryOversizeEntryBecomesSoleResident(t *testing.T) {
	b := NewMemoryBackend("mem", 8)
	ctx := context.Background()
	big := storagekey.Derive("big")
	if err := b.Store(ctx, Item{Key: big, Status: 200, Headers: hdrs(), Body: make([]byte, 100), TTL: time.Minute}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	resp, err := b.Get(ctx, big)
	if err != nil || resp == nil {
		t.Fatalf("oversize entry should still be retrievable, got %+v, %v", resp, err)
	}
}
