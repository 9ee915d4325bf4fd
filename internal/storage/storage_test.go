package storage

import (
	"context"
	"testing"
	"time"

	"github.com/firasghr/casperedge/internal/storagekey"
)

func TestGetMultiPreservesOrderAndLength(t *testing.T) {
	b := NewMemoryBackend("mem", 1<<20)
	ctx := context.Background()
	keys := make([]storagekey.Key, 5)
	for i := range keys {
		keys[i] = storagekey.Derive("k", string(rune('a'+i)))
		if i%2 == 0 {
			b.Store(ctx, Item{Key: keys[i], Status: 200, Headers: hdrs(), Body: []byte{byte(i)}, TTL: time.Minute})
		}
	}

	resp, errList := GetMulti(ctx, b, keys)
	if len(resp) != len(keys) || len(errList) != len(keys) {
		t.Fatalf("GetMulti length mismatch: %d, %d", len(resp), len(errList))
	}
	for i, r := range resp {
		wantHit := i%2 == 0
		if (r != nil) != wantHit {
			t.Fatalf("key %d: got hit=%v, want %v", i, r != nil, wantHit)
		}
	}
}

func TestFacadeStoreThenGet(t *testing.T) {
	b := NewMemoryBackend("mem", 1<<20)
	f := NewFacade("mem", b, time.Second, time.Second)
	ctx := context.Background()
	key := storagekey.Derive("x")

	if err := f.Store(ctx, Item{Key: key, Status: 200, Headers: hdrs(), Body: []byte("v"), TTL: time.Minute}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	resp, err := f.Get(ctx, key)
	if err != nil || resp == nil || string(resp.Body) != "v" {
		t.Fatalf("Get = %+v, %v", resp, err)
	}
}

func TestDeleteMultiBoundedConcurrency(t *testing.T) {
	b := NewMemoryBackend("mem", 1<<20)
	ctx := context.Background()
	keys := make([]ItemKey, 200)
	for i := range keys {
		k := storagekey.Derive("k", string(rune(i)))
		b.Store(ctx, Item{Key: k, Status: 200, Headers: hdrs(), Body: []byte("x"), TTL: time.Minute})
		keys[i] = Primary(k)
	}
	errList := DeleteMulti(ctx, b, keys)
	for i, err := range errList {
		if err != nil {
			t.Fatalf("key %d: %v", i, err)
		}
	}
	if b.Size() != 0 {
		t.Fatalf("Size() = %d, want 0 after deleting everything", b.Size())
	}
}
