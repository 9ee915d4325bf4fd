package httpmodel

import "testing"

func TestRequestContextSetGetDelete(t *testing.T) {
	ctx := NewRequestContext()
	if _, ok := ctx.Get("missing"); ok {
		t.Fatal("expected miss on empty context")
	}
	ctx.Set("user_id", 42)
	v, ok := ctx.Get("user_id")
	if !ok || v.(int) != 42 {
		t.Fatalf("Get(user_id) = %v, %v", v, ok)
	}
	ctx.Delete("user_id")
	if _, ok := ctx.Get("user_id"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestRequestContextKeys(t *testing.T) {
	ctx := NewRequestContext()
	ctx.Set("a", 1)
	ctx.Set("b", 2)
	keys := ctx.Keys()
	if len(keys) != 2 {
		t.Fatalf("Keys() = %v, want 2 entries", keys)
	}
}
