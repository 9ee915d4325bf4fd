package headers

import "testing"

func TestCaseAndUnderscoreInsensitiveAccess(t *testing.T) {
	m := New()
	m.Set("X-Test", "v1")

	if v, ok := m.Get("x_test"); !ok || v != "v1" {
		t.Fatalf("Get(x_test) = %q, %v", v, ok)
	}

	m.Set("X_TEST", "v2")
	if v, ok := m.Get("X-Test"); !ok || v != "v2" {
		t.Fatalf("Get(X-Test) after underscore-write = %q, %v", v, ok)
	}

	names := m.Names()
	if len(names) != 1 || names[0] != "X-Test" {
		t.Fatalf("wire casing should stay at first-seen spelling, got %v", names)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := New()
	m.Add("Set-Cookie", "a=1")
	m.Add("Set-Cookie", "b=2")
	m.Set("Content-Type", "text/plain")

	enc := Encode(m)
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	got := dec.Values("set-cookie")
	if len(got) != 2 || got[0] != "a=1" || got[1] != "b=2" {
		t.Fatalf("Set-Cookie round trip = %v", got)
	}
	if v, _ := dec.Get("content-type"); v != "text/plain" {
		t.Fatalf("Content-Type round trip = %q", v)
	}
	if dec.Names()[0] != "Set-Cookie" {
		t.Fatalf("first-seen order not preserved: %v", dec.Names())
	}
}

func TestStripHopByHop(t *testing.T) {
	m := New()
	m.Set("Connection", "keep-alive")
	m.Set("Upgrade", "websocket")
	m.Set("X-Keep", "yes")

	StripHopByHop(m)

	if _, ok := m.Get("Connection"); ok {
		t.Error("Connection should be stripped")
	}
	if _, ok := m.Get("Upgrade"); ok {
		t.Error("Upgrade should be stripped")
	}
	if _, ok := m.Get("X-Keep"); !ok {
		t.Error("X-Keep should survive")
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := Decode([]byte{0, 0, 0, 5, 'a'}); err == nil {
		t.Fatal("expected error decoding truncated header data")
	}
}
