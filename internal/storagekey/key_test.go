package storagekey

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestDeriveDeterministic(t *testing.T) {
	a := Derive("u", "/x")
	b := Derive("u", "/x")
	if a != b {
		t.Fatal("Derive should be deterministic for identical components")
	}
}

func TestDeriveSkipsEmptyComponents(t *testing.T) {
	// An empty positional component must not be hashed as a distinct
	// "" segment: Derive("a", "", "b") == Derive("a", "b").
	a := Derive("a", "", "b")
	b := Derive("a", "b")
	if a != b {
		t.Fatal("empty components should be skipped, not hashed")
	}
}

func TestDeriveNoComponentConfusion(t *testing.T) {
	a := Derive("ab", "c")
	b := Derive("a", "bc")
	if a == b {
		t.Fatal("length-prefixing should prevent component boundary collisions")
	}
}

func TestBase64URLRoundTrip(t *testing.T) {
	k := Derive("ns", "id")
	s := k.Base64URL()
	if len(s) == 0 {
		t.Fatal("Base64URL should not be empty")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || !bytes.Equal(decoded, k.Bytes()) {
		t.Fatalf("Base64URL %q does not decode back to the key bytes (err %v)", s, err)
	}
}
