// Package storagekey implements Key, the opaque 160-bit cache key hashed
// from ordered script-supplied components.
package storagekey

import (
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // RIPEMD-160 is a fixed wire-format requirement; no drop-in replacement is available.
)

// Key is an opaque, immutable byte string cheap to clone (it is a fixed
// 20-byte RIPEMD-160 digest). The zero value is not a valid Key.
type Key [ripemd160.Size]byte

// Derive hashes the ordered components into a Key. Missing or empty
// positional components are skipped entirely (not hashed as empty
// segments): scripts may pass a sparse set of positional arguments to
// storage:get/store/delete and an absent arg must derive identically to
// one that was simply never supplied, not as an empty-string component.
func Derive(components ...string) Key {
	h := ripemd160.New()
	for _, c := range components {
		if c == "" {
			continue
		}
		// length-prefix each component so that ["ab", "c"] and ["a", "bc"]
		// never collide.
		var lenBuf [4]byte
		n := uint32(len(c))
		lenBuf[0] = byte(n >> 24)
		lenBuf[1] = byte(n >> 16)
		lenBuf[2] = byte(n >> 8)
		lenBuf[3] = byte(n)
		h.Write(lenBuf[:])
		h.Write([]byte(c))
	}
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// String renders the key as lowercase hex, for logging.
func (k Key) String() string { return hex.EncodeToString(k[:]) }

// Base64URL renders the key as unpadded base64url text, the wire form used
// as a remote_kv record key.
func (k Key) Base64URL() string {
	return base64.RawURLEncoding.EncodeToString(k[:])
}

// Bytes returns the raw digest bytes.
func (k Key) Bytes() []byte { return k[:] }

// FromBytes wraps an existing 20-byte digest as a Key. It panics if b is
// not exactly ripemd160.Size bytes, which indicates a programming error
// (e.g. decoding a corrupt record) rather than a recoverable condition.
func FromBytes(b []byte) Key {
	if len(b) != ripemd160.Size {
		panic("storagekey: FromBytes requires a 20-byte digest")
	}
	var k Key
	copy(k[:], b)
	return k
}
