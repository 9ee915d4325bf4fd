package storage

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	mrand "math/rand"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/firasghr/casperedge/internal/errs"
	"github.com/firasghr/casperedge/internal/headers"
	"github.com/firasghr/casperedge/internal/storagekey"
)

// surrogateTTL is the fixed lifetime of a surrogate record on the remote
// backend, independent of the TTL of any record it guards.
const surrogateTTL = 24 * time.Hour

// recordFlags is a bitset stored alongside each primary record.
type recordFlags uint8

const (
	flagCompressed recordFlags = 1 << iota
	flagEncrypted
)

// RedisClient is the subset of redis.UniversalClient (works for both a
// single centralized endpoint and a clustered deployment) this backend
// needs. Narrowing the dependency to an interface keeps tests free of a
// live server.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
}

// RedisBackend is the remote_kv storage backend: a primary record per key,
// chunked body tails for large bodies, optional zstd compression and
// chacha20poly1305 encryption, and surrogate-key invalidation mediated by
// a process-wide hot-cache.
type RedisBackend struct {
	name   string
	client RedisClient

	maxChunkSize      int
	compressionLevel  *int
	encryptionKey     []byte // nil disables encryption
	internalCacheSize int
	hot               *hotCache
}

// RedisBackendConfig carries the subset of config.RemoteConfig the backend
// needs, decoupled from the config package so tests can build one inline.
type RedisBackendConfig struct {
	MaxBodyChunkSize  int
	CompressionLevel  *int
	EncryptionKey     string
	InternalCacheSize int
	InternalCacheTTL  time.Duration
}

// NewRedisBackend wraps an already-constructed RedisClient (built by the
// caller from config.RemoteConfig.Server, mapping Centralized to
// redis.NewClient and Clustered to redis.NewUniversalClient/ClusterClient).
func NewRedisBackend(name string, client RedisClient, cfg RedisBackendConfig) *RedisBackend {
	var key []byte
	if cfg.EncryptionKey != "" {
		key = deriveCipherKey(cfg.EncryptionKey)
	}
	return &RedisBackend{
		name:              name,
		client:            client,
		maxChunkSize:      cfg.MaxBodyChunkSize,
		compressionLevel:  cfg.CompressionLevel,
		encryptionKey:     key,
		internalCacheSize: cfg.InternalCacheSize,
		hot:               newHotCache(cfg.InternalCacheTTL),
	}
}

// deriveCipherKey truncates or zero-pads raw to chacha20poly1305's key
// length, matching the "derived by truncation/zero-pad" rule for turning
// an operator-supplied passphrase into a fixed-size AEAD key.
func deriveCipherKey(raw string) []byte {
	key := make([]byte, chacha20poly1305.KeySize)
	copy(key, raw)
	return key
}

func (b *RedisBackend) Name() string { return b.name }

func primaryRedisKey(key storagekey.Key) string { return key.Base64URL() }

func chunkRedisKey(key storagekey.Key, n int) string {
	return fmt.Sprintf("{%s}|%d", key.Base64URL(), n)
}

// record is the on-wire shape of a primary record, encoded with the same
// length-prefixed scheme as the header codec.
type record struct {
	status        uint16
	timestamp     int64
	surrogateKeys []storagekey.Key
	headers       []byte
	body          []byte
	bodyLength    int64
	numChunks     uint32
	flags         recordFlags
}

func encodeRecord(r record) []byte {
	var buf bytes.Buffer
	var u16 [2]byte
	var u32 [4]byte
	var u64 [8]byte

	binary.BigEndian.PutUint16(u16[:], r.status)
	buf.Write(u16[:])

	binary.BigEndian.PutUint64(u64[:], uint64(r.timestamp))
	buf.Write(u64[:])

	binary.BigEndian.PutUint32(u32[:], uint32(len(r.surrogateKeys)))
	buf.Write(u32[:])
	for _, sk := range r.surrogateKeys {
		buf.Write(sk.Bytes())
	}

	binary.BigEndian.PutUint32(u32[:], uint32(len(r.headers)))
	buf.Write(u32[:])
	buf.Write(r.headers)

	binary.BigEndian.PutUint64(u64[:], uint64(r.bodyLength))
	buf.Write(u64[:])

	binary.BigEndian.PutUint32(u32[:], r.numChunks)
	buf.Write(u32[:])

	buf.WriteByte(byte(r.flags))

	binary.BigEndian.PutUint32(u32[:], uint32(len(r.body)))
	buf.Write(u32[:])
	buf.Write(r.body)

	return buf.Bytes()
}

var errRecordTruncated = errors.New("storage: truncated redis record")

func decodeRecord(data []byte) (record, error) {
	var r record
	read := func(n int) ([]byte, error) {
		if len(data) < n {
			return nil, errRecordTruncated
		}
		chunk := data[:n]
		data = data[n:]
		return chunk, nil
	}

	b, err := read(2)
	if err != nil {
		return r, err
	}
	r.status = binary.BigEndian.Uint16(b)

	b, err = read(8)
	if err != nil {
		return r, err
	}
	r.timestamp = int64(binary.BigEndian.Uint64(b))

	b, err = read(4)
	if err != nil {
		return r, err
	}
	n := binary.BigEndian.Uint32(b)
	r.surrogateKeys = make([]storagekey.Key, 0, n)
	for i := uint32(0); i < n; i++ {
		b, err = read(20)
		if err != nil {
			return r, err
		}
		r.surrogateKeys = append(r.surrogateKeys, storagekey.FromBytes(b))
	}

	b, err = read(4)
	if err != nil {
		return r, err
	}
	hn := binary.BigEndian.Uint32(b)
	r.headers, err = read(int(hn))
	if err != nil {
		return r, err
	}

	b, err = read(8)
	if err != nil {
		return r, err
	}
	r.bodyLength = int64(binary.BigEndian.Uint64(b))

	b, err = read(4)
	if err != nil {
		return r, err
	}
	r.numChunks = binary.BigEndian.Uint32(b)

	b, err = read(1)
	if err != nil {
		return r, err
	}
	r.flags = recordFlags(b[0])

	b, err = read(4)
	if err != nil {
		return r, err
	}
	bn := binary.BigEndian.Uint32(b)
	r.body, err = read(int(bn))
	if err != nil {
		return r, err
	}

	return r, nil
}

// compress zstd-compresses data at the configured level.
func (b *RedisBackend) compress(data []byte) ([]byte, error) {
	var out bytes.Buffer
	opts := []zstd.EOption{}
	if b.compressionLevel != nil {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(*b.compressionLevel)))
	}
	enc, err := zstd.NewWriter(&out, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (b *RedisBackend) decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}

func (b *RedisBackend) aead() (cipher.AEAD, error) {
	return chacha20poly1305.New(b.encryptionKey)
}

// encrypt prepends a random nonce to the AEAD-sealed ciphertext (the tag
// itself trails the ciphertext per Go's cipher.AEAD convention).
func (b *RedisBackend) encrypt(plaintext []byte) ([]byte, error) {
	aead, err := b.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

func (b *RedisBackend) decrypt(data []byte) ([]byte, error) {
	aead, err := b.aead()
	if err != nil {
		return nil, err
	}
	if len(data) < aead.NonceSize() {
		return nil, errors.New("storage: ciphertext shorter than nonce")
	}
	nonce, sealed := data[:aead.NonceSize()], data[aead.NonceSize():]
	return aead.Open(nil, nonce, sealed, nil)
}

// Get implements Backend.Get per the surrogate-aware remote_kv contract.
func (b *RedisBackend) Get(ctx context.Context, key storagekey.Key) (*Response, error) {
	raw, err := b.client.Get(ctx, primaryRedisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorageCorrupt, err)
	}

	for _, sk := range rec.surrogateKeys {
		invalidated, miss, err := b.checkSurrogate(ctx, sk, rec.timestamp)
		if err != nil {
			return nil, err
		}
		if miss || invalidated {
			return nil, nil
		}
	}

	body := rec.body
	for n := 2; n <= int(rec.numChunks); n++ {
		chunk, err := b.client.Get(ctx, chunkRedisKey(key, n-1)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: missing chunk %d/%d", errs.ErrStorageCorrupt, n, rec.numChunks)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
		}
		body = append(body, chunk...)
	}

	headerBytes := rec.headers
	if rec.flags&flagEncrypted != 0 {
		if body, err = b.decrypt(body); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorageCorrupt, err)
		}
		if headerBytes, err = b.decrypt(headerBytes); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorageCorrupt, err)
		}
	}
	if rec.flags&flagCompressed != 0 {
		if body, err = b.decompress(body); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorageCorrupt, err)
		}
		if headerBytes, err = b.decompress(headerBytes); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorageCorrupt, err)
		}
	}

	hdrs, err := headers.Decode(headerBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorageCorrupt, err)
	}

	return &Response{Status: int(rec.status), Headers: hdrs, Body: body}, nil
}

// checkSurrogate consults the hot-cache before the network, matching the
// store's own notion of freshness. invalidated reports the record is
// stale; miss reports the surrogate record could not be resolved at all
// (either case means Get must report a cache miss).
func (b *RedisBackend) checkSurrogate(ctx context.Context, sk storagekey.Key, recordTimestamp int64) (invalidated, miss bool, err error) {
	if b.internalCacheSize > 0 {
		if e, fresh := b.hot.lookup(sk); fresh {
			return recordTimestamp <= e.timestamp, false, nil
		}
	}

	raw, err := b.client.Get(ctx, primaryRedisKey(sk)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, true, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
	}
	if len(raw) < 8 {
		return false, false, fmt.Errorf("%w: surrogate record too short", errs.ErrStorageCorrupt)
	}
	ts := int64(binary.BigEndian.Uint64(raw))

	if b.internalCacheSize > 0 {
		b.hot.set(sk, ts)
	}
	return recordTimestamp <= ts, false, nil
}

// Delete implements Backend.Delete: Primary removes one record; Surrogate
// bumps (or creates) the surrogate record's timestamp to now, invalidating
// every record created at or before this instant.
func (b *RedisBackend) Delete(ctx context.Context, key ItemKey) error {
	switch key.Kind {
	case KindPrimary:
		if err := b.client.Del(ctx, primaryRedisKey(key.Key)).Err(); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
		}
		return nil
	case KindSurrogate:
		ts := time.Now().Unix()
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(ts))
		if err := b.client.Set(ctx, primaryRedisKey(key.Key), buf[:], surrogateTTL).Err(); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
		}
		if b.internalCacheSize > 0 {
			b.hot.set(key.Key, ts)
		}
		return nil
	}
	return nil
}

// Store implements Backend.Store: encode, optionally compress and
// encrypt, chunk the body, write chunk tails then the primary record,
// then write or refresh each surrogate record.
func (b *RedisBackend) Store(ctx context.Context, item Item) error {
	headerBytes := headers.Encode(item.Headers)
	body := item.Body
	bodyLength := int64(len(body))

	var flags recordFlags
	if b.compressionLevel != nil {
		var err error
		if body, err = b.compress(body); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
		}
		if headerBytes, err = b.compress(headerBytes); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
		}
		flags |= flagCompressed
	}
	if b.encryptionKey != nil {
		var err error
		if body, err = b.encrypt(body); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
		}
		if headerBytes, err = b.encrypt(headerBytes); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
		}
		flags |= flagEncrypted
	}

	numChunks := uint32(1)
	firstChunk := body
	if b.maxChunkSize > 0 && len(body) > b.maxChunkSize {
		firstChunk = body[:b.maxChunkSize]
		tail := body[b.maxChunkSize:]
		for len(tail) > 0 {
			n := b.maxChunkSize
			if n > len(tail) {
				n = len(tail)
			}
			chunk := tail[:n]
			tail = tail[n:]
			if err := b.client.Set(ctx, chunkRedisKey(item.Key, int(numChunks)), chunk, item.TTL).Err(); err != nil {
				return fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
			}
			numChunks++
		}
	}

	ts := time.Now().Unix()
	rec := record{
		status:        uint16(item.Status),
		timestamp:     ts,
		surrogateKeys: item.SurrogateKeys,
		headers:       headerBytes,
		body:          firstChunk,
		bodyLength:    bodyLength,
		numChunks:     numChunks,
		flags:         flags,
	}
	if err := b.client.Set(ctx, primaryRedisKey(item.Key), encodeRecord(rec), item.TTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
	}

	for _, sk := range item.SurrogateKeys {
		if err := b.writeSurrogate(ctx, sk, ts); err != nil {
			return err
		}
	}
	return nil
}

// writeSurrogate implements the first-time create-if-absent write with the
// now-1 offset, the hot-cache short-circuit, and the ~1% TTL refresh.
func (b *RedisBackend) writeSurrogate(ctx context.Context, sk storagekey.Key, storeTimestamp int64) error {
	if b.internalCacheSize > 0 {
		if _, fresh := b.hot.lookup(sk); fresh {
			if mrand.Intn(100) == 0 {
				b.client.Expire(ctx, primaryRedisKey(sk), surrogateTTL)
			}
			return nil
		}
	}

	// Subtracting one second ensures the record just written (created_ts
	// = storeTimestamp) is not immediately deemed stale by equality.
	ts := storeTimestamp - 1
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(ts))

	created, err := b.client.SetNX(ctx, primaryRedisKey(sk), buf[:], surrogateTTL).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
	}
	if b.internalCacheSize > 0 {
		b.hot.set(sk, ts)
	}
	if !created && mrand.Intn(100) == 0 {
		b.client.Expire(ctx, primaryRedisKey(sk), surrogateTTL)
	}
	return nil
}
