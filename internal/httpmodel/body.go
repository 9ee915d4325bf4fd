// Package httpmodel implements the host-side HTTP request/response objects
// that scripts observe and mutate during a filter call: Body, Request,
// Response, and the per-request scratch table carried alongside them.
package httpmodel

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"
)

// ErrBodyConsumed is returned by Reader when a streaming or script-produced
// body has already been read once and was never buffered. Bytes bodies are
// never consumed: re-reading them is always safe.
var ErrBodyConsumed = errors.New("httpmodel: body already consumed")

// ErrBodyTimeout is returned when a body read exceeds its configured
// deadline.
var ErrBodyTimeout = errors.New("httpmodel: body read timed out")

type bodyKind int

const (
	bodyEmpty bodyKind = iota
	bodyBytes
	bodyStream
	bodyScriptProducer
)

// Producer lazily yields the body's underlying reader, for the
// ScriptProducer variant (a script-side generator function wired in by the
// scripting runtime).
type Producer func(ctx context.Context) (io.Reader, error)

// Body is the request/response payload. It is consumable at most once
// unless explicitly buffered via Buffer, which upgrades a streaming or
// script-produced body to Bytes and makes it restartable from then on.
// A Body is not safe for concurrent use; per the worker model each body
// belongs to exactly one single-threaded script VM.
type Body struct {
	kind     bodyKind
	data     []byte
	stream   io.ReadCloser
	producer Producer
	timeout  time.Duration // 0 means no deadline
	consumed bool
}

// Empty returns a zero-length body.
func Empty() *Body { return &Body{kind: bodyEmpty} }

// FromBytes returns an already-buffered, restartable body.
func FromBytes(b []byte) *Body { return &Body{kind: bodyBytes, data: b} }

// FromStream wraps r as a one-shot streaming body. A zero timeout means no
// deadline. A non-zero timeout is consulted only by Buffer, which reports
// ErrBodyTimeout when the read fails after the deadline has passed; a
// blocked read is not interrupted, and Reader hands out the stream with no
// deadline.
func FromStream(r io.ReadCloser, timeout time.Duration) *Body {
	return &Body{kind: bodyStream, stream: r, timeout: timeout}
}

// FromProducer wraps a script-side generator as a one-shot body.
func FromProducer(p Producer, timeout time.Duration) *Body {
	return &Body{kind: bodyScriptProducer, producer: p, timeout: timeout}
}

// IsEmpty reports whether this is the Empty variant.
func (b *Body) IsEmpty() bool { return b.kind == bodyEmpty }

// Len returns the body length and true if it is already known (the Bytes
// variant, or an Empty body). Streaming and script-produced bodies report
// false until buffered.
func (b *Body) Len() (int, bool) {
	switch b.kind {
	case bodyEmpty:
		return 0, true
	case bodyBytes:
		return len(b.data), true
	default:
		return 0, false
	}
}

// withDeadline runs fn with ctx bound to b.timeout, if one was set.
func (b *Body) withDeadline(ctx context.Context, fn func(context.Context) error) error {
	if b.timeout <= 0 {
		return fn(ctx)
	}
	dctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := fn(dctx); err != nil {
		if dctx.Err() != nil {
			return ErrBodyTimeout
		}
		return err
	}
	return nil
}

// Reader returns a fresh io.ReadCloser over the body. For Bytes and Empty
// bodies this may be called any number of times. For Stream and
// ScriptProducer bodies it may be called exactly once; a second call
// returns ErrBodyConsumed. Use Buffer first if the body must be read more
// than once.
func (b *Body) Reader(ctx context.Context) (io.ReadCloser, error) {
	switch b.kind {
	case bodyEmpty:
		return io.NopCloser(bytes.NewReader(nil)), nil
	case bodyBytes:
		return io.NopCloser(bytes.NewReader(b.data)), nil
	case bodyStream:
		if b.consumed {
			return nil, ErrBodyConsumed
		}
		b.consumed = true
		return b.stream, nil
	case bodyScriptProducer:
		if b.consumed {
			return nil, ErrBodyConsumed
		}
		b.consumed = true
		var r io.Reader
		err := b.withDeadline(ctx, func(dctx context.Context) error {
			var perr error
			r, perr = b.producer(dctx)
			return perr
		})
		if err != nil {
			return nil, err
		}
		return io.NopCloser(r), nil
	default:
		return nil, errors.New("httpmodel: unknown body kind")
	}
}

// Buffer materializes the full body into memory, upgrading Stream and
// ScriptProducer variants to Bytes in place so later Reader/Buffer calls
// see a restartable body. Calling Buffer on an already-buffered body is a
// cheap no-op.
func (b *Body) Buffer(ctx context.Context) ([]byte, error) {
	switch b.kind {
	case bodyEmpty:
		return nil, nil
	case bodyBytes:
		return b.data, nil
	}

	if b.consumed {
		return nil, ErrBodyConsumed
	}
	b.consumed = true

	var buf []byte
	err := b.withDeadline(ctx, func(dctx context.Context) error {
		var r io.Reader
		switch b.kind {
		case bodyStream:
			r = b.stream
		case bodyScriptProducer:
			pr, perr := b.producer(dctx)
			if perr != nil {
				return perr
			}
			r = pr
		}
		read, rerr := io.ReadAll(r)
		buf = read
		return rerr
	})
	if err != nil {
		return nil, err
	}
	if b.kind == bodyStream && b.stream != nil {
		b.stream.Close()
	}

	b.kind = bodyBytes
	b.data = buf
	b.stream = nil
	b.producer = nil
	b.consumed = false
	return buf, nil
}
