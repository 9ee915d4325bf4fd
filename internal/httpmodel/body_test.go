package httpmodel

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestBytesBodyRestartable(t *testing.T) {
	b := FromBytes([]byte("hello"))
	for i := 0; i < 3; i++ {
		r, err := b.Reader(context.Background())
		if err != nil {
			t.Fatalf("Reader call %d: %v", i, err)
		}
		got, _ := io.ReadAll(r)
		if string(got) != "hello" {
			t.Fatalf("call %d: got %q", i, got)
		}
	}
}

func TestStreamBodyConsumedOnce(t *testing.T) {
	b := FromStream(io.NopCloser(strings.NewReader("abc")), 0)
	if _, err := b.Reader(context.Background()); err != nil {
		t.Fatalf("first Reader: %v", err)
	}
	if _, err := b.Reader(context.Background()); !errors.Is(err, ErrBodyConsumed) {
		t.Fatalf("second Reader = %v, want ErrBodyConsumed", err)
	}
}

func TestBufferUpgradesStreamToRestartableBytes(t *testing.T) {
	b := FromStream(io.NopCloser(strings.NewReader("abcdef")), 0)
	got, err := b.Buffer(context.Background())
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	if string(got) != "abcdef" {
		t.Fatalf("Buffer = %q", got)
	}
	// now restartable
	r, err := b.Reader(context.Background())
	if err != nil {
		t.Fatalf("Reader after buffer: %v", err)
	}
	again, _ := io.ReadAll(r)
	if string(again) != "abcdef" {
		t.Fatalf("second read after buffer = %q", again)
	}
}

func TestProducerBodyTimeout(t *testing.T) {
	b := FromProducer(func(ctx context.Context) (io.Reader, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 5*time.Millisecond)

	_, err := b.Reader(context.Background())
	if !errors.Is(err, ErrBodyTimeout) {
		t.Fatalf("Reader = %v, want ErrBodyTimeout", err)
	}
}

func TestEmptyBodyLen(t *testing.T) {
	b := Empty()
	n, ok := b.Len()
	if !ok || n != 0 {
		t.Fatalf("Len() = %d, %v", n, ok)
	}
}
