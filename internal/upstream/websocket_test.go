package upstream

import (
	"bufio"
	"bytes"
	"testing"
)

func TestFrameRoundTripUnmasked(t *testing.T) {
	var buf bytes.Buffer
	f := &frame{opcode: opText, payload: []byte("hello world")}
	if err := writeFrame(&buf, f, false); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	got, err := readFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if got.opcode != opText {
		t.Fatalf("opcode = %d, want %d", got.opcode, opText)
	}
	if string(got.payload) != "hello world" {
		t.Fatalf("payload = %q, want %q", got.payload, "hello world")
	}
}

func TestFrameRoundTripMasked(t *testing.T) {
	var buf bytes.Buffer
	f := &frame{opcode: opBinary, payload: []byte{0x01, 0x02, 0x03, 0x04, 0x05}}
	if err := writeFrame(&buf, f, true); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	got, err := readFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if got.opcode != opBinary {
		t.Fatalf("opcode = %d, want %d", got.opcode, opBinary)
	}
	if !bytes.Equal(got.payload, f.payload) {
		t.Fatalf("payload = %v, want %v", got.payload, f.payload)
	}
}

func TestFrameExtendedLength16(t *testing.T) {
	payload := bytes.Repeat([]byte{'a'}, 300)
	var buf bytes.Buffer
	if err := writeFrame(&buf, &frame{opcode: opBinary, payload: payload}, false); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	got, err := readFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if len(got.payload) != len(payload) {
		t.Fatalf("payload length = %d, want %d", len(got.payload), len(payload))
	}
}

func TestFrameClose(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, &frame{opcode: opClose}, false); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	got, err := readFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if got.opcode != opClose {
		t.Fatalf("opcode = %d, want %d", got.opcode, opClose)
	}
}

func TestReadHandshakeResponseParsesStatusAndHeaders(t *testing.T) {
	raw := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n" +
		"\r\n"
	status, hdrs, err := readHandshakeResponse(bufio.NewReader(bytes.NewBufferString(raw)))
	if err != nil {
		t.Fatalf("readHandshakeResponse: %v", err)
	}
	if status != 101 {
		t.Fatalf("status = %d, want 101", status)
	}
	accept, ok := hdrs.Get("Sec-WebSocket-Accept")
	if !ok || accept != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("Sec-WebSocket-Accept = %q, ok=%v", accept, ok)
	}
}

func TestReadHandshakeResponseRejectsMalformedStatusLine(t *testing.T) {
	raw := "not a status line\r\n\r\n"
	if _, _, err := readHandshakeResponse(bufio.NewReader(bytes.NewBufferString(raw))); err == nil {
		t.Fatal("expected error for malformed status line")
	}
}

func TestContainsTokenMatchesCaseInsensitively(t *testing.T) {
	if !containsToken("keep-alive, Upgrade", "upgrade") {
		t.Fatal("expected token match")
	}
	if containsToken("keep-alive", "upgrade") {
		t.Fatal("expected no token match")
	}
}
